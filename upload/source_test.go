package upload

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileSource(t *testing.T) {
	dir := t.TempDir()
	pth := filepath.Join(dir, "cover.png")
	require.NoError(t, os.WriteFile(pth, []byte("not really a png"), 0600))

	src, err := NewFileSource(pth, pathutil.NewPathChecker())

	require.NoError(t, err)
	assert.Equal(t, "cover.png", src.Name)
	assert.Equal(t, int64(16), src.Size)
	assert.Equal(t, "image/png", src.ContentType)
	assert.False(t, src.ModTime.IsZero())

	file, err := src.Open()
	require.NoError(t, err)
	content, err := io.ReadAll(file)
	require.NoError(t, err)
	require.NoError(t, file.Close())
	assert.Equal(t, "not really audio", string(content))
}

func TestNewFileSource_MissingFile(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "ghost.bin"), pathutil.NewPathChecker())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "file not found")
}

func TestNewFileSource_Directory(t *testing.T) {
	_, err := NewFileSource(t.TempDir(), pathutil.NewPathChecker())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory")
}

func TestSourceValidate(t *testing.T) {
	valid := memSource("a.bin", 1, "application/octet-stream")
	require.NoError(t, valid.Validate())

	noName := valid
	noName.Name = ""
	assert.Error(t, noName.Validate())

	negative := valid
	negative.Size = -1
	assert.Error(t, negative.Validate())

	noOpen := valid
	noOpen.Open = nil
	assert.Error(t, noOpen.Validate())
}

func TestSourceIsImage(t *testing.T) {
	assert.True(t, memSource("a.png", 1, "image/png").IsImage())
	assert.False(t, memSource("a.mp4", 1, "video/mp4").IsImage())
	assert.False(t, memSource("a.bin", 1, "").IsImage())
}
