package upload

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/pathutil"
)

// Source describes a file to upload: the metadata the fingerprint is derived
// from, plus a way to open its content. Open is called once per transfer
// attempt, so retries always read from the start.
type Source struct {
	Name        string
	Size        int64
	ModTime     time.Time
	ContentType string
	Open        func() (io.ReadSeekCloser, error)
}

// Validate reports whether the source can be uploaded.
func (s Source) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("source name must not be empty")
	}
	if s.Size < 0 {
		return fmt.Errorf("source size must not be negative, got %d", s.Size)
	}
	if s.Open == nil {
		return fmt.Errorf("source must provide an Open function")
	}
	return nil
}

// IsImage reports whether the content is an image.
func (s Source) IsImage() bool {
	return strings.HasPrefix(s.ContentType, "image/")
}

// NewFileSource builds a Source from a file on disk. The content type is
// guessed from the extension.
func NewFileSource(pth string, pathChecker pathutil.PathChecker) (Source, error) {
	exists, err := pathChecker.IsPathExists(pth)
	if err != nil {
		return Source{}, fmt.Errorf("check path %s: %w", pth, err)
	}
	if !exists {
		return Source{}, fmt.Errorf("file not found: %s", pth)
	}

	info, err := os.Stat(pth)
	if err != nil {
		return Source{}, fmt.Errorf("stat %s: %w", pth, err)
	}
	if info.IsDir() {
		return Source{}, fmt.Errorf("%s is a directory, not a file", pth)
	}

	return Source{
		Name:        filepath.Base(pth),
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		ContentType: mime.TypeByExtension(filepath.Ext(pth)),
		Open: func() (io.ReadSeekCloser, error) {
			return os.Open(pth)
		},
	}, nil
}
