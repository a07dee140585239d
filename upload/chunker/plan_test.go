package chunker

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPlan(t *testing.T) {
	tests := []struct {
		name          string
		fileSize      int64
		chunkSize     int64
		wantChunks    int
		wantLastChunk int64
		wantErr       bool
	}{
		{name: "exact multiple", fileSize: 100, chunkSize: 25, wantChunks: 4, wantLastChunk: 25},
		{name: "with remainder", fileSize: 120, chunkSize: 50, wantChunks: 3, wantLastChunk: 20},
		{name: "single chunk", fileSize: 10, chunkSize: 50, wantChunks: 1, wantLastChunk: 10},
		{name: "120 MB at 5 MB chunks", fileSize: 120 << 20, chunkSize: 5 << 20, wantChunks: 24, wantLastChunk: 5 << 20},
		{name: "zero file size", fileSize: 0, chunkSize: 50, wantErr: true},
		{name: "zero chunk size", fileSize: 100, chunkSize: 0, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := NewPlan(tt.fileSize, tt.chunkSize)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantChunks, plan.NumChunks)
			assert.Equal(t, tt.wantLastChunk, plan.LastChunkSize)
		})
	}
}

func TestNewPlan_SizesCoverFileExactly(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 200; i++ {
		fileSize := rng.Int63n(1<<20) + 1
		chunkSize := rng.Int63n(64<<10) + 1

		plan, err := NewPlan(fileSize, chunkSize)
		require.NoError(t, err)

		wantChunks := int((fileSize + chunkSize - 1) / chunkSize)
		assert.Equal(t, wantChunks, plan.NumChunks)

		var total int64
		for c := 0; c < plan.NumChunks; c++ {
			size := plan.Size(c)
			assert.Positive(t, size)
			assert.LessOrEqual(t, size, chunkSize)
			assert.Equal(t, total, plan.Offset(c))
			total += size
		}
		assert.Equal(t, fileSize, total, "chunks must cover the file exactly")
	}
}

func TestReaderProvider_GetChunk(t *testing.T) {
	data := []byte("abcdefghijklmnopqrstuvwxyz") // 26 bytes
	plan, err := NewPlan(int64(len(data)), 10)
	require.NoError(t, err)
	require.Equal(t, 3, plan.NumChunks)

	provider := NewReaderProvider(bytes.NewReader(data), plan)

	wantChunks := []string{"abcdefghij", "klmnopqrst", "uvwxyz"}
	// Read out of order: completion order of parallel uploads is unspecified.
	for _, index := range []int{2, 0, 1} {
		reader, err := provider.GetChunk(index)
		require.NoError(t, err)
		got, err := io.ReadAll(reader)
		require.NoError(t, err)
		assert.Equal(t, wantChunks[index], string(got))
	}

	// A repeated read of the same chunk (retry) yields the same bytes.
	reader, err := provider.GetChunk(1)
	require.NoError(t, err)
	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, wantChunks[1], string(got))
}

func TestReaderProvider_GetChunk_OutOfRange(t *testing.T) {
	plan, err := NewPlan(10, 5)
	require.NoError(t, err)
	provider := NewReaderProvider(bytes.NewReader(make([]byte, 10)), plan)

	_, err = provider.GetChunk(-1)
	assert.Error(t, err)
	_, err = provider.GetChunk(2)
	assert.Error(t, err)
}
