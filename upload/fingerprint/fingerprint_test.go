package fingerprint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		aName    string
		aSize    int64
		aTime    time.Time
		bName    string
		bSize    int64
		bTime    time.Time
		wantSame bool
	}{
		{
			name:     "identical inputs produce identical keys",
			aName:    "episode-42.mp3",
			aSize:    1024,
			aTime:    base,
			bName:    "episode-42.mp3",
			bSize:    1024,
			bTime:    base,
			wantSame: true,
		},
		{
			name:     "different name changes the key",
			aName:    "episode-42.mp3",
			aSize:    1024,
			aTime:    base,
			bName:    "episode-43.mp3",
			bSize:    1024,
			bTime:    base,
			wantSame: false,
		},
		{
			name:     "different size changes the key",
			aName:    "episode-42.mp3",
			aSize:    1024,
			aTime:    base,
			bName:    "episode-42.mp3",
			bSize:    2048,
			bTime:    base,
			wantSame: false,
		},
		{
			name:     "different modification time changes the key",
			aName:    "episode-42.mp3",
			aSize:    1024,
			aTime:    base,
			bName:    "episode-42.mp3",
			bSize:    1024,
			bTime:    base.Add(time.Second),
			wantSame: false,
		},
		{
			name:     "sub-millisecond difference is ignored",
			aName:    "episode-42.mp3",
			aSize:    1024,
			aTime:    base,
			bName:    "episode-42.mp3",
			bSize:    1024,
			bTime:    base.Add(100 * time.Microsecond),
			wantSame: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Key(tt.aName, tt.aSize, tt.aTime)
			b := Key(tt.bName, tt.bSize, tt.bTime)
			assert.Len(t, a, 64)
			if tt.wantSame {
				assert.Equal(t, a, b)
			} else {
				assert.NotEqual(t, a, b)
			}
		})
	}
}
