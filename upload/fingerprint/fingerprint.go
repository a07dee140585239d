// Package fingerprint derives a stable identity for a file from its name,
// size and modification time. The key is used for de-duplicating uploads:
// two submissions of the same file map to the same key without reading the
// file contents.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Key returns a hex-encoded SHA-256 digest of the file's name, size and
// modification time. The modification time is truncated to milliseconds so
// the key is stable across filesystems with different timestamp resolutions.
func Key(name string, size int64, modTime time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", name, size, modTime.UnixMilli())))
	return hex.EncodeToString(sum[:])
}
