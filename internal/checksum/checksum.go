// Package checksum fingerprints document text so storage can tell when a
// document's content actually changed.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Changed reports whether data no longer matches the previous digest.
// An empty previous digest always counts as changed.
func Changed(previous string, data []byte) bool {
	return previous == "" || previous != Sum(data)
}
