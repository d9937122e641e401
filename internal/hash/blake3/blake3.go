// Package blake3 provides BLAKE3-256 hashing utilities.
package blake3

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Name identifies the algorithm in configuration.
const Name = "blake3"

// Hasher implements article.Hasher using BLAKE3 with a 32-byte output.
type Hasher struct{}

// New returns a BLAKE3 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex BLAKE3-256 digest of data.
func (Hasher) Hash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
