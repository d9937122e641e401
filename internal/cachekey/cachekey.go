// Package cachekey derives article store keys from URL strings.
//
// Keys are one-way digests of the literal URL: no trimming, case folding or
// trailing-slash normalization happens, so two spellings of the same page are
// independent cache entries. The digest carries no per-process salt and is
// stable across restarts.
package cachekey

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/article-gateway/internal/article"
	"github.com/JakeFAU/article-gateway/internal/hash/blake3"
	"github.com/JakeFAU/article-gateway/internal/hash/sha256"
)

// Key is a fixed-length lowercase hex digest.
type Key string

func (k Key) String() string {
	return string(k)
}

// Deriver maps URL strings to keys.
type Deriver struct {
	hasher article.Hasher
}

// New returns a Deriver backed by hasher.
func New(hasher article.Hasher) *Deriver {
	return &Deriver{hasher: hasher}
}

// HasherFor returns the hasher for a configured algorithm name. An empty name
// selects SHA-256.
func HasherFor(name string) (article.Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", sha256.Name:
		return sha256.New(), nil
	case blake3.Name:
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("unknown key algorithm %q", name)
	}
}

// NewForAlgorithm returns a Deriver for a configured algorithm name.
func NewForAlgorithm(name string) (*Deriver, error) {
	hasher, err := HasherFor(name)
	if err != nil {
		return nil, err
	}
	return New(hasher), nil
}

// Derive returns the key for the exact URL string.
func (d *Deriver) Derive(rawURL string) Key {
	return Key(d.hasher.Hash([]byte(rawURL)))
}
