package core

import (
	"PerpMetrics/internal/position"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

const digestSeed = "PerpMetrics:book:v1"

// Digest computes SHA-256(seed || canonical JSON of the book). Valuations
// are serialized in book order, so equal inputs give equal digests.
func Digest(book *position.Book) ([32]byte, error) {
	var digest [32]byte
	if book == nil {
		return digest, fmt.Errorf("digest: nil book")
	}

	data, err := json.Marshal(book.Positions)
	if err != nil {
		return digest, fmt.Errorf("digest: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(digestSeed))
	h.Write(data)
	copy(digest[:], h.Sum(nil))
	return digest, nil
}

// ChangeTracker remembers the last book digest per account so unchanged
// valuations are not republished. Least recently seen accounts are evicted
// first; an evicted account counts as changed on its next run.
type ChangeTracker struct {
	cache *lru.Cache
}

func NewChangeTracker(capacity int) (*ChangeTracker, error) {
	cache, err := lru.New(capacity)
	if err != nil {
		return nil, fmt.Errorf("change tracker: %w", err)
	}
	return &ChangeTracker{cache: cache}, nil
}

// Changed reports whether digest differs from the one last recorded for
// account, and records it.
func (c *ChangeTracker) Changed(account string, digest [32]byte) bool {
	if prev, ok := c.cache.Get(account); ok && prev.([32]byte) == digest {
		return false
	}
	c.cache.Add(account, digest)
	return true
}

// Forget drops the recorded digest, forcing the next run to count as changed.
func (c *ChangeTracker) Forget(account string) {
	c.cache.Remove(account)
}

// Len returns the number of tracked accounts.
func (c *ChangeTracker) Len() int {
	return c.cache.Len()
}
