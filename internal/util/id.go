// Package util carries small helpers shared across packages.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

// idEntropy is the number of random bytes behind each identifier.
const idEntropy = 16

// NewID returns a fresh random identifier. When prefix is non-empty the
// result is "<prefix>_<hex>", which keeps entity kinds tellable apart in
// logs and API payloads.
func NewID(prefix string) string {
	raw := make([]byte, idEntropy)
	_, _ = rand.Read(raw)
	id := hex.EncodeToString(raw)
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
