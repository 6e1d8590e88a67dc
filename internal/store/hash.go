package store

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash computes the content-addressable key for a profile. The hash
// covers every byte of the raw capture, so two captures differing in any
// cell, including volatile diagnostic bytes, are distinct profiles. Exact
// raw preservation wins over deduplication of near-identical modules.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// ShortHash returns a 12-character display form of a content hash.
func ShortHash(fullHash string) string {
	if len(fullHash) > 19 && fullHash[:7] == "sha256:" {
		return fullHash[7:19]
	}
	if len(fullHash) > 12 {
		return fullHash[:12]
	}
	return fullHash
}
