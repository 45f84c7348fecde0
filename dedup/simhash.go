// Package dedup detects exact and near-duplicate articles and assigns cluster
// membership using SHA-256 content hashes and 64-bit SimHash fingerprints with
// a banded LSH candidate index.
package dedup

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math/bits"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// SimhashBits is the fingerprint width.
const SimhashBits = 64

// tokenSalt keys the per-token hash so fingerprints are stable across
// processes and never depend on runtime hash seeding.
const tokenSalt = "noti-simhash"

// ContentHash returns the SHA-256 hex digest of normalized text. Identical
// digests mean exact duplicates.
func ContentHash(normalizedText string) string {
	sum := sha256.Sum256([]byte(normalizedText))
	return hex.EncodeToString(sum[:])
}

// Simhash64 computes a 64-bit SimHash fingerprint over whitespace tokens of
// normalized text. Deterministic: the same token multiset always yields the
// same fingerprint. Empty text yields the zero fingerprint.
func Simhash64(text string) uint64 {
	if text == "" {
		return 0
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return 0
	}

	var weights [SimhashBits]int
	for _, token := range tokens {
		h := hashToken(token)
		for bit := 0; bit < SimhashBits; bit++ {
			if h&(1<<uint(bit)) != 0 {
				weights[bit]++
			} else {
				weights[bit]--
			}
		}
	}

	var fingerprint uint64
	for bit := 0; bit < SimhashBits; bit++ {
		if weights[bit] >= 0 {
			fingerprint |= 1 << uint(bit)
		}
	}
	return fingerprint
}

// hashToken derives a stable 64-bit hash for one token from a salted
// BLAKE2b digest.
func hashToken(token string) uint64 {
	sum := blake2b.Sum256([]byte(tokenSalt + token))
	return binary.BigEndian.Uint64(sum[:8])
}

// HammingDistance returns the number of differing bits between fingerprints.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Confidence maps a Hamming distance to a duplication confidence in [0, 1]:
// 1.0 at distance 0, falling linearly to 0.0 at distance 64.
func Confidence(distance int) float64 {
	c := 1.0 - float64(distance)/float64(SimhashBits)
	if c < 0 {
		return 0
	}
	return c
}
