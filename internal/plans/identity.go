package plans

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Dedup tiers: exact content hash, then body hash (same plan retitled), then
// same length bucket + Jaccard word overlap at or above this threshold.
const jaccardThreshold = 0.75

// Words at or below this length are ignored for similarity; they carry no
// plan identity.
const minSimilarityWordLen = 3

// Normalize collapses whitespace runs to single spaces, lowercases, and
// trims. Hashes and similarity always work on normalized text.
func Normalize(content string) string {
	return strings.ToLower(strings.Join(strings.Fields(content), " "))
}

// ContentHash is the SHA-256 of the normalized full content, hex encoded.
func ContentHash(content string) string {
	return hashNormalized(Normalize(content))
}

// BodyHash is the SHA-256 of the normalized body (first heading line
// removed). Two plans differing only in title share a body hash.
func BodyHash(content string) string {
	return hashNormalized(Normalize(Body(content)))
}

func hashNormalized(norm string) string {
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

// Buckets: 0-500, 501-2000, 2001+ normalized bytes. Similarity is only
// computed inside one bucket.
func lengthBucket(n int) int {
	switch {
	case n <= 500:
		return 0
	case n <= 2000:
		return 1
	default:
		return 2
	}
}

// Jaccard computes word-set overlap between two contents over words longer
// than three characters. Normalization is applied to both sides.
func Jaccard(a, b string) float64 {
	return jaccardNormalized(Normalize(a), Normalize(b))
}

func jaccardNormalized(a, b string) float64 {
	sa, sb := wordSet(a), wordSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for w := range sa {
		if _, ok := sb[w]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

func wordSet(norm string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(norm) {
		if len(w) > minSimilarityWordLen {
			set[w] = struct{}{}
		}
	}
	return set
}
