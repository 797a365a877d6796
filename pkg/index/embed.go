package index

import (
	"hash/fnv"
	"math"
	"strings"
)

// HashingEmbedder produces deterministic feature-hashed vectors. It is the
// default embedder when no external embedding service is configured: the same
// text always yields the same vector, so rebuilds are reproducible and
// lexically similar texts land near each other.
type HashingEmbedder struct {
	dim int
}

// NewHashingEmbedder creates an embedder with the given dimensionality.
func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = VectorDim
	}
	return &HashingEmbedder{dim: dim}
}

// Embed hashes word unigrams and bigrams into a normalized vector.
func (e *HashingEmbedder) Embed(text string) []float32 {
	vec := make([]float32, e.dim)
	words := tokenize(text)
	for i, w := range words {
		addFeature(vec, w)
		if i+1 < len(words) {
			addFeature(vec, w+" "+words[i+1])
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

func addFeature(vec []float32, feature string) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(len(vec)))
	// Second hash bit decides sign so collisions cancel rather than pile up.
	if sum&(1<<63) != 0 {
		vec[idx]--
	} else {
		vec[idx]++
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
}
