package embedding

import (
	"math"
	"strings"
)

// Dimension is the length of every synthesized embedding.
const Dimension = 384

// LengthEmbedder derives a vector from the byte lengths of the first
// Dimension whitespace-separated tokens. It ignores word identity, so it is a
// stand-in for a real model rather than a semantic embedder.
type LengthEmbedder struct {
	dimension int
}

func NewLengthEmbedder() *LengthEmbedder {
	return &LengthEmbedder{dimension: Dimension}
}

// Embed returns a unit-norm vector, or the zero vector for text without tokens.
func (e *LengthEmbedder) Embed(text string) []float32 {
	vec := make([]float32, e.dimension)
	for i, word := range strings.Fields(text) {
		if i >= e.dimension {
			break
		}
		vec[i] = float32(len(word)) * 0.1
	}
	Normalize(vec)
	return vec
}

func (e *LengthEmbedder) Dimension() int {
	return e.dimension
}

func (e *LengthEmbedder) ModelName() string {
	return "token-length-384"
}

// Normalize scales vec to unit length in place. Zero vectors are left alone.
func Normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// Mismatched lengths and zero-magnitude inputs score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
