// Package vector implements VectorStore: a per-block-id embedding index
// with cosine-similarity top-k search, a sqlite-vec-backed adapter, and a
// conforming in-memory fallback.
package vector

import (
	"math"

	"github.com/vthunder/cmemory/internal/types"
)

// Hit is one result of a Query: a block id, its cosine similarity to the
// query embedding, and its projected metadata.
type Hit struct {
	BlockID    string
	Similarity float64
	Metadata   types.VectorMetadata
}

// Store is the VectorStore contract. At most one entry exists per BlockID;
// Upsert replaces any existing entry for the same id.
type Store interface {
	Upsert(blockID string, embedding []float64, metadata types.VectorMetadata) error
	Delete(blockID string) error
	Query(embedding []float64, k int) ([]Hit, error)
	Reset() error
	Close() error
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
