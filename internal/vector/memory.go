package vector

import (
	"sort"
	"sync"

	"github.com/vthunder/cmemory/internal/types"
)

type entry struct {
	embedding []float64
	metadata  types.VectorMetadata
}

// MemoryStore is the in-memory VectorStore fallback: a brute-force cosine
// scan, grounded on the teacher's own CosineSimilarity helper. Fine at the
// scale a single-process fallback is meant to serve.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]entry{}}
}

func (m *MemoryStore) Upsert(blockID string, embedding []float64, metadata types.VectorMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[blockID] = entry{embedding: embedding, metadata: metadata}
	return nil
}

func (m *MemoryStore) Delete(blockID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, blockID)
	return nil
}

func (m *MemoryStore) Query(embedding []float64, k int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make([]Hit, 0, len(m.entries))
	for id, e := range m.entries {
		hits = append(hits, Hit{
			BlockID:    id,
			Similarity: cosineSimilarity(embedding, e.embedding),
			Metadata:   e.metadata,
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].BlockID < hits[j].BlockID
	})
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *MemoryStore) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = map[string]entry{}
	return nil
}

func (m *MemoryStore) Close() error { return nil }
