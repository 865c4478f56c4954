package graph

import (
	"fmt"
	"sync"

	"github.com/vthunder/cmemory/internal/cmerrors"
	"github.com/vthunder/cmemory/internal/types"
)

type edgeKey struct {
	source, target, kind string
}

// MemoryStore is the in-memory GraphStore fallback, grounded on the
// original Python implementation's plain-map InMemoryGraph: linear scans
// over a small relation list are fine at this scale, and it behaves
// identically to the persistent adapter except for durability.
type MemoryStore struct {
	mu    sync.RWMutex
	edges map[edgeKey]types.Relationship
}

// NewMemoryStore constructs an empty in-memory GraphStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{edges: map[edgeKey]types.Relationship{}}
}

func (m *MemoryStore) Upsert(rel types.Relationship) error {
	if rel.SourceID == rel.TargetID {
		return cmerrors.New("graph.Upsert", rel.SourceID, cmerrors.Invalid, fmt.Errorf("self-loop"))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edges[edgeKey{rel.SourceID, rel.TargetID, rel.Kind}] = rel
	return nil
}

func (m *MemoryStore) Neighbours(id string, direction types.NeighbourDirection, kinds []string) ([]types.Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	kindSet := map[string]bool{}
	for _, k := range kinds {
		kindSet[k] = true
	}

	var out []types.Relationship
	for _, rel := range m.edges {
		if len(kindSet) > 0 && !kindSet[rel.Kind] {
			continue
		}
		switch direction {
		case types.DirectionOut:
			if rel.SourceID == id {
				out = append(out, rel)
			}
		case types.DirectionIn:
			if rel.TargetID == id {
				out = append(out, rel)
			}
		default: // both
			if rel.SourceID == id || rel.TargetID == id {
				out = append(out, rel)
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) Remove(source, target, kind string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.edges, edgeKey{source, target, kind})
	return nil
}

func (m *MemoryStore) Close() error { return nil }
