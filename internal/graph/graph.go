// Package graph implements GraphStore: persistence of typed directed
// relationships between knowledge-block ids, with a SQLite-backed adapter
// and a conforming in-memory fallback.
package graph

import "github.com/vthunder/cmemory/internal/types"

// Store is the GraphStore contract. Upsert is idempotent on
// (SourceID, TargetID, Kind). Implementations MUST NOT reject a relationship
// whose endpoint is archived — filtering archived endpoints out of
// neighbour results is the caller's job (MemoryCore, Reflector), since the
// store has no BlockStore dependency and relationships are defined to
// survive archival, only becoming hidden.
type Store interface {
	Upsert(rel types.Relationship) error
	Neighbours(id string, direction types.NeighbourDirection, kinds []string) ([]types.Relationship, error)
	Remove(source, target, kind string) error
	Close() error
}
