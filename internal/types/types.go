// Package types holds the data model shared by every memory-core component:
// knowledge blocks, relationships between them, and vector index entries.
package types

import "time"

// InformationType classifies how volatile a block's content is expected to
// be. It is descriptive metadata only — nothing in this package validates
// or rejects a value, including values not listed below.
type InformationType string

const (
	Static     InformationType = "static"
	SemiStatic InformationType = "semi-static"
	Dynamic    InformationType = "dynamic"
	Ephemeral  InformationType = "ephemeral"
)

// KnowledgeBlock is the atomic unit of storage. Fields mirror the frontmatter
// keys of the on-disk block file format one-to-one, plus Body (the text
// below the frontmatter) and Extra (unrecognized frontmatter keys,
// round-tripped verbatim).
type KnowledgeBlock struct {
	ID              string
	Title           string
	Body            string
	Tags            []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ContentHash     string
	AccessCount     int64
	LastAccess      time.Time
	InformationType InformationType
	Archived        bool
	Extra           map[string]any
}

// BodyPrefix returns up to n runes of Body, used when rendering candidate
// summaries for prompts (reflection) or log lines.
func (b *KnowledgeBlock) BodyPrefix(n int) string {
	r := []rune(b.Body)
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n])
}

// RelationshipOrigin records how a relationship came to exist.
type RelationshipOrigin string

const (
	OriginExplicit   RelationshipOrigin = "explicit"
	OriginAutolink   RelationshipOrigin = "autolink"
	OriginReflection RelationshipOrigin = "reflection"
)

// Relationship is a directed, typed edge between two block ids. Equality of
// (SourceID, TargetID, Kind) identifies a relationship; Weight and Origin
// are payload, not part of its identity.
type Relationship struct {
	SourceID string
	TargetID string
	Kind     string
	Weight   float64
	Origin   RelationshipOrigin
}

// NeighbourDirection selects which edges GraphStore.Neighbours follows
// relative to the queried id.
type NeighbourDirection string

const (
	DirectionOut  NeighbourDirection = "out"
	DirectionIn   NeighbourDirection = "in"
	DirectionBoth NeighbourDirection = "both"
)

// VectorMetadata is the projection of a block's fields carried alongside its
// embedding, used by the vector backend for any sparse-signal bookkeeping it
// chooses to do and by callers that want metadata without a BlockStore read.
type VectorMetadata struct {
	Title           string
	Tags            []string
	InformationType InformationType
	ContentHash     string
}

// VectorEntry is one row of the vector index: a block's embedding plus the
// projected metadata needed to explain a match without a second read.
type VectorEntry struct {
	BlockID   string
	Embedding []float64
	Metadata  VectorMetadata
}

// RetrievalMode selects how Retriever combines dense and sparse signals.
type RetrievalMode string

const (
	ModeDense RetrievalMode = "dense"
	ModeRRF   RetrievalMode = "rrf"
)

// DecayPolicy selects which archival rule DecayManager.Evaluate applies.
type DecayPolicy string

const (
	PolicyTime  DecayPolicy = "time"
	PolicyUsage DecayPolicy = "usage"
	PolicyBoth  DecayPolicy = "both"
)

// SearchResult is one ranked hit returned by Retriever, carrying enough of
// the scoring breakdown to support an --explain trace.
type SearchResult struct {
	BlockID       string
	Score         float64
	CosineScore   float64
	SparseScore   float64
	MatchedBoosts []string
	Reason        string
}
