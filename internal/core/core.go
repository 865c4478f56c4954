// Package core implements MemoryCore: the orchestrator that wires
// BlockStore, GraphStore, VectorStore, Retriever, ContextBuilder, Compressor,
// Reflector and DecayManager into the operation set every caller (CLI, any
// future agent integration) actually uses.
package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vthunder/cmemory/internal/block"
	"github.com/vthunder/cmemory/internal/cmerrors"
	"github.com/vthunder/cmemory/internal/compress"
	"github.com/vthunder/cmemory/internal/config"
	"github.com/vthunder/cmemory/internal/contextbuilder"
	"github.com/vthunder/cmemory/internal/decay"
	"github.com/vthunder/cmemory/internal/embedding"
	"github.com/vthunder/cmemory/internal/graph"
	"github.com/vthunder/cmemory/internal/logging"
	"github.com/vthunder/cmemory/internal/reasoner"
	"github.com/vthunder/cmemory/internal/reflect"
	"github.com/vthunder/cmemory/internal/retriever"
	"github.com/vthunder/cmemory/internal/tokencount"
	"github.com/vthunder/cmemory/internal/types"
	"github.com/vthunder/cmemory/internal/vector"
)

const subsystem = "core"

// idLocks guards read-modify-write sequences per block id (record/RecordAccess
// races, concurrent reflect + decay on the same id), grounded on the
// teacher's SessionManager: a single guarding mutex over a map of per-key
// state, generalized here to per-id locks instead of per-key session
// objects since MemoryCore has no long-lived per-id state to hold.
type idLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newIDLocks() *idLocks {
	return &idLocks{locks: map[string]*sync.Mutex{}}
}

func (l *idLocks) lock(id string) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// MemoryCore is the top-level façade described in SPEC_FULL.md's component
// table: every operation an external caller needs, in one place.
type MemoryCore struct {
	Blocks     *block.Store
	Graph      graph.Store
	Vectors    vector.Store
	Embedder   embedding.Embedder
	Reasoner   reasoner.Reasoner
	Retriever  *retriever.Retriever
	Builder    *contextbuilder.Builder
	Compressor *compress.Compressor
	Reflector  *reflect.Reflector
	Decay      *decay.Manager
	Config     config.Config

	ids *idLocks
}

// New wires every collaborator from cfg. embedder and reasonerClient may be
// nil (e.g. CLI subcommands that don't need them); passing nil for
// reasonerClient disables Compressor's map-reduce path and Reflector
// entirely, both degrading per their own package docs rather than erroring.
func New(cfg config.Config, embedder embedding.Embedder, reasonerClient reasoner.Reasoner) (*MemoryCore, error) {
	blocks, err := block.New(cfg.BlockDir, cfg.ArchiveDir)
	if err != nil {
		return nil, err
	}

	var graphStore graph.Store
	if cfg.Backend.Graph == "sqlite" {
		graphStore = graph.OpenOrFallback(cfg.SQLitePath)
	} else {
		graphStore = graph.NewMemoryStore()
	}

	var vectorStore vector.Store
	if cfg.Backend.Vector == "sqlite" {
		vectorStore = vector.OpenOrFallback(cfg.SQLitePath, cfg.EmbeddingDim)
	} else {
		vectorStore = vector.NewMemoryStore()
	}

	retrieverCfg := retriever.Config{
		TitleBoost: cfg.Retrieval.Sparse.TitleBoost,
		BodyBoost:  cfg.Retrieval.Sparse.BodyBoost,
		TagBoost:   cfg.Retrieval.Sparse.TagBoost,
		UserBoost:  cfg.Retrieval.Sparse.UserBoost,
		RRFK:       cfg.Retrieval.RRFK,
	}
	r := retriever.New(blocks, vectorStore, embedder, retrieverCfg)

	counter := tokencount.Counter(tokencount.CharEstimate{})
	compressor := compress.New(reasonerClient, counter, cfg.Compression.SentenceBoundaryRegex)
	builder := contextbuilder.New(r, blocks, compressor, counter, cfg.Retrieval.DefaultTopK)
	reflector := reflect.New(blocks, graphStore, r, reasonerClient)
	decayMgr := decay.New(blocks, vectorStore, embedder)

	return &MemoryCore{
		Blocks:     blocks,
		Graph:      graphStore,
		Vectors:    vectorStore,
		Embedder:   embedder,
		Reasoner:   reasonerClient,
		Retriever:  r,
		Builder:    builder,
		Compressor: compressor,
		Reflector:  reflector,
		Decay:      decayMgr,
		Config:     cfg,
		ids:        newIDLocks(),
	}, nil
}

// Close releases backend resources (SQLite connections). Safe to call even
// when backends are in-memory stores.
func (c *MemoryCore) Close() error {
	if err := c.Graph.Close(); err != nil {
		logging.Warn(subsystem, "graph close: %v", err)
	}
	if err := c.Vectors.Close(); err != nil {
		logging.Warn(subsystem, "vector close: %v", err)
	}
	return nil
}

// RecordInput is the caller-supplied content for Record.
type RecordInput struct {
	Title           string
	Body            string
	Tags            []string
	InformationType types.InformationType
}

// Record creates a new block, assigns it an id, persists it, and encodes it
// into the vector index — the combined record+encode operation from
// SPEC_FULL.md's BlockStore/VectorStore sections. The embedding call runs
// without holding the per-id lock; the lock is taken only around the two
// local write-back steps (Blocks.Write, then the vector upsert), per the
// rule that long external calls never hold an in-process mutex.
func (c *MemoryCore) Record(ctx context.Context, in RecordInput) (*types.KnowledgeBlock, error) {
	id := c.Blocks.NextID(time.Now().UTC())
	b := &types.KnowledgeBlock{
		ID:              id,
		Title:           in.Title,
		Body:            in.Body,
		Tags:            in.Tags,
		InformationType: in.InformationType,
	}

	unlock := c.ids.lock(id)
	err := c.Blocks.Write(b)
	unlock()
	if err != nil {
		return nil, err
	}

	emb, err := c.computeEmbedding(ctx, b.Body)
	if err != nil {
		return b, err
	}

	unlock = c.ids.lock(id)
	defer unlock()
	if err := c.upsertVector(b, emb); err != nil {
		return b, err
	}
	return b, nil
}

// computeEmbedding calls the embedder for body — the external half of
// Encode, run without holding any per-id lock.
func (c *MemoryCore) computeEmbedding(ctx context.Context, body string) ([]float64, error) {
	if c.Embedder == nil {
		return nil, cmerrors.New("core.Encode", "", cmerrors.EmbeddingUnavailable, fmt.Errorf("no embedder configured"))
	}
	return c.Embedder.Embed(ctx, body)
}

// upsertVector writes b's vector entry given an already-computed embedding —
// the short, local write-back half of Encode.
func (c *MemoryCore) upsertVector(b *types.KnowledgeBlock, emb []float64) error {
	return c.Vectors.Upsert(b.ID, emb, types.VectorMetadata{
		Title:           b.Title,
		Tags:            b.Tags,
		InformationType: b.InformationType,
		ContentHash:     b.ContentHash,
	})
}

// Encode (re)computes and upserts a block's vector index entry. Exposed
// separately from Record so reindex_all can call it per block without
// re-running record's id-assignment/write path.
func (c *MemoryCore) Encode(ctx context.Context, b *types.KnowledgeBlock) error {
	emb, err := c.computeEmbedding(ctx, b.Body)
	if err != nil {
		return err
	}
	return c.upsertVector(b, emb)
}

// Link upserts an explicit, user-declared relationship between two blocks.
func (c *MemoryCore) Link(sourceID, targetID, kind string, weight float64) error {
	return c.Graph.Upsert(types.Relationship{
		SourceID: sourceID,
		TargetID: targetID,
		Kind:     kind,
		Weight:   weight,
		Origin:   types.OriginExplicit,
	})
}

// Unlink removes a relationship.
func (c *MemoryCore) Unlink(sourceID, targetID, kind string) error {
	return c.Graph.Remove(sourceID, targetID, kind)
}

// Neighbours returns a block's relationships, filtering out archived
// endpoints — GraphStore itself has no BlockStore dependency, so that
// filtering happens here.
func (c *MemoryCore) Neighbours(id string, direction types.NeighbourDirection, kinds []string) ([]types.Relationship, error) {
	rels, err := c.Graph.Neighbours(id, direction, kinds)
	if err != nil {
		return nil, err
	}
	out := make([]types.Relationship, 0, len(rels))
	for _, rel := range rels {
		other := rel.TargetID
		if other == id {
			other = rel.SourceID
		}
		blk, err := c.Blocks.Read(other)
		if err != nil || blk.Archived {
			continue
		}
		out = append(out, rel)
	}
	return out, nil
}

// Retrieve runs hybrid search.
func (c *MemoryCore) Retrieve(ctx context.Context, req retriever.Request) ([]types.SearchResult, error) {
	return c.Retriever.Search(ctx, req)
}

// Reflect proposes and persists relationships for seedID. Candidate
// discovery and the reasoning-model call run unlocked; the per-id lock
// covers only the final graph-write step.
func (c *MemoryCore) Reflect(ctx context.Context, seedID string) (int, error) {
	p, err := c.Reflector.Propose(ctx, seedID)
	if err != nil {
		return 0, err
	}

	unlock := c.ids.lock(seedID)
	defer unlock()
	return c.Reflector.Persist(p), nil
}

// Compress renders blocks within target tokens.
func (c *MemoryCore) Compress(ctx context.Context, ids []string, target int) (string, error) {
	blocks := make([]*types.KnowledgeBlock, 0, len(ids))
	for _, id := range ids {
		b, err := c.Blocks.Read(id)
		if err != nil {
			return "", err
		}
		blocks = append(blocks, b)
	}
	return c.Compressor.Compress(ctx, blocks, target), nil
}

// MaterializeContext builds goal-relevant context within maxTokens.
func (c *MemoryCore) MaterializeContext(ctx context.Context, goal string, maxTokens int) (contextbuilder.Result, error) {
	return c.Builder.Materialize(ctx, goal, maxTokens)
}

// DecayEvaluate evaluates the configured decay policy across all active blocks.
func (c *MemoryCore) DecayEvaluate(ctx context.Context, policy types.DecayPolicy) ([]string, error) {
	return c.Decay.Evaluate(ctx, decay.Params{
		Policy:            policy,
		TimeThresholdDays: c.Config.Decay.TimeThresholdDays,
		UsageThreshold:    c.Config.Decay.UsageThreshold,
	})
}

// RestoreArchived reinstates a decayed block. The file relocation and the
// final vector upsert are each done under a short per-id lock; the
// embedding call in between runs unlocked.
func (c *MemoryCore) RestoreArchived(ctx context.Context, id string) error {
	unlock := c.ids.lock(id)
	b, err := c.Decay.RestoreFile(id)
	unlock()
	if err != nil {
		return err
	}

	emb, err := c.computeEmbedding(ctx, b.Body)
	if err != nil {
		return err
	}

	unlock = c.ids.lock(id)
	defer unlock()
	return c.upsertVector(b, emb)
}

// ListBlocks returns every non-archived block, sorted by id.
func (c *MemoryCore) ListBlocks() ([]*types.KnowledgeBlock, error) {
	ids, err := c.Blocks.List()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	out := make([]*types.KnowledgeBlock, 0, len(ids))
	for _, id := range ids {
		b, err := c.Blocks.Read(id)
		if err != nil {
			logging.Warn(subsystem, "list_blocks: skipping unreadable %s: %v", id, err)
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// ReindexAll re-encodes every active block into the vector index, e.g.
// after switching embedding models.
func (c *MemoryCore) ReindexAll(ctx context.Context) (int, error) {
	ids, err := c.Blocks.List()
	if err != nil {
		return 0, err
	}
	logging.Info(subsystem, "reindex_all: encoding %d active blocks", len(ids))
	n := 0
	for _, id := range ids {
		b, err := c.Blocks.Read(id)
		if err != nil {
			logging.Warn(subsystem, "reindex_all: skipping unreadable %s: %v", id, err)
			continue
		}
		if err := c.Encode(ctx, b); err != nil {
			logging.Warn(subsystem, "reindex_all: failed to encode %s: %v", id, err)
			continue
		}
		n++
	}
	logging.Info(subsystem, "reindex_all: encoded %d of %d blocks", n, len(ids))
	return n, nil
}

// ResetVectors clears the entire vector index without touching BlockStore or
// GraphStore — used before a full ReindexAll when switching backends or
// embedding dimensions.
func (c *MemoryCore) ResetVectors() error {
	return c.Vectors.Reset()
}
