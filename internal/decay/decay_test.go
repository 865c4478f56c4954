package decay

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/vthunder/cmemory/internal/block"
	"github.com/vthunder/cmemory/internal/types"
	"github.com/vthunder/cmemory/internal/vector"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return []float64{1, 0}, nil
}

func setup(t *testing.T) (*Manager, *block.Store, vector.Store) {
	t.Helper()
	dir, err := os.MkdirTemp("", "cmemory-decay-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	bs, err := block.New(dir, "archive")
	if err != nil {
		t.Fatalf("block.New: %v", err)
	}
	vs := vector.NewMemoryStore()
	m := New(bs, vs, fakeEmbedder{})
	return m, bs, vs
}

func TestEvaluateTimePolicyArchivesStaleBlock(t *testing.T) {
	m, bs, vs := setup(t)

	stale := &types.KnowledgeBlock{ID: "KB-STALE", Title: "stale", Body: "old content"}
	fresh := &types.KnowledgeBlock{ID: "KB-FRESH", Title: "fresh", Body: "new content"}
	for _, b := range []*types.KnowledgeBlock{stale, fresh} {
		if err := bs.Write(b); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if err := vs.Upsert(b.ID, []float64{1, 0}, types.VectorMetadata{}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	// Force stale's LastAccess far in the past by rewriting it directly.
	staleBlk, err := bs.Read("KB-STALE")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	staleBlk.LastAccess = time.Now().UTC().AddDate(0, 0, -400)
	if err := bs.Write(staleBlk); err != nil {
		t.Fatalf("Write: %v", err)
	}

	freshBlk, err := bs.Read("KB-FRESH")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	freshBlk.LastAccess = time.Now().UTC()
	if err := bs.Write(freshBlk); err != nil {
		t.Fatalf("Write: %v", err)
	}

	archived, err := m.Evaluate(context.Background(), Params{Policy: types.PolicyTime, TimeThresholdDays: 180})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(archived) != 1 || archived[0] != "KB-STALE" {
		t.Fatalf("expected only KB-STALE archived, got %v", archived)
	}

	ids, err := bs.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, id := range ids {
		if id == "KB-STALE" {
			t.Fatalf("archived block must not appear in List()")
		}
	}

	if _, err := vs.Query([]float64{1, 0}, 10); err != nil {
		t.Fatalf("Query: %v", err)
	}
	hits, err := vs.Query([]float64{1, 0}, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	for _, h := range hits {
		if h.BlockID == "KB-STALE" {
			t.Fatalf("archived block's vector entry must be deleted")
		}
	}
}

func TestRestoreReinstatesBlockAndVector(t *testing.T) {
	m, bs, vs := setup(t)

	b := &types.KnowledgeBlock{ID: "KB-R", Title: "restorable", Body: "content body"}
	if err := bs.Write(b); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := vs.Upsert(b.ID, []float64{1, 0}, types.VectorMetadata{}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := m.archive(b.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}

	ids, err := bs.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected block archived, still in List(): %v", ids)
	}

	if err := m.Restore(context.Background(), b.ID); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	ids, err = bs.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 1 || ids[0] != b.ID {
		t.Fatalf("expected restored block in List(), got %v", ids)
	}

	hits, err := vs.Query([]float64{1, 0}, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	found := false
	for _, h := range hits {
		if h.BlockID == b.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected restored block to regain a vector entry")
	}
}

func TestEvaluateUsagePolicySparesHeavilyAccessedBlocks(t *testing.T) {
	m, bs, vs := setup(t)

	popular := &types.KnowledgeBlock{ID: "KB-POP", Title: "popular", Body: "content"}
	rare := &types.KnowledgeBlock{ID: "KB-RARE", Title: "rare", Body: "content"}
	for _, b := range []*types.KnowledgeBlock{popular, rare} {
		if err := bs.Write(b); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if err := vs.Upsert(b.ID, []float64{1, 0}, types.VectorMetadata{}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	for i := 0; i < 100; i++ {
		if err := bs.RecordAccess("KB-POP"); err != nil {
			t.Fatalf("RecordAccess: %v", err)
		}
	}

	archived, err := m.Evaluate(context.Background(), Params{Policy: types.PolicyUsage, UsageThreshold: 0.01})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(archived) != 1 || archived[0] != "KB-RARE" {
		t.Fatalf("expected only KB-RARE archived, got %v", archived)
	}
}
