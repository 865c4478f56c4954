package core

import (
	"context"
	"os"
	"testing"

	"github.com/vthunder/cmemory/internal/cmerrors"
	"github.com/vthunder/cmemory/internal/config"
	"github.com/vthunder/cmemory/internal/retriever"
	"github.com/vthunder/cmemory/internal/types"
)

func retrieverRequest(query string) retriever.Request {
	return retriever.Request{Query: query, TopK: 5}
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return []float64{1, 0}, nil
}

func setup(t *testing.T) *MemoryCore {
	t.Helper()
	dir, err := os.MkdirTemp("", "cmemory-core-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	cfg := config.Default()
	cfg.BlockDir = dir
	cfg.ArchiveDir = "archive"

	mc, err := New(cfg, fakeEmbedder{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return mc
}

func TestRecordEncodeRetrieveRoundTrip(t *testing.T) {
	mc := setup(t)
	ctx := context.Background()

	b, err := mc.Record(ctx, RecordInput{Title: "widget notes", Body: "details about the widget project"})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if b.ID == "" {
		t.Fatalf("expected a generated id")
	}

	results, err := mc.Retrieve(ctx, retrieverRequest("widget"))
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 1 || results[0].BlockID != b.ID {
		t.Fatalf("expected to retrieve recorded block, got %+v", results)
	}

	reread, err := mc.Blocks.Read(b.ID)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if reread.AccessCount != 1 {
		t.Fatalf("expected AccessCount incremented by Retrieve, got %d", reread.AccessCount)
	}
}

func TestLinkAndNeighbours(t *testing.T) {
	mc := setup(t)
	ctx := context.Background()

	a, err := mc.Record(ctx, RecordInput{Title: "a", Body: "content a"})
	if err != nil {
		t.Fatalf("Record a: %v", err)
	}
	b, err := mc.Record(ctx, RecordInput{Title: "b", Body: "content b"})
	if err != nil {
		t.Fatalf("Record b: %v", err)
	}

	if err := mc.Link(a.ID, b.ID, "related_to", 0.5); err != nil {
		t.Fatalf("Link: %v", err)
	}

	neighbours, err := mc.Neighbours(a.ID, types.DirectionOut, nil)
	if err != nil {
		t.Fatalf("Neighbours: %v", err)
	}
	if len(neighbours) != 1 || neighbours[0].TargetID != b.ID {
		t.Fatalf("expected one neighbour to %s, got %+v", b.ID, neighbours)
	}

	if err := mc.Unlink(a.ID, b.ID, "related_to"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	neighbours, err = mc.Neighbours(a.ID, types.DirectionOut, nil)
	if err != nil {
		t.Fatalf("Neighbours: %v", err)
	}
	if len(neighbours) != 0 {
		t.Fatalf("expected no neighbours after unlink, got %+v", neighbours)
	}
}

func TestDecayThenRestoreRoundTrip(t *testing.T) {
	mc := setup(t)
	ctx := context.Background()

	b, err := mc.Record(ctx, RecordInput{Title: "old note", Body: "stale content"})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	stale, err := mc.Blocks.Read(b.ID)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	stale.LastAccess = stale.LastAccess.AddDate(-1, 0, 0)
	if err := mc.Blocks.Write(stale); err != nil {
		t.Fatalf("Write: %v", err)
	}

	archived, err := mc.DecayEvaluate(ctx, types.PolicyTime)
	if err != nil {
		t.Fatalf("DecayEvaluate: %v", err)
	}
	if len(archived) != 1 || archived[0] != b.ID {
		t.Fatalf("expected %s archived, got %v", b.ID, archived)
	}

	if _, err := mc.Blocks.Read(b.ID); err != nil {
		t.Fatalf("archived block should still be readable via Read: %v", err)
	}

	blocks, err := mc.ListBlocks()
	if err != nil {
		t.Fatalf("ListBlocks: %v", err)
	}
	for _, blk := range blocks {
		if blk.ID == b.ID {
			t.Fatalf("archived block must not appear in ListBlocks")
		}
	}

	if err := mc.RestoreArchived(ctx, b.ID); err != nil {
		t.Fatalf("RestoreArchived: %v", err)
	}
	blocks, err = mc.ListBlocks()
	if err != nil {
		t.Fatalf("ListBlocks: %v", err)
	}
	found := false
	for _, blk := range blocks {
		if blk.ID == b.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected restored block to reappear in ListBlocks")
	}
}

func TestEncodeWithoutEmbedderIsEmbeddingUnavailable(t *testing.T) {
	dir, err := os.MkdirTemp("", "cmemory-core-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)
	cfg := config.Default()
	cfg.BlockDir = dir

	mc, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	b := &types.KnowledgeBlock{ID: "KB-X", Title: "t", Body: "b"}
	err = mc.Encode(context.Background(), b)
	if err == nil {
		t.Fatalf("expected error encoding with no embedder")
	}
	if !cmerrors.Is(err, cmerrors.EmbeddingUnavailable) {
		t.Fatalf("expected EmbeddingUnavailable, got %v", err)
	}
}

func TestReindexAllAndResetVectors(t *testing.T) {
	mc := setup(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := mc.Record(ctx, RecordInput{Title: "t", Body: "body content"}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	if err := mc.ResetVectors(); err != nil {
		t.Fatalf("ResetVectors: %v", err)
	}
	results, err := mc.Retrieve(ctx, retrieverRequest("content"))
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no hits after ResetVectors, got %d", len(results))
	}

	n, err := mc.ReindexAll(ctx)
	if err != nil {
		t.Fatalf("ReindexAll: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 blocks reindexed, got %d", n)
	}

	results, err = mc.Retrieve(ctx, retrieverRequest("content"))
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 hits after ReindexAll, got %d", len(results))
	}
}
