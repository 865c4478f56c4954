package graph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vthunder/cmemory/internal/types"
)

func setupTestDB(t *testing.T) (*SQLiteStore, func()) {
	t.Helper()
	dir, err := os.MkdirTemp("", "cmemory-graph-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	s, err := Open(filepath.Join(dir, "graph.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, func() {
		s.Close()
		os.RemoveAll(dir)
	}
}

func TestUpsertIdempotent(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()

	rel := types.Relationship{SourceID: "A", TargetID: "B", Kind: "related_to", Weight: 0.5, Origin: types.OriginExplicit}
	if err := s.Upsert(rel); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	rel.Weight = 0.9
	if err := s.Upsert(rel); err != nil {
		t.Fatalf("Upsert (repeat): %v", err)
	}

	neighbours, err := s.Neighbours("A", types.DirectionOut, nil)
	if err != nil {
		t.Fatalf("Neighbours: %v", err)
	}
	if len(neighbours) != 1 {
		t.Fatalf("expected exactly one edge after repeated upsert, got %d", len(neighbours))
	}
	if neighbours[0].Weight != 0.9 {
		t.Fatalf("expected weight to be updated to 0.9, got %f", neighbours[0].Weight)
	}
}

func TestNeighboursDirection(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	must(s.Upsert(types.Relationship{SourceID: "A", TargetID: "B", Kind: "extends"}))
	must(s.Upsert(types.Relationship{SourceID: "C", TargetID: "A", Kind: "references"}))

	out, err := s.Neighbours("A", types.DirectionOut, nil)
	if err != nil || len(out) != 1 || out[0].TargetID != "B" {
		t.Fatalf("expected one outgoing edge to B, got %+v err=%v", out, err)
	}

	in, err := s.Neighbours("A", types.DirectionIn, nil)
	if err != nil || len(in) != 1 || in[0].SourceID != "C" {
		t.Fatalf("expected one incoming edge from C, got %+v err=%v", in, err)
	}

	both, err := s.Neighbours("A", types.DirectionBoth, nil)
	if err != nil || len(both) != 2 {
		t.Fatalf("expected two edges touching A, got %+v err=%v", both, err)
	}
}

func TestSelfLoopRejected(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()

	err := s.Upsert(types.Relationship{SourceID: "A", TargetID: "A", Kind: "related_to"})
	if err == nil {
		t.Fatalf("expected self-loop to be rejected")
	}
}

func TestMemoryStoreMatchesContract(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Upsert(types.Relationship{SourceID: "A", TargetID: "B", Kind: "related_to"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	out, err := s.Neighbours("A", types.DirectionOut, nil)
	if err != nil || len(out) != 1 {
		t.Fatalf("expected one edge, got %+v err=%v", out, err)
	}
	if err := s.Remove("A", "B", "related_to"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	out, _ = s.Neighbours("A", types.DirectionOut, nil)
	if len(out) != 0 {
		t.Fatalf("expected no edges after remove, got %+v", out)
	}
}
