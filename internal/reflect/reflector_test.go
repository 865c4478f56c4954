package reflect

import (
	"context"
	"os"
	"testing"

	"github.com/vthunder/cmemory/internal/block"
	"github.com/vthunder/cmemory/internal/graph"
	"github.com/vthunder/cmemory/internal/retriever"
	"github.com/vthunder/cmemory/internal/types"
	"github.com/vthunder/cmemory/internal/vector"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return []float64{1, 0}, nil
}

type scriptedReasoner struct {
	response string
}

func (s scriptedReasoner) Generate(ctx context.Context, prompt string) (string, error) {
	return s.response, nil
}

func TestReflectPersistsOnlyAcceptedTriples(t *testing.T) {
	dir, err := os.MkdirTemp("", "cmemory-reflect-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)
	bs, err := block.New(dir, "archive")
	if err != nil {
		t.Fatalf("block.New: %v", err)
	}
	gs := graph.NewMemoryStore()
	vs := vector.NewMemoryStore()
	r := retriever.New(bs, vs, fakeEmbedder{}, retriever.DefaultConfig())

	seed := &types.KnowledgeBlock{ID: "S", Title: "seed", Body: "seed body"}
	c1 := &types.KnowledgeBlock{ID: "C1", Title: "c1", Body: "c1 body"}
	c2 := &types.KnowledgeBlock{ID: "C2", Title: "c2", Body: "c2 body"}
	c3 := &types.KnowledgeBlock{ID: "C3", Title: "c3", Body: "c3 body"}
	for _, b := range []*types.KnowledgeBlock{seed, c1, c2, c3} {
		if err := bs.Write(b); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if err := vs.Upsert(b.ID, []float64{1, 0}, types.VectorMetadata{}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	response := `[{"target_id":"C1","kind":"related_to","weight":0.9},{"target_id":"C2","kind":"extends","weight":0.7},{"target_id":"unknown_id","kind":"x","weight":0.5}]`
	reasonerClient := scriptedReasoner{response: response}
	refl := New(bs, gs, r, reasonerClient)

	n, err := refl.Reflect(context.Background(), seed.ID)
	if err != nil {
		t.Fatalf("Reflect: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 edges written, got %d", n)
	}

	edges, err := gs.Neighbours(seed.ID, types.DirectionOut, nil)
	if err != nil {
		t.Fatalf("Neighbours: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("expected exactly 2 edges from seed, got %d", len(edges))
	}
	for _, e := range edges {
		if e.TargetID == "unknown_id" {
			t.Fatalf("edge to unknown_id must not be persisted")
		}
		if e.Origin != types.OriginReflection {
			t.Fatalf("expected origin=reflection, got %s", e.Origin)
		}
	}
}

func TestReflectNoOpWithoutReasoner(t *testing.T) {
	dir, err := os.MkdirTemp("", "cmemory-reflect-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)
	bs, err := block.New(dir, "archive")
	if err != nil {
		t.Fatalf("block.New: %v", err)
	}
	gs := graph.NewMemoryStore()
	vs := vector.NewMemoryStore()
	r := retriever.New(bs, vs, fakeEmbedder{}, retriever.DefaultConfig())

	seed := &types.KnowledgeBlock{ID: "S", Title: "seed", Body: "seed body"}
	if err := bs.Write(seed); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := vs.Upsert(seed.ID, []float64{1, 0}, types.VectorMetadata{}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	refl := New(bs, gs, r, nil)
	n, err := refl.Reflect(context.Background(), seed.ID)
	if err != nil {
		t.Fatalf("Reflect: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 writes without a reasoner, got %d", n)
	}
}
