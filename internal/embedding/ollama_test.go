package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vthunder/cmemory/internal/cmerrors"
)

func TestEmbedReturnsUnitVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embeddingResponse{Embedding: []float64{3, 4}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	v, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(v) != 2 || v[0] != 0.6 || v[1] != 0.8 {
		t.Fatalf("expected unit-normalized [0.6, 0.8], got %v", v)
	}
}

func TestEmbedEmptyTextIsInvalid(t *testing.T) {
	c := NewClient("http://unused", "")
	_, err := c.Embed(context.Background(), "")
	if !cmerrors.Is(err, cmerrors.Invalid) {
		t.Fatalf("expected Invalid, got %v", err)
	}
}

func TestEmbedServerErrorIsEmbeddingUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.Embed(context.Background(), "hello")
	if !cmerrors.Is(err, cmerrors.EmbeddingUnavailable) {
		t.Fatalf("expected EmbeddingUnavailable, got %v", err)
	}
}
