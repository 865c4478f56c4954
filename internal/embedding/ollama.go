// Package embedding implements Embedder: a pure text-to-unit-vector
// function backed by Ollama's embeddings API. Failure here is terminal for
// encode and retrieve, per the error-handling design's EmbeddingUnavailable
// classification.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/vthunder/cmemory/internal/cmerrors"
)

// Embedder is the capability MemoryCore depends on. Embed returns a
// unit-norm vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Client calls Ollama's /api/embeddings endpoint.
type Client struct {
	baseURL string
	model   string
	http    *http.Client
}

// NewClient constructs a Client. baseURL and model default to Ollama's
// usual localhost endpoint and nomic-embed-text, matching the teacher's own
// defaults.
func NewClient(baseURL, model string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	return &Client{
		baseURL: baseURL,
		model:   model,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed satisfies Embedder. Any transport, non-200, or empty-result failure
// is reported as EmbeddingUnavailable so callers can apply the spec's
// terminal-failure policy uniformly.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	if text == "" {
		return nil, cmerrors.New("embedding.Embed", "", cmerrors.Invalid, fmt.Errorf("empty text"))
	}

	body, err := json.Marshal(embeddingRequest{Model: c.model, Prompt: text})
	if err != nil {
		return nil, cmerrors.New("embedding.Embed", "", cmerrors.Internal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, cmerrors.New("embedding.Embed", "", cmerrors.EmbeddingUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, cmerrors.New("embedding.Embed", "", cmerrors.EmbeddingUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, cmerrors.New("embedding.Embed", "", cmerrors.EmbeddingUnavailable, fmt.Errorf("status %d: %s", resp.StatusCode, string(b)))
	}

	var result embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, cmerrors.New("embedding.Embed", "", cmerrors.EmbeddingUnavailable, err)
	}
	if len(result.Embedding) == 0 {
		return nil, cmerrors.New("embedding.Embed", "", cmerrors.EmbeddingUnavailable, fmt.Errorf("empty embedding returned"))
	}

	return normalize(result.Embedding), nil
}

func normalize(v []float64) []float64 {
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}
