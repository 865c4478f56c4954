// Package reasoner implements Reasoner: a prompt-to-text call against an
// external reasoning model, used by Compressor's map-reduce path and
// Reflector's structured-output proposal step. An absent or erroring
// Reasoner never fails its caller — Compressor downgrades to deterministic
// truncation and Reflector writes no edges.
package reasoner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vthunder/cmemory/internal/cmerrors"
)

// Reasoner is the capability Compressor and Reflector depend on.
type Reasoner interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Client calls Ollama's /api/generate endpoint.
type Client struct {
	baseURL string
	model   string
	http    *http.Client
}

// NewClient constructs a Client, defaulting model to llama3.2 the way the
// teacher's own generation client does.
func NewClient(baseURL, model string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.2"
	}
	return &Client{
		baseURL: baseURL,
		model:   model,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", cmerrors.New("reasoner.Generate", "", cmerrors.Invalid, fmt.Errorf("empty prompt"))
	}

	body, err := json.Marshal(generateRequest{Model: c.model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", cmerrors.New("reasoner.Generate", "", cmerrors.Internal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", cmerrors.New("reasoner.Generate", "", cmerrors.Unavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", cmerrors.New("reasoner.Generate", "", cmerrors.Unavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", cmerrors.New("reasoner.Generate", "", cmerrors.Unavailable, fmt.Errorf("status %d: %s", resp.StatusCode, string(b)))
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", cmerrors.New("reasoner.Generate", "", cmerrors.Internal, err)
	}
	return result.Response, nil
}

// ExtractJSON strips a leading/trailing markdown code fence (with an
// optional "json" language tag) from a model response, so callers can
// json.Unmarshal the remainder directly. Grounded on the teacher's own
// extractJSON helper for structured-output parsing.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = s[3:]
		if idx := strings.IndexByte(s, '\n'); idx >= 0 && idx <= 10 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}
