// Package reflect implements Reflector: candidate discovery around a seed
// block, a structured-output proposal request to a reasoning model, and
// persistence of accepted relationships.
package reflect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vthunder/cmemory/internal/block"
	"github.com/vthunder/cmemory/internal/cmerrors"
	"github.com/vthunder/cmemory/internal/graph"
	"github.com/vthunder/cmemory/internal/logging"
	"github.com/vthunder/cmemory/internal/reasoner"
	"github.com/vthunder/cmemory/internal/retriever"
	"github.com/vthunder/cmemory/internal/types"
)

const subsystem = "reflect"

const maxCandidates = 5

// Reflector holds the collaborators needed to propose and persist
// relationships for a seed block.
type Reflector struct {
	Blocks    *block.Store
	Graph     graph.Store
	Retriever *retriever.Retriever
	Reasoner  reasoner.Reasoner
}

func New(blocks *block.Store, g graph.Store, r *retriever.Retriever, reasonerClient reasoner.Reasoner) *Reflector {
	return &Reflector{Blocks: blocks, Graph: g, Retriever: r, Reasoner: reasonerClient}
}

type proposedEdge struct {
	TargetID string  `json:"target_id"`
	Kind     string  `json:"kind"`
	Weight   float64 `json:"weight"`
}

// proposal holds relationships gathered by Propose, ready for Persist to
// write. Zero value is a valid no-op proposal.
type proposal struct {
	edges []types.Relationship
}

// Propose runs candidate discovery and the reasoning-model request for seed,
// returning relationships ready for Persist. Makes no graph writes itself —
// split out from Reflect so the reasoning-model call can run without a
// caller holding any lock across it. If no reasoning model is configured, or
// it fails, returns a proposal with no edges rather than an error — the
// spec requires failures here be logged and yield zero writes, not
// propagated.
func (r *Reflector) Propose(ctx context.Context, seedID string) (proposal, error) {
	seed, err := r.Blocks.Read(seedID)
	if err != nil {
		return proposal{}, err
	}
	if seed.Archived {
		return proposal{}, nil
	}

	candidates, err := r.gatherCandidates(ctx, seed)
	if err != nil {
		return proposal{}, err
	}
	if len(candidates) == 0 {
		return proposal{}, nil
	}

	if r.Reasoner == nil {
		logging.Info(subsystem, "no reasoning model configured, skipping reflection for %s", seedID)
		return proposal{}, nil
	}

	prompt := buildPrompt(seed, candidates)
	response, err := r.Reasoner.Generate(ctx, prompt)
	if err != nil {
		logging.Warn(subsystem, "reasoning model failed for %s: %v", seedID, err)
		return proposal{}, nil
	}

	edges, err := parseEdges(response)
	if err != nil {
		logging.Warn(subsystem, "failed to parse reflection response for %s: %v (response: %s)", seedID, err, logging.Truncate(response, 200))
		return proposal{}, nil
	}

	candidateSet := map[string]bool{}
	for _, c := range candidates {
		candidateSet[c.ID] = true
	}

	seen := map[string]bool{}
	var rels []types.Relationship
	for _, e := range edges {
		if !candidateSet[e.TargetID] {
			continue
		}
		if seen[e.TargetID+e.Kind] {
			continue
		}
		seen[e.TargetID+e.Kind] = true
		rels = append(rels, types.Relationship{
			SourceID: seed.ID,
			TargetID: e.TargetID,
			Kind:     e.Kind,
			Weight:   e.Weight,
			Origin:   types.OriginReflection,
		})
	}

	return proposal{edges: rels}, nil
}

// Persist writes p's relationships to the graph, returning the count
// successfully written. Failures on individual edges are logged and
// skipped, matching Reflect's existing degrade-on-failure contract. Fast
// and local — safe to run under a short lock.
func (r *Reflector) Persist(p proposal) int {
	written := 0
	for _, rel := range p.edges {
		if err := r.Graph.Upsert(rel); err != nil {
			logging.Warn(subsystem, "failed to persist reflected edge %s->%s: %v", rel.SourceID, rel.TargetID, err)
			continue
		}
		written++
	}
	return written
}

// Reflect runs the full candidate-discovery + proposal + persistence
// pipeline for seed in one call. Exposed for standalone callers; MemoryCore
// runs Propose and Persist as separate steps so the reasoning-model call
// doesn't run under its per-id lock.
func (r *Reflector) Reflect(ctx context.Context, seedID string) (int, error) {
	p, err := r.Propose(ctx, seedID)
	if err != nil {
		return 0, err
	}
	return r.Persist(p), nil
}

// gatherCandidates unions up to 5 Retriever hits (excluding the seed) with
// direct graph neighbours of the seed, capped at 5 total and deduplicated,
// dropping archived blocks.
func (r *Reflector) gatherCandidates(ctx context.Context, seed *types.KnowledgeBlock) ([]*types.KnowledgeBlock, error) {
	seen := map[string]bool{seed.ID: true}
	var out []*types.KnowledgeBlock

	query := seed.Title + " " + seed.BodyPrefix(200)
	results, err := r.Retriever.Search(ctx, retriever.Request{Query: query, TopK: maxCandidates})
	if err != nil && !cmerrors.Is(err, cmerrors.Unavailable) {
		return nil, err
	}
	for _, res := range results {
		if seen[res.BlockID] || len(out) >= maxCandidates {
			continue
		}
		blk, err := r.Blocks.Read(res.BlockID)
		if err != nil || blk.Archived {
			continue
		}
		seen[res.BlockID] = true
		out = append(out, blk)
	}

	if len(out) < maxCandidates {
		neighbours, err := r.Graph.Neighbours(seed.ID, types.DirectionBoth, nil)
		if err == nil {
			for _, n := range neighbours {
				other := n.TargetID
				if other == seed.ID {
					other = n.SourceID
				}
				if seen[other] || len(out) >= maxCandidates {
					continue
				}
				blk, err := r.Blocks.Read(other)
				if err != nil || blk.Archived {
					continue
				}
				seen[other] = true
				out = append(out, blk)
			}
		}
	}

	return out, nil
}

func buildPrompt(seed *types.KnowledgeBlock, candidates []*types.KnowledgeBlock) string {
	var b strings.Builder
	b.WriteString("You are proposing typed relationships between knowledge blocks.\n\n")
	fmt.Fprintf(&b, "Seed [%s] %s:\n%s\n\n", seed.ID, seed.Title, seed.BodyPrefix(500))
	b.WriteString("Candidates:\n")
	for _, c := range candidates {
		fmt.Fprintf(&b, "[%s] %s: %s\n", c.ID, c.Title, c.BodyPrefix(500))
	}
	b.WriteString("\nRespond with a JSON array of objects, each {\"target_id\": string, \"kind\": string, \"weight\": number in [0,1]}, one per relationship you propose from the seed to a candidate. Output ONLY the JSON array, no commentary.\n")
	b.WriteString("Example: [{\"target_id\": \"KB-20260101-002\", \"kind\": \"related_to\", \"weight\": 0.8}]\n")
	return b.String()
}

func parseEdges(response string) ([]proposedEdge, error) {
	clean := reasoner.ExtractJSON(response)
	var edges []proposedEdge
	if err := json.Unmarshal([]byte(clean), &edges); err != nil {
		return nil, err
	}
	return edges, nil
}
