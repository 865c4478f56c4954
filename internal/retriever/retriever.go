// Package retriever implements the hybrid search algorithm: dense kNN
// fused with sparse keyword boosts, optional exclusion filtering, and
// optional Reciprocal Rank Fusion across both rankings.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/vthunder/cmemory/internal/block"
	"github.com/vthunder/cmemory/internal/cmerrors"
	"github.com/vthunder/cmemory/internal/embedding"
	"github.com/vthunder/cmemory/internal/logging"
	"github.com/vthunder/cmemory/internal/types"
	"github.com/vthunder/cmemory/internal/vector"
)

const subsystem = "retrieve"

const rrfK = 60

var errInvalidTopK = errors.New("top_k must be > 0")

// Config holds the sparse-boost constants, authoritative per SPEC_FULL.md
// (these override the original implementation's own slightly different ad
// hoc values).
type Config struct {
	TitleBoost float64
	BodyBoost  float64
	TagBoost   float64
	UserBoost  float64
	RRFK       int
}

func DefaultConfig() Config {
	return Config{TitleBoost: 0.20, BodyBoost: 0.10, TagBoost: 0.10, UserBoost: 0.15, RRFK: rrfK}
}

// Retriever runs hybrid search over a BlockStore/VectorStore pair.
type Retriever struct {
	Blocks   *block.Store
	Vectors  vector.Store
	Embedder embedding.Embedder
	Config   Config

	patternMu sync.Mutex
	patterns  map[string]*regexp.Regexp
}

// New constructs a Retriever with the given collaborators and config.
func New(blocks *block.Store, vectors vector.Store, embedder embedding.Embedder, cfg Config) *Retriever {
	return &Retriever{
		Blocks:   blocks,
		Vectors:  vectors,
		Embedder: embedder,
		Config:   cfg,
		patterns: map[string]*regexp.Regexp{},
	}
}

// wholeWord returns a cached, case-insensitive whole-word matcher for term,
// compiling it on first use — grounded on the teacher's own per-term
// regexp cache in internal/graph/db.go.
func (r *Retriever) wholeWord(term string) *regexp.Regexp {
	r.patternMu.Lock()
	defer r.patternMu.Unlock()
	if p, ok := r.patterns[term]; ok {
		return p
	}
	p := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)
	r.patterns[term] = p
	return p
}

func (r *Retriever) matches(term, text string) bool {
	if text == "" {
		return false
	}
	return r.wholeWord(term).MatchString(text)
}

func queryTerms(query string) []string {
	fields := strings.Fields(query)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()[]{}")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Request is the input to Search.
type Request struct {
	Query   string
	TopK    int
	Boost   []string
	Exclude []string
	Mode    types.RetrievalMode
}

type candidate struct {
	blockID     string
	cosine      float64
	sparse      float64
	boosts      []string
	title, body string
	tags        []string
}

// maxConcurrentReads bounds the semaphore over per-hit block reads so that
// a large kDense doesn't open every candidate's file at once.
const maxConcurrentReads = 8

// buildCandidate reads h's block and scores it, returning nil if the block
// is unreadable, archived, or matches an exclusion term.
func (r *Retriever) buildCandidate(h vector.Hit, terms, boost, exclude []string) *candidate {
	b, err := r.Blocks.Read(h.BlockID)
	if err != nil || b.Archived {
		return nil
	}

	c := &candidate{
		blockID: h.BlockID,
		cosine:  h.Similarity,
		title:   b.Title,
		body:    b.Body,
		tags:    b.Tags,
	}

	tagText := strings.Join(b.Tags, " ")
	for _, term := range terms {
		if r.matches(term, b.Title) {
			c.sparse += r.Config.TitleBoost
		}
		if r.matches(term, b.Body) {
			c.sparse += r.Config.BodyBoost
		}
		if r.matches(term, tagText) {
			c.sparse += r.Config.TagBoost
		}
	}

	for _, term := range boost {
		if r.matches(term, b.Title) || r.matches(term, b.Body) || r.matches(term, tagText) {
			c.sparse += r.Config.UserBoost
			c.boosts = append(c.boosts, term)
		}
	}

	for _, term := range exclude {
		if r.matches(term, b.Title) || r.matches(term, b.Body) || r.matches(term, tagText) {
			return nil
		}
	}

	return c
}

// Search runs the full hybrid-search algorithm described in SPEC_FULL.md's
// Retriever section. Each returned result has had RecordAccess invoked as a
// side effect; failures recording access are logged, never surfaced.
func (r *Retriever) Search(ctx context.Context, req Request) ([]types.SearchResult, error) {
	if req.TopK <= 0 {
		return nil, cmerrors.New("retriever.Search", "", cmerrors.Invalid, errInvalidTopK)
	}

	qVec, err := r.Embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, cmerrors.New("retriever.Search", "", cmerrors.EmbeddingUnavailable, err)
	}

	kDense := req.TopK * 4
	if kDense < 20 {
		kDense = 20
	}

	hits, err := r.Vectors.Query(qVec, kDense)
	if err != nil {
		return nil, cmerrors.New("retriever.Search", "", cmerrors.Unavailable, err)
	}

	terms := queryTerms(req.Query)

	// Each hit's block read is an independent disk suspension point with no
	// shared state, so they run concurrently bounded by a semaphore rather
	// than a plain loop — the bound keeps this from opening one file per
	// hit at once when kDense is large.
	slots := make([]*candidate, len(hits))
	sem := make(chan struct{}, maxConcurrentReads)
	var wg sync.WaitGroup
	for i, h := range hits {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, h vector.Hit) {
			defer wg.Done()
			defer func() { <-sem }()
			slots[i] = r.buildCandidate(h, terms, req.Boost, req.Exclude)
		}(i, h)
	}
	wg.Wait()

	candidates := make([]candidate, 0, len(hits))
	for _, c := range slots {
		if c != nil {
			candidates = append(candidates, *c)
		}
	}

	scores := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		scores[c.blockID] = c.cosine + c.sparse
	}

	if req.Mode == types.ModeRRF {
		scores = fuseRRF(candidates, r.rrfK())
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if scores[a.blockID] != scores[b.blockID] {
			return scores[a.blockID] > scores[b.blockID]
		}
		if a.cosine != b.cosine {
			return a.cosine > b.cosine
		}
		return a.blockID < b.blockID
	})

	if len(candidates) > req.TopK {
		candidates = candidates[:req.TopK]
	}

	results := make([]types.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		results = append(results, types.SearchResult{
			BlockID:       c.blockID,
			Score:         scores[c.blockID],
			CosineScore:   c.cosine,
			SparseScore:   c.sparse,
			MatchedBoosts: c.boosts,
			Reason:        explain(c, scores[c.blockID], req.Mode),
		})
		if err := r.Blocks.RecordAccess(c.blockID); err != nil {
			logging.Warn(subsystem, "record_access failed for %s: %v", c.blockID, err)
		}
	}

	return results, nil
}

// RetrieveStructured is the JSON-friendly projection of retrieval results.
// SearchResult already carries every projected field, so it returns Search's
// results unchanged.
func (r *Retriever) RetrieveStructured(ctx context.Context, req Request) ([]types.SearchResult, error) {
	return r.Search(ctx, req)
}

func (r *Retriever) rrfK() int {
	if r.Config.RRFK > 0 {
		return r.Config.RRFK
	}
	return rrfK
}

// fuseRRF computes two rankings over the same candidate set — one by dense
// cosine score, one by sparse score — and combines them with
// Reciprocal Rank Fusion: score(id) = sum over both rankings of
// 1/(k + rank), rank 1-indexed.
func fuseRRF(candidates []candidate, k int) map[string]float64 {
	byDense := append([]candidate(nil), candidates...)
	sort.Slice(byDense, func(i, j int) bool { return byDense[i].cosine > byDense[j].cosine })

	bySparse := append([]candidate(nil), candidates...)
	sort.Slice(bySparse, func(i, j int) bool { return bySparse[i].sparse > bySparse[j].sparse })

	fused := map[string]float64{}
	for rank, c := range byDense {
		fused[c.blockID] += 1.0 / float64(k+rank+1)
	}
	for rank, c := range bySparse {
		fused[c.blockID] += 1.0 / float64(k+rank+1)
	}
	return fused
}

func explain(c candidate, score float64, mode types.RetrievalMode) string {
	b := strings.Builder{}
	b.WriteString("cosine=")
	b.WriteString(formatFloat(c.cosine))
	b.WriteString(" sparse=")
	b.WriteString(formatFloat(c.sparse))
	if len(c.boosts) > 0 {
		b.WriteString(" boosts=")
		b.WriteString(strings.Join(c.boosts, ","))
	}
	b.WriteString(" mode=")
	b.WriteString(string(mode))
	b.WriteString(" score=")
	b.WriteString(formatFloat(score))
	return b.String()
}

func formatFloat(f float64) string {
	s := fmt.Sprintf("%.4f", f)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
