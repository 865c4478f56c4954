// Package contextbuilder implements ContextBuilder: selecting and ordering
// blocks for a goal under a token budget, invoking Compressor when the
// greedily-accumulated set would overflow.
package contextbuilder

import (
	"context"
	"fmt"
	"strings"

	"github.com/vthunder/cmemory/internal/block"
	"github.com/vthunder/cmemory/internal/compress"
	"github.com/vthunder/cmemory/internal/retriever"
	"github.com/vthunder/cmemory/internal/tokencount"
	"github.com/vthunder/cmemory/internal/types"
)

const overheadTokens = 8

// Result is the materialized context returned to a caller.
type Result struct {
	Text       string
	BlockIDs   []string
	TokenCount int
}

// Builder holds the collaborators ContextBuilder needs.
type Builder struct {
	Retriever  *retriever.Retriever
	Blocks     *block.Store
	Compressor *compress.Compressor
	Counter    tokencount.Counter
	DefaultK   int
}

// New constructs a Builder.
func New(r *retriever.Retriever, blocks *block.Store, compressor *compress.Compressor, counter tokencount.Counter, defaultK int) *Builder {
	if defaultK <= 0 {
		defaultK = 5
	}
	return &Builder{Retriever: r, Blocks: blocks, Compressor: compressor, Counter: counter, DefaultK: defaultK}
}

// Materialize runs Retriever for goal, greedily accumulates block bodies in
// result order while they fit maxTokens, and falls back to Compressor when
// the selected set overflows. Output token count never exceeds maxTokens;
// output is empty iff no relevant blocks exist.
func (b *Builder) Materialize(ctx context.Context, goal string, maxTokens int) (Result, error) {
	results, err := b.Retriever.Search(ctx, retriever.Request{Query: goal, TopK: b.DefaultK})
	if err != nil {
		return Result{}, err
	}
	if len(results) == 0 {
		return Result{}, nil
	}

	blocks := make([]*types.KnowledgeBlock, 0, len(results))
	for _, r := range results {
		blk, err := b.Blocks.Read(r.BlockID)
		if err != nil {
			continue
		}
		blocks = append(blocks, blk)
	}
	if len(blocks) == 0 {
		return Result{}, nil
	}

	selected := make([]*types.KnowledgeBlock, 0, len(blocks))
	used := 0
	for _, blk := range blocks {
		cost := b.Counter.Count(fmt.Sprintf("## %s\n\n%s", blk.Title, blk.Body)) + overheadTokens
		if used+cost > maxTokens {
			break
		}
		selected = append(selected, blk)
		used += cost
	}

	if len(selected) == len(blocks) {
		text := concat(selected)
		return Result{Text: text, BlockIDs: ids(selected), TokenCount: b.Counter.Count(text)}, nil
	}

	if len(selected) == 0 {
		// Budget too small for even the first block whole; still give
		// Compressor the full candidate set so it can compress it down.
		selected = blocks
	}

	text := b.Compressor.Compress(ctx, selected, maxTokens)
	count := b.Counter.Count(text)
	if count > maxTokens {
		text = b.Compressor.Compress(ctx, selected[:1], maxTokens)
		count = b.Counter.Count(text)
	}
	return Result{Text: text, BlockIDs: ids(selected), TokenCount: count}, nil
}

func concat(blocks []*types.KnowledgeBlock) string {
	parts := make([]string, len(blocks))
	for i, b := range blocks {
		parts[i] = fmt.Sprintf("## %s\n\n%s", b.Title, b.Body)
	}
	return strings.Join(parts, "\n\n")
}

func ids(blocks []*types.KnowledgeBlock) []string {
	out := make([]string, len(blocks))
	for i, b := range blocks {
		out[i] = b.ID
	}
	return out
}
