// Package compress implements Compressor: a token-aware map-reduce
// summariser over an ordered set of blocks, bounded by a target token
// count, falling back to deterministic per-block truncation when no
// reasoning model is configured or the model fails.
package compress

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/vthunder/cmemory/internal/logging"
	"github.com/vthunder/cmemory/internal/reasoner"
	"github.com/vthunder/cmemory/internal/tokencount"
	"github.com/vthunder/cmemory/internal/types"
)

const subsystem = "compress"

// Compressor holds the collaborators needed to compress a block set.
// Reasoner may be nil, in which case Compress always uses the deterministic
// fallback.
type Compressor struct {
	Reasoner              reasoner.Reasoner
	Counter               tokencount.Counter
	SentenceBoundaryRegex *regexp.Regexp
}

// New constructs a Compressor. An empty boundaryRegex defaults to a simple
// end-of-sentence pattern.
func New(r reasoner.Reasoner, counter tokencount.Counter, boundaryRegex string) *Compressor {
	if boundaryRegex == "" {
		boundaryRegex = `[.!?]\s+`
	}
	return &Compressor{Reasoner: r, Counter: counter, SentenceBoundaryRegex: regexp.MustCompile(boundaryRegex)}
}

const overheadTokens = 8

func renderBlock(b *types.KnowledgeBlock) string {
	return fmt.Sprintf("## %s\n\n%s", b.Title, b.Body)
}

func (c *Compressor) totalTokens(blocks []*types.KnowledgeBlock) int {
	total := 0
	for _, b := range blocks {
		total += c.Counter.Count(renderBlock(b)) + overheadTokens
	}
	return total
}

// Compress produces text for blocks bounded by target tokens. It always
// fits target; reasoning-model failure downgrades to the deterministic
// fallback rather than propagating.
func (c *Compressor) Compress(ctx context.Context, blocks []*types.KnowledgeBlock, target int) string {
	if len(blocks) == 0 {
		return ""
	}
	if c.totalTokens(blocks) <= target {
		parts := make([]string, len(blocks))
		for i, b := range blocks {
			parts[i] = renderBlock(b)
		}
		return strings.Join(parts, "\n\n")
	}

	if c.Reasoner != nil {
		if text, ok := c.mapReduce(ctx, blocks, target); ok {
			return text
		}
	}

	out := c.truncateFallback(blocks, target)
	if c.Counter.Count(out) > target {
		out = c.truncateAtSentenceBoundary(out, target)
	}
	return out
}

// mapReduce implements the map step (per-block summary bounded by
// T/(|B|+1) tokens) and reduce step (combine into a final summary bounded
// by T), re-checking and truncating the result if the model still overshot.
// Returns ok=false if the reasoning model errors at any step, signalling
// the caller to downgrade to the fallback.
func (c *Compressor) mapReduce(ctx context.Context, blocks []*types.KnowledgeBlock, target int) (string, bool) {
	perBlock := target / (len(blocks) + 1)
	if perBlock < 1 {
		perBlock = 1
	}

	summaries := make([]string, 0, len(blocks))
	for _, b := range blocks {
		prompt := fmt.Sprintf(
			"Summarize the following note in %d tokens or fewer. Output only the summary.\n\nTitle: %s\n\n%s",
			perBlock, b.Title, b.Body,
		)
		summary, err := c.Reasoner.Generate(ctx, prompt)
		if err != nil {
			logging.Warn(subsystem, "map step failed for %s: %v", b.ID, err)
			return "", false
		}
		summaries = append(summaries, summary)
	}

	reducePrompt := fmt.Sprintf(
		"Combine the following summaries into a single summary of approximately %d tokens or fewer. Output only the summary.\n\n%s",
		target, strings.Join(summaries, "\n\n"),
	)
	final, err := c.Reasoner.Generate(ctx, reducePrompt)
	if err != nil {
		logging.Warn(subsystem, "reduce step failed: %v", err)
		return "", false
	}

	if c.Counter.Count(final) > target {
		final = c.truncateAtSentenceBoundary(final, target)
	}
	return final, true
}

// truncateFallback allocates target/|B| tokens to each block and truncates
// each body at that budget on a sentence boundary, grounded on the
// original implementation's per-block truncation (though that version used
// a fixed 200-character cut regardless of budget — this allocates
// proportionally to the actual target instead).
func (c *Compressor) truncateFallback(blocks []*types.KnowledgeBlock, target int) string {
	perBlock := target / len(blocks)
	if perBlock < 1 {
		perBlock = 1
	}
	parts := make([]string, len(blocks))
	for i, b := range blocks {
		parts[i] = c.truncateAtSentenceBoundary(renderBlock(b), perBlock)
	}
	return strings.Join(parts, "\n\n")
}

// truncateAtSentenceBoundary cuts text to approximately maxTokens tokens,
// preferring the last sentence boundary at or before the cut point so the
// result doesn't end mid-sentence.
func (c *Compressor) truncateAtSentenceBoundary(text string, maxTokens int) string {
	if c.Counter.Count(text) <= maxTokens {
		return text
	}

	approxChars := maxTokens * 4
	if approxChars >= len(text) {
		approxChars = len(text) - 1
	}
	if approxChars < 1 {
		approxChars = 1
	}
	window := text[:approxChars]

	if locs := c.SentenceBoundaryRegex.FindAllStringIndex(window, -1); len(locs) > 0 {
		last := locs[len(locs)-1]
		return strings.TrimSpace(window[:last[0]+1])
	}
	return strings.TrimSpace(window) + "..."
}
