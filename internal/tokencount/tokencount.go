// Package tokencount implements TokenCounter: an opaque text-to-count
// estimator. The default estimator is the teacher's own character-based
// approximation; TiktokenCounter is an exact alternative for callers that
// construct one. MemoryCore always uses CharEstimate, and no configuration
// key selects TiktokenCounter.
package tokencount

import "unicode/utf8"

// Counter is the capability Compressor and ContextBuilder depend on.
type Counter interface {
	Count(text string) int
}

// CharEstimate approximates token count as rune-count/4, grounded on the
// teacher's estimateTokens helper (internal/graph/compression.go) and the
// original Python's len(text)//4 fallback. Never returns less than 1 for
// non-empty text.
type CharEstimate struct{}

func (CharEstimate) Count(text string) int {
	if text == "" {
		return 0
	}
	n := utf8.RuneCountInString(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}
