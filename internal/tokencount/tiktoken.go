package tokencount

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/vthunder/cmemory/internal/logging"
)

const subsystem = "tokencount"

// TiktokenCounter counts tokens using a real BPE encoding, falling back to
// CharEstimate if the requested encoding can't be loaded (e.g. no network
// access to fetch its vocabulary file on first use) — grounded on the
// original Python implementation's own tiktoken-or-len(text)//4 fallback
// chain (original_source/src/cmemory/compress/compressor.py).
type TiktokenCounter struct {
	once     sync.Once
	encoding string
	enc      *tiktoken.Tiktoken
	fallback CharEstimate
}

// NewTiktokenCounter constructs a counter for the named encoding (e.g.
// "cl100k_base"). Loading is lazy so construction never fails.
func NewTiktokenCounter(encoding string) *TiktokenCounter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &TiktokenCounter{encoding: encoding}
}

func (t *TiktokenCounter) Count(text string) int {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			logging.Warn(subsystem, "failed to load tiktoken encoding %q (%v), falling back to character estimate", t.encoding, err)
			return
		}
		t.enc = enc
	})
	if t.enc == nil {
		return t.fallback.Count(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}
