// Package tokens estimates how many model tokens a piece of text occupies.
package tokens

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Counter counts tokens in text.
type Counter interface {
	Count(text string) int
}

// Approx estimates one token per four characters of text.
type Approx struct{}

// Count implements Counter.
func (Approx) Count(text string) int {
	return utf8.RuneCountInString(text) / 4
}

// Tiktoken counts tokens with a BPE encoding. Texts the encoder cannot handle
// fall back to the Approx estimate.
type Tiktoken struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// DefaultEncoding is the encoding used by current OpenAI chat models.
const DefaultEncoding = "cl100k_base"

// NewTiktoken loads the named encoding.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding %q: %w", encoding, err)
	}
	return &Tiktoken{enc: enc}, nil
}

// Count implements Counter.
func (t *Tiktoken) Count(text string) (n int) {
	defer func() {
		if recover() != nil {
			n = Approx{}.Count(text)
		}
	}()
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.enc.Encode(text, nil, nil))
}

// Counter kinds accepted by New.
const (
	KindApprox   = "approx"
	KindTiktoken = "tiktoken"
)

// New returns the counter for kind. An empty kind selects Approx.
func New(kind string) (Counter, error) {
	switch kind {
	case "", KindApprox:
		return Approx{}, nil
	case KindTiktoken:
		return NewTiktoken(DefaultEncoding)
	default:
		return nil, fmt.Errorf("unknown token counter: %q", kind)
	}
}
