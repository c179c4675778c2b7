// Package tokens estimates how many model tokens a piece of text costs.
package tokens

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/weaviate/tiktoken-go"
)

// DefaultEncoding is the BPE used for estimates. Gemini does not publish its tokenizer, so the
// numbers are an approximation good enough for size warnings.
const DefaultEncoding = "cl100k_base"

// Counter counts tokens in a string.
type Counter interface {
	Count(text string) int
}

// TiktokenCounter counts tokens with a tiktoken BPE.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, errors.Wrapf(err, "tokens: load encoding %s", encoding)
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

// HeuristicCounter estimates tokens without a vocabulary: ASCII runes weigh a quarter token,
// everything else a full token.
type HeuristicCounter struct{}

func (HeuristicCounter) Count(text string) int {
	weight := 0
	for _, r := range text {
		if r <= 127 {
			weight++
		} else {
			weight += 4
		}
	}
	return (weight + 3) / 4
}

var (
	defaultOnce    sync.Once
	defaultCounter Counter
)

// Default returns a shared tiktoken counter, or the heuristic counter when the encoding cannot
// be loaded.
func Default() Counter {
	defaultOnce.Do(func() {
		c, err := NewTiktokenCounter(DefaultEncoding)
		if err != nil {
			log.Warn().Err(err).Str("component", "tokens").Msg("falling back to heuristic token counter")
			defaultCounter = HeuristicCounter{}
			return
		}
		defaultCounter = c
	})
	return defaultCounter
}
