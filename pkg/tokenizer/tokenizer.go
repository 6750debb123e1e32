// Package tokenizer counts tokens the way the configured LLM does. When the
// model's encoding is unknown a deterministic byte-ratio estimate is used
// instead, padded with a safety margin so chunk budgets are never exceeded.
package tokenizer

import (
	"github.com/pkoukk/tiktoken-go"

	"github.com/liliang-cn/cognify/pkg/log"
)

// Counter counts tokens in a piece of text.
type Counter interface {
	Count(text string) int
}

// Tiktoken wraps a tiktoken encoding for a specific model.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// ForModel returns a tiktoken-backed counter for the model, or the byte
// fallback when the model has no known encoding.
func ForModel(model string) Counter {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		log.Warnf("tokenizer unavailable for model %s, using byte estimate: %v", model, err)
		return ByteEstimate{}
	}
	return &Tiktoken{enc: enc}
}

func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

// ByteEstimate approximates one token per four bytes of UTF-8, padded by 20%
// so budgets computed with it stay under the real count.
type ByteEstimate struct{}

func (ByteEstimate) Count(text string) int {
	if text == "" {
		return 0
	}
	n := (len(text) + 3) / 4
	n += (n + 4) / 5 // 20% margin, rounded up
	if n < 1 {
		n = 1
	}
	return n
}
