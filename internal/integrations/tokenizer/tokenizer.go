// Package tokenizer counts prompt tokens with the OpenAI BPE encodings.
package tokenizer

import (
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const fallbackEncoding = "cl100k_base"

type encoder interface {
	Encode(text string, allowedSpecial []string, disallowedSpecial []string) []int
}

// Counter loads the encoding for a model on first use. When no encoding can
// be loaded (tiktoken fetches BPE ranks over the network on a cold cache) it
// estimates four bytes per token.
type Counter struct {
	model string
	load  func(model string) (encoder, error)

	once sync.Once
	enc  encoder
}

func New(model string) *Counter {
	return &Counter{model: model, load: loadEncoding}
}

func loadEncoding(model string) (encoder, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err == nil {
		return enc, nil
	}
	return tiktoken.GetEncoding(fallbackEncoding)
}

func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	c.once.Do(func() {
		enc, err := c.load(c.model)
		if err != nil {
			slog.Warn("tokenizer: encoding unavailable, estimating", "model", c.model, "err", err)
			return
		}
		c.enc = enc
	})
	if c.enc == nil {
		return Estimate(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// Estimate approximates a token count from the UTF-8 length.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	n := (len(text) + 3) / 4
	if r := utf8.RuneCountInString(text); n < r/4 {
		n = r / 4
	}
	if n == 0 {
		n = 1
	}
	return n
}
