// Package tokenizer counts BPE tokens for text and chat messages.
// The encoder is built once at startup and shared; it is safe for concurrent use.
package tokenizer

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"

	"github.com/kailas-cloud/spendgate/internal/domain/completion"
)

// Default overheads for OpenAI-style chat formatting.
const (
	DefaultEncoding        = string(tokenizer.Cl100kBase)
	DefaultMessageOverhead = 4 // role/content framing per message
	DefaultPrimingOverhead = 2 // reply priming for the whole list
)

// Counter counts tokens with a fixed, model-independent encoding.
type Counter struct {
	codec           tokenizer.Codec
	messageOverhead int
	primingOverhead int
}

// Option customizes a Counter.
type Option func(*Counter)

// WithOverheads overrides the per-message and priming overheads.
func WithOverheads(perMessage, priming int) Option {
	return func(c *Counter) {
		c.messageOverhead = perMessage
		c.primingOverhead = priming
	}
}

// New loads the named encoding (e.g. "cl100k_base", "o200k_base").
func New(encoding string, opts ...Option) (*Counter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	codec, err := tokenizer.Get(tokenizer.Encoding(encoding))
	if err != nil {
		return nil, fmt.Errorf("load encoding %q: %w", encoding, err)
	}

	c := &Counter{
		codec:           codec,
		messageOverhead: DefaultMessageOverhead,
		primingOverhead: DefaultPrimingOverhead,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Encoding returns the encoding name.
func (c *Counter) Encoding() string { return c.codec.GetName() }

// Count returns the number of tokens in text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		// ~4 bytes per token, rounded up.
		return (len(text) + 3) / 4
	}
	return len(ids)
}

// CountMessages returns the prompt size of a chat message list: every message
// adds the per-message overhead plus the tokens of each string-valued field,
// and the list adds the priming overhead once.
func (c *Counter) CountMessages(messages []completion.Message) int {
	total := 0
	for _, msg := range messages {
		total += c.messageOverhead
		for _, v := range msg {
			if s, ok := v.(string); ok {
				total += c.Count(s)
			}
		}
	}
	return total + c.primingOverhead
}
