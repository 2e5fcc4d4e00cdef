// Package pricing maps model identifiers to per-1000-token USD prices.
package pricing

import "maps"

// Price is an immutable (input, output) pair in USD per 1000 tokens.
type Price struct {
	Input  float64
	Output float64
}

// Cost returns the USD cost of the given token counts at this price.
func (p Price) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000.0*p.Input + float64(outputTokens)/1000.0*p.Output
}

// DefaultPrice is applied to models missing from the table (conservative).
var DefaultPrice = Price{Input: 0.0100, Output: 0.0300}

// builtin holds the known upstream prices, bare and OpenRouter-prefixed ids.
var builtin = map[string]Price{
	// OpenAI
	"gpt-4o":        {Input: 0.0025, Output: 0.0100},
	"gpt-4o-mini":   {Input: 0.000150, Output: 0.000600},
	"gpt-4-turbo":   {Input: 0.0100, Output: 0.0300},
	"gpt-4":         {Input: 0.0300, Output: 0.0600},
	"gpt-3.5-turbo": {Input: 0.0005, Output: 0.0015},
	// Anthropic
	"claude-3-5-sonnet-20241022": {Input: 0.0030, Output: 0.0150},
	"claude-3-5-haiku-20241022":  {Input: 0.0008, Output: 0.0040},
	"claude-3-opus-20240229":     {Input: 0.0150, Output: 0.0750},
	// OpenRouter
	"openai/gpt-4o":               {Input: 0.0025, Output: 0.0100},
	"openai/gpt-4o-mini":          {Input: 0.000150, Output: 0.000600},
	"anthropic/claude-3.5-sonnet": {Input: 0.0030, Output: 0.0150},
	"anthropic/claude-3.5-haiku":  {Input: 0.0008, Output: 0.0040},
	"anthropic/claude-3-opus":     {Input: 0.0150, Output: 0.0750},
}

// Table is a read-only price lookup. Safe for concurrent use.
type Table struct {
	prices   map[string]Price
	fallback Price
}

// NewTable creates a table from the built-in prices, overlaid with overrides.
// A nil fallback keeps DefaultPrice.
func NewTable(overrides map[string]Price, fallback *Price) *Table {
	prices := maps.Clone(builtin)
	maps.Copy(prices, overrides)

	t := &Table{prices: prices, fallback: DefaultPrice}
	if fallback != nil {
		t.fallback = *fallback
	}
	return t
}

// Default returns the table built only from the built-in prices.
func Default() *Table {
	return NewTable(nil, nil)
}

// Lookup returns the price for an exact model id, or the fallback pair.
func (t *Table) Lookup(model string) Price {
	if p, ok := t.prices[model]; ok {
		return p
	}
	return t.fallback
}

// Fallback returns the pair applied to unknown models.
func (t *Table) Fallback() Price { return t.fallback }

// Known reports whether the model has an explicit entry.
func (t *Table) Known(model string) bool {
	_, ok := t.prices[model]
	return ok
}

// Cost returns the USD cost of an exchange for the given model.
func (t *Table) Cost(model string, inputTokens, outputTokens int) float64 {
	return t.Lookup(model).Cost(inputTokens, outputTokens)
}
