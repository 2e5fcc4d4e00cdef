package completion

import (
	"context"
	"io"

	"github.com/tidwall/gjson"
)

// Response is the upstream's reply. Body must be closed by the receiver.
type Response struct {
	StatusCode  int
	ContentType string
	Body        io.ReadCloser
}

// OK reports whether the upstream answered with a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Upstream sends a raw request body to the completion API.
// Transport failures are wrapped with domain.ErrUpstreamUnavailable.
type Upstream interface {
	Send(ctx context.Context, body []byte) (*Response, error)
}

// Usage is the upstream's self-reported token usage from a buffered response.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	hasPrompt        bool
	hasCompletion    bool
}

// ParseUsage reads usage.prompt_tokens and usage.completion_tokens when numeric.
func ParseUsage(body []byte) Usage {
	var u Usage
	usage := gjson.GetBytes(body, "usage")
	if !usage.IsObject() {
		return u
	}
	if v := usage.Get("prompt_tokens"); v.Type == gjson.Number {
		u.PromptTokens = int(v.Int())
		u.hasPrompt = true
	}
	if v := usage.Get("completion_tokens"); v.Type == gjson.Number {
		u.CompletionTokens = int(v.Int())
		u.hasCompletion = true
	}
	return u
}

// Tokens returns the billable (input, output) counts. A missing prompt count
// falls back to the local estimate; a missing completion count is zero.
func (u Usage) Tokens(estimatedInput int) (input, output int) {
	input = estimatedInput
	if u.hasPrompt {
		input = u.PromptTokens
	}
	if u.hasCompletion {
		output = u.CompletionTokens
	}
	return input, output
}
