// Package completion holds the chat-completion exchange types seen by the proxy.
// The request body is forwarded byte-for-byte; only a few fields are inspected.
package completion

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/kailas-cloud/spendgate/internal/domain"
)

// UnknownModel is used when the request carries no model field.
const UnknownModel = "unknown"

// Message is one chat message as sent by the caller (role, content, name, ...).
type Message map[string]any

// Request is an inbound chat-completion request.
type Request struct {
	Body     []byte
	Model    string
	Stream   bool
	Messages []Message
}

// ParseRequest inspects the raw body. It must be a JSON object.
func ParseRequest(body []byte) (Request, error) {
	if !gjson.ValidBytes(body) {
		return Request{}, fmt.Errorf("body is not valid JSON: %w", domain.ErrInvalidRequest)
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return Request{}, fmt.Errorf("body must be a JSON object: %w", domain.ErrInvalidRequest)
	}

	req := Request{
		Body:   body,
		Model:  UnknownModel,
		Stream: root.Get("stream").Bool(),
	}
	if m := root.Get("model"); m.Exists() && m.Type != gjson.Null {
		req.Model = m.String()
	}

	if msgs := root.Get("messages"); msgs.IsArray() {
		msgs.ForEach(func(_, v gjson.Result) bool {
			msg := Message{}
			if v.IsObject() {
				if fields, ok := v.Value().(map[string]any); ok {
					msg = fields
				}
			}
			req.Messages = append(req.Messages, msg)
			return true
		})
	}

	return req, nil
}
