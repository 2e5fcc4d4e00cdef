// Package sse reads and writes the server-sent event frames of a streamed
// chat completion.
package sse

import (
	"bytes"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Done terminates a completion stream.
var Done = []byte("data: [DONE]\n\n")

var (
	dataPrefix = []byte("data:")
	doneMarker = []byte("[DONE]")
)

// Payload returns the JSON payload of a single SSE line, or nil for blank
// lines, non-data lines, the termination marker, and anything that is not a
// well-formed JSON object.
func Payload(line []byte) []byte {
	trimmed := bytes.TrimSpace(line)
	if !bytes.HasPrefix(trimmed, dataPrefix) {
		return nil
	}
	payload := bytes.TrimSpace(trimmed[len(dataPrefix):])
	if len(payload) == 0 || bytes.Equal(payload, doneMarker) {
		return nil
	}
	if payload[0] != '{' || !gjson.ValidBytes(payload) {
		return nil
	}
	return payload
}

// ExtractText rebuilds the generated text from raw stream chunks in arrival
// order. Chunks are joined before splitting into lines, so an event split
// across two transport reads is still read whole.
func ExtractText(chunks [][]byte) string {
	stream := bytes.Join(chunks, nil)

	var out bytes.Buffer
	for _, line := range bytes.Split(stream, []byte("\n")) {
		payload := Payload(line)
		if payload == nil {
			continue
		}
		gjson.GetBytes(payload, "choices").ForEach(func(_, choice gjson.Result) bool {
			if c := choice.Get("delta.content"); c.Type == gjson.String {
				out.WriteString(c.Str)
			}
			return true
		})
	}
	return out.String()
}

// UpstreamErrorEvent frames an upstream non-success reply as a data event:
// {"error":{"message":...,"status":...}}.
func UpstreamErrorEvent(message string, status int) []byte {
	payload, _ := sjson.SetBytes(nil, "error.message", message)
	payload, _ = sjson.SetBytes(payload, "error.status", status)
	return frame(payload)
}

// ProxyErrorEvent frames a transport failure as a data event:
// {"error":{"message":...,"type":"proxy_error"}}.
func ProxyErrorEvent(message string) []byte {
	payload, _ := sjson.SetBytes(nil, "error.message", message)
	payload, _ = sjson.SetBytes(payload, "error.type", "proxy_error")
	return frame(payload)
}

func frame(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+len(dataPrefix)+3)
	out = append(out, "data: "...)
	out = append(out, payload...)
	return append(out, '\n', '\n')
}
