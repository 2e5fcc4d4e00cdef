package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kailas-cloud/spendgate/internal/domain"
)

func testConfig(url string) Config {
	return Config{
		BaseURL:         url,
		CompletionsPath: "/v1/chat/completions",
		APIKey:          "upstream-key",
		ConnectTimeout:  time.Second,
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		PoolTimeout:     time.Second,
	}
}

func TestSend_ForwardsBodyAndHeaders(t *testing.T) {
	body := `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}],"x":1}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer upstream-key" {
			t.Errorf("unexpected auth header: %s", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("unexpected content type: %s", got)
		}
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("unexpected accept: %s", got)
		}
		got, _ := io.ReadAll(r.Body)
		if string(got) != body {
			t.Errorf("body rewritten: %s", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte(`{"ok":false}`))
	}))
	defer server.Close()

	c := New(testConfig(server.URL + "/"))
	defer c.Close()

	resp, err := c.Send(context.Background(), []byte(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTeapot || resp.OK() {
		t.Errorf("status = %d, ok = %v", resp.StatusCode, resp.OK())
	}
	if resp.ContentType != "application/json" {
		t.Errorf("content type = %q", resp.ContentType)
	}
	got, _ := io.ReadAll(resp.Body)
	if string(got) != `{"ok":false}` {
		t.Errorf("body = %s", got)
	}
}

func TestSend_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c := New(testConfig(url))
	_, err := c.Send(context.Background(), []byte(`{}`))
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestSend_ReadTimeoutBetweenChunks(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {}\n\n"))
		w.(http.Flusher).Flush()
		<-release
	}))
	defer server.Close()
	defer close(release)

	cfg := testConfig(server.URL)
	cfg.ReadTimeout = 100 * time.Millisecond
	c := New(cfg)

	resp, err := c.Send(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if _, err := io.ReadAll(resp.Body); err == nil {
		t.Fatal("expected the stalled stream to time out")
	}
}

func TestURL(t *testing.T) {
	c := New(Config{BaseURL: "https://openrouter.ai/api/", CompletionsPath: "/v1/chat/completions"})
	if c.URL() != "https://openrouter.ai/api/v1/chat/completions" {
		t.Errorf("url = %q", c.URL())
	}
}
