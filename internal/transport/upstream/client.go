// Package upstream sends completion requests to the upstream API over a
// shared, pooled HTTP client.
package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kailas-cloud/spendgate/internal/domain"
	"github.com/kailas-cloud/spendgate/internal/domain/completion"
)

// Config holds the upstream connection settings.
type Config struct {
	BaseURL         string
	CompletionsPath string
	APIKey          string
	ConnectTimeout  time.Duration // dial + TLS handshake
	ReadTimeout     time.Duration // max silence between reads, including the first byte
	WriteTimeout    time.Duration // max time for a single write
	PoolTimeout     time.Duration // how long an idle pooled connection is kept
}

// Client forwards raw request bodies to {BaseURL}{CompletionsPath}.
// There is no overall request timeout, so streams may run as long as bytes
// keep arriving.
type Client struct {
	http   *http.Client
	url    string
	apiKey string
}

// New creates a Client.
func New(cfg Config) *Client {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err //nolint:wrapcheck // wrapped by the caller
			}
			return &deadlineConn{Conn: conn, read: cfg.ReadTimeout, write: cfg.WriteTimeout}, nil
		},
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		IdleConnTimeout:       cfg.PoolTimeout,
		MaxIdleConnsPerHost:   32,
		ForceAttemptHTTP2:     true,
	}

	return &Client{
		http:   &http.Client{Transport: transport},
		url:    strings.TrimRight(cfg.BaseURL, "/") + cfg.CompletionsPath,
		apiKey: cfg.APIKey,
	}
}

// HTTPClient exposes the pooled client for other upstream calls.
func (c *Client) HTTPClient() *http.Client { return c.http }

// URL returns the completions endpoint.
func (c *Client) URL() string { return c.url }

// Send implements completion.Upstream. The body is forwarded unchanged.
func (c *Client) Send(ctx context.Context, body []byte) (*completion.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", domain.ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
	}

	return &completion.Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        resp.Body,
	}, nil
}

// Close releases idle pooled connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// deadlineConn pushes the read and write deadlines forward before every
// operation, so the timeouts bound each I/O step instead of the exchange.
type deadlineConn struct {
	net.Conn
	read  time.Duration
	write time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if c.read > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.read)); err != nil {
			return 0, err //nolint:wrapcheck // net.Conn contract
		}
	}
	return c.Conn.Read(p) //nolint:wrapcheck // net.Conn contract
}

func (c *deadlineConn) Write(p []byte) (int, error) {
	if c.write > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.write)); err != nil {
			return 0, err //nolint:wrapcheck // net.Conn contract
		}
	}
	return c.Conn.Write(p) //nolint:wrapcheck // net.Conn contract
}
