// Package openai talks to the upstream through its OpenAI-compatible model
// listing. The completion path itself never goes through this client: its
// bodies are relayed unparsed.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kailas-cloud/spendgate/internal/domain"
)

// Prober checks the upstream API with the free ListModels endpoint.
type Prober struct {
	client *openai.Client
}

// Config holds the probe settings.
type Config struct {
	APIKey     string
	BaseURL    string // OpenAI-style root, e.g. https://openrouter.ai/api/v1
	HTTPClient *http.Client
}

// NewProber creates an upstream prober.
func NewProber(cfg *Config) *Prober {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	return &Prober{client: openai.NewClientWithConfig(clientCfg)}
}

// HealthCheck verifies API availability via ListModels.
func (p *Prober) HealthCheck(ctx context.Context) error {
	if _, err := p.client.ListModels(ctx); err != nil {
		return parseAPIError(err)
	}
	return nil
}

// Models returns the model ids the upstream serves.
func (p *Prober) Models(ctx context.Context) ([]string, error) {
	list, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, parseAPIError(err)
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// parseAPIError extracts a human-readable error from the API response.
// All errors are wrapped with domain.ErrUpstreamUnavailable.
func parseAPIError(err error) error {
	wrap := domain.ErrUpstreamUnavailable

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if detail := extractDetail(reqErr.Body); detail != "" {
			return fmt.Errorf("upstream API error %d: %s: %w",
				reqErr.HTTPStatusCode, detail, wrap)
		}
		return fmt.Errorf("upstream API error %d: %s: %w",
			reqErr.HTTPStatusCode, string(reqErr.Body), wrap)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("upstream API error %d: %s: %w",
			apiErr.HTTPStatusCode, apiErr.Message, wrap)
	}

	return fmt.Errorf("upstream probe failed: %w: %w", wrap, err)
}

// extractDetail extracts the "detail" field from a JSON error body.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
