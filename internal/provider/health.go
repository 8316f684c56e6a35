package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// httpHealthCheck issues a GET against a listing endpoint that costs no
// tokens, such as Ollama's /api/tags or OpenAI's /v1/models.
type httpHealthCheck struct {
	url    string
	header http.Header
	client *http.Client
}

// HealthCheck returns nil on any 2xx response.
func (h *httpHealthCheck) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return fmt.Errorf("provider: health request: %w", err)
	}
	for k, vs := range h.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider: health: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("provider: health: %s returned %d", h.url, resp.StatusCode)
	}
	return nil
}

// HealthCheck returns a token-free probe for the selected backend, or nil
// when the backend has no such endpoint and callers must fall back to a
// minimal generate call.
func (c *Config) HealthCheck() HealthCheckConfig {
	client := &http.Client{Timeout: 5 * time.Second}
	switch c.Backend {
	case BackendOllama:
		return &httpHealthCheck{
			url:    strings.TrimRight(c.Ollama.Host, "/") + "/api/tags",
			client: client,
		}
	case BackendOpenAI:
		return &httpHealthCheck{
			url:    "https://api.openai.com/v1/models",
			header: http.Header{"Authorization": {"Bearer " + c.OpenAI.APIKey}},
			client: client,
		}
	case BackendAzure:
		return &httpHealthCheck{
			url: strings.TrimRight(c.AzureOpenAI.Endpoint, "/") +
				"/openai/models?api-version=" + c.AzureOpenAI.APIVersion,
			header: http.Header{"api-key": {c.AzureOpenAI.APIKey}},
			client: client,
		}
	case BackendGemini:
		return &httpHealthCheck{
			url:    "https://generativelanguage.googleapis.com/v1beta/models?key=" + c.Gemini.APIKey,
			client: client,
		}
	}
	return nil
}
