package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// tagsTimeout bounds the model listing; pulls are bounded by the caller.
const tagsTimeout = 10 * time.Second

// OllamaModels checks and pulls models on an Ollama server. A fresh
// municipal deployment starts with an empty model store.
type OllamaModels struct {
	host   string
	client *http.Client
}

// NewOllamaModels returns a client for the Ollama server at host. The client
// has no timeout: pulls of multi-gigabyte models are bounded by ctx.
func NewOllamaModels(host string) *OllamaModels {
	return &OllamaModels{host: strings.TrimRight(host, "/"), client: &http.Client{}}
}

// Has reports whether model is present on the server. A name without a tag
// matches its ":latest" build.
func (o *OllamaModels) Has(ctx context.Context, model string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.host+"/api/tags", nil)
	if err != nil {
		return false, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("provider: ollama tags: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("provider: ollama tags: HTTP %d", resp.StatusCode)
	}
	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false, fmt.Errorf("provider: ollama tags: %w", err)
	}
	want := withTag(model)
	for _, m := range tags.Models {
		if withTag(m.Name) == want {
			return true, nil
		}
	}
	return false, nil
}

// Pull downloads model and blocks until the server reports success.
func (o *OllamaModels) Pull(ctx context.Context, model string) error {
	body, _ := json.Marshal(map[string]any{"model": model, "stream": false})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.host+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider: ollama pull %s: %w", model, err)
	}
	defer resp.Body.Close()

	var out struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode != http.StatusOK || out.Status != "success" {
		msg := out.Error
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d, status %q", resp.StatusCode, out.Status)
		}
		return fmt.Errorf("provider: ollama pull %s: %s", model, msg)
	}
	return nil
}

// Ensure makes every model available, pulling missing ones when pull is set.
// Without pull a missing model is an error naming the command to run.
func (o *OllamaModels) Ensure(ctx context.Context, log *slog.Logger, pull bool, models ...string) error {
	for _, m := range models {
		tagsCtx, cancel := context.WithTimeout(ctx, tagsTimeout)
		ok, err := o.Has(tagsCtx, m)
		cancel()
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if !pull {
			return fmt.Errorf("provider: ollama model %q is not installed (run `ollama pull %s` or set OLLAMA_PULL=true)", m, m)
		}
		log.Info("pulling ollama model", slog.String("model", m))
		if err := o.Pull(ctx, m); err != nil {
			return err
		}
		log.Info("ollama model ready", slog.String("model", m))
	}
	return nil
}

func withTag(name string) string {
	if strings.Contains(name, ":") {
		return name
	}
	return name + ":latest"
}
