package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/primaria-go/internal/romanian"
)

// maxErrorBody bounds how much of a failed response is quoted in an error.
const maxErrorBody = 512

// batchConcurrency is the number of batch requests a single Embed call keeps
// in flight against a remote backend.
const batchConcurrency = 2

// prepareTexts repairs cedilla diacritics and collapses whitespace so that a
// passage scraped from a PDF and the same sentence typed by a resident embed
// to the same vector. Texts longer than maxRunes are cut at a rune boundary;
// maxRunes <= 0 disables the cut.
func prepareTexts(texts []string, maxRunes int) ([]string, error) {
	out := make([]string, len(texts))
	for i, t := range texts {
		t = strings.Join(strings.Fields(romanian.RepairDiacritics(t)), " ")
		if t == "" {
			return nil, fmt.Errorf("text %d is empty", i)
		}
		if maxRunes > 0 && utf8.RuneCountInString(t) > maxRunes {
			t = string([]rune(t)[:maxRunes])
		}
		out[i] = t
	}
	return out, nil
}

// embedBatches splits texts into batches of at most size and embeds them
// with a bounded number of concurrent requests. Results keep input order.
func embedBatches(ctx context.Context, texts []string, size int, fn func(context.Context, []string) ([][]float32, error)) ([][]float32, error) {
	if size <= 0 || len(texts) <= size {
		return fn(ctx, texts)
	}
	out := make([][]float32, len(texts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		g.Go(func() error {
			vecs, err := fn(ctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// checkVectors verifies the backend returned one non-empty vector per text,
// each of the expected length when dims > 0.
func checkVectors(vecs [][]float32, n, dims int) error {
	if len(vecs) != n {
		return fmt.Errorf("expected %d embeddings, got %d", n, len(vecs))
	}
	for i, v := range vecs {
		switch {
		case len(v) == 0:
			return fmt.Errorf("embedding %d is empty", i)
		case dims > 0 && len(v) != dims:
			return fmt.Errorf("embedding %d has %d dimensions, the passage index expects %d (check EMBEDDING_DIMENSIONS)", i, len(v), dims)
		}
	}
	return nil
}

// postJSON sends body as JSON and decodes a 2xx response into out. For other
// statuses errMsg extracts the backend's message from the body, falling back
// to the raw (truncated) body.
func postJSON(ctx context.Context, client *http.Client, url string, header http.Header, body, out any, errMsg func([]byte) string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := ""
		if errMsg != nil {
			msg = errMsg(raw)
		}
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, msg)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
