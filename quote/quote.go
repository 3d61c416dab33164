// Package quote fetches an optional decorative quote for guest emails.
package quote

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"comment-notifier/pkg/notifier"
)

// DefaultURL is the hitokoto quote service endpoint.
const DefaultURL = "https://international.v1.hitokoto.cn/"

const maxBodySize = 64 * 1024

// Fetcher retrieves quotes from the quote service. The quote is decoration
// only, so every failure degrades to an empty quote.
type Fetcher struct {
	client *http.Client
	logger *slog.Logger
	url    string
}

// New creates a new quote fetcher. An empty url selects DefaultURL.
func New(client *http.Client, url string, logger *slog.Logger) *Fetcher {
	if url == "" {
		url = DefaultURL
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Fetcher{
		client: client,
		logger: logger,
		url:    url,
	}
}

// Fetch issues a single GET to the quote service. It always returns a value:
// network errors, non-2xx responses, unparsable payloads, and empty quote
// fields all yield the zero Quote.
func (f *Fetcher) Fetch(ctx context.Context) notifier.Quote {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, http.NoBody)
	if err != nil {
		f.logger.Warn("Quote request construction failed", "url", f.url, "error", err)
		return notifier.Quote{}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn("Quote fetch failed", "url", f.url, "error", err)
		return notifier.Quote{}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			f.logger.Warn("Failed to close quote response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f.logger.Warn("Quote service returned non-2xx status", "status_code", resp.StatusCode)
		return notifier.Quote{}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		f.logger.Warn("Quote response read failed", "error", err)
		return notifier.Quote{}
	}

	var q notifier.Quote
	if err := json.Unmarshal(body, &q); err != nil {
		f.logger.Warn("Quote response unparsable", "error", err)
		return notifier.Quote{}
	}

	if q.Text == "" {
		return notifier.Quote{}
	}

	return q
}
