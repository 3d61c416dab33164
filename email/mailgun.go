package email

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"comment-notifier/pkg/notifier"
)

const maxResponseSize = 256 * 1024

// MailgunProvider sends emails via the Mailgun messages API.
type MailgunProvider struct {
	client  *http.Client
	logger  *slog.Logger
	baseURL string
}

// NewMailgunProvider creates a new Mailgun email provider. An empty baseURL
// selects the public API host.
func NewMailgunProvider(client *http.Client, baseURL string, logger *slog.Logger) *MailgunProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if baseURL == "" {
		baseURL = "https://api.mailgun.net"
	}
	return &MailgunProvider{
		client:  client,
		logger:  logger,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// mailgunResponse is the provider's JSON response body.
type mailgunResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Send posts the message to https://<host>/v3/<domain>/messages with basic
// auth "api:<key>" and a form-encoded body. Any completed exchange, including
// 4xx/5xx, yields a DeliveryResult; the caller decides whether to log it as a
// failure. No retries are performed.
func (p *MailgunProvider) Send(ctx context.Context, msg *notifier.RenderedMessage, settings *notifier.Settings) (*notifier.DeliveryResult, error) {
	endpoint := fmt.Sprintf("%s/v3/%s/messages", p.baseURL, settings.APIDomain)

	form := url.Values{}
	form.Set("from", msg.From)
	form.Set("to", msg.To)
	form.Set("subject", msg.Subject)
	form.Set("html", msg.HTMLBody)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &TransportError{URL: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("api", settings.APIKey)

	p.logger.Info("Mailgun API request starting",
		"method", "POST",
		"domain", settings.APIDomain,
		"to", msg.To,
		"subject", msg.Subject)

	startTime := time.Now()
	resp, err := p.client.Do(req)
	duration := time.Since(startTime)

	if err != nil {
		p.logger.Warn("Mailgun API request failed",
			"to", msg.To,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return nil, &TransportError{URL: endpoint, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			p.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &TransportError{URL: endpoint, Err: fmt.Errorf("read response: %w", err)}
	}

	result := &notifier.DeliveryResult{
		HTTPStatus: resp.StatusCode,
		RawBody:    string(body),
	}

	// A malformed body is still a completed exchange; the raw body carries
	// whatever the provider said.
	var parsed mailgunResponse
	if err := json.Unmarshal(body, &parsed); err == nil {
		result.ProviderMessage = parsed.Message
	}

	p.logger.Info("Mailgun API request completed",
		"to", msg.To,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
		"provider_message", result.ProviderMessage)

	return result, nil
}
