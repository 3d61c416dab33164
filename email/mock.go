package email

import (
	"context"
	"log/slog"
	"net/http"

	"comment-notifier/pkg/notifier"
)

// MockProvider is a mock email provider for local development.
type MockProvider struct {
	logger *slog.Logger
}

// NewMockProvider creates a new mock email provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{
		logger: logger,
	}
}

// Send logs the email instead of sending it and reports a successful
// delivery.
func (m *MockProvider) Send(_ context.Context, msg *notifier.RenderedMessage, _ *notifier.Settings) (*notifier.DeliveryResult, error) {
	m.logger.Info("MOCK EMAIL",
		"to", msg.To,
		"from", msg.From,
		"subject", msg.Subject,
		"template", msg.Template,
		"body_length", len(msg.HTMLBody))
	return &notifier.DeliveryResult{
		HTTPStatus:      http.StatusOK,
		ProviderMessage: "Queued. Thank you. (mock)",
	}, nil
}
