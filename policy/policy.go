// Package policy decides which recipients a comment event notifies and
// drives the render-send-log pipeline for each of them.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"comment-notifier/pkg/notifier"
	"comment-notifier/render"
)

// eventDeadline caps the total time spent on one comment event, covering
// both sends and the quote fetch. The host's comment save must not block
// indefinitely behind notification I/O.
const eventDeadline = 15 * time.Second

// Renderer renders a template with the given placeholder values.
type Renderer interface {
	Render(ctx context.Context, templateID string, placeholders map[string]string) string
}

// QuoteFetcher retrieves the decorative quote for guest emails.
type QuoteFetcher interface {
	Fetch(ctx context.Context) notifier.Quote
}

// Mailer submits a rendered message to the mail provider.
type Mailer interface {
	Send(ctx context.Context, msg *notifier.RenderedMessage, settings *notifier.Settings) (*notifier.DeliveryResult, error)
}

// UserDirectory resolves a user's registered email address.
type UserDirectory interface {
	Email(ctx context.Context, userID int64) (string, error)
}

// AuditLogger records send outcomes for the blog owner.
type AuditLogger interface {
	Log(msg string)
	Debug(msg string)
}

// ConfigError indicates the provider credentials required for any send are
// missing. No send is attempted.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return "missing configuration: " + e.Field
}

// IsConfigError checks if an error is a configuration error.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Engine evaluates notification rules for comment events.
type Engine struct {
	renderer Renderer
	quotes   QuoteFetcher
	mailer   Mailer
	users    UserDirectory
	audit    AuditLogger
	logger   *slog.Logger
	settings *notifier.Settings
	site     notifier.SiteContext
	now      func() time.Time
}

// Config holds engine collaborators and configuration.
type Config struct {
	Renderer Renderer
	Quotes   QuoteFetcher
	Mailer   Mailer
	Users    UserDirectory
	Audit    AuditLogger
	Logger   *slog.Logger
	Settings *notifier.Settings
	Site     notifier.SiteContext
	// Clock overrides time.Now, for deterministic tests.
	Clock func() time.Time
}

// New creates a new policy engine.
func New(cfg *Config) *Engine {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Engine{
		renderer: cfg.Renderer,
		quotes:   cfg.Quotes,
		mailer:   cfg.Mailer,
		users:    cfg.Users,
		audit:    cfg.Audit,
		logger:   cfg.Logger,
		settings: cfg.Settings,
		site:     cfg.Site,
		now:      now,
	}
}

// Evaluate applies the owner and guest rules independently and returns the
// rendered messages to send: zero, one, or two per event. A missing original
// comment simply disables the guest branch; missing provider credentials
// return a ConfigError before anything is rendered.
func (e *Engine) Evaluate(ctx context.Context, event *notifier.CommentEvent, original *notifier.OriginalComment) ([]*notifier.RenderedMessage, error) {
	if e.settings.APIKey == "" {
		return nil, &ConfigError{Field: "api_key"}
	}
	if e.settings.APIDomain == "" {
		return nil, &ConfigError{Field: "api_domain"}
	}

	var messages []*notifier.RenderedMessage

	if msg := e.evaluateOwner(ctx, event); msg != nil {
		messages = append(messages, msg)
	}
	if msg := e.evaluateGuest(ctx, event, original); msg != nil {
		messages = append(messages, msg)
	}

	return messages, nil
}

// evaluateOwner fires iff to_owner is set and the comment status passes the
// filter. Self-notification is suppressed unless to_me is set.
func (e *Engine) evaluateOwner(ctx context.Context, event *notifier.CommentEvent) *notifier.RenderedMessage {
	if !e.settings.Flag(notifier.FlagToOwner) || !e.settings.StatusFilter[event.Status] {
		return nil
	}

	to := e.settings.RecipientOverrideEmail
	if to == "" {
		resolved, err := e.users.Email(ctx, event.OwnerID)
		if err != nil {
			e.logger.Warn("Owner email lookup failed, skipping owner notification",
				"owner_id", event.OwnerID,
				"error", err)
			e.audit.Log(fmt.Sprintf("owner lookup failed for uid %d: %v", event.OwnerID, err))
			return nil
		}
		to = resolved
	}
	if to == "" {
		// Never send to an empty address.
		return nil
	}

	if to == event.Email && !e.settings.Flag(notifier.FlagToMe) {
		e.logger.Info("Self-notification suppressed", "to", to, "comment_id", event.ID)
		e.audit.Debug("self-reply suppressed for " + to)
		return nil
	}

	return &notifier.RenderedMessage{
		To:       to,
		From:     e.fromAddress(),
		Subject:  render.Substitute(e.settings.OwnerSubjectTemplate, e.subjectPlaceholders(event)),
		HTMLBody: e.renderer.Render(ctx, render.TemplateOwner, e.ownerPlaceholders(event)),
		Template: render.TemplateOwner,
	}
}

// evaluateGuest fires iff the event is an approved reply and the original
// commenter left an address. The to_me flag does not apply here: a reply
// always targets the original author.
func (e *Engine) evaluateGuest(ctx context.Context, event *notifier.CommentEvent, original *notifier.OriginalComment) *notifier.RenderedMessage {
	if original == nil || !e.settings.Flag(notifier.FlagToGuest) {
		return nil
	}
	if event.Status != notifier.StatusApproved || original.Email == "" {
		return nil
	}

	q := e.quotes.Fetch(ctx)

	return &notifier.RenderedMessage{
		To:       original.Email,
		From:     e.fromAddress(),
		Subject:  render.Substitute(e.settings.GuestSubjectTemplate, e.subjectPlaceholders(event)),
		HTMLBody: e.renderer.Render(ctx, render.TemplateGuest, e.guestPlaceholders(event, original, q)),
		Template: render.TemplateGuest,
	}
}

// Notify runs the full pipeline for one comment event: evaluate, send each
// message, audit every outcome. The two recipient branches are isolated; a
// failed owner send never blocks the guest send. Only a ConfigError is
// surfaced to the caller.
func (e *Engine) Notify(ctx context.Context, event *notifier.CommentEvent, original *notifier.OriginalComment) error {
	ctx, cancel := context.WithTimeout(ctx, eventDeadline)
	defer cancel()

	messages, err := e.Evaluate(ctx, event, original)
	if err != nil {
		e.logger.Error("Notification evaluation failed", "comment_id", event.ID, "error", err)
		e.audit.Log("configuration error: " + err.Error())
		return err
	}

	e.logger.Info("Comment event evaluated",
		"comment_id", event.ID,
		"parent_id", event.ParentID,
		"status", event.Status,
		"recipients", len(messages))

	for _, msg := range messages {
		e.deliver(ctx, event, msg)
	}

	return nil
}

// deliver sends one message and records the outcome. Failures end here: a
// failed send is logged once and dropped.
func (e *Engine) deliver(ctx context.Context, event *notifier.CommentEvent, msg *notifier.RenderedMessage) {
	e.audit.Debug(fmt.Sprintf("sending %s mail for comment %d via %s",
		msg.Template, event.ID, e.settings.APIDomain))

	result, err := e.mailer.Send(ctx, msg, e.settings)
	if err != nil {
		e.logger.Warn("Mail dispatch failed",
			"to", msg.To,
			"template", msg.Template,
			"error", err)
		e.audit.Log(fmt.Sprintf("%s send failed: %v", msg.To, err))
		return
	}

	if result.HTTPStatus < 200 || result.HTTPStatus >= 300 {
		e.logger.Warn("Mail provider rejected message",
			"to", msg.To,
			"status_code", result.HTTPStatus,
			"body", render.Excerpt(result.RawBody, 200))
		e.audit.Log(fmt.Sprintf("%s provider status %d: %s",
			msg.To, result.HTTPStatus, render.Excerpt(result.RawBody, 200)))
		return
	}

	e.logger.Info("Mail accepted by provider",
		"to", msg.To,
		"template", msg.Template,
		"status_code", result.HTTPStatus)
	e.audit.Log(fmt.Sprintf("%s Sending: %s", msg.To, result.ProviderMessage))
}

func (e *Engine) fromAddress() string {
	return fmt.Sprintf("%s <%s>", e.settings.SenderName, e.settings.SenderEmail)
}

func (e *Engine) subjectPlaceholders(event *notifier.CommentEvent) map[string]string {
	return map[string]string{
		"site":  e.site.Title,
		"title": event.PostTitle,
	}
}

func (e *Engine) ownerPlaceholders(event *notifier.CommentEvent) map[string]string {
	return map[string]string{
		"site":        e.site.Title,
		"siteUrl":     e.site.BaseURL,
		"title":       event.PostTitle,
		"author":      event.AuthorName,
		"ip":          event.IP,
		"mail":        event.Email,
		"permaLink":   event.Permalink,
		"manage":      e.site.BaseURL + "admin/manage-comments.php",
		"comment":     event.Body,
		"currentYear": strconv.Itoa(e.now().Year()),
		"time":        render.FormatTime(event.CreatedAt, e.site.TimezoneOffsetSeconds),
		"status":      render.StatusLabel(event.Status),
	}
}

func (e *Engine) guestPlaceholders(event *notifier.CommentEvent, original *notifier.OriginalComment, q notifier.Quote) map[string]string {
	return map[string]string{
		"site":         e.site.Title,
		"siteUrl":      e.site.BaseURL,
		"title":        event.PostTitle,
		"originAuthor": original.AuthorName,
		"author":       event.AuthorName,
		"mail":         event.Email,
		"permaLink":    event.Permalink,
		"repyComment":  event.Body,
		"myComment":    original.Body,
		"currentYear":  strconv.Itoa(e.now().Year()),
		"time":         render.FormatTime(event.CreatedAt, e.site.TimezoneOffsetSeconds),
		"yiyanBody":    q.Text,
		"yiyanFrom":    q.Source,
	}
}
