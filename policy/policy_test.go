package policy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"comment-notifier/pkg/notifier"
)

type fakeRenderer struct {
	calls []map[string]string
}

func (f *fakeRenderer) Render(_ context.Context, templateID string, placeholders map[string]string) string {
	f.calls = append(f.calls, placeholders)
	return "<html>" + templateID + "</html>"
}

type fakeQuotes struct {
	quote notifier.Quote
	calls int
}

func (f *fakeQuotes) Fetch(_ context.Context) notifier.Quote {
	f.calls++
	return f.quote
}

type fakeMailer struct {
	sent    []*notifier.RenderedMessage
	failFor map[string]error
	status  int
}

func (f *fakeMailer) Send(_ context.Context, msg *notifier.RenderedMessage, _ *notifier.Settings) (*notifier.DeliveryResult, error) {
	f.sent = append(f.sent, msg)
	if err := f.failFor[msg.To]; err != nil {
		return nil, err
	}
	status := f.status
	if status == 0 {
		status = 200
	}
	return &notifier.DeliveryResult{HTTPStatus: status, ProviderMessage: "Queued. Thank you."}, nil
}

type fakeUsers struct {
	email string
	err   error
}

func (f *fakeUsers) Email(_ context.Context, _ int64) (string, error) {
	return f.email, f.err
}

type fakeAudit struct {
	lines []string
}

func (f *fakeAudit) Log(msg string)   { f.lines = append(f.lines, msg) }
func (f *fakeAudit) Debug(msg string) {}

func testSettings() *notifier.Settings {
	return &notifier.Settings{
		StatusFilter: map[string]bool{"approved": true, "waiting": true},
		NotifyFlags:  map[string]bool{"to_owner": true, "to_guest": true},
		APIKey:       "key-test",
		APIDomain:    "mg.example.com",
		SenderEmail:  "no-reply@mg.example.com",
		SenderName:   "Comment Notifier",

		OwnerSubjectTemplate: `[{site}] New comment on "{title}"`,
		GuestSubjectTemplate: `[{site}] Your comment on "{title}" has a reply`,
	}
}

func testEvent() *notifier.CommentEvent {
	return &notifier.CommentEvent{
		ID:         42,
		ParentID:   7,
		PostTitle:  "Hello World",
		AuthorName: "Alice",
		OwnerID:    1,
		Email:      "a@x.com",
		Body:       "Nice post!",
		Permalink:  "https://blog.example.com/hello#comment-42",
		Status:     "approved",
		CreatedAt:  1700000000,
	}
}

type engineFixture struct {
	engine   *Engine
	renderer *fakeRenderer
	quotes   *fakeQuotes
	mailer   *fakeMailer
	audit    *fakeAudit
}

func newFixture(settings *notifier.Settings, users UserDirectory) *engineFixture {
	f := &engineFixture{
		renderer: &fakeRenderer{},
		quotes:   &fakeQuotes{quote: notifier.Quote{Text: "sample", Source: "someone"}},
		mailer:   &fakeMailer{},
		audit:    &fakeAudit{},
	}
	if users == nil {
		users = &fakeUsers{email: "owner@x.com"}
	}
	f.engine = New(&Config{
		Renderer: f.renderer,
		Quotes:   f.quotes,
		Mailer:   f.mailer,
		Users:    users,
		Audit:    f.audit,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Settings: settings,
		Site: notifier.SiteContext{
			Title:                 "Example Blog",
			BaseURL:               "https://blog.example.com/",
			TimezoneOffsetSeconds: 28800,
		},
		Clock: func() time.Time { return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC) },
	})
	return f
}

func TestEvaluateStatusFilterGatesOwner(t *testing.T) {
	for _, status := range []string{"spam", "unknown"} {
		t.Run(status, func(t *testing.T) {
			settings := testSettings()
			f := newFixture(settings, nil)

			event := testEvent()
			event.Status = status

			msgs, err := f.engine.Evaluate(context.Background(), event, nil)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if len(msgs) != 0 {
				t.Errorf("Evaluate() produced %d messages for filtered status %q, want 0", len(msgs), status)
			}
		})
	}
}

func TestEvaluateOwnerFlagGates(t *testing.T) {
	settings := testSettings()
	settings.NotifyFlags = map[string]bool{"to_guest": true}
	f := newFixture(settings, nil)

	msgs, err := f.engine.Evaluate(context.Background(), testEvent(), nil)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("Evaluate() produced %d owner messages without to_owner, want 0", len(msgs))
	}
}

func TestEvaluateSelfNotification(t *testing.T) {
	tests := []struct {
		name      string
		toMe      bool
		wantCount int
	}{
		{name: "suppressed without to_me", toMe: false, wantCount: 0},
		{name: "sent with to_me", toMe: true, wantCount: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := testSettings()
			settings.NotifyFlags = map[string]bool{"to_owner": true, "to_me": tt.toMe}
			// Owner address resolves to the commenting author's own address.
			f := newFixture(settings, &fakeUsers{email: "a@x.com"})

			msgs, err := f.engine.Evaluate(context.Background(), testEvent(), nil)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if len(msgs) != tt.wantCount {
				t.Errorf("Evaluate() = %d messages, want %d", len(msgs), tt.wantCount)
			}
		})
	}
}

func TestEvaluateRecipientOverride(t *testing.T) {
	settings := testSettings()
	settings.NotifyFlags = map[string]bool{"to_owner": true}
	settings.RecipientOverrideEmail = "inbox@x.com"
	// Lookup must not be consulted when the override is set.
	f := newFixture(settings, &fakeUsers{err: errors.New("directory down")})

	msgs, err := f.engine.Evaluate(context.Background(), testEvent(), nil)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(msgs) != 1 || msgs[0].To != "inbox@x.com" {
		t.Fatalf("Evaluate() = %+v, want one message to inbox@x.com", msgs)
	}
}

func TestEvaluateGuestGates(t *testing.T) {
	original := &notifier.OriginalComment{AuthorName: "Bob", Email: "b@x.com", Body: "First!"}

	tests := []struct {
		name     string
		original *notifier.OriginalComment
		flag     bool
		status   string
		want     int
	}{
		{name: "all conditions met", original: original, flag: true, status: "approved", want: 1},
		{name: "no original comment", original: nil, flag: true, status: "approved", want: 0},
		{name: "to_guest disabled", original: original, flag: false, status: "approved", want: 0},
		{name: "not approved", original: original, flag: true, status: "waiting", want: 0},
		{
			name:     "original email empty",
			original: &notifier.OriginalComment{AuthorName: "Bob", Body: "First!"},
			flag:     true,
			status:   "approved",
			want:     0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := testSettings()
			settings.NotifyFlags = map[string]bool{"to_guest": tt.flag}

			f := newFixture(settings, nil)
			event := testEvent()
			event.Status = tt.status

			msgs, err := f.engine.Evaluate(context.Background(), event, tt.original)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if len(msgs) != tt.want {
				t.Errorf("Evaluate() = %d messages, want %d", len(msgs), tt.want)
			}
			if tt.want == 1 && msgs[0].To != "b@x.com" {
				t.Errorf("Evaluate() to = %q, want b@x.com", msgs[0].To)
			}
		})
	}
}

// TestEvaluateGuestIgnoresSelfReplySuppression pins down that to_me governs
// the owner branch only: an author replying to their own earlier comment
// still notifies the original address.
func TestEvaluateGuestIgnoresSelfReplySuppression(t *testing.T) {
	settings := testSettings()
	settings.NotifyFlags = map[string]bool{"to_guest": true}
	f := newFixture(settings, nil)

	event := testEvent()
	original := &notifier.OriginalComment{AuthorName: "Alice", Email: event.Email, Body: "Earlier"}

	msgs, err := f.engine.Evaluate(context.Background(), event, original)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(msgs) != 1 || msgs[0].To != event.Email {
		t.Fatalf("Evaluate() = %+v, want one message to %s", msgs, event.Email)
	}
}

func TestEvaluateBothBranches(t *testing.T) {
	// The end-to-end scenario: approved reply, both flags set, owner looked
	// up, original commenter has an address. Exactly two messages.
	f := newFixture(testSettings(), &fakeUsers{email: "owner@x.com"})

	event := testEvent()
	original := &notifier.OriginalComment{AuthorName: "Bob", Email: "b@x.com", Body: "First!"}

	msgs, err := f.engine.Evaluate(context.Background(), event, original)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Evaluate() = %d messages, want 2", len(msgs))
	}

	byTemplate := map[string]string{}
	for _, msg := range msgs {
		byTemplate[msg.Template] = msg.To
	}
	if byTemplate["owner"] != "owner@x.com" {
		t.Errorf("owner message to = %q, want owner@x.com", byTemplate["owner"])
	}
	if byTemplate["guest"] != "b@x.com" {
		t.Errorf("guest message to = %q, want b@x.com", byTemplate["guest"])
	}
}

func TestEvaluateMissingCredentials(t *testing.T) {
	tests := []struct {
		name  string
		strip func(*notifier.Settings)
	}{
		{name: "missing api key", strip: func(s *notifier.Settings) { s.APIKey = "" }},
		{name: "missing api domain", strip: func(s *notifier.Settings) { s.APIDomain = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := testSettings()
			tt.strip(settings)
			f := newFixture(settings, nil)

			msgs, err := f.engine.Evaluate(context.Background(), testEvent(), nil)
			if !IsConfigError(err) {
				t.Fatalf("Evaluate() error = %v, want ConfigError", err)
			}
			if len(msgs) != 0 {
				t.Errorf("Evaluate() produced messages despite missing credentials")
			}
		})
	}
}

func TestEvaluateQuoteFailureStillRenders(t *testing.T) {
	settings := testSettings()
	settings.NotifyFlags = map[string]bool{"to_guest": true}
	f := newFixture(settings, nil)
	f.quotes.quote = notifier.Quote{} // simulated fetch failure

	event := testEvent()
	original := &notifier.OriginalComment{AuthorName: "Bob", Email: "b@x.com", Body: "First!"}

	msgs, err := f.engine.Evaluate(context.Background(), event, original)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Evaluate() = %d messages, want 1", len(msgs))
	}
	if f.renderer.calls[0]["yiyanBody"] != "" || f.renderer.calls[0]["yiyanFrom"] != "" {
		t.Errorf("quote placeholders = %q/%q, want empty",
			f.renderer.calls[0]["yiyanBody"], f.renderer.calls[0]["yiyanFrom"])
	}
}

func TestEvaluateQuoteFetchedOnlyForGuest(t *testing.T) {
	settings := testSettings()
	settings.NotifyFlags = map[string]bool{"to_owner": true}
	f := newFixture(settings, nil)

	if _, err := f.engine.Evaluate(context.Background(), testEvent(), nil); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if f.quotes.calls != 0 {
		t.Errorf("quote fetched %d times on the owner-only path, want 0", f.quotes.calls)
	}
}

func TestEvaluateOwnerPlaceholders(t *testing.T) {
	settings := testSettings()
	settings.NotifyFlags = map[string]bool{"to_owner": true}
	f := newFixture(settings, nil)

	msgs, err := f.engine.Evaluate(context.Background(), testEvent(), nil)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Evaluate() = %d messages, want 1", len(msgs))
	}

	if want := `[Example Blog] New comment on "Hello World"`; msgs[0].Subject != want {
		t.Errorf("Subject = %q, want %q", msgs[0].Subject, want)
	}
	if want := "Comment Notifier <no-reply@mg.example.com>"; msgs[0].From != want {
		t.Errorf("From = %q, want %q", msgs[0].From, want)
	}

	got := f.renderer.calls[0]
	want := map[string]string{
		"site":        "Example Blog",
		"siteUrl":     "https://blog.example.com/",
		"title":       "Hello World",
		"author":      "Alice",
		"mail":        "a@x.com",
		"manage":      "https://blog.example.com/admin/manage-comments.php",
		"comment":     "Nice post!",
		"currentYear": "2026",
		"status":      "Approved",
		// 1700000000 + 28800s offset, formatted flat
		"time": "2023-11-15 06:13:20",
	}
	for name, value := range want {
		if got[name] != value {
			t.Errorf("placeholder %q = %q, want %q", name, got[name], value)
		}
	}
}

func TestNotifyIsolatesRecipientFailures(t *testing.T) {
	f := newFixture(testSettings(), &fakeUsers{email: "owner@x.com"})
	f.mailer.failFor = map[string]error{"owner@x.com": errors.New("connection refused")}

	event := testEvent()
	original := &notifier.OriginalComment{AuthorName: "Bob", Email: "b@x.com", Body: "First!"}

	if err := f.engine.Notify(context.Background(), event, original); err != nil {
		t.Fatalf("Notify() error = %v, want nil (delivery failures are absorbed)", err)
	}

	if len(f.mailer.sent) != 2 {
		t.Fatalf("attempted %d sends, want 2 (guest branch must run despite owner failure)", len(f.mailer.sent))
	}

	var failureLogged bool
	for _, line := range f.audit.lines {
		if strings.Contains(line, "send failed") {
			failureLogged = true
		}
	}
	if !failureLogged {
		t.Error("owner dispatch failure was not audit-logged")
	}
}

func TestNotifyLogsProviderRejection(t *testing.T) {
	settings := testSettings()
	settings.NotifyFlags = map[string]bool{"to_owner": true}
	f := newFixture(settings, nil)
	f.mailer.status = 401

	if err := f.engine.Notify(context.Background(), testEvent(), nil); err != nil {
		t.Fatalf("Notify() error = %v, want nil (provider errors are completed sends)", err)
	}

	var rejectionLogged bool
	for _, line := range f.audit.lines {
		if strings.Contains(line, "provider status 401") {
			rejectionLogged = true
		}
	}
	if !rejectionLogged {
		t.Errorf("provider rejection missing from audit log: %v", f.audit.lines)
	}
}

func TestNotifySurfacesConfigError(t *testing.T) {
	settings := testSettings()
	settings.APIKey = ""
	f := newFixture(settings, nil)

	err := f.engine.Notify(context.Background(), testEvent(), nil)
	if !IsConfigError(err) {
		t.Fatalf("Notify() error = %v, want ConfigError", err)
	}
	if len(f.mailer.sent) != 0 {
		t.Errorf("sends attempted despite configuration error")
	}
}

func TestIsConfigError(t *testing.T) {
	if !IsConfigError(&ConfigError{Field: "api_key"}) {
		t.Error("IsConfigError() = false for ConfigError")
	}
	if !IsConfigError(fmt.Errorf("notify: %w", &ConfigError{Field: "api_domain"})) {
		t.Error("IsConfigError() = false for wrapped ConfigError")
	}
	if IsConfigError(errors.New("other")) {
		t.Error("IsConfigError() = true for unrelated error")
	}
}
