// Package main wires the comment notification service: it receives
// comment-save events from the host CMS over a webhook and emails the blog
// owner and original commenters via the Mailgun API.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"comment-notifier/auditlog"
	"comment-notifier/email"
	"comment-notifier/pkg/notifier"
	"comment-notifier/policy"
	"comment-notifier/quote"
	"comment-notifier/render"
	"comment-notifier/server"
	"comment-notifier/store"
)

func main() {
	ctx := context.Background()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	settings := settingsFromEnv()
	site := siteFromEnv()

	// Template store: local directory by default, GCS bucket when configured.
	templateDir := os.Getenv("TEMPLATE_DIR")
	templateBucket := os.Getenv("TEMPLATE_BUCKET")
	if templateDir == "" && templateBucket == "" {
		templateDir = "./templates"
		logger.Info("No TEMPLATE_BUCKET set, defaulting to local templates", "template_dir", templateDir)
	}

	var gcsClient *gcs.Client
	if templateDir == "" {
		var err error
		gcsClient, err = initStorageClient(ctx)
		if err != nil {
			logger.Error("Failed to initialize Storage client", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := gcsClient.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}()
	}

	templates := store.New(gcsClient, templateBucket, templateDir, logger)
	checkTemplates(ctx, templates, logger)

	// Mail provider: Mailgun, or a logging mock for development.
	var provider email.Provider
	if envBool("MOCK_EMAIL") {
		logger.Info("Mock email mode enabled")
		provider = email.NewMockProvider(logger)
	} else {
		if settings.APIKey == "" || settings.APIDomain == "" {
			logger.Warn("Mailgun credentials incomplete; sends will fail with a configuration error")
		}
		provider = email.NewMailgunProvider(&http.Client{Timeout: 10 * time.Second}, os.Getenv("MAILGUN_API_BASE"), logger)
	}

	audit := auditlog.New(auditlog.Config{
		Dir:           envDefault("LOG_DIR", "./logs"),
		Enabled:       settings.Flag(notifier.FlagToLog),
		DeveloperMode: envBool("DEVELOPER_MODE"),
	})
	defer audit.Close()

	engine := policy.New(&policy.Config{
		Renderer: render.New(templates, logger),
		Quotes:   quote.New(&http.Client{Timeout: 5 * time.Second}, os.Getenv("QUOTE_URL"), logger),
		Mailer:   provider,
		Users:    &envDirectory{email: os.Getenv("OWNER_EMAIL")},
		Audit:    audit,
		Logger:   logger,
		Settings: settings,
		Site:     site,
	})

	port := envDefault("PORT", "8080")
	if err := server.New(engine, logger).ListenAndServe(port); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// initStorageClient builds the GCS client, preferring explicit credentials
// over application default credentials.
func initStorageClient(ctx context.Context) (*gcs.Client, error) {
	if credsJSON := os.Getenv("GOOGLE_CREDENTIALS_JSON"); credsJSON != "" {
		return gcs.NewClient(ctx, option.WithCredentialsJSON([]byte(credsJSON)))
	}
	return gcs.NewClient(ctx)
}

// checkTemplates verifies the template store is reachable at startup. Missing
// templates are reported but not fatal: the renderer degrades to empty bodies.
func checkTemplates(ctx context.Context, templates *store.Store, logger *slog.Logger) {
	names, err := templates.List(ctx)
	if err != nil {
		logger.Warn("Template store unreachable", "error", err)
		return
	}
	for _, want := range []string{render.TemplateOwner + ".html", render.TemplateGuest + ".html"} {
		if !slices.Contains(names, want) {
			logger.Warn("Template missing from store", "template", want)
		}
	}
}

func settingsFromEnv() *notifier.Settings {
	return &notifier.Settings{
		RecipientOverrideEmail: os.Getenv("RECIPIENT_EMAIL"),
		StatusFilter:           envSet("STATUS_FILTER", notifier.StatusApproved+","+notifier.StatusWaiting),
		NotifyFlags:            envSet("NOTIFY_FLAGS", notifier.FlagToOwner+","+notifier.FlagToGuest),
		APIKey:                 os.Getenv("MAILGUN_API_KEY"),
		APIDomain:              os.Getenv("MAILGUN_DOMAIN"),
		SenderEmail:            envDefault("SENDER_EMAIL", "no-reply@localhost"),
		SenderName:             envDefault("SENDER_NAME", "Comment Notifier"),
		OwnerSubjectTemplate:   envDefault("OWNER_SUBJECT", `[{site}] New comment on "{title}"`),
		GuestSubjectTemplate:   envDefault("GUEST_SUBJECT", `[{site}] Your comment on "{title}" has a reply`),
	}
}

func siteFromEnv() notifier.SiteContext {
	baseURL := envDefault("SITE_URL", "http://localhost/")
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	offset, err := strconv.ParseInt(envDefault("TZ_OFFSET_SECONDS", "0"), 10, 64)
	if err != nil {
		slog.Warn("Invalid TZ_OFFSET_SECONDS, using 0", "value", os.Getenv("TZ_OFFSET_SECONDS"))
		offset = 0
	}

	return notifier.SiteContext{
		Title:                 envDefault("SITE_TITLE", "Blog"),
		BaseURL:               baseURL,
		TimezoneOffsetSeconds: offset,
	}
}

// envDirectory resolves the blog owner's address from the environment. The
// host runs single-owner blogs, so every owner ID maps to the one address.
type envDirectory struct {
	email string
}

func (d *envDirectory) Email(_ context.Context, _ int64) (string, error) {
	return d.email, nil
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func envSet(key, fallback string) map[string]bool {
	v := os.Getenv(key)
	if v == "" {
		v = fallback
	}
	set := make(map[string]bool)
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			set[item] = true
		}
	}
	return set
}
