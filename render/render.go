// Package render builds email subjects and bodies by substituting {name}
// placeholders in static HTML templates.
package render

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Template identifiers understood by the renderer.
const (
	TemplateOwner = "owner"
	TemplateGuest = "guest"
)

// statusLabels maps comment statuses to their display form. Unknown statuses
// render as an empty label rather than failing.
var statusLabels = map[string]string{
	"approved": "Approved",
	"waiting":  "Pending",
	"spam":     "Spam",
}

// Store loads raw template documents by name.
type Store interface {
	Load(ctx context.Context, name string) ([]byte, error)
}

// Renderer renders the owner and guest templates.
type Renderer struct {
	store  Store
	logger *slog.Logger
}

// New creates a new renderer backed by the given template store.
func New(store Store, logger *slog.Logger) *Renderer {
	return &Renderer{
		store:  store,
		logger: logger,
	}
}

// Render loads the named template and substitutes its placeholders. The
// template is read fresh on every call. An unreadable template degrades to an
// empty body; the send still proceeds.
func (r *Renderer) Render(ctx context.Context, templateID string, placeholders map[string]string) string {
	data, err := r.store.Load(ctx, templateID+".html")
	if err != nil {
		r.logger.Warn("Template unreadable, rendering empty body",
			"template", templateID,
			"error", err)
		return ""
	}

	return Substitute(string(data), placeholders)
}

// Substitute performs literal, simultaneous substitution of each {name}
// placeholder with its value. Placeholders absent from the mapping are left
// untouched, and substituted values are never rescanned.
func Substitute(s string, placeholders map[string]string) string {
	if len(placeholders) == 0 {
		return s
	}

	pairs := make([]string, 0, len(placeholders)*2)
	for name, value := range placeholders {
		pairs = append(pairs, "{"+name+"}", value)
	}

	return strings.NewReplacer(pairs...).Replace(s)
}

// FormatTime renders an epoch timestamp as "YYYY-MM-DD HH:MM:SS" after adding
// the site's flat offset. This mirrors the host CMS, which stores the
// timezone as a plain second offset rather than a location.
func FormatTime(epoch, offsetSeconds int64) string {
	return time.Unix(epoch+offsetSeconds, 0).UTC().Format("2006-01-02 15:04:05")
}

// StatusLabel maps a comment status to its display label. Unrecognized
// statuses yield "".
func StatusLabel(status string) string {
	return statusLabels[status]
}
