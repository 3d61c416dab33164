package render

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Excerpt reduces a comment body to plain text suitable for a single audit
// log line: markup stripped, whitespace collapsed, truncated to max runes.
func Excerpt(body string, maxRunes int) string {
	text := body

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err == nil {
		text = doc.Text()
	}

	text = strings.Join(strings.Fields(text), " ")

	runes := []rune(text)
	if maxRunes > 0 && len(runes) > maxRunes {
		return string(runes[:maxRunes]) + "..."
	}
	return text
}
