package feed

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"golang.org/x/text/unicode/norm"
)

// ContentExtractor turns post HTML into the plain text handlers and external
// workers operate on.
type ContentExtractor struct {
	// MinReadableLength is the shortest readability result accepted before
	// falling back to the text of the whole document.
	MinReadableLength int
}

func NewContentExtractor() *ContentExtractor {
	return &ContentExtractor{MinReadableLength: 140}
}

// Run extracts the main article of an HTML page as plain text.
func (e *ContentExtractor) Run(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("HTML data is empty")
	}

	article, err := readability.FromReader(bytes.NewReader(data), nil)
	if err == nil {
		text := normalizeText(article.TextContent)
		if len([]rune(text)) >= e.MinReadableLength {
			slog.Debug("Content extracted successfully", "title", article.Title, "content_length", len(text))
			return text, nil
		}
	}

	text, docErr := documentText(data)
	if docErr != nil {
		if err != nil {
			return "", fmt.Errorf("failed to extract content: %w", err)
		}
		return "", fmt.Errorf("failed to extract content: %w", docErr)
	}
	if text == "" {
		return "", fmt.Errorf("no content extracted from HTML data")
	}

	return text, nil
}

// PlainText is Run for feed snippets: short or malformed input degrades to the
// stripped text instead of an error.
func (e *ContentExtractor) PlainText(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	if !strings.ContainsRune(html, '<') {
		return normalizeText(html)
	}

	text, err := e.Run([]byte(html))
	if err != nil {
		slog.Debug("Falling back to raw text", "error", err)
		return normalizeText(html)
	}
	return text
}

func documentText(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, nav, header, footer, aside").Remove()

	var parts []string
	doc.Find("title, h1, h2, h3, h4, p, li, blockquote, pre, td").Each(func(_ int, s *goquery.Selection) {
		if s.Children().Filter("p, li, blockquote").Length() > 0 {
			return
		}
		if text := normalizeText(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	if len(parts) == 0 {
		return normalizeText(doc.Text()), nil
	}

	return strings.Join(parts, "\n"), nil
}

// normalizeText applies NFC and collapses runs of whitespace.
func normalizeText(s string) string {
	return strings.Join(strings.FieldsFunc(norm.NFC.String(s), unicode.IsSpace), " ")
}
