package ingest

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"
)

// sourceURL anchors relative links during HTML extraction; ingested
// documents have no real origin.
var sourceURL = &url.URL{Scheme: "https", Host: "localhost"}

// normalizeSource validates that the input is decodable text and
// reduces HTML documents to their readable article text. Binary input
// fails with ErrUnsupportedSource.
func normalizeSource(text string) (string, error) {
	if !utf8.ValidString(text) {
		return "", fmt.Errorf("%w: input is not valid UTF-8", ErrUnsupportedSource)
	}
	if strings.ContainsRune(text, 0) {
		return "", fmt.Errorf("%w: input contains NUL bytes", ErrUnsupportedSource)
	}

	if looksLikeHTML(text) {
		article, err := readability.FromReader(strings.NewReader(text), sourceURL)
		if err != nil {
			return "", fmt.Errorf("%w: extracting text from HTML: %v", ErrUnsupportedSource, err)
		}
		if strings.TrimSpace(article.TextContent) == "" {
			return "", fmt.Errorf("%w: HTML document has no readable text", ErrUnsupportedSource)
		}
		return article.TextContent, nil
	}

	return text, nil
}

// looksLikeHTML sniffs for an HTML document prefix. Inline fragments of
// markup inside plain text are left alone; only full documents get the
// readability treatment.
func looksLikeHTML(text string) bool {
	head := strings.ToLower(strings.TrimSpace(text))
	if len(head) > 256 {
		head = head[:256]
	}
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}
