package main

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	readability "codeberg.org/readeck/go-readability"
	"github.com/PuerkitoBio/goquery"
)

// readabilityContent runs go-readability over a page whose layout matched
// none of the configured containers. It returns the article HTML and the
// title readability found, which may be empty. The body is sanitized the
// same way as a matched container.
func readabilityContent(page []byte, rawURL string) (title, body string, err error) {
	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parsing %s: %w", rawURL, err)
	}
	article, err := readability.FromReader(bytes.NewReader(page), pageURL)
	if err != nil {
		return "", "", fmt.Errorf("readability extraction failed: %w", err)
	}
	if article.Content == "" {
		return "", "", fmt.Errorf("readability extracted no content from %s", rawURL)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
	if err != nil {
		return "", "", fmt.Errorf("parsing readability content: %w", err)
	}
	root := doc.Find("body")
	sanitizeBody(root)
	body, err = root.Html()
	if err != nil {
		return "", "", err
	}
	if strings.TrimSpace(body) == "" {
		return "", "", fmt.Errorf("readability extracted no content from %s", rawURL)
	}
	return article.Title, body, nil
}
