package main

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

// errContainerNotFound means none of the content container selectors matched.
var errContainerNotFound = errors.New("content container not found")

const untitled = "Untitled Article"

// defaultContainers are tried in order; the first match holds the article body.
var defaultContainers = []string{"div.post-content", "div.post", "div.article", "div.entry-content"}

// unwantedSelectors are stripped from the container before it is serialized.
const unwantedSelectors = "script, style, iframe"

var spaceRunRe = regexp.MustCompile(`\s+`)

// titleStrategy returns a candidate title, or "" when it has nothing to offer.
type titleStrategy func(doc *goquery.Document) string

// titleStrategies is the title cascade. The first non-empty result wins.
var titleStrategies = []titleStrategy{
	headerTitle,
	ogTitle,
	documentTitle,
	firstHeading,
	canonicalTitle,
}

// extractContent locates the article body in doc and resolves its title.
// The container is sanitized in place; everything else in doc is left alone.
func extractContent(doc *goquery.Document, containers []string) (title, body string, err error) {
	container := findContainer(doc, containers)
	if container == nil {
		return "", "", errContainerNotFound
	}

	title = resolveTitle(doc)

	sanitizeBody(container)
	body, err = goquery.OuterHtml(container)
	if err != nil {
		return "", "", err
	}
	return title, body, nil
}

// sanitizeBody strips the elements an article body must never carry.
func sanitizeBody(sel *goquery.Selection) {
	sel.Find(unwantedSelectors).Remove()
}

func findContainer(doc *goquery.Document, containers []string) *goquery.Selection {
	for _, sel := range containers {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			return s
		}
	}
	return nil
}

// resolveTitle runs the title cascade and normalizes whitespace in the result.
func resolveTitle(doc *goquery.Document) string {
	for _, strategy := range titleStrategies {
		if t := normalizeTitle(strategy(doc)); t != "" {
			return t
		}
	}
	return untitled
}

func normalizeTitle(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return spaceRunRe.ReplaceAllString(strings.TrimSpace(s), " ")
}

// headerTitle reads the post title from the blog's header block.
func headerTitle(doc *goquery.Document) string {
	header := doc.Find("div.post-header").First()
	return strings.TrimSpace(header.Find("h1.post-title").First().Text())
}

func ogTitle(doc *goquery.Document) string {
	content, _ := doc.Find(`meta[property="og:title"]`).First().Attr("content")
	return strings.TrimSpace(content)
}

// documentTitle is the <title> text minus any "| Site Name" suffix.
func documentTitle(doc *goquery.Document) string {
	text := doc.Find("title").First().Text()
	before, _, _ := strings.Cut(text, "|")
	return strings.TrimSpace(before)
}

func firstHeading(doc *goquery.Document) string {
	for _, tag := range []string{"h1", "h2"} {
		if t := strings.TrimSpace(doc.Find(tag).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

// canonicalTitle derives a title from the last non-numeric path segment of
// the canonical link, e.g. /2021/5/3/why-it-works -> "Why It Works".
func canonicalTitle(doc *goquery.Document) string {
	href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href")
	if !ok {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	parts := strings.Split(u.Path, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "" && !isDigits(parts[i]) {
			return titleCase(strings.ReplaceAll(parts[i], "-", " "))
		}
	}
	return ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

// titleCase upper-cases the first letter of every run of letters and
// lower-cases the rest.
func titleCase(s string) string {
	var b strings.Builder
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				r = unicode.ToLower(r)
			} else {
				r = unicode.ToUpper(r)
			}
			prevLetter = true
		} else {
			prevLetter = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
