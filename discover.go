package main

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// defaultMarkers are the path fragments that identify article links on an
// index page.
var defaultMarkers = []string{"/analyses/", "/blog/"}

// discoverLinks returns the absolute URLs of article links found in an index
// page, in first-seen order with duplicates removed. The position of a URL in
// the result is its discovery order. Pages without matching links (or that
// fail to parse) yield an empty slice.
func discoverLinks(page []byte, base string, markers []string) []string {
	var hrefs []string
	if gofeed.DetectFeedType(bytes.NewReader(page)) != gofeed.FeedTypeUnknown {
		hrefs = feedLinks(page)
	} else {
		hrefs = anchorLinks(page)
	}

	seen := make(map[string]bool)
	urls := []string{}
	for _, href := range hrefs {
		if !hasMarker(href, markers) {
			continue
		}
		full := resolveHref(base, href)
		if seen[full] {
			continue
		}
		seen[full] = true
		urls = append(urls, full)
	}
	return urls
}

// anchorLinks collects every <a href> value in document order.
func anchorLinks(page []byte) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil
	}
	var hrefs []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		hrefs = append(hrefs, href)
	})
	return hrefs
}

// feedLinks collects item links from an RSS, Atom or JSON feed, in feed order.
func feedLinks(page []byte) []string {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(page))
	if err != nil {
		return nil
	}
	var hrefs []string
	for _, item := range feed.Items {
		if item.Link != "" {
			hrefs = append(hrefs, item.Link)
		}
	}
	return hrefs
}

func hasMarker(href string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(href, m) {
			return true
		}
	}
	return false
}

// resolveHref joins a relative href onto base with exactly one slash between
// them. Hrefs that already carry an http(s) scheme are returned unchanged.
func resolveHref(base, href string) string {
	if strings.HasPrefix(href, "http") {
		return href
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(href, "/")
}
