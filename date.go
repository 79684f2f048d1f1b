package main

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// pubDate is a publication date that may not have been resolved. Unresolved
// dates order after every resolved one, however old.
type pubDate struct {
	Time     time.Time
	Resolved bool
}

func resolved(t time.Time) pubDate {
	return pubDate{Time: t, Resolved: true}
}

// String renders the date for humans; unresolved dates read "undated".
func (d pubDate) String() string {
	if !d.Resolved {
		return "undated"
	}
	return d.Time.Format("2006-01-02")
}

var urlDateRe = regexp.MustCompile(`/(\d{4})/(\d{1,2})/(\d{1,2})/`)

// textDateLayouts are tried in order against date-classed element text:
// "May 3, 2021", "2021-05-03", "3/5/2021" (day first).
var textDateLayouts = []string{"January 2, 2006", "2006-1-2", "2/1/2006"}

// dateStrategy resolves a date from one source, reporting false on a miss.
type dateStrategy func(rawURL string, doc *goquery.Document) (time.Time, bool)

// dateStrategies is the date cascade. The first success wins.
var dateStrategies = []dateStrategy{
	urlPathDate,
	metaPublishedDate,
	elementTextDate,
}

// extractDate resolves the publication date of the page at rawURL. It never
// fails; when every strategy misses the result is unresolved.
func extractDate(rawURL string, doc *goquery.Document) pubDate {
	for _, strategy := range dateStrategies {
		if t, ok := strategy(rawURL, doc); ok {
			return resolved(t)
		}
	}
	return pubDate{}
}

// urlPathDate reads /YYYY/M/D/ from the URL. Impossible dates such as
// /2021/2/30/ are rejected rather than normalized.
func urlPathDate(rawURL string, _ *goquery.Document) (time.Time, bool) {
	m := urlDateRe.FindStringSubmatch(rawURL)
	if m == nil {
		return time.Time{}, false
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	return calendarDate(year, month, day)
}

// metaPublishedDate reads the date portion of an article:published_time or
// og:published_time meta tag, whichever comes first in the document.
func metaPublishedDate(_ string, doc *goquery.Document) (time.Time, bool) {
	if doc == nil {
		return time.Time{}, false
	}
	meta := doc.Find(`meta[property="article:published_time"], meta[property="og:published_time"]`).First()
	content, ok := meta.Attr("content")
	if !ok {
		return time.Time{}, false
	}
	datePart, _, _ := strings.Cut(content, "T")
	t, err := time.Parse("2006-01-02", strings.TrimSpace(datePart))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// elementTextDate parses the text of the first date-classed element.
func elementTextDate(_ string, doc *goquery.Document) (time.Time, bool) {
	if doc == nil {
		return time.Time{}, false
	}
	el := doc.Find(".post-date, .date, .published").First()
	if el.Length() == 0 {
		return time.Time{}, false
	}
	text := strings.TrimSpace(el.Text())
	for _, layout := range textDateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func calendarDate(year, month, day int) (time.Time, bool) {
	if year < 1 || month < 1 || month > 12 || day < 1 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Month() != time.Month(month) || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}
