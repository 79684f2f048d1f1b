package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestExtractDate_URLBeatsMeta(t *testing.T) {
	doc := parseDoc(t, `<head><meta property="article:published_time" content="2019-01-01T10:00:00Z"></head>`)
	got := extractDate("https://x.test/2021/5/3/post", doc)
	assert.True(t, got.Resolved)
	assert.Equal(t, day(2021, time.May, 3), got.Time)
}

func TestExtractDate_Cascade(t *testing.T) {
	tests := []struct {
		name string
		url  string
		html string
		want pubDate
	}{
		{
			name: "url with padded components",
			url:  "https://x.test/blog/2023/06/15/title",
			want: resolved(day(2023, time.June, 15)),
		},
		{
			name: "invalid url date falls through to meta",
			url:  "https://x.test/2021/2/30/post",
			html: `<meta property="article:published_time" content="2021-03-01T08:00:00+02:00">`,
			want: resolved(day(2021, time.March, 1)),
		},
		{
			name: "og published time",
			url:  "https://x.test/blog/post",
			html: `<meta property="og:published_time" content="2020-12-31">`,
			want: resolved(day(2020, time.December, 31)),
		},
		{
			name: "first meta in document order",
			url:  "https://x.test/blog/post",
			html: `<meta property="og:published_time" content="2020-01-02T00:00:00Z"><meta property="article:published_time" content="2020-01-03T00:00:00Z">`,
			want: resolved(day(2020, time.January, 2)),
		},
		{
			name: "bad meta falls through to text",
			url:  "https://x.test/blog/post",
			html: `<meta property="article:published_time" content="yesterday"><span class="post-date">May 3, 2021</span>`,
			want: resolved(day(2021, time.May, 3)),
		},
		{
			name: "long month format",
			url:  "https://x.test/blog/post",
			html: `<p class="date"> September 12, 2018 </p>`,
			want: resolved(day(2018, time.September, 12)),
		},
		{
			name: "iso text",
			url:  "https://x.test/blog/post",
			html: `<time class="published">2022-01-01</time>`,
			want: resolved(day(2022, time.January, 1)),
		},
		{
			name: "day first slash format",
			url:  "https://x.test/blog/post",
			html: `<div class="date">3/5/2021</div>`,
			want: resolved(day(2021, time.May, 3)),
		},
		{
			name: "unparseable text",
			url:  "https://x.test/blog/post",
			html: `<div class="date">last Tuesday</div>`,
			want: pubDate{},
		},
		{
			name: "nothing",
			url:  "https://x.test/blog/post",
			want: pubDate{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractDate(tt.url, parseDoc(t, "<html><head></head><body>"+tt.html+"</body></html>"))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUrlPathDate_RequiresTrailingSlash(t *testing.T) {
	_, ok := urlPathDate("https://x.test/2021/5/3", nil)
	assert.False(t, ok)

	_, ok = urlPathDate("https://x.test/2021/13/3/post", nil)
	assert.False(t, ok)
}

func TestPubDate_String(t *testing.T) {
	var unknown pubDate
	assert.Equal(t, "undated", unknown.String())
	assert.Equal(t, "2023-06-15", resolved(day(2023, time.June, 15)).String())
}
