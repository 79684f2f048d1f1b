package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// pageMap serves canned pages; unknown URLs fail like an unreachable host.
type pageMap map[string]string

func (m pageMap) fetch(_ context.Context, rawURL string) ([]byte, error) {
	page, ok := m[rawURL]
	if !ok {
		return nil, fmt.Errorf("fetching %s: connection refused", rawURL)
	}
	return []byte(page), nil
}

type recordingWriter struct {
	doc  *compiledDocument
	path string
	err  error
}

func (w *recordingWriter) write(doc *compiledDocument, path string) error {
	w.doc, w.path = doc, path
	return w.err
}

const archiveIndex = `<html><body>
<a href="/blog/2022/01/01/old/">Old</a>
<a href="/blog/new/">New</a>
<a href="/about/">About</a>
<a href="/blog/unknown/">Unknown</a>
<a href="/blog/new/">New again</a>
<a href="/blog/broken/">Broken</a>
<a href="/blog/gone/">Gone</a>
</body></html>`

const (
	oldPage = `<html><head><title>Old Post | Blog</title></head>
<body><div class="post"><p>old body</p></div></body></html>`

	newPage = `<html><head>
<meta property="article:published_time" content="2023-06-15T10:00:00Z">
<meta property="og:title" content="New Post">
</head><body><div class="post-content"><p>new body</p><script>x()</script></div></body></html>`

	undatedPage = `<html><body><div class="entry-content"><h2>Undated Post</h2><p>unknown body</p></div></body></html>`

	brokenPage = `<html><body><main><p>no container here</p></main></body></html>`
)

func archivePages(base string) pageMap {
	return pageMap{
		base + "/archive":              archiveIndex,
		base + "/blog/2022/01/01/old/": oldPage,
		base + "/blog/new/":            newPage,
		base + "/blog/unknown/":        undatedPage,
		base + "/blog/broken/":         brokenPage,
	}
}

func testConfig(t *testing.T) config {
	t.Helper()
	cfg := defaultConfig()
	cfg.IndexURL = "https://x.test/archive"
	cfg.OutputDir = filepath.Join(t.TempDir(), "out")
	cfg.Title = "Test Archive"
	cfg.Cover = false
	return cfg
}

func testPipeline(cfg config, pages pageFetcher, w documentWriter) *pipeline {
	return &pipeline{
		cfg:    cfg,
		fetch:  pages,
		writer: w,
		log:    zap.NewNop(),
		now:    func() time.Time { return time.Date(2024, time.January, 2, 3, 4, 5, 0, time.UTC) },
	}
}

func TestPipeline_OrdersArticles(t *testing.T) {
	cfg := testConfig(t)
	w := &recordingWriter{}

	res, err := testPipeline(cfg, archivePages("https://x.test"), w).run(context.Background())
	require.NoError(t, err)

	require.NotNil(t, w.doc)
	assert.Equal(t, []string{"New Post", "Old Post", "Undated Post"}, chapterTitles(w.doc))
	assert.Equal(t, "2023-06-15", w.doc.Chapters[0].Record.Published.String())
	assert.Equal(t, "2022-01-01", w.doc.Chapters[1].Record.Published.String())
	assert.False(t, w.doc.Chapters[2].Record.Published.Resolved)
	for i, ch := range w.doc.Chapters {
		assert.Equal(t, i+1, ch.Index)
	}
	assert.NotContains(t, w.doc.Chapters[0].Record.Body, "<script>")

	assert.Equal(t, filepath.Join(cfg.OutputDir, "Test Archive.epub"), w.path)
	assert.Equal(t, w.path, res.Epub)
	assert.Equal(t, 3, res.Chapters)
}

func TestPipeline_WritesBackupsInChapterOrder(t *testing.T) {
	cfg := testConfig(t)
	res, err := testPipeline(cfg, archivePages("https://x.test"), &recordingWriter{}).run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Backups, 3)
	assert.Equal(t, "New Post.txt", filepath.Base(res.Backups[0]))
	assert.Equal(t, "Old Post.txt", filepath.Base(res.Backups[1]))
	assert.Equal(t, "Undated Post.txt", filepath.Base(res.Backups[2]))

	data, err := os.ReadFile(res.Backups[0])
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "Title: New Post\n\n"))
	assert.Contains(t, string(data), "new body")
}

func TestPipeline_Manifest(t *testing.T) {
	cfg := testConfig(t)
	res, err := testPipeline(cfg, archivePages("https://x.test"), &recordingWriter{}).run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(res.Manifest)
	require.NoError(t, err)
	var m manifest
	require.NoError(t, yaml.Unmarshal(data, &m))

	assert.Equal(t, "Test Archive.epub", m.Epub)
	assert.Equal(t, "https://x.test/archive", m.Source)
	require.Len(t, m.Chapters, 3)
	assert.Equal(t, "https://x.test/blog/new/", m.Chapters[0].URL)
	assert.Equal(t, "New Post.txt", m.Chapters[0].Backup)
	assert.Equal(t, "undated", m.Chapters[2].Date)
}

func TestPipeline_OptionalOutputsDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backup = false
	cfg.Manifest = false

	res, err := testPipeline(cfg, archivePages("https://x.test"), &recordingWriter{}).run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Backups)
	assert.Empty(t, res.Manifest)

	entries, err := os.ReadDir(cfg.OutputDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPipeline_IndexFetchFails(t *testing.T) {
	_, err := testPipeline(testConfig(t), pageMap{}, &recordingWriter{}).run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index page")
}

func TestPipeline_NoURLs(t *testing.T) {
	pages := pageMap{"https://x.test/archive": `<html><body><a href="/about/">About</a></body></html>`}
	_, err := testPipeline(testConfig(t), pages, &recordingWriter{}).run(context.Background())
	assert.ErrorIs(t, err, errNoURLs)
}

func TestPipeline_NoArticles(t *testing.T) {
	pages := pageMap{
		"https://x.test/archive": `<a href="/blog/a/">a</a>`,
		"https://x.test/blog/a/": `<html><body><p>no container</p></body></html>`,
	}
	cfg := testConfig(t)
	w := &recordingWriter{}
	_, err := testPipeline(cfg, pages, w).run(context.Background())
	assert.ErrorIs(t, err, errNoArticles)
	assert.Nil(t, w.doc)
	assert.NoDirExists(t, cfg.OutputDir)
}

func TestPipeline_WriterFailure(t *testing.T) {
	cfg := testConfig(t)
	w := &recordingWriter{err: errors.New("disk full")}
	_, err := testPipeline(cfg, archivePages("https://x.test"), w).run(context.Background())
	assert.ErrorContains(t, err, "disk full")
	assert.NoFileExists(t, filepath.Join(cfg.OutputDir, manifestName))
}

func TestPipeline_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := testPipeline(testConfig(t), archivePages("https://x.test"), &recordingWriter{}).run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPipeline_ReadabilityFallback(t *testing.T) {
	pages := pageMap{
		"https://x.test/archive":      `<a href="/blog/segrep/">segrep</a>`,
		"https://x.test/blog/segrep/": unstyledArticle,
	}
	cfg := testConfig(t)
	w := &recordingWriter{}

	_, err := testPipeline(cfg, pages, w).run(context.Background())
	require.ErrorIs(t, err, errNoArticles, "fallback is off by default")

	cfg.ReadabilityFallback = true
	_, err = testPipeline(cfg, pages, w).run(context.Background())
	require.NoError(t, err)
	require.Len(t, w.doc.Chapters, 1)
	assert.Equal(t, "Segment Replication in Practice", w.doc.Chapters[0].Record.Title)
	assert.Contains(t, w.doc.Chapters[0].Record.Body, "immutable index segments")
}

func TestPipeline_Mobi(t *testing.T) {
	fakeConverter(t, `cp "$1" "$2"`)
	cfg := testConfig(t)
	cfg.Mobi = true

	res, err := newPipelineWithPages(cfg, archivePages("https://x.test")).run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.OutputDir, "Test Archive.mobi"), res.Mobi)
	assert.FileExists(t, res.Mobi)
}

// newPipelineWithPages is a pipeline with the real epub writer and canned pages.
func newPipelineWithPages(cfg config, pages pageFetcher) *pipeline {
	p := newPipeline(cfg, zap.NewNop())
	p.fetch = pages
	return p
}

func TestPipeline_EndToEndHTTP(t *testing.T) {
	var base string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, ok := archivePages(base)[base+r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(page))
	}))
	defer srv.Close()
	base = srv.URL

	cfg := testConfig(t)
	cfg.IndexURL = srv.URL + "/archive"
	cfg.AllowPrivateHosts = true
	cfg.RetryDelay = time.Millisecond
	cfg.Cover = true

	res, err := newPipeline(cfg, zap.NewNop()).run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Chapters)

	files := readZip(t, res.Epub)
	assert.Contains(t, files["EPUB/xhtml/chap_1.xhtml"], "New Post")
	assert.Contains(t, files["EPUB/xhtml/chap_2.xhtml"], "Old Post")
	assert.Contains(t, files["EPUB/xhtml/chap_3.xhtml"], "Undated Post")
	assert.Contains(t, files, "EPUB/images/cover.png")
}

func TestLinkBase(t *testing.T) {
	assert.Equal(t, "https://x.test", linkBase(config{IndexURL: "https://x.test/archive/page/2"}))
	assert.Equal(t, "https://cdn.x.test", linkBase(config{IndexURL: "https://x.test/archive", BaseURL: "https://cdn.x.test"}))
	assert.Equal(t, "not a url", linkBase(config{IndexURL: "not a url"}))
}

func TestBookFilename(t *testing.T) {
	assert.Equal(t, "Downloaded Articles", bookFilename("Downloaded Articles"))
	assert.Equal(t, "a_b", bookFilename("a/b"))
	assert.Equal(t, "book", bookFilename(" . "))
}
