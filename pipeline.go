package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

var errNoURLs = errors.New("no article URLs found")

const manifestName = "manifest.yaml"

// pipeline compiles one archive: discover, fetch and extract every article in
// turn, order them, then write backups, the manifest and the book.
type pipeline struct {
	cfg    config
	fetch  pageFetcher
	writer documentWriter
	images *imageEmbedder // nil leaves image markup untouched
	log    *zap.Logger
	now    func() time.Time
}

func newPipeline(cfg config, log *zap.Logger) *pipeline {
	p := &pipeline{
		cfg:    cfg,
		fetch:  newHTTPFetcher(cfg, log),
		writer: &epubWriter{source: cfg.IndexURL, cover: cfg.Cover, log: log},
		log:    log,
		now:    time.Now,
	}
	if cfg.Images {
		p.images = newImageEmbedder(cfg, log)
	}
	return p
}

// result lists what a run wrote.
type result struct {
	Epub     string
	Mobi     string
	Manifest string
	Backups  []string
	Chapters int
}

func (p *pipeline) run(ctx context.Context) (*result, error) {
	index, err := p.fetch.fetch(ctx, p.cfg.IndexURL)
	if err != nil {
		return nil, fmt.Errorf("index page: %w", err)
	}

	urls := discoverLinks(index, linkBase(p.cfg), p.cfg.Markers)
	if len(urls) == 0 {
		return nil, errNoURLs
	}
	p.log.Info("discovered articles", zap.Int("count", len(urls)), zap.String("url", p.cfg.IndexURL))

	records := make([]articleRecord, 0, len(urls))
	for i, u := range urls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pprintf("[%d/%d] %s\n", i+1, len(urls), shortURL(u))
		rec, err := p.article(ctx, u, i)
		if err != nil {
			p.log.Warn("skipping article", zap.String("url", u), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}

	doc, err := compile(p.cfg.Title, records)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(p.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	res := &result{Chapters: len(doc.Chapters)}
	backups := map[int]string{}
	if p.cfg.Backup {
		backups = p.writeBackups(doc)
		for _, ch := range doc.Chapters {
			if path, ok := backups[ch.Index]; ok {
				res.Backups = append(res.Backups, path)
			}
		}
	}

	epubPath := filepath.Join(p.cfg.OutputDir, bookFilename(doc.Title)+".epub")

	if err := p.writer.write(doc, epubPath); err != nil {
		return nil, err
	}
	res.Epub = epubPath
	p.log.Info("wrote epub", zap.String("path", epubPath), zap.Int("chapters", len(doc.Chapters)))

	// The manifest names the epub, so it is only written once the epub exists.
	if p.cfg.Manifest {
		res.Manifest = filepath.Join(p.cfg.OutputDir, manifestName)
		m := newManifest(doc, p.cfg.IndexURL, epubPath, backups, p.now())
		if err := writeManifest(res.Manifest, m); err != nil {
			return nil, err
		}
	}

	if p.cfg.Mobi {
		mobiPath, err := convertToMobi(ctx, epubPath)
		if err != nil {
			return nil, err
		}
		res.Mobi = mobiPath
		p.log.Info("wrote mobi", zap.String("path", mobiPath))
	}
	return res, nil
}

// article fetches and extracts one page. order is its discovery position.
func (p *pipeline) article(ctx context.Context, rawURL string, order int) (articleRecord, error) {
	page, err := p.fetch.fetch(ctx, rawURL)
	if err != nil {
		return articleRecord{}, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return articleRecord{}, fmt.Errorf("parsing %s: %w", rawURL, err)
	}

	published := extractDate(rawURL, doc)
	title, body, err := extractContent(doc, p.cfg.Containers)
	if errors.Is(err, errContainerNotFound) && p.cfg.ReadabilityFallback {
		title, body, err = p.fallback(doc, page, rawURL)
	}
	if err != nil {
		return articleRecord{}, err
	}
	if p.images != nil {
		body = p.images.embed(ctx, body, rawURL)
	}

	p.log.Debug("extracted article",
		zap.String("url", rawURL),
		zap.String("title", title),
		zap.Stringer("date", published))
	return articleRecord{
		SourceURL: rawURL,
		Title:     title,
		Body:      body,
		Published: published,
		Order:     order,
	}, nil
}

// fallback extracts the body with readability. The cascade title is kept
// unless it fell all the way through to the placeholder.
func (p *pipeline) fallback(doc *goquery.Document, page []byte, rawURL string) (string, string, error) {
	rTitle, body, err := readabilityContent(page, rawURL)
	if err != nil {
		return "", "", fmt.Errorf("%w (readability: %v)", errContainerNotFound, err)
	}
	title := resolveTitle(doc)
	if title == untitled {
		if t := normalizeTitle(rTitle); t != "" {
			title = t
		}
	}
	p.log.Info("used readability fallback", zap.String("url", rawURL))
	return title, body, nil
}

// writeBackups writes one text file per chapter in chapter order. A failed
// backup is logged and skipped.
func (p *pipeline) writeBackups(doc *compiledDocument) map[int]string {
	w := newBackupWriter(p.cfg.OutputDir)
	paths := make(map[int]string, len(doc.Chapters))
	for i, e := range doc.toc() {
		path, err := w.write(e.Title, e.Body)
		if err != nil {
			p.log.Error("backup failed",
				zap.Int("chapter", i+1),
				zap.String("title", e.Title),
				zap.Error(err))
			continue
		}
		paths[i+1] = path
	}
	return paths
}

// linkBase is the configured base URL, or the scheme and host of the index.
func linkBase(cfg config) string {
	if cfg.BaseURL != "" {
		return cfg.BaseURL
	}
	u, err := url.Parse(cfg.IndexURL)
	if err != nil || u.Host == "" {
		return cfg.IndexURL
	}
	return u.Scheme + "://" + u.Host
}

// bookFilename is the sanitized book title, or "book" if nothing survives.
func bookFilename(title string) string {
	if name := sanitizeFilename(title); name != "" {
		return name
	}
	return "book"
}
