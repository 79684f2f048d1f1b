package main

import (
	"errors"
	"fmt"
	"slices"
)

// errNoArticles is returned when there is nothing to compile.
var errNoArticles = errors.New("no articles to compile")

// articleRecord is one extracted article.
type articleRecord struct {
	SourceURL string
	Title     string
	Body      string // sanitized container HTML
	Published pubDate
	Order     int // discovery position, used only to break date ties
}

// chapter is a record placed in the compiled document.
type chapter struct {
	Index    int // 1-based position in reading order
	Filename string
	Record   articleRecord
}

// compiledDocument is the ordered chapter list handed to the writers.
type compiledDocument struct {
	Title    string
	Chapters []chapter
}

// tocEntry is what a document writer needs for one spine item.
type tocEntry struct {
	Title     string
	SourceURL string
	Body      string
}

// compile orders records newest first, breaking ties (including between
// undated records) by discovery order, and numbers the resulting chapters.
// The input slice is left untouched.
func compile(title string, records []articleRecord) (*compiledDocument, error) {
	if len(records) == 0 {
		return nil, errNoArticles
	}

	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, compareRecords)

	doc := &compiledDocument{Title: title, Chapters: make([]chapter, len(sorted))}
	for i, r := range sorted {
		doc.Chapters[i] = chapter{
			Index:    i + 1,
			Filename: fmt.Sprintf("chap_%d.xhtml", i+1),
			Record:   r,
		}
	}
	return doc, nil
}

// compareRecords puts every dated record ahead of every undated one, then
// orders dates newest first and falls back to discovery order.
func compareRecords(a, b articleRecord) int {
	if a.Published.Resolved != b.Published.Resolved {
		if a.Published.Resolved {
			return -1
		}
		return 1
	}
	if a.Published.Resolved {
		if c := b.Published.Time.Compare(a.Published.Time); c != 0 {
			return c
		}
	}
	return a.Order - b.Order
}

// toc returns the spine in reading order.
func (d *compiledDocument) toc() []tocEntry {
	entries := make([]tocEntry, len(d.Chapters))
	for i, ch := range d.Chapters {
		entries[i] = tocEntry{
			Title:     ch.Record.Title,
			SourceURL: ch.Record.SourceURL,
			Body:      ch.Record.Body,
		}
	}
	return entries
}
