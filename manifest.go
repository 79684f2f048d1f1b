package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// manifest describes a compiled book for tooling that wants the chapter
// order without unpacking the epub.
type manifest struct {
	Title     string          `yaml:"title"`
	Source    string          `yaml:"source"`
	Generated time.Time       `yaml:"generated"`
	Epub      string          `yaml:"epub"`
	Chapters  []manifestEntry `yaml:"chapters"`
}

type manifestEntry struct {
	Chapter int    `yaml:"chapter"`
	Title   string `yaml:"title"`
	URL     string `yaml:"url"`
	Date    string `yaml:"date"`
	Backup  string `yaml:"backup,omitempty"`
}

// newManifest builds the manifest for doc. backups maps chapter index to the
// backup file written for it, if any.
func newManifest(doc *compiledDocument, source, epubPath string, backups map[int]string, now time.Time) manifest {
	m := manifest{
		Title:     doc.Title,
		Source:    source,
		Generated: now.UTC().Truncate(time.Second),
		Epub:      filepath.Base(epubPath),
	}
	for _, ch := range doc.Chapters {
		entry := manifestEntry{
			Chapter: ch.Index,
			Title:   ch.Record.Title,
			URL:     ch.Record.SourceURL,
			Date:    ch.Record.Published.String(),
		}
		if p, ok := backups[ch.Index]; ok {
			entry.Backup = filepath.Base(p)
		}
		m.Chapters = append(m.Chapters, entry)
	}
	return m
}

func writeManifest(path string, m manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}
