// Plain-text backups of extracted articles, rendered as CommonMark.
package main

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/JohannesKaufmann/dom"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"golang.org/x/net/html"
)

var (
	textConverter     *converter.Converter
	textConverterOnce sync.Once
)

// getTextConverter returns a shared converter that keeps links and replaces
// inline data URI images with their alt text.
func getTextConverter() *converter.Converter {
	textConverterOnce.Do(func() {
		textConverter = converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		)
		textConverter.Register.RendererFor("img", converter.TagTypeInline,
			func(ctx converter.Context, w converter.Writer, n *html.Node) converter.RenderStatus {
				src := dom.GetAttributeOr(n, "src", "")
				if !strings.HasPrefix(src, "data:") {
					return converter.RenderTryNext
				}
				if alt := strings.TrimSpace(dom.GetAttributeOr(n, "alt", "")); alt != "" {
					w.WriteString("[Image: " + alt + "]")
				}
				return converter.RenderSuccess
			},
			converter.PriorityEarly,
		)
	})
	return textConverter
}

// htmlToText renders article markup as readable plain text.
func htmlToText(body string) (string, error) {
	text, err := getTextConverter().ConvertString(body)
	if err != nil {
		return "", fmt.Errorf("text conversion: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// backupWriter saves one text file per article in dir, never overwriting an
// existing file.
type backupWriter struct {
	dir    string
	exists func(string) bool
}

func newBackupWriter(dir string) *backupWriter {
	return &backupWriter{dir: dir, exists: fileExists}
}

// write stores the article and returns the path it was written to.
func (w *backupWriter) write(title, body string) (string, error) {
	text, err := htmlToText(body)
	if err != nil {
		return "", err
	}

	base := sanitizeFilename(title)
	if base == "" {
		base = "article"
	}
	path := uniquePath(w.dir, base, ".txt", w.exists)

	content := fmt.Sprintf("Title: %s\n\n%s\n", title, text)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing backup: %w", err)
	}
	return path, nil
}
