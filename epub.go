// Epub generation for compiled documents using go-epub.
package main

import (
	"encoding/base64"
	"fmt"
	gohtml "html"
	"regexp"
	"strings"

	epub "github.com/go-shiori/go-epub"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// documentWriter packages a compiled document at path.
type documentWriter interface {
	write(doc *compiledDocument, path string) error
}

// epubWriter writes an EPUB 3 book: a contents page followed by one section
// per chapter, in chapter order.
type epubWriter struct {
	source string // index URL; seeds the book identifier
	cover  bool
	log    *zap.Logger
}

const epubCSS = `body { margin: 1em; line-height: 1.5; }
img { max-width: 100%; height: auto; }
pre, code { font-size: 0.85em; }
pre { white-space: pre-wrap; }
blockquote { margin-left: 1em; padding-left: 0.5em; border-left: 2px solid #999; }
.source { font-size: 0.85em; color: #666; margin-top: -0.5em; margin-bottom: 1.5em; }
.source a { color: #666; }
.toc { list-style-type: none; padding-left: 0; }
.toc li { margin-bottom: 1.2em; }
.toc a { text-decoration: none; }
.toc-meta { font-size: 0.85em; color: #666; margin-top: 0.1em; }`

// bookIdentifier derives a stable urn:uuid from the index URL so rebuilding
// the same archive yields the same book identity in reader libraries.
func bookIdentifier(source string) string {
	return "urn:uuid:" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(source)).String()
}

func (w *epubWriter) write(doc *compiledDocument, path string) error {
	e, err := epub.NewEpub(doc.Title)
	if err != nil {
		return fmt.Errorf("creating epub: %w", err)
	}
	e.SetLang("en")
	e.SetAuthor("folio")
	e.SetDescription(fmt.Sprintf("%d articles compiled from %s", len(doc.Chapters), w.source))
	e.SetIdentifier(bookIdentifier(w.source))

	cssPath, err := e.AddCSS("data:text/css;base64,"+base64.StdEncoding.EncodeToString([]byte(epubCSS)), "styles.css")
	if err != nil {
		w.log.Warn("could not add CSS", zap.Error(err))
		cssPath = ""
	}

	if w.cover {
		w.addCover(e, doc)
	}

	if _, err := e.AddSection(buildTOCBody(doc), "Contents", "contents.xhtml", cssPath); err != nil {
		return fmt.Errorf("adding contents: %w", err)
	}

	for _, ch := range doc.Chapters {
		ch.Record.Body = w.addImages(e, ch.Record.Body, ch.Index)
		if _, err := e.AddSection(chapterBody(ch), ch.Record.Title, ch.Filename, cssPath); err != nil {
			return fmt.Errorf("adding chapter %d %q: %w", ch.Index, ch.Record.Title, err)
		}
	}

	if err := e.Write(path); err != nil {
		return fmt.Errorf("writing epub: %w", err)
	}
	return nil
}

// addCover embeds a generated cover. Failures only cost the cover.
func (w *epubWriter) addCover(e *epub.Epub, doc *compiledDocument) {
	png, err := generateCover(doc)
	if err != nil {
		w.log.Warn("could not generate cover", zap.Error(err))
		return
	}
	imgPath, err := e.AddImage("data:image/png;base64,"+base64.StdEncoding.EncodeToString(png), "cover.png")
	if err != nil {
		w.log.Warn("could not add cover image", zap.Error(err))
		return
	}
	e.SetCover(imgPath, "")
}

// imgDataURIRe matches <img ... src="data:mime;base64,DATA">.
var imgDataURIRe = regexp.MustCompile(`(<img\b[^>]*?\bsrc\s*=\s*")data:([^;"]+);base64,([^"]*)(")`)

// addImages registers the inline images of a chapter body with the epub and
// points their src at the packaged files. Images go-epub rejects keep their
// data URI.
func (w *epubWriter) addImages(e *epub.Epub, body string, chapterIdx int) string {
	imgIdx := 0
	return imgDataURIRe.ReplaceAllStringFunc(body, func(match string) string {
		parts := imgDataURIRe.FindStringSubmatch(match)
		prefix, mime, b64data, suffix := parts[1], parts[2], parts[3], parts[4]

		ext := ".jpg"
		switch {
		case strings.Contains(mime, "png"):
			ext = ".png"
		case strings.Contains(mime, "gif"):
			ext = ".gif"
		case strings.Contains(mime, "svg"):
			ext = ".svg"
		case strings.Contains(mime, "webp"):
			ext = ".webp"
		}
		filename := fmt.Sprintf("ch%03d_img%03d%s", chapterIdx, imgIdx, ext)
		imgIdx++

		internalPath, err := e.AddImage("data:"+mime+";base64,"+b64data, filename)
		if err != nil {
			w.log.Warn("could not add image", zap.String("image", filename), zap.Error(err))
			return match
		}
		return prefix + internalPath + suffix
	})
}

// chapterBody is the chapter heading, its source link and the article body.
func chapterBody(ch chapter) string {
	r := ch.Record
	u := gohtml.EscapeString(r.SourceURL)
	var b strings.Builder
	fmt.Fprintf(&b, "<h1>%s</h1>\n", gohtml.EscapeString(r.Title))
	fmt.Fprintf(&b, "<p class=\"source\">Source: <a href=\"%s\">%s</a>", u, u)
	if r.Published.Resolved {
		fmt.Fprintf(&b, "<br/>%s", r.Published.Time.Format("January 2, 2006"))
	}
	b.WriteString("</p>\n")
	b.WriteString(toXHTML(r.Body))
	return b.String()
}

// buildTOCBody generates the front matter contents page: one entry per
// chapter with its date (or "undated") and source.
func buildTOCBody(doc *compiledDocument) string {
	var b strings.Builder
	b.WriteString("<h1>Contents</h1>\n<ol class=\"toc\">\n")
	for _, ch := range doc.Chapters {
		r := ch.Record
		date := r.Published.String()
		if r.Published.Resolved {
			date = r.Published.Time.Format("January 2, 2006")
		}
		fmt.Fprintf(&b, "<li>\n<a href=\"%s\">%s</a>\n", ch.Filename, gohtml.EscapeString(r.Title))
		fmt.Fprintf(&b, "<p class=\"toc-meta\">%s<br/>%s</p>\n",
			gohtml.EscapeString(date), gohtml.EscapeString(displayURL(r.SourceURL)))
		b.WriteString("</li>\n")
	}
	b.WriteString("</ol>\n")
	return b.String()
}

// displayURL strips the scheme and any trailing slash.
func displayURL(u string) string {
	for _, prefix := range []string{"https://", "http://"} {
		u = strings.TrimPrefix(u, prefix)
	}
	return strings.TrimSuffix(u, "/")
}
