// Cover image for compiled books: the title over a strip of bars, one bar
// per chapter, darker for newer articles.
package main

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	coverWidth  = 1200
	coverHeight = 1800
	coverMargin = 80
)

// generateCover renders a PNG cover for doc.
func generateCover(doc *compiledDocument) ([]byte, error) {
	img := image.NewGray(image.Rect(0, 0, coverWidth, coverHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Gray{0xFF}), image.Point{}, draw.Src)

	titleFace, err := loadFace(gobold.TTF, 72)
	if err != nil {
		return nil, fmt.Errorf("loading bold font: %w", err)
	}
	metaFace, err := loadFace(goregular.TTF, 34)
	if err != nil {
		return nil, fmt.Errorf("loading regular font: %w", err)
	}

	drawTimeline(img, doc)

	y := 420
	lineHeight := titleFace.Metrics().Height.Ceil() + 10
	for _, line := range wrapText(doc.Title, titleFace, coverWidth-2*coverMargin) {
		drawString(img, line, titleFace, coverMargin, y)
		y += lineHeight
	}
	drawString(img, coverSubtitle(doc), metaFace, coverMargin, y+30)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding cover PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// coverSubtitle reads e.g. "12 articles, 2019–2023".
func coverSubtitle(doc *compiledDocument) string {
	n := len(doc.Chapters)
	s := fmt.Sprintf("%d articles", n)
	if n == 1 {
		s = "1 article"
	}

	var newest, oldest int
	for _, ch := range doc.Chapters {
		if !ch.Record.Published.Resolved {
			continue
		}
		year := ch.Record.Published.Time.Year()
		if newest == 0 || year > newest {
			newest = year
		}
		if oldest == 0 || year < oldest {
			oldest = year
		}
	}
	switch {
	case newest == 0:
	case newest == oldest:
		s += fmt.Sprintf(", %d", newest)
	default:
		s += fmt.Sprintf(", %d–%d", oldest, newest)
	}
	return s
}

// drawTimeline fills the lower part of the cover with one vertical bar per
// chapter in reading order. Undated chapters are drawn lightest.
func drawTimeline(img *image.Gray, doc *compiledDocument) {
	const (
		top    = 1100
		bottom = coverHeight - coverMargin
		gap    = 4
	)
	n := len(doc.Chapters)
	if n == 0 {
		return
	}
	width := coverWidth - 2*coverMargin
	barW := max((width-(n-1)*gap)/n, 1)

	for i, ch := range doc.Chapters {
		x0 := coverMargin + i*(barW+gap)
		if x0 >= coverWidth-coverMargin {
			break
		}
		shade := uint8(0xDD)
		if ch.Record.Published.Resolved {
			// Newest chapter black, fading towards the oldest.
			shade = uint8(0x20 + (0xA0*i)/max(n-1, 1))
		}
		rect := image.Rect(x0, top, min(x0+barW, coverWidth-coverMargin), bottom)
		draw.Draw(img, rect, image.NewUniform(color.Gray{shade}), image.Point{}, draw.Src)
	}
}

func drawString(img *image.Gray, s string, face font.Face, x, y int) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Gray{0x00}),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// wrapText splits text into lines no wider than maxWidth pixels.
func wrapText(text string, face font.Face, maxWidth int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{text}
	}

	var lines []string
	current := words[0]
	for _, word := range words[1:] {
		trial := current + " " + word
		if font.MeasureString(face, trial).Ceil() <= maxWidth {
			current = trial
		} else {
			lines = append(lines, current)
			current = word
		}
	}
	return append(lines, current)
}

func loadFace(ttf []byte, sizePt float64) (font.Face, error) {
	f, err := opentype.Parse(ttf)
	if err != nil {
		return nil, err
	}
	return opentype.NewFace(f, &opentype.FaceOptions{
		Size:    sizePt,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}
