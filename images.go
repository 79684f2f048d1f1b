// Article images, fetched and embedded so the book carries no remote
// resources. Photos are downscaled and JPEG-encoded for e-readers.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/jpeg"
	_ "image/png"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

type imageOpts struct {
	maxWidth  int
	quality   int
	grayscale bool
}

// imageEmbedder rewrites every <img> in an article body to an inline data
// URI. Images that cannot be fetched or decoded are dropped.
type imageEmbedder struct {
	fetch pageFetcher
	opts  imageOpts
	log   *zap.Logger
}

// newImageEmbedder fetches with the run's transport settings but a single
// attempt: a missing image is not worth the retry delay.
func newImageEmbedder(cfg config, log *zap.Logger) *imageEmbedder {
	f := newHTTPFetcher(cfg, log)
	f.attempts = 1
	return &imageEmbedder{
		fetch: f,
		opts: imageOpts{
			maxWidth:  cfg.ImageMaxWidth,
			quality:   cfg.ImageQuality,
			grayscale: cfg.Grayscale,
		},
		log: log,
	}
}

// embed returns body with its images inlined. pageURL resolves relative
// sources.
func (m *imageEmbedder) embed(ctx context.Context, body, pageURL string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return body
	}
	imgs := doc.Find("img")
	if imgs.Length() == 0 {
		return body
	}
	base, _ := url.Parse(pageURL)

	// A <picture> becomes its <img>, with the best source promoted to src.
	doc.Find("picture").Each(func(_ int, p *goquery.Selection) {
		img := p.Find("img").First()
		if img.Length() == 0 {
			p.Remove()
			return
		}
		if _, ok := img.Attr("src"); !ok {
			p.Find("source[srcset]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
				if u := bestSrcsetURL(s.AttrOr("srcset", "")); u != "" {
					img.SetAttr("src", u)
					return false
				}
				return true
			})
		}
		p.ReplaceWithSelection(img)
	})

	var embedded, dropped int
	var before, after int64
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src := imageSource(s)
		data, mime, err := m.load(ctx, src, base)
		if err == nil {
			before += int64(len(data))
			data, mime, err = optimizeImage(data, mime, m.opts)
		}
		if err != nil {
			m.log.Debug("dropping image", zap.String("url", src), zap.Error(err))
			s.Remove()
			dropped++
			return
		}
		after += int64(len(data))
		for _, attr := range []string{"srcset", "sizes", "data-src", "data-srcset", "loading", "width", "height"} {
			s.RemoveAttr(attr)
		}
		s.SetAttr("src", "data:"+mime+";base64,"+base64.StdEncoding.EncodeToString(data))
		embedded++
	})

	if embedded > 0 || dropped > 0 {
		m.log.Info("embedded images",
			zap.String("url", pageURL),
			zap.Int("embedded", embedded),
			zap.Int("dropped", dropped),
			zap.String("before", humanSize(before)),
			zap.String("after", humanSize(after)))
	}

	out, err := doc.Find("body").Html()
	if err != nil {
		return body
	}
	return out
}

// load returns the raw bytes and MIME type of an image source, which may be
// a data URI, an absolute URL or a URL relative to base.
func (m *imageEmbedder) load(ctx context.Context, src string, base *url.URL) ([]byte, string, error) {
	if src == "" {
		return nil, "", errors.New("image has no source")
	}
	if strings.HasPrefix(src, "data:") {
		return decodeDataURI(src)
	}
	u, err := url.Parse(src)
	if err != nil {
		return nil, "", err
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, "", fmt.Errorf("unsupported image source %q", src)
	}
	data, err := m.fetch.fetch(ctx, u.String())
	if err != nil {
		return nil, "", err
	}
	mime, _, _ := strings.Cut(http.DetectContentType(data), ";")
	return data, mime, nil
}

// imageSource picks the real image URL, preferring lazy-load attributes over
// the placeholder usually left in src.
func imageSource(s *goquery.Selection) string {
	if v := strings.TrimSpace(s.AttrOr("data-src", "")); v != "" {
		return v
	}
	if v := strings.TrimSpace(s.AttrOr("src", "")); v != "" {
		return v
	}
	for _, attr := range []string{"data-srcset", "srcset"} {
		if v := bestSrcsetURL(s.AttrOr(attr, "")); v != "" {
			return v
		}
	}
	return ""
}

// bestSrcsetURL returns the widest candidate of a srcset value. Candidates
// without a width descriptor count as zero width.
func bestSrcsetURL(srcset string) string {
	var best string
	bestWidth := -1
	for _, candidate := range strings.Split(srcset, ",") {
		fields := strings.Fields(candidate)
		if len(fields) == 0 {
			continue
		}
		w := 0
		if len(fields) > 1 && strings.HasSuffix(fields[1], "w") {
			w, _ = strconv.Atoi(strings.TrimSuffix(fields[1], "w"))
		}
		if w > bestWidth {
			best, bestWidth = fields[0], w
		}
	}
	return best
}

func decodeDataURI(uri string) ([]byte, string, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, "", errors.New("unsupported data URI")
	}
	data, err := decodeBase64(payload)
	if err != nil {
		return nil, "", fmt.Errorf("broken base64: %w", err)
	}
	return data, strings.TrimSuffix(meta, ";base64"), nil
}

// decodeBase64 tries standard then raw (no-padding) base64.
func decodeBase64(s string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(s)
	}
	return raw, err
}

// optimizeImage downscales to opts.maxWidth and re-encodes as JPEG. SVG,
// AVIF and animated GIF pass through untouched.
func optimizeImage(data []byte, mime string, opts imageOpts) ([]byte, string, error) {
	switch {
	case strings.Contains(mime, "svg"), strings.Contains(mime, "avif"):
		return data, mime, nil
	case strings.Contains(mime, "gif") && isAnimatedGIF(data):
		return data, mime, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decoding %s: %w", mime, err)
	}
	img = flattenAlpha(img)

	b := img.Bounds()
	if opts.maxWidth > 0 && b.Dx() > opts.maxWidth {
		h := int(math.Round(float64(b.Dy()) * float64(opts.maxWidth) / float64(b.Dx())))
		img = resize(img, opts.maxWidth, max(h, 1))
	}
	if opts.grayscale {
		img = toGrayscale(img)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: opts.quality}); err != nil {
		return nil, "", fmt.Errorf("encoding jpeg: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}

// resize downscales an image using BiLinear resampling.
func resize(src image.Image, dstW, dstH int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, dstW, dstH))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst
}

func toGrayscale(src image.Image) *image.Gray {
	b := src.Bounds()
	gray := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			gray.Set(x, y, color.GrayModel.Convert(src.At(x, y)))
		}
	}
	return gray
}

// flattenAlpha composites src onto a white background.
func flattenAlpha(src image.Image) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(b)
	draw.Draw(dst, b, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, b, src, b.Min, draw.Over)
	return dst
}

func isAnimatedGIF(data []byte) bool {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return false
	}
	return len(g.Image) > 1
}
