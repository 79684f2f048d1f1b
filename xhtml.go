// XHTML conversion for chapter bodies. EPUB readers reject plain HTML, so
// extracted blog markup is reparsed and written back out as well-formed XHTML.
package main

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// droppedElements disappear together with their content.
var droppedElements = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Iframe: true, atom.Noscript: true,
	atom.Form: true, atom.Input: true, atom.Button: true, atom.Select: true,
	atom.Textarea: true, atom.Object: true, atom.Embed: true, atom.Canvas: true,
	atom.Link: true, atom.Meta: true, atom.Template: true,
}

// keptElements are emitted as-is. Anything else is unwrapped: the tag goes,
// its children stay.
var keptElements = map[string]bool{}

func init() {
	for _, tag := range strings.Fields(`
		div p h1 h2 h3 h4 h5 h6 ul ol li dl dt dd address hr pre blockquote
		cite em strong small s dfn abbr data time code var samp kbd sub sup
		i b u mark ruby rt rp bdi bdo span br wbr ins del img a q
		table caption colgroup col tbody thead tfoot tr td th
		section article aside header footer main figure figcaption nav`) {
		keptElements[tag] = true
	}
}

// voidElements are written self-closing.
var voidElements = map[atom.Atom]bool{
	atom.Area: true, atom.Br: true, atom.Col: true, atom.Hr: true,
	atom.Img: true, atom.Wbr: true,
}

func isAllowedAttr(key string) bool {
	switch key {
	case "id", "class", "title", "lang", "dir",
		"href", "src", "alt", "width", "height",
		"colspan", "rowspan", "scope", "headers",
		"cite", "datetime", "start", "reversed":
		return true
	}
	return key == "epub:type" || strings.HasPrefix(key, "aria-")
}

// stripInvalidXMLChars removes characters that XML 1.0 does not allow.
func stripInvalidXMLChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r == 0x9 || r == 0xA || r == 0xD ||
			(r >= 0x20 && r <= 0xD7FF) ||
			(r >= 0xE000 && r <= 0xFFFD) ||
			(r >= 0x10000 && r <= 0x10FFFF) {
			return r
		}
		return -1
	}, s)
}

// toXHTML rewrites an HTML fragment as XHTML suitable for an EPUB section.
// Unknown attributes are dropped, fragment links to missing ids lose their
// href, and void elements are self-closed. Headings move down one level
// (clamped at h6) so the chapter's own <h1> stays the only one.
func toXHTML(fragment string) string {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(stripInvalidXMLChars(fragment)), body)
	if err != nil {
		return html.EscapeString(fragment)
	}
	for _, n := range nodes {
		body.AppendChild(n)
	}

	ids := map[string]bool{}
	collectIDs(body, ids)

	var buf bytes.Buffer
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		renderXHTML(&buf, c, ids)
	}
	return buf.String()
}

func collectIDs(n *html.Node, ids map[string]bool) {
	if n.Type == html.ElementNode {
		for _, a := range n.Attr {
			if a.Key == "id" {
				ids[a.Val] = true
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectIDs(c, ids)
	}
}

func renderXHTML(buf *bytes.Buffer, n *html.Node, ids map[string]bool) {
	switch n.Type {
	case html.TextNode:
		buf.WriteString(html.EscapeString(stripInvalidXMLChars(n.Data)))
	case html.ElementNode:
		if droppedElements[n.DataAtom] {
			return
		}
		if !keptElements[n.Data] {
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				renderXHTML(buf, c, ids)
			}
			return
		}
		tag := shiftHeading(n.Data)
		buf.WriteByte('<')
		buf.WriteString(tag)
		for _, a := range n.Attr {
			if !isAllowedAttr(a.Key) {
				continue
			}
			if a.Key == "href" && strings.HasPrefix(a.Val, "#") && len(a.Val) > 1 && !ids[a.Val[1:]] {
				continue
			}
			buf.WriteByte(' ')
			buf.WriteString(a.Key)
			buf.WriteString(`="`)
			buf.WriteString(html.EscapeString(stripInvalidXMLChars(a.Val)))
			buf.WriteByte('"')
		}
		if voidElements[n.DataAtom] {
			buf.WriteString("/>")
			return
		}
		buf.WriteByte('>')
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			renderXHTML(buf, c, ids)
		}
		buf.WriteString("</")
		buf.WriteString(tag)
		buf.WriteByte('>')
	}
}

// shiftHeading maps h1..h5 to the next level down; other tags are unchanged.
func shiftHeading(tag string) string {
	if len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '5' {
		return "h" + string(tag[1]+1)
	}
	return tag
}
