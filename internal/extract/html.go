package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/retail-content-ingestor/internal/ingest"
)

// boilerplate lists the elements removed before text extraction.
const boilerplate = "script, style, noscript, template, nav, form, header, footer, iframe, svg"

// containers are tried in order; the first present one supplies the text.
var containers = []string{"main", "article", "body"}

var inlineTags = map[string]struct{}{
	"a": {}, "abbr": {}, "b": {}, "bdi": {}, "cite": {}, "code": {}, "em": {},
	"i": {}, "kbd": {}, "label": {}, "mark": {}, "q": {}, "s": {}, "small": {},
	"span": {}, "strong": {}, "sub": {}, "sup": {}, "time": {}, "u": {},
}

func extractDOM(body []byte, pageURL *url.URL) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Page{}, fmt.Errorf("parse html: %w", err)
	}
	page := Page{
		Title: documentTitle(doc),
		Links: documentLinks(doc, pageURL),
	}

	doc.Find(boilerplate).Remove()
	for _, sel := range containers {
		container := doc.Find(sel).First()
		if container.Length() == 0 {
			continue
		}
		page.Text = ingest.NormalizeText(selectionText(container))
		break
	}
	return page, nil
}

func documentTitle(doc *goquery.Document) string {
	if title := ingest.NormalizeText(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if og, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		if title := ingest.NormalizeText(og); title != "" {
			return title
		}
	}
	return ingest.NormalizeText(doc.Find("h1").First().Text())
}

// documentLinks reads every anchor, including the ones inside navigation,
// before boilerplate is stripped.
func documentLinks(doc *goquery.Document, pageURL *url.URL) []string {
	base := pageURL
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok && pageURL != nil {
		if parsed, err := pageURL.Parse(strings.TrimSpace(href)); err == nil {
			base = parsed
		}
	}
	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		link, ok := ingest.ResolveURL(base, href)
		if !ok {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links
}

// selectionText concatenates text nodes, separating block-level elements so
// adjacent paragraphs do not run together.
func selectionText(sel *goquery.Selection) string {
	var b strings.Builder
	for _, n := range sel.Nodes {
		writeNodeText(&b, n)
	}
	return b.String()
}

func writeNodeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.CommentNode:
		return
	}
	_, inline := inlineTags[n.Data]
	block := n.Type == html.ElementNode && !inline
	if block {
		b.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeNodeText(b, c)
	}
	if block {
		b.WriteByte(' ')
	}
}
