package extract

import (
	"bytes"
	"net/url"

	"github.com/go-shiori/go-readability"

	"github.com/JakeFAU/retail-content-ingestor/internal/ingest"
)

func extractReadable(body []byte, pageURL *url.URL) (Page, error) {
	page, err := extractDOM(body, pageURL)
	if err != nil || pageURL == nil {
		return page, err
	}
	article, ok := readArticle(body, pageURL)
	if !ok {
		return page, nil
	}
	text := ingest.NormalizeText(article.TextContent)
	if text == "" {
		return page, nil
	}
	page.Text = text
	if title := ingest.NormalizeText(article.Title); title != "" && page.Title == "" {
		page.Title = title
	}
	return page, nil
}

// readArticle reports false when readability fails or panics on a malformed
// document.
func readArticle(body []byte, pageURL *url.URL) (article readability.Article, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return readability.Article{}, false
	}
	return article, true
}
