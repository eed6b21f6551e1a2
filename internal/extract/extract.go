// Package extract turns fetched HTML and PDF bodies into normalized text.
package extract

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Mode selects the HTML extraction strategy.
type Mode string

// Supported extraction modes.
const (
	// ModeDOM strips boilerplate elements and reads the most specific
	// content container.
	ModeDOM Mode = "dom"
	// ModeReadability scores the page with go-readability and falls back to
	// ModeDOM when that yields nothing.
	ModeReadability Mode = "readability"
)

// ErrUnsupportedMode is returned for an unknown Mode string.
var ErrUnsupportedMode = errors.New("unsupported extraction mode")

// ParseMode validates a configured mode. Empty means ModeDOM.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeDOM:
		return ModeDOM, nil
	case ModeReadability:
		return ModeReadability, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMode, raw)
	}
}

// Page is the extracted view of one document.
type Page struct {
	Title string
	Text  string
	// Links are absolute, normalized http(s) URLs in document order.
	Links []string
}

// Extractor dispatches HTML and PDF bodies to the right strategy.
type Extractor struct {
	mode Mode
}

// New builds an Extractor for mode.
func New(mode Mode) *Extractor {
	if mode == "" {
		mode = ModeDOM
	}
	return &Extractor{mode: mode}
}

// HTML extracts title, text and outbound links from an HTML body.
func (e *Extractor) HTML(body []byte, pageURL *url.URL) (Page, error) {
	if e.mode == ModeReadability {
		return extractReadable(body, pageURL)
	}
	return extractDOM(body, pageURL)
}

// PDF extracts positional text from a PDF body.
func (e *Extractor) PDF(body []byte) (Page, error) {
	return extractPDF(body)
}
