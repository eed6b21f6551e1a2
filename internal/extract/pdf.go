package extract

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/JakeFAU/retail-content-ingestor/internal/ingest"
)

// extractPDF reads every page's positioned glyphs top-to-bottom and
// left-to-right. A PDF with no text layer yields an empty Text and no error.
func extractPDF(body []byte) (page Page, err error) {
	defer func() {
		// The parser panics on some malformed object graphs.
		if r := recover(); r != nil {
			page, err = Page{}, fmt.Errorf("parse pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return Page{}, fmt.Errorf("open pdf: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		p := reader.Page(i)
		if p.V.IsNull() {
			continue
		}
		b.WriteString(pageText(p.Content().Text))
		b.WriteByte('\n')
	}

	return Page{
		Title: ingest.NormalizeText(reader.Trailer().Key("Info").Key("Title").Text()),
		Text:  ingest.NormalizeText(b.String()),
	}, nil
}

// pageText groups glyphs into lines, top to bottom, where a glyph joins the
// current line while its baseline stays within half a glyph height of the
// line's first glyph. Each line is read left to right, with a new word when the
// horizontal gap exceeds a quarter of the font size.
func pageText(glyphs []pdf.Text) string {
	if len(glyphs) == 0 {
		return ""
	}
	sorted := append([]pdf.Text(nil), glyphs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Y > sorted[j].Y
	})

	var lines [][]pdf.Text
	start := 0
	for i := 1; i <= len(sorted); i++ {
		if i < len(sorted) {
			tol := math.Max(sorted[start].FontSize, sorted[i].FontSize) / 2
			if sorted[start].Y-sorted[i].Y <= tol {
				continue
			}
		}
		line := sorted[start:i]
		sort.SliceStable(line, func(a, b int) bool { return line[a].X < line[b].X })
		lines = append(lines, line)
		start = i
	}

	var b strings.Builder
	for n, line := range lines {
		if n > 0 {
			b.WriteByte('\n')
		}
		prev := line[0]
		b.WriteString(prev.S)
		for _, g := range line[1:] {
			if g.X-(prev.X+prev.W) > g.FontSize/4 {
				b.WriteByte(' ')
			}
			b.WriteString(g.S)
			prev = g
		}
	}
	return b.String()
}
