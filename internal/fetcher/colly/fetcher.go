// Package collyfetcher implements ingest.Fetcher using gocolly and routes the
// body to the HTML or PDF extractor.
package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/retail-content-ingestor/internal/extract"
	"github.com/JakeFAU/retail-content-ingestor/internal/ingest"
)

var (
	// ErrTooLarge marks a body that exceeds the configured size limit.
	ErrTooLarge = errors.New("response body too large")
	// ErrUnsupportedContent marks a response that is neither HTML nor PDF,
	// whether declared by its Content-Type or found by sniffing the body.
	ErrUnsupportedContent = errors.New("unsupported content type")
)

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxHTMLBytes = 5 << 20
	defaultMaxPDFBytes  = 20 << 20
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxHTMLBytes int
	MaxPDFBytes  int
}

// Fetcher implements ingest.Fetcher using Colly collectors.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
	extractor *extract.Extractor
	clock     ingest.Clock

	mu         sync.Mutex
	collectors map[time.Duration]*colly.Collector
}

type collectorHooks interface {
	OnResponseHeaders(colly.ResponseHeadersCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithTransport overrides the HTTP transport, mainly for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) {
		f.transport = rt
	}
}

// New builds a Fetcher.
func New(cfg Config, extractor *extract.Extractor, clock ingest.Clock, opts ...Option) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxHTMLBytes <= 0 {
		cfg.MaxHTMLBytes = defaultMaxHTMLBytes
	}
	if cfg.MaxPDFBytes <= 0 {
		cfg.MaxPDFBytes = defaultMaxPDFBytes
	}
	if extractor == nil {
		extractor = extract.New(extract.ModeDOM)
	}
	f := &Fetcher{
		cfg:        cfg,
		transport:  newHTTPTransport(),
		extractor:  extractor,
		clock:      clock,
		collectors: make(map[time.Duration]*colly.Collector),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// response is what the hooks capture from one visit.
type response struct {
	finalURL    string
	statusCode  int
	headers     http.Header
	body        []byte
	abortReason error
}

// Fetch executes a single HTTP GET and extracts the body.
func (f *Fetcher) Fetch(ctx context.Context, request ingest.FetchRequest) (ingest.FetchResult, error) {
	var (
		resp     response
		fetchErr error
	)
	collector := f.buildCollector(request, &resp, &fetchErr)
	err := f.runCollector(ctx, collector, request.URL, &fetchErr)
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		// The visit may still be writing to resp.
		return ingest.FetchResult{}, err
	}
	if resp.abortReason != nil {
		if errors.Is(resp.abortReason, ErrUnsupportedContent) {
			return ingest.FetchResult{Status: ingest.FetchSkipped, Reason: resp.abortReason.Error()}, nil
		}
		return ingest.FetchResult{}, resp.abortReason
	}
	if err != nil {
		return ingest.FetchResult{}, err
	}
	return f.extract(request, resp)
}

// collectorFor returns the base collector for a timeout. Clones share their
// parent's HTTP client, so each distinct timeout gets its own parent.
func (f *Fetcher) collectorFor(timeout time.Duration) *colly.Collector {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.collectors[timeout]; ok {
		return c
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(f.transport)
	c.SetRequestTimeout(timeout)
	f.collectors[timeout] = c
	return c
}

func (f *Fetcher) buildCollector(request ingest.FetchRequest, resp *response, fetchErr *error) *colly.Collector {
	timeout := request.Timeout
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	collector := f.collectorFor(timeout).Clone()
	// Clones share the visited store; dedup belongs to the frontier.
	collector.AllowURLRevisit = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	if request.UserAgent != "" {
		collector.UserAgent = request.UserAgent
	}
	// One byte past the largest limit lets truncation be detected.
	collector.MaxBodySize = max(f.cfg.MaxHTMLBytes, f.cfg.MaxPDFBytes) + 1

	f.configureCollectorHooks(collector, resp, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, resp *response, fetchErr *error) {
	hooks.OnResponseHeaders(func(r *colly.Response) {
		if r.StatusCode >= http.StatusMultipleChoices {
			return
		}
		if err := f.checkHeaders(r.Request.URL.Path, r.Headers); err != nil {
			resp.abortReason = err
			r.Request.Abort()
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		*resp = response{
			finalURL:   r.Request.URL.String(),
			statusCode: r.StatusCode,
			headers:    r.Headers.Clone(),
			body:       append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

// checkHeaders rejects media that cannot hold a document and declared
// oversize bodies before the body is read.
func (f *Fetcher) checkHeaders(path string, headers *http.Header) error {
	if headers == nil {
		return nil
	}
	kind, ok := classifyHeader(headers.Get("Content-Type"), path)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedContent, headers.Get("Content-Type"))
	}
	limit := f.cfg.MaxHTMLBytes
	if kind == ingest.KindPDF {
		limit = f.cfg.MaxPDFBytes
	}
	if n, err := strconv.ParseInt(headers.Get("Content-Length"), 10, 64); err == nil && n > int64(limit) {
		return fmt.Errorf("%w: content-length %d exceeds %d", ErrTooLarge, n, limit)
	}
	return nil
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) extract(request ingest.FetchRequest, resp response) (ingest.FetchResult, error) {
	contentType := resp.headers.Get("Content-Type")
	kind, ok := classifyBody(contentType, resp.finalURL, resp.body)
	if !ok {
		return ingest.FetchResult{
			Status: ingest.FetchSkipped,
			Reason: fmt.Sprintf("%s: %s", ErrUnsupportedContent, contentType),
		}, nil
	}
	limit := f.cfg.MaxHTMLBytes
	if kind == ingest.KindPDF {
		limit = f.cfg.MaxPDFBytes
	}
	if len(resp.body) > limit {
		return ingest.FetchResult{}, fmt.Errorf("%w: %s body exceeds %d bytes", ErrTooLarge, kind, limit)
	}

	content := ingest.FetchedContent{
		URL:         request.URL,
		FinalURL:    resp.finalURL,
		Kind:        kind,
		ContentType: contentType,
		StatusCode:  resp.statusCode,
		Headers:     resp.headers,
		Body:        resp.body,
		FetchedAt:   f.now(),
	}

	var (
		page extract.Page
		err  error
	)
	switch kind {
	case ingest.KindPDF:
		page, err = f.extractor.PDF(resp.body)
	default:
		page, err = f.extractor.HTML(resp.body, parseURL(resp.finalURL, request.URL))
	}
	if err != nil {
		return ingest.FetchResult{}, fmt.Errorf("extract %s: %w", kind, err)
	}
	content.Title = page.Title
	content.Text = page.Text
	content.Links = page.Links

	if content.Text == "" {
		return ingest.FetchResult{Status: ingest.FetchEmpty, Content: content, Reason: "no extractable text"}, nil
	}
	return ingest.FetchResult{Status: ingest.FetchContent, Content: content}, nil
}

func (f *Fetcher) now() time.Time {
	if f.clock == nil {
		return time.Now().UTC()
	}
	return f.clock.Now()
}

// classifyHeader decides from headers alone. Ambiguous types pass as HTML
// and are settled by classifyBody once the body is read. Any other type that
// could still carry a PDF (servers label downloads as application/x-download,
// text/plain and the like) passes under the PDF size limit.
func classifyHeader(contentType, path string) (ingest.ContentKind, bool) {
	mt := mediaType(contentType)
	switch mt {
	case "text/html", "application/xhtml+xml":
		return ingest.KindHTML, true
	case "application/pdf", "application/x-pdf":
		return ingest.KindPDF, true
	case "", "application/octet-stream", "binary/octet-stream":
		if strings.HasSuffix(strings.ToLower(path), ".pdf") {
			return ingest.KindPDF, true
		}
		return ingest.KindHTML, true
	}
	if nonDocumentType(mt) {
		return "", false
	}
	return ingest.KindPDF, true
}

// nonDocumentType reports media families that never carry a PDF body.
func nonDocumentType(mt string) bool {
	major, _, _ := strings.Cut(mt, "/")
	switch major {
	case "image", "audio", "video", "font":
		return true
	}
	return false
}

func classifyBody(contentType, rawURL string, body []byte) (ingest.ContentKind, bool) {
	mt := mediaType(contentType)
	switch mt {
	case "text/html", "application/xhtml+xml":
		return ingest.KindHTML, true
	case "application/pdf", "application/x-pdf":
		return ingest.KindPDF, true
	}
	if bytes.HasPrefix(body, pdfMagic) {
		return ingest.KindPDF, true
	}
	switch mt {
	case "", "application/octet-stream", "binary/octet-stream":
		if mediaType(http.DetectContentType(body)) == "text/html" {
			return ingest.KindHTML, true
		}
		if u := parseURL(rawURL, ""); u != nil && strings.HasSuffix(strings.ToLower(u.Path), ".pdf") {
			return ingest.KindPDF, true
		}
	}
	return "", false
}

var pdfMagic = []byte("%PDF-")

func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	return mt
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
