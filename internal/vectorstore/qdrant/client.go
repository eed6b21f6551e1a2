// Package qdrant implements ingest.VectorStore against the Qdrant REST API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/retail-content-ingestor/internal/ingest"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultBatchSize = 64
	maxErrorBody     = 4 << 10
)

// Config holds connection settings.
type Config struct {
	BaseURL    string
	APIKey     string
	Collection string
	// Distance is the collection metric, Cosine unless set.
	Distance  string
	Timeout   time.Duration
	BatchSize int
}

// APIError is a non-2xx response from Qdrant.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("qdrant: status %d: %s", e.StatusCode, e.Message)
}

// Client is a thin Qdrant REST client bound to one collection.
type Client struct {
	cfg    Config
	base   string
	client *http.Client
}

var _ ingest.VectorStore = (*Client)(nil)

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

// New validates cfg and builds a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("qdrant base url is required")
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return nil, errors.New("qdrant collection is required")
	}
	if cfg.Distance == "" {
		cfg.Distance = "Cosine"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	c := &Client{
		cfg:    cfg,
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		client: &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type vectorParams struct {
	Size     int    `json:"size"`
	Distance string `json:"distance"`
}

type createCollectionRequest struct {
	Vectors vectorParams `json:"vectors"`
}

type createIndexRequest struct {
	FieldName   string `json:"field_name"`
	FieldSchema string `json:"field_schema"`
}

type match struct {
	Value any `json:"value"`
}

type rangeCondition struct {
	Lt *int64 `json:"lt,omitempty"`
}

type condition struct {
	Key   string          `json:"key"`
	Match *match          `json:"match,omitempty"`
	Range *rangeCondition `json:"range,omitempty"`
}

type filter struct {
	Must []condition `json:"must"`
}

type scrollRequest struct {
	Filter      filter `json:"filter"`
	Limit       int    `json:"limit"`
	WithPayload bool   `json:"with_payload"`
	WithVector  bool   `json:"with_vector"`
}

type scrollResponse struct {
	Result struct {
		Points []struct {
			ID      any                `json:"id"`
			Payload fingerprintPayload `json:"payload"`
		} `json:"points"`
	} `json:"result"`
}

type fingerprintPayload struct {
	ContentHash string  `json:"content_hash"`
	ContentLen  float64 `json:"content_len"`
	CrawledAt   string  `json:"crawled_at"`
}

type deleteRequest struct {
	Filter filter `json:"filter"`
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type upsertRequest struct {
	Points []point `json:"points"`
}

type setPayloadRequest struct {
	Payload map[string]any `json:"payload"`
	Filter  filter         `json:"filter"`
}

type errorResponse struct {
	Status struct {
		Error string `json:"error"`
	} `json:"status"`
}

// EnsureCollection creates the collection with vectorSize dimensions. An
// existing collection is success.
func (c *Client) EnsureCollection(ctx context.Context, vectorSize int) error {
	body := createCollectionRequest{Vectors: vectorParams{Size: vectorSize, Distance: c.cfg.Distance}}
	err := c.do(ctx, http.MethodPut, c.collectionPath(""), nil, body, nil)
	if err != nil && !alreadyExists(err) {
		return fmt.Errorf("ensure collection %s: %w", c.cfg.Collection, err)
	}
	return nil
}

// EnsureIndex creates a payload index. An existing index is success.
func (c *Client) EnsureIndex(ctx context.Context, field string, schema ingest.FieldSchema) error {
	body := createIndexRequest{FieldName: field, FieldSchema: string(schema)}
	err := c.do(ctx, http.MethodPut, c.collectionPath("/index"), waitQuery(), body, nil)
	if err != nil && !alreadyExists(err) {
		return fmt.Errorf("ensure index %s: %w", field, err)
	}
	return nil
}

// LookupFingerprint scrolls for one point of (source, url), payload only.
func (c *Client) LookupFingerprint(ctx context.Context, source, docURL string) (ingest.Fingerprint, bool, error) {
	body := scrollRequest{
		Filter:      documentFilter(source, docURL),
		Limit:       1,
		WithPayload: true,
		WithVector:  false,
	}
	var resp scrollResponse
	if err := c.do(ctx, http.MethodPost, c.collectionPath("/points/scroll"), nil, body, &resp); err != nil {
		return ingest.Fingerprint{}, false, fmt.Errorf("lookup fingerprint: %w", err)
	}
	if len(resp.Result.Points) == 0 {
		return ingest.Fingerprint{}, false, nil
	}
	payload := resp.Result.Points[0].Payload
	fp := ingest.Fingerprint{
		ContentHash: payload.ContentHash,
		ContentLen:  int(payload.ContentLen),
	}
	if ts, err := time.Parse(time.RFC3339Nano, payload.CrawledAt); err == nil {
		fp.CrawledAt = ts
	}
	return fp, true, nil
}

// DeleteDocument removes every point of (source, url).
func (c *Client) DeleteDocument(ctx context.Context, source, docURL string) error {
	body := deleteRequest{Filter: documentFilter(source, docURL)}
	if err := c.do(ctx, http.MethodPost, c.collectionPath("/points/delete"), waitQuery(), body, nil); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// Upsert writes points in batches.
func (c *Client) Upsert(ctx context.Context, points []ingest.Point) error {
	for start := 0; start < len(points); start += c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, len(points))
		batch := make([]point, 0, end-start)
		for _, p := range points[start:end] {
			batch = append(batch, point{ID: p.ID, Vector: p.Vector, Payload: p.Payload})
		}
		if err := c.do(ctx, http.MethodPut, c.collectionPath("/points"), waitQuery(), upsertRequest{Points: batch}, nil); err != nil {
			return fmt.Errorf("upsert points: %w", err)
		}
	}
	return nil
}

// TouchDocument refreshes the freshness fields on every point of (source, url).
func (c *Client) TouchDocument(ctx context.Context, source, docURL string, seenAt time.Time) error {
	body := setPayloadRequest{
		Payload: map[string]any{
			ingest.FieldCrawledAt:      seenAt.UTC().Format(time.RFC3339Nano),
			ingest.FieldCrawledAtEpoch: seenAt.UnixMilli(),
		},
		Filter: documentFilter(source, docURL),
	}
	if err := c.do(ctx, http.MethodPost, c.collectionPath("/points/payload"), waitQuery(), body, nil); err != nil {
		return fmt.Errorf("touch document: %w", err)
	}
	return nil
}

// DeleteOlderThan removes every point whose freshness epoch is strictly below
// cutoffMillis.
func (c *Client) DeleteOlderThan(ctx context.Context, cutoffMillis int64) error {
	body := deleteRequest{Filter: filter{Must: []condition{{
		Key:   ingest.FieldCrawledAtEpoch,
		Range: &rangeCondition{Lt: &cutoffMillis},
	}}}}
	if err := c.do(ctx, http.MethodPost, c.collectionPath("/points/delete"), waitQuery(), body, nil); err != nil {
		return fmt.Errorf("delete older than %d: %w", cutoffMillis, err)
	}
	return nil
}

// Ready probes the server readiness endpoint.
func (c *Client) Ready(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/readyz", nil, nil, nil); err != nil {
		return fmt.Errorf("qdrant readiness: %w", err)
	}
	return nil
}

func documentFilter(source, docURL string) filter {
	return filter{Must: []condition{
		{Key: ingest.FieldSource, Match: &match{Value: source}},
		{Key: ingest.FieldURL, Match: &match{Value: docURL}},
	}}
}

func waitQuery() url.Values {
	return url.Values{"wait": []string{"true"}}
}

func (c *Client) collectionPath(suffix string) string {
	return "/collections/" + url.PathEscape(c.cfg.Collection) + suffix
}

// alreadyExists matches the conflict and bad-request responses Qdrant
// returns for resources that exist.
func alreadyExists(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusConflict:
		return true
	case http.StatusBadRequest:
		return strings.Contains(strings.ToLower(apiErr.Message), "already exists")
	default:
		return false
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("api-key", c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(raw))
		var parsed errorResponse
		if json.Unmarshal(raw, &parsed) == nil && parsed.Status.Error != "" {
			msg = parsed.Status.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
