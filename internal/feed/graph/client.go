// Package graph is a minimal client for Graph API style paginated page feeds.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/retail-content-ingestor/internal/policy/retry"
)

const (
	defaultBaseURL  = "https://graph.facebook.com"
	defaultVersion  = "v19.0"
	defaultPageSize = 25
	defaultTimeout  = 15 * time.Second
	maxErrorBody    = 4 << 10
	postFields      = "id,message,created_time,permalink_url"
)

// Config holds client settings.
type Config struct {
	BaseURL  string
	Version  string
	PageSize int
	Timeout  time.Duration
}

// Post is one feed entry.
type Post struct {
	ID           string `json:"id"`
	Message      string `json:"message"`
	CreatedTime  string `json:"created_time"`
	PermalinkURL string `json:"permalink_url"`
}

// Published parses CreatedTime. Graph timestamps use a numeric zone without
// a colon; RFC 3339 is accepted as well.
func (p Post) Published() (time.Time, bool) {
	for _, layout := range []string{"2006-01-02T15:04:05-0700", time.RFC3339} {
		if ts, err := time.Parse(layout, p.CreatedTime); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// Page is one slice of a feed. Next is empty when pagination is exhausted.
type Page struct {
	Posts []Post
	Next  string
}

type pageResponse struct {
	Data   []Post `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// APIError is a non-2xx response from the feed API.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("graph api: status %d code %d: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("graph api: status %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether the request may succeed when retried.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Client fetches page posts.
type Client struct {
	baseURL  string
	version  string
	pageSize int
	http     *http.Client
	policy   retry.Policy
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRetryPolicy overrides the retry policy for page requests.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) {
		if p != nil {
			c.policy = p
		}
	}
}

// New creates a Client.
func New(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Version == "" {
		cfg.Version = defaultVersion
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		version:  strings.Trim(cfg.Version, "/"),
		pageSize: cfg.PageSize,
		http:     &http.Client{Timeout: cfg.Timeout},
		policy:   retry.NewExponential(retry.Config{MaxAttempts: 3}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Posts returns one page of posts. With an empty next cursor the first page
// of pageID is requested; otherwise the cursor URL is followed as returned by
// the API. The token travels in the Authorization header only; returned and
// followed cursors are stripped of any access_token the API echoes into them.
func (c *Client) Posts(ctx context.Context, pageID, accessToken, next string) (Page, error) {
	target := stripToken(next)
	if target == "" {
		target = c.firstPageURL(pageID)
	}
	var page Page
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		var err error
		page, err = c.get(ctx, target, accessToken)
		return err
	})
	if err != nil {
		return Page{}, fmt.Errorf("list posts for page %s: %w", pageID, err)
	}
	return page, nil
}

func (c *Client) firstPageURL(pageID string) string {
	query := url.Values{}
	query.Set("fields", postFields)
	query.Set("limit", strconv.Itoa(c.pageSize))
	return fmt.Sprintf("%s/%s/%s/posts?%s", c.baseURL, c.version, url.PathEscape(pageID), query.Encode())
}

func (c *Client) get(ctx context.Context, target, accessToken string) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Page{}, retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		err = redactURLError(err)
		var netErr net.Error
		if errors.As(err, &netErr) && !netErr.Timeout() {
			// Transport failures are retried like timeouts.
			return Page{}, fmt.Errorf("request posts: %w", timeoutError{err})
		}
		return Page{}, fmt.Errorf("request posts: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeError(resp)
		if apiErr.Temporary() {
			return Page{}, apiErr
		}
		return Page{}, retry.Permanent(apiErr)
	}

	var body pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Page{}, retry.Permanent(fmt.Errorf("decode posts: %w", err))
	}
	return Page{Posts: body.Data, Next: stripToken(body.Paging.Next)}, nil
}

// stripToken removes the access_token query parameter from a cursor URL.
// Unparseable cursors are returned unchanged and fail in the request.
func stripToken(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if !q.Has("access_token") {
		return raw
	}
	q.Del("access_token")
	u.RawQuery = q.Encode()
	return u.String()
}

// redactURLError drops the query from the URL a transport error carries, so
// cursor parameters never reach logs or stored run errors.
func redactURLError(err error) error {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}
	redacted := urlErr.URL
	if u, parseErr := url.Parse(urlErr.URL); parseErr == nil {
		u.RawQuery = ""
		u.User = nil
		redacted = u.String()
	} else if i := strings.IndexByte(redacted, '?'); i >= 0 {
		redacted = redacted[:i]
	}
	return &url.Error{Op: urlErr.Op, URL: redacted, Err: urlErr.Err}
}

func decodeError(resp *http.Response) *APIError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Message != "" {
		apiErr.Message = envelope.Error.Message
		apiErr.Code = envelope.Error.Code
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

// timeoutError reclassifies a transport failure as retryable for the policy,
// which only retries network errors that report a timeout.
type timeoutError struct{ err error }

func (e timeoutError) Error() string { return e.err.Error() }

func (e timeoutError) Unwrap() error { return e.err }

func (e timeoutError) Timeout() bool { return true }

func (e timeoutError) Temporary() bool { return true }
