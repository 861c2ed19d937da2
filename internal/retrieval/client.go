package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"sipdmod/internal/logging"
	"sipdmod/internal/record"
)

var (
	// ErrInvalidRange is returned for a month range outside 1..12 or reversed.
	ErrInvalidRange = errors.New("retrieval: invalid month range")
	// ErrStatus wraps every non-2xx response.
	ErrStatus = errors.New("retrieval: unexpected status")
)

// DefaultMaxConcurrent is the cap the upstream tolerates before it starts
// dropping connections.
const DefaultMaxConcurrent = 2

// Endpoint describes the remote report resource.
type Endpoint struct {
	BaseURL      string
	Path         string
	DocumentType string
	Scope        string
}

// URL builds the request URL for one month.
func (e Endpoint) URL(month int) (string, error) {
	base, err := url.Parse(strings.TrimRight(e.BaseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", e.BaseURL, err)
	}
	u := base.JoinPath(e.Path)
	q := u.Query()
	q.Set("tipe", e.DocumentType)
	q.Set("skpd", e.Scope)
	q.Set("bulan", strconv.Itoa(month))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Client fetches report pages.
type Client struct {
	endpoint   Endpoint
	creds      CredentialSource
	httpClient *http.Client
	limit      int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMaxConcurrent sets the in-flight request cap.
func WithMaxConcurrent(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.limit = n
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// NewClient creates a Client. A nil creds sends every request unauthenticated.
func NewClient(ep Endpoint, creds CredentialSource, opts ...Option) *Client {
	c := &Client{
		endpoint:   ep,
		creds:      creds,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		limit:      DefaultMaxConcurrent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the client's endpoint.
func (c *Client) Endpoint() Endpoint { return c.endpoint }

// Result is the outcome of one FetchRange run.
type Result struct {
	RunID string
	From  int
	To    int
	// Pages holds one page per month; Pages[i] is month From+i.
	Pages   [][]record.RawRecord
	Records []record.RawRecord
	Elapsed time.Duration
}

// Month returns the page for month m, or nil when outside the range.
func (r *Result) Month(m int) []record.RawRecord {
	if r == nil || m < r.From || m > r.To {
		return nil
	}
	return r.Pages[m-r.From]
}

// ValidateRange checks a 1-based inclusive month range.
func ValidateRange(from, to int) error {
	if from < 1 || to > 12 || from > to {
		return fmt.Errorf("%w: %d..%d", ErrInvalidRange, from, to)
	}
	return nil
}

// FetchRange fetches every month in from..to under the concurrency cap and
// flattens the pages in month order.
func (c *Client) FetchRange(ctx context.Context, from, to int) (*Result, error) {
	if err := ValidateRange(from, to); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	start := time.Now()

	tasks := make([]Task[[]record.RawRecord], 0, to-from+1)
	for m := from; m <= to; m++ {
		tasks = append(tasks, func(ctx context.Context) ([]record.RawRecord, error) {
			return c.FetchMonth(ctx, m)
		})
	}

	logging.Retrieval("Run %s: fetching months %d..%d (limit %d)", runID, from, to, c.limit)
	pages, err := ThrottleAll(ctx, tasks, c.limit)
	elapsed := time.Since(start)
	if err != nil {
		logging.RetrievalError("Run %s failed after %v: %v", runID, elapsed, err)
		logging.Audit().FetchRun(runID, len(tasks), 0, elapsed, err)
		return nil, err
	}

	res := &Result{
		RunID:   runID,
		From:    from,
		To:      to,
		Pages:   pages,
		Records: Flatten(pages),
		Elapsed: elapsed,
	}
	logging.Retrieval("Run %s: %d records in %v", runID, len(res.Records), elapsed)
	logging.Audit().FetchRun(runID, len(tasks), len(res.Records), elapsed, nil)
	return res, nil
}

// FetchMonth fetches and normalizes a single month.
func (c *Client) FetchMonth(ctx context.Context, month int) ([]record.RawRecord, error) {
	target, err := c.endpoint.URL(month)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("month %d: %w", month, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	token := ""
	if c.creds != nil {
		token, err = c.creds.Token(ctx)
		if err != nil {
			logging.RetrievalWarn("month %d: credential lookup failed: %v", month, err)
			token = ""
		}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else {
		logging.RetrievalWarn("month %d: no credential, sending unauthenticated", month)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("month %d: %w", month, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("month %d: %w %d: %s", month, ErrStatus, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	recs, err := Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("month %d: %w", month, err)
	}
	logging.RetrievalDebug("month %d: %d records in %v", month, len(recs), time.Since(start))
	return recs, nil
}
