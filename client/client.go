// Package client is a thin request/response wrapper over the extraction
// backend's REST contract. It feeds initial and on-demand state into the
// job store; it never caches job records itself.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/Denter-/extraction-monitor/jobs"
)

// Client issues list/get/create/download calls against the backend. Safe
// for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	bearer  string
	httpc   *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey authenticates every request with an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithBearerToken authenticates every request with a bearer token.
func WithBearerToken(token string) Option {
	return func(c *Client) { c.bearer = token }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for the given backend base URL, e.g.
// "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Credential returns the configured token for channels that authenticate
// out of band (the WebSocket upgrade takes it as a query parameter).
func (c *Client) Credential() string {
	if c.bearer != "" {
		return c.bearer
	}
	return c.apiKey
}

type extractRequest struct {
	URL string `json:"url"`
}

type extractResponse struct {
	Job     jobs.Job `json:"job"`
	Message string   `json:"message"`
}

type jobsResponse struct {
	Jobs  []jobs.Job `json:"jobs"`
	Count int        `json:"count"`
}

type jobResponse struct {
	Job jobs.Job `json:"job"`
}

// Create submits a URL for extraction. The returned job starts in queued
// state.
func (c *Client) Create(ctx context.Context, articleURL string) (jobs.Job, error) {
	var resp extractResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/extract/single", extractRequest{URL: articleURL}, &resp)
	if err != nil {
		return jobs.Job{}, fmt.Errorf("create job: %w", err)
	}
	c.logger.Info("extraction job created", "job_id", resp.Job.ID, "url", articleURL)
	return resp.Job, nil
}

// List fetches a page of the caller's jobs, newest first. Returns the jobs
// and the backend's total count.
func (c *Client) List(ctx context.Context, limit, offset int) ([]jobs.Job, int, error) {
	path := "/api/v1/jobs?limit=" + strconv.Itoa(limit) + "&offset=" + strconv.Itoa(offset)
	var resp jobsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	return resp.Jobs, resp.Count, nil
}

// Get fetches the current snapshot of one job.
func (c *Client) Get(ctx context.Context, id string) (jobs.Job, error) {
	var resp jobResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id), nil, &resp); err != nil {
		return jobs.Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return resp.Job, nil
}

// DownloadResult fetches the extraction output (raw markdown) stored at
// result_path.
func (c *Client) DownloadResult(ctx context.Context, resultPath string) (string, error) {
	body, err := c.fetchRaw(ctx, "/storage/"+url.PathEscape(resultPath))
	if err != nil {
		return "", fmt.Errorf("download result %s: %w", resultPath, err)
	}
	return body, nil
}

// FetchBaseline fetches a legacy-pipeline baseline document by filename.
// Missing baselines surface as ErrNotFound, never as empty content.
func (c *Client) FetchBaseline(ctx context.Context, filename string) (string, error) {
	body, err := c.fetchRaw(ctx, "/results/"+url.PathEscape(filename))
	if err != nil {
		return "", fmt.Errorf("fetch baseline %s: %w", filename, err)
	}
	return body, nil
}

// do runs one JSON request/response exchange.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("backend request",
		"method", method, "path", path,
		"status", resp.StatusCode, "duration", time.Since(start))

	if err := statusError(resp); err != nil {
		return err
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body) // drain
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// fetchRaw GETs a document body as text.
func (c *Client) fetchRaw(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return "", err
	}
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(buf), nil
}

func (c *Client) authorize(req *http.Request) {
	switch {
	case c.bearer != "":
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	case c.apiKey != "":
		req.Header.Set("X-API-Key", c.apiKey)
	}
}

var nonFilename = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// DownloadFilename derives the client-side download name from a job title:
// non-alphanumeric runs collapse to underscores, suffixed ".md".
func DownloadFilename(title string) string {
	name := strings.Trim(nonFilename.ReplaceAllString(title, "_"), "_")
	if name == "" {
		name = "article"
	}
	return name + ".md"
}

// DeriveDomain extracts the registrable domain (eTLD+1) from a raw URL,
// falling back to the bare hostname when the public suffix list cannot
// classify it (IPs, localhost, internal names).
func DeriveDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	if host == "" {
		return ""
	}
	if net.ParseIP(host) != nil {
		return host
	}
	if domain, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return domain
	}
	return host
}
