// Package redmine implements tracker.Gateway over the Redmine REST API.
package redmine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/huangang/trackmirror/internal/tracker"
	"golang.org/x/time/rate"
)

const (
	DriverName = "redmine"

	defaultPageSize = 100
	apiKeyHeader    = "X-Redmine-API-Key"
	filterLayout    = "2006-01-02T15:04:05Z"
)

// Client talks to one Redmine server with one API key.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit paces outgoing requests.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

func New(baseURI, apiKey string, opts ...Option) *Client {
	if !strings.HasSuffix(baseURI, "/") {
		baseURI += "/"
	}
	c := &Client{
		baseURL:    baseURI,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(10), 20),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect satisfies the tracker.Registry signature.
func Connect(ep tracker.Endpoint) (tracker.Gateway, error) {
	if ep.BaseURI == "" {
		return nil, fmt.Errorf("redmine: empty base uri")
	}
	return New(ep.BaseURI, ep.APIKey), nil
}

type issueEnvelope struct {
	Issue tracker.Issue `json:"issue"`
}

type userEnvelope struct {
	User tracker.User `json:"user"`
}

type writeEnvelope struct {
	Issue interface{} `json:"issue"`
}

func (c *Client) ListIssues(ctx context.Context, filter tracker.IssueFilter) (*tracker.IssuePage, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}

	q := url.Values{}
	q.Set("project_id", strconv.Itoa(filter.ProjectID))
	q.Set("status_id", "*")
	q.Set("sort", "id")
	q.Set("offset", strconv.Itoa(filter.Offset))
	q.Set("limit", strconv.Itoa(limit))
	if filter.UpdatedSince != nil {
		q.Set("updated_on", ">="+filter.UpdatedSince.UTC().Format(filterLayout))
	}
	if filter.CreatedSince != nil {
		q.Set("created_on", ">="+filter.CreatedSince.UTC().Format(filterLayout))
	}

	var page tracker.IssuePage
	if err := c.doJSON(ctx, http.MethodGet, "issues.json", q, nil, &page); err != nil {
		return nil, err
	}
	if page.Limit == 0 {
		page.Limit = limit
	}
	return &page, nil
}

func (c *Client) GetIssue(ctx context.Context, id int, include ...string) (*tracker.Issue, error) {
	q := url.Values{}
	if len(include) > 0 {
		q.Set("include", strings.Join(include, ","))
	}

	var env issueEnvelope
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("issues/%d.json", id), q, nil, &env); err != nil {
		return nil, err
	}
	return &env.Issue, nil
}

func (c *Client) CreateIssue(ctx context.Context, attrs *tracker.IssueAttributes) (*tracker.Issue, error) {
	var env issueEnvelope
	if err := c.doJSON(ctx, http.MethodPost, "issues.json", nil, writeEnvelope{Issue: attrs}, &env); err != nil {
		return nil, err
	}
	return &env.Issue, nil
}

func (c *Client) UpdateIssue(ctx context.Context, id int, attrs *tracker.IssueAttributes) error {
	return c.doJSON(ctx, http.MethodPut, fmt.Sprintf("issues/%d.json", id), nil, writeEnvelope{Issue: attrs}, nil)
}

func (c *Client) AddNote(ctx context.Context, issueID int, notes string) error {
	body := writeEnvelope{Issue: map[string]string{"notes": notes}}
	return c.doJSON(ctx, http.MethodPut, fmt.Sprintf("issues/%d.json", issueID), nil, body, nil)
}

func (c *Client) Attach(ctx context.Context, issueID int, uploads ...tracker.Upload) error {
	body := writeEnvelope{Issue: map[string][]tracker.Upload{"uploads": uploads}}
	return c.doJSON(ctx, http.MethodPut, fmt.Sprintf("issues/%d.json", issueID), nil, body, nil)
}

func (c *Client) GetUser(ctx context.Context, id int) (*tracker.User, error) {
	var env userEnvelope
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("users/%d.json", id), nil, nil, &env); err != nil {
		return nil, err
	}
	return &env.User, nil
}

func (c *Client) CurrentUser(ctx context.Context) (*tracker.User, error) {
	var env userEnvelope
	if err := c.doJSON(ctx, http.MethodGet, "users/current.json", nil, nil, &env); err != nil {
		return nil, err
	}
	return &env.User, nil
}

func (c *Client) Download(ctx context.Context, attachment *tracker.Attachment) ([]byte, error) {
	target := attachment.ContentURL
	if target == "" {
		target = c.baseURL + fmt.Sprintf("attachments/download/%d", attachment.ID)
	}

	resp, err := c.send(ctx, http.MethodGet, target, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) Upload(ctx context.Context, data []byte) (string, error) {
	resp, err := c.send(ctx, http.MethodPost, c.baseURL+"uploads.json", bytes.NewReader(data), "application/octet-stream")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var env struct {
		Upload struct {
			ID    int    `json:"id"`
			Token string `json:"token"`
		} `json:"upload"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", fmt.Errorf("redmine: decode upload: %w", err)
	}
	if env.Upload.Token == "" {
		return "", fmt.Errorf("redmine: upload returned no token")
	}
	return env.Upload.Token, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	contentType := ""
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}

	resp, err := c.send(ctx, method, target, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("redmine: decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, target string, body io.Reader, contentType string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	return c.httpClient.Do(req)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &tracker.AccessError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	case http.StatusNotFound:
		return tracker.ErrNotFound
	}

	apiErr := &tracker.APIError{Status: resp.StatusCode}
	var env struct {
		Errors []string `json:"errors"`
	}
	if json.Unmarshal(raw, &env) == nil && len(env.Errors) > 0 {
		apiErr.Errors = env.Errors
	} else if len(raw) > 0 {
		apiErr.Errors = []string{strings.TrimSpace(string(raw))}
	}
	return apiErr
}
