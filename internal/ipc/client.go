package ipc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ivg/internal/api"
	"ivg/internal/jobs"
	"ivg/internal/store"
)

// APIError is a non-2xx reply from the daemon.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("daemon returned %d (%s): %s", e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.StatusCode, e.Message)
}

// Options configures a Client.
type Options struct {
	Token string
	Owner string
	// HTTPClient defaults to a client without an overall timeout so job
	// streams can stay open.
	HTTPClient *http.Client
}

// Client calls the daemon HTTP API.
type Client struct {
	base  *url.URL
	token string
	owner string
	http  *http.Client
}

// New returns a client for the daemon listening at baseURL. A bare host:port
// is accepted.
func New(baseURL string, opts Options) (*Client, error) {
	raw := strings.TrimSpace(baseURL)
	if raw == "" {
		return nil, errors.New("daemon address is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse daemon address: %w", err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		base:  base,
		token: strings.TrimSpace(opts.Token),
		owner: strings.TrimSpace(opts.Owner),
		http:  httpClient,
	}, nil
}

// Dial returns a client after confirming the daemon answers /api/health.
func Dial(ctx context.Context, baseURL string, opts Options) (*Client, error) {
	client, err := New(baseURL, opts)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := client.Health(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// Health calls GET /api/health.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.getJSON(ctx, "/api/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status calls GET /api/status.
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var resp api.StatusResponse
	if err := c.getJSON(ctx, "/api/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Upload sends an image as a multipart upload.
func (c *Client) Upload(ctx context.Context, filename string, data []byte) (*api.UploadResponse, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/assets", nil, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	var resp api.UploadResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Asset downloads an asset's bytes and content type.
func (c *Client) Asset(ctx context.Context, id string) ([]byte, string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/assets/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return nil, "", err
	}
	res, err := c.send(req)
	if err != nil {
		return nil, "", err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, "", err
	}
	return data, res.Header.Get("Content-Type"), nil
}

// Submit calls POST /api/jobs.
func (c *Client) Submit(ctx context.Context, payload api.SubmitRequest) (*jobs.Snapshot, error) {
	var resp jobs.Snapshot
	if err := c.postJSON(ctx, "/api/jobs", payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Job calls GET /api/jobs/{id}.
func (c *Client) Job(ctx context.Context, id string) (*jobs.Snapshot, error) {
	var resp jobs.Snapshot
	if err := c.getJSON(ctx, "/api/jobs/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StreamJob follows GET /api/jobs/{id}/stream and calls fn for every
// snapshot. It returns the last snapshot seen once the stream closes.
func (c *Client) StreamJob(ctx context.Context, id string, fn func(jobs.Snapshot)) (*jobs.Snapshot, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id)+"/stream", nil, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	res, err := c.send(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var last *jobs.Snapshot
	err = ReadEvents(res.Body, func(data []byte) error {
		var snap jobs.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return fmt.Errorf("decode job event: %w", err)
		}
		last = &snap
		if fn != nil {
			fn(snap)
		}
		return nil
	})
	if err != nil {
		return last, err
	}
	if last == nil {
		return nil, errors.New("job stream closed without events")
	}
	return last, nil
}

// ReadEvents reads server-sent events from r and calls fn with each event's
// data payload.
func ReadEvents(r io.Reader, fn func(data []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				if err := fn(bytes.Clone(data.Bytes())); err != nil {
					return err
				}
				data.Reset()
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if data.Len() > 0 {
		return fn(data.Bytes())
	}
	return nil
}

// Styles calls GET /api/styles.
func (c *Client) Styles(ctx context.Context) ([]store.Style, error) {
	var resp api.StyleListResponse
	if err := c.getJSON(ctx, "/api/styles", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Styles, nil
}

// CreateStyle calls POST /api/styles.
func (c *Client) CreateStyle(ctx context.Context, payload api.StyleCreateRequest) (*store.Style, error) {
	var resp store.Style
	if err := c.postJSON(ctx, "/api/styles", payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History calls GET /api/history.
func (c *Client) History(ctx context.Context, limit int) ([]store.HistoryEntry, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var resp api.HistoryResponse
	if err := c.getJSON(ctx, "/api/history", query, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// LogQuery selects daemon log events.
type LogQuery struct {
	Since     uint64
	Limit     int
	Follow    bool
	Tail      bool
	Component string
	JobID     string
}

// Logs calls GET /api/logs.
func (c *Client) Logs(ctx context.Context, q LogQuery) (*api.LogStreamResponse, error) {
	query := url.Values{}
	if q.Since > 0 {
		query.Set("since", strconv.FormatUint(q.Since, 10))
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Follow {
		query.Set("follow", "1")
	}
	if q.Tail {
		query.Set("tail", "1")
	}
	if q.Component != "" {
		query.Set("component", q.Component)
	}
	if q.JobID != "" {
		query.Set("job", q.JobID)
	}
	var resp api.LogStreamResponse
	if err := c.getJSON(ctx, "/api/logs", query, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	target := c.base.JoinPath(path)
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.owner != "" {
		req.Header.Set(api.OwnerHeader, c.owner)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	res, err := c.send(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

// send performs req and converts non-2xx replies into *APIError. The caller
// closes the body of a successful response.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	res, err := c.http.Do(req)
	if err != nil {
		return nil, wrapDialError(err, c.base.Host)
	}
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return res, nil
	}
	defer res.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 64*1024))
	apiErr := &APIError{StatusCode: res.StatusCode, Message: strings.TrimSpace(string(raw))}
	var body api.ErrorResponse
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Kind = body.Kind
	}
	return nil, apiErr
}

func wrapDialError(err error, host string) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("connect to daemon at %s: %w; start it with `ivg daemon run`", host, err)
	}
	return err
}
