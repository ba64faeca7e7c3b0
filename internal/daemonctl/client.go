package daemonctl

import (
	"bytes"
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

	"gleaner/internal/config"
	"gleaner/internal/daemon"
)

// ErrDaemonNotRunning indicates the daemon API is unreachable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// ErrAPIDisabled indicates api.bind is empty so no daemon can be reached.
var ErrAPIDisabled = errors.New("daemon api disabled (set api.bind)")

// APIError is a non-2xx response from the daemon.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon api: http %d", e.Status)
	}
	return fmt.Sprintf("daemon api: %s (http %d)", e.Message, e.Status)
}

// Client talks to a running daemon over its HTTP API.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient builds a client for the daemon configured in cfg.
func NewClient(cfg *config.Config) (*Client, error) {
	bind := strings.TrimSpace(cfg.API.Bind)
	if bind == "" {
		return nil, ErrAPIDisabled
	}
	host, port, err := net.SplitHostPort(bind)
	if err != nil {
		return nil, fmt.Errorf("parse api.bind %q: %w", bind, err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return &Client{
		base:  "http://" + net.JoinHostPort(host, port),
		token: strings.TrimSpace(cfg.API.Token),
		http:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Status returns daemon status.
func (c *Client) Status(ctx context.Context) (*daemon.StatusResponse, error) {
	var resp daemon.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Submit queues a run for an interview.
func (c *Client) Submit(ctx context.Context, req daemon.SubmitRequest) (*daemon.SubmitResponse, error) {
	if strings.TrimSpace(req.InterviewID) == "" {
		return nil, errors.New("interview id is required")
	}
	var resp daemon.SubmitResponse
	path := "/api/interviews/" + url.PathEscape(req.InterviewID) + "/run"
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Jobs lists recent jobs, optionally for one interview.
func (c *Client) Jobs(ctx context.Context, interviewID string, limit int) ([]daemon.Job, error) {
	q := url.Values{}
	if interviewID != "" {
		q.Set("interview", interviewID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp struct {
		Jobs []daemon.Job `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Retry requeues failed jobs. No ids retries every failed job.
func (c *Client) Retry(ctx context.Context, ids ...string) (int64, error) {
	var resp struct {
		Retried int64 `json:"retried"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/jobs/retry", daemon.RetryRequest{IDs: ids}, &resp); err != nil {
		return 0, err
	}
	return resp.Retried, nil
}

// Sweep triggers the deferred-batch sweep immediately.
func (c *Client) Sweep(ctx context.Context) (*daemon.SweepResponse, error) {
	var resp daemon.SweepResponse
	if err := c.do(ctx, http.MethodPost, "/api/sweep", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// NotifyTest asks the daemon to send a test notification.
func (c *Client) NotifyTest(ctx context.Context) (*daemon.NotifyResponse, error) {
	var resp daemon.NotifyResponse
	if err := c.do(ctx, http.MethodPost, "/api/notify/test", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogQuery selects log stream events.
type LogQuery struct {
	Since     uint64
	Limit     int
	Follow    bool
	Tail      bool
	Interview string
	Component string
}

// followWait bounds one long-poll so it ends before the client timeout.
const followWait = 20 * time.Second

// Logs fetches one page of the daemon log stream. A follow poll that sees no
// events before followWait returns an empty page.
func (c *Client) Logs(ctx context.Context, q LogQuery) (*daemon.LogsResponse, error) {
	parent := ctx
	if q.Follow {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, followWait)
		defer cancel()
	}
	values := url.Values{}
	if q.Since > 0 {
		values.Set("since", strconv.FormatUint(q.Since, 10))
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Follow {
		values.Set("follow", "1")
	}
	if q.Tail {
		values.Set("tail", "1")
	}
	if q.Interview != "" {
		values.Set("interview", q.Interview)
	}
	if q.Component != "" {
		values.Set("component", q.Component)
	}
	path := "/api/logs"
	if len(values) > 0 {
		path += "?" + values.Encode()
	}
	var resp daemon.LogsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		if q.Follow && parent.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return &daemon.LogsResponse{Next: q.Since}, nil
		}
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if isUnavailable(err) {
			return ErrDaemonNotRunning
		}
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&payload)
		return &APIError{Status: resp.StatusCode, Message: payload.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func isUnavailable(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
