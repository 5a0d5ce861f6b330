// Package client is a typed HTTP client for the deployment-failure intake API,
// used by remediation workers and operator tooling.
package client

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
)

const defaultBaseURL = "http://localhost:4100"

// Client provides typed access to the intake API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = defaultBaseURL
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// Failure mirrors a stored failure record.
type Failure struct {
	ID            string      `json:"id"`
	Timestamp     time.Time   `json:"timestamp"`
	ProjectName   string      `json:"projectName"`
	DeploymentID  string      `json:"deploymentId"`
	DeploymentURL string      `json:"deploymentUrl,omitempty"`
	Source        string      `json:"source,omitempty"`
	ErrorType     string      `json:"errorType"`
	ErrorMessage  string      `json:"errorMessage"`
	ErrorDetails  Details     `json:"errorDetails"`
	BuildLogs     []string    `json:"buildLogs"`
	GitCommit     string      `json:"gitCommit,omitempty"`
	GitBranch     string      `json:"gitBranch,omitempty"`
	Status        string      `json:"status"`
	Attempts      int         `json:"attempts"`
	LastAttemptAt *time.Time  `json:"lastAttemptAt,omitempty"`
	Resolution    *Resolution `json:"resolution,omitempty"`
}

// Details holds fields extracted from build logs.
type Details struct {
	Files         []string `json:"files"`
	LineNumbers   []int    `json:"lineNumbers"`
	ErrorMessages []string `json:"errorMessages"`
}

// Resolution describes the outcome of a remediation cycle.
type Resolution struct {
	Description string `json:"description"`
	CommitSHA   string `json:"commitSha,omitempty"`
	Success     bool   `json:"success"`
}

// Transition is one entry of a record's status history.
type Transition struct {
	ID        string    `json:"id"`
	ErrorID   string    `json:"errorId"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Attempt   int       `json:"attempt"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListResponse is returned by ListFailures.
type ListResponse struct {
	Errors []Failure `json:"errors"`
	Count  int       `json:"count"`
	Status string    `json:"status"`
}

// FailureDetail is returned by GetFailure.
type FailureDetail struct {
	Failure Failure      `json:"error"`
	History []Transition `json:"history"`
}

// TransitionInput requests a status change.
type TransitionInput struct {
	Status     string      `json:"status"`
	Resolution *Resolution `json:"resolution,omitempty"`
	Note       string      `json:"note,omitempty"`
}

// SubmitResponse is returned when a webhook payload is accepted.
type SubmitResponse struct {
	Success bool   `json:"success"`
	ErrorID string `json:"errorId"`
	Message string `json:"message"`
}

// SubmitFailure posts a raw webhook body. signature is sent as
// X-Webhook-Signature when non-empty.
func (c *Client) SubmitFailure(ctx context.Context, body []byte, signature, token string) (SubmitResponse, error) {
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	if strings.TrimSpace(signature) != "" {
		headers.Set("X-Webhook-Signature", strings.TrimSpace(signature))
	}
	var resp SubmitResponse
	err := c.send(ctx, http.MethodPost, "/api/deployment-failures", bytes.NewReader(body), headers, token, &resp)
	return resp, err
}

// ListFailures lists records in status. Empty status and zero limit use the
// server defaults.
func (c *Client) ListFailures(ctx context.Context, token, status string, limit int) (ListResponse, error) {
	query := url.Values{}
	if strings.TrimSpace(status) != "" {
		query.Set("status", strings.TrimSpace(status))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/deployment-failures"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var resp ListResponse
	err := c.do(ctx, http.MethodGet, path, nil, token, &resp)
	return resp, err
}

// GetFailure loads one record with its history.
func (c *Client) GetFailure(ctx context.Context, token, id string) (FailureDetail, error) {
	var resp FailureDetail
	err := c.do(ctx, http.MethodGet, "/api/deployment-failures/"+url.PathEscape(id), nil, token, &resp)
	return resp, err
}

// Transition moves a record to another status.
func (c *Client) Transition(ctx context.Context, token, id string, input TransitionInput) (Failure, error) {
	var resp struct {
		Record Failure `json:"record"`
	}
	path := "/api/deployment-failures/" + url.PathEscape(id) + "/transition"
	if err := c.do(ctx, http.MethodPost, path, input, token, &resp); err != nil {
		return Failure{}, err
	}
	return resp.Record, nil
}

// Claim moves a record into analyzing, starting a new remediation attempt.
func (c *Client) Claim(ctx context.Context, token, id string) (Failure, error) {
	return c.Transition(ctx, token, id, TransitionInput{Status: "analyzing"})
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	var reader io.Reader
	headers := http.Header{}
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
		headers.Set("Content-Type", "application/json")
	}
	return c.send(ctx, method, path, reader, headers, token, v)
}

func (c *Client) send(ctx context.Context, method, path string, body io.Reader, headers http.Header, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
		return apiErr
	}

	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}
