package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fwojciec/trickle"
)

// Interface compliance check.
var _ trickle.Transport = (*Client)(nil)

// Client implements [trickle.Transport] for the chat streaming endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a [Client].
type Option func(*Client)

// WithBaseURL sets the API base URL. Useful for testing with httptest.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a new [Client] with the given options.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Open posts req to the streaming endpoint and returns the response body.
// Connection failures and non-2xx statuses are reported as
// *trickle.TransportError; the body of a failed response is consumed and
// closed.
func (c *Client) Open(ctx context.Context, req trickle.Request, token string) (io.ReadCloser, error) {
	body, err := json.Marshal(apiRequest{
		Message:   req.Message,
		ThreadID:  req.ThreadID,
		SessionID: req.SessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+streamPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &trickle.TransportError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, parseHTTPError(resp)
	}

	return resp.Body, nil
}

func parseHTTPError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return &trickle.TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Detail != "" {
		return &trickle.TransportError{StatusCode: resp.StatusCode, Body: apiErr.Detail}
	}
	return &trickle.TransportError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
