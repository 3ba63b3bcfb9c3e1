// Package transport is the outbound HTTP capability used by the request
// strategies. Send treats every HTTP status as success and returns an
// error only for transport-level failures, so callers can record real
// 4xx/5xx responses as observed outcomes.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pardeema/bot-attack-simulator/pkg/logging"
)

// DefaultTimeout bounds a single simulated request.
const DefaultTimeout = 10 * time.Second

// Response is the captured result of one HTTP exchange.
type Response struct {
	Status     int
	StatusText string
	Headers    map[string]string
	Body       []byte
}

// Snippet returns at most n bytes of the response body as a string.
func (r *Response) Snippet(n int) string {
	if r == nil || len(r.Body) == 0 {
		return ""
	}
	body := string(r.Body)
	if len(body) > n {
		return body[:n]
	}
	return body
}

// Sender performs one HTTP exchange. Implemented by Client; faked in
// strategy tests.
type Sender interface {
	Send(ctx context.Context, method, url string, headers map[string]string, body any, timeout time.Duration) (*Response, error)
}

// Client is the production Sender backed by net/http.
type Client struct {
	httpClient *http.Client
	log        *logging.Logger
}

// NewClient builds a Client. The logger may be nil.
func NewClient(log *logging.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			// Redirects are observed, not followed: a 3xx is a result.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		log: log,
	}
}

// Send performs one request. A non-2xx status is not an error; only
// failures to complete the exchange (DNS, refused connection, timeout)
// return a non-nil error.
func (c *Client) Send(ctx context.Context, method, url string, headers map[string]string, body any, timeout time.Duration) (*Response, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn(logging.CategoryNetwork, "request_failed", err.Error(), map[string]any{
			"method": method,
			"url":    url,
		})
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.log.Debug(logging.CategoryNetwork, "request_complete", "", map[string]any{
		"method":      method,
		"url":         url,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return &Response{
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Headers:    FlattenHeaders(resp.Header),
		Body:       respBody,
	}, nil
}

// FlattenHeaders converts http.Header to a single-value map for event
// payloads, masking credentials that should never reach observers.
func FlattenHeaders(headers http.Header) map[string]string {
	result := make(map[string]string, len(headers))
	for key, values := range headers {
		lowerKey := strings.ToLower(key)
		if lowerKey == "authorization" || lowerKey == "x-api-key" {
			result[key] = "[REDACTED]"
		} else {
			result[key] = strings.Join(values, ", ")
		}
	}
	return result
}

// statusText extracts the reason phrase, falling back to the standard one.
func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprintf("%d", resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}
