// Package browser defines the automated-browser port used by the workflow
// strategy. The core depends only on this shape, not on any particular
// engine; pkg/browser/cdp provides the Chrome DevTools adapter.
package browser

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrUnavailable is returned when no browser runtime is configured.
	ErrUnavailable = errors.New("browser runtime unavailable")

	// ErrSessionClosed is returned when operating on a closed session.
	ErrSessionClosed = errors.New("browser session closed")

	// ErrExchangeTimeout is returned when no network exchange matched the
	// predicate before the deadline.
	ErrExchangeTimeout = errors.New("timed out waiting for network exchange")
)

// Config configures one isolated browsing session. Capture selects which
// network exchanges get their response bodies retained for detail lookup;
// exchanges outside it still record URL, method, status and headers.
type Config struct {
	SessionID string
	UserAgent string
	Capture   Predicate
}

// Runtime creates isolated browser sessions.
type Runtime interface {
	NewSession(ctx context.Context, cfg Config) (Session, error)
	Close() error
}

// ExchangeRequest is the request half of a captured network exchange.
type ExchangeRequest struct {
	URL      string
	Method   string
	Headers  map[string]string
	PostData string
}

// ExchangeResponse is the response half of a captured network exchange.
type ExchangeResponse struct {
	Status      int
	StatusText  string
	Headers     map[string]string
	BodySnippet string
}

// Exchange is one fully observed request/response pair.
type Exchange struct {
	Request  ExchangeRequest
	Response ExchangeResponse
}

// Predicate selects network exchanges by request URL and method.
type Predicate func(url, method string) bool

// Session drives one isolated page. Close must release all resources and
// is safe to call after an error; workflow iterations rely on that.
type Session interface {
	// Navigate loads the url and waits for the page load event.
	Navigate(ctx context.Context, url string) error

	// Fill sets the value of the element matching the CSS selector.
	Fill(ctx context.Context, selector, value string) error

	// Click clicks the first element matching the CSS selector.
	Click(ctx context.Context, selector string) error

	// WaitForURL blocks until the page's location contains substr, for
	// synchronizing on click-triggered navigations.
	WaitForURL(ctx context.Context, substr string, timeout time.Duration) error

	// WaitForSelector blocks until an element matching the CSS selector
	// exists and is visible.
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error

	// WaitForExchange returns a matching exchange. An exchange that
	// completed before the call satisfies it immediately, so arming the
	// wait after the triggering action cannot miss a fast response.
	WaitForExchange(ctx context.Context, match Predicate, timeout time.Duration) (*Exchange, error)

	// Captured returns every exchange observed so far that matches the
	// predicate, in completion order.
	Captured(match Predicate) []*Exchange

	// Close tears the session down unconditionally.
	Close() error
}

// PathPredicate matches exchanges whose request URL contains the path and
// whose method equals method (any method when method is empty).
func PathPredicate(path, method string) Predicate {
	return func(url, m string) bool {
		if method != "" && m != method {
			return false
		}
		return path != "" && strings.Contains(url, path)
	}
}
