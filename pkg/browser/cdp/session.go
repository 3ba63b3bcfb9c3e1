package cdp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/rpcc"

	"github.com/pardeema/bot-attack-simulator/pkg/browser"
	"github.com/pardeema/bot-attack-simulator/pkg/logging"
)

// bodySnippetLimit caps how much response body is retained per exchange.
const bodySnippetLimit = 150

type waiter struct {
	match browser.Predicate
	ch    chan *browser.Exchange
}

type session struct {
	id     string
	devt   *devtool.DevTools
	target *devtool.Target
	conn   *rpcc.Conn
	client *cdp.Client
	ctx    context.Context
	cancel context.CancelFunc
	log    *logging.Logger

	capture browser.Predicate

	mu       sync.Mutex
	pending  map[network.RequestID]*browser.Exchange
	complete []*browser.Exchange
	waiters  []*waiter

	closeOnce sync.Once
	closeErr  error
}

// Navigate loads the url and blocks until the page's load event fires.
func (s *session) Navigate(ctx context.Context, url string) error {
	loadFired, err := s.client.Page.LoadEventFired(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to load event: %w", err)
	}
	defer loadFired.Close()

	if _, err := s.client.Page.Navigate(ctx, page.NewNavigateArgs(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if _, err := loadFired.Recv(); err != nil {
		return fmt.Errorf("failed waiting for page load: %w", err)
	}
	return nil
}

// Fill sets the value of the element matching selector and fires the input
// events a real user would produce.
func (s *session) Fill(ctx context.Context, selector, value string) error {
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) throw new Error("no element matches " + %s);
		el.focus();
		el.value = %s;
		el.dispatchEvent(new Event("input", { bubbles: true }));
		el.dispatchEvent(new Event("change", { bubbles: true }));
	})()`, jsString(selector), jsString(selector), jsString(value))
	return s.evaluate(ctx, expr)
}

// Click clicks the first element matching selector.
func (s *session) Click(ctx context.Context, selector string) error {
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) throw new Error("no element matches " + %s);
		el.click();
	})()`, jsString(selector), jsString(selector))
	return s.evaluate(ctx, expr)
}

func (s *session) evaluate(ctx context.Context, expr string) error {
	reply, err := s.client.Runtime.Evaluate(ctx, runtime.NewEvaluateArgs(expr))
	if err != nil {
		return fmt.Errorf("evaluate failed: %w", err)
	}
	if reply.ExceptionDetails != nil {
		return fmt.Errorf("page script error: %s", exceptionText(reply.ExceptionDetails))
	}
	return nil
}

func exceptionText(details *runtime.ExceptionDetails) string {
	if details.Exception != nil && details.Exception.Description != nil {
		return *details.Exception.Description
	}
	return details.Text
}

// evaluateBool runs expr and reports its boolean result. Errors read as
// false; during a navigation the execution context comes and goes, and
// pollers treat that as "not yet".
func (s *session) evaluateBool(ctx context.Context, expr string) bool {
	reply, err := s.client.Runtime.Evaluate(ctx, runtime.NewEvaluateArgs(expr))
	if err != nil || reply.ExceptionDetails != nil {
		return false
	}
	var result bool
	if err := json.Unmarshal(reply.Result.Value, &result); err != nil {
		return false
	}
	return result
}

const pollInterval = 100 * time.Millisecond

// poll re-checks a page condition until it holds or the timeout elapses.
func (s *session) poll(ctx context.Context, timeout time.Duration, check func() bool, what string) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if check() {
			return nil
		}
		select {
		case <-ticker.C:
		case <-deadline.C:
			return fmt.Errorf("timed out waiting for %s", what)
		case <-ctx.Done():
			return ctx.Err()
		case <-s.ctx.Done():
			return browser.ErrSessionClosed
		}
	}
}

// WaitForURL blocks until the page's location contains substr. Polling the
// condition rather than subscribing to a navigation event means a
// navigation that already finished still satisfies the wait.
func (s *session) WaitForURL(ctx context.Context, substr string, timeout time.Duration) error {
	expr := fmt.Sprintf(
		`document.readyState === "complete" && window.location.href.includes(%s)`,
		jsString(substr))
	return s.poll(ctx, timeout, func() bool {
		return s.evaluateBool(ctx, expr)
	}, fmt.Sprintf("url containing %q", substr))
}

// WaitForSelector blocks until an element matching selector exists and
// takes up layout space.
func (s *session) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		return !!(el && (el.offsetParent !== null || el.getClientRects().length > 0));
	})()`, jsString(selector))
	return s.poll(ctx, timeout, func() bool {
		return s.evaluateBool(ctx, expr)
	}, fmt.Sprintf("visible element %q", selector))
}

// WaitForExchange returns a matching exchange. Already-completed exchanges
// satisfy the wait immediately; the waiter is registered under the same
// lock as the scan so a response finishing in between cannot be lost.
func (s *session) WaitForExchange(ctx context.Context, match browser.Predicate, timeout time.Duration) (*browser.Exchange, error) {
	w := &waiter{match: match, ch: make(chan *browser.Exchange, 1)}
	s.mu.Lock()
	for _, ex := range s.complete {
		if match(ex.Request.URL, ex.Request.Method) {
			s.mu.Unlock()
			return ex, nil
		}
	}
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		for i, other := range s.waiters {
			if other == w {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ex := <-w.ch:
		return ex, nil
	case <-timer.C:
		return nil, browser.ErrExchangeTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, browser.ErrSessionClosed
	}
}

// Captured returns every completed exchange matching the predicate.
func (s *session) Captured(match browser.Predicate) []*browser.Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*browser.Exchange
	for _, ex := range s.complete {
		if match == nil || match(ex.Request.URL, ex.Request.Method) {
			out = append(out, ex)
		}
	}
	return out
}

// Close tears down the page target unconditionally. Safe to call twice.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		var errs []string
		if s.conn != nil {
			if err := s.conn.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if s.devt != nil && s.target != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.devt.Close(ctx, s.target); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if len(errs) > 0 {
			s.closeErr = fmt.Errorf("session close: %s", strings.Join(errs, "; "))
		}
		s.log.Debug(logging.CategoryBrowser, "session_closed", "", map[string]any{
			"session_id": s.id,
		})
	})
	return s.closeErr
}

// startNetworkCollector subscribes to the network event streams and keeps
// an exchange record per request ID.
func (s *session) startNetworkCollector() error {
	requests, err := s.client.Network.RequestWillBeSent(s.ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to requests: %w", err)
	}
	responses, err := s.client.Network.ResponseReceived(s.ctx)
	if err != nil {
		requests.Close()
		return fmt.Errorf("failed to subscribe to responses: %w", err)
	}
	finished, err := s.client.Network.LoadingFinished(s.ctx)
	if err != nil {
		requests.Close()
		responses.Close()
		return fmt.Errorf("failed to subscribe to loading-finished: %w", err)
	}

	go func() {
		defer requests.Close()
		for {
			ev, err := requests.Recv()
			if err != nil {
				return
			}
			s.onRequest(ev)
		}
	}()
	go func() {
		defer responses.Close()
		for {
			ev, err := responses.Recv()
			if err != nil {
				return
			}
			s.onResponse(ev)
		}
	}()
	go func() {
		defer finished.Close()
		for {
			ev, err := finished.Recv()
			if err != nil {
				return
			}
			s.onFinished(ev)
		}
	}()
	return nil
}

func (s *session) onRequest(ev *network.RequestWillBeSentReply) {
	ex := &browser.Exchange{
		Request: browser.ExchangeRequest{
			URL:     ev.Request.URL,
			Method:  ev.Request.Method,
			Headers: decodeHeaders(ev.Request.Headers),
		},
	}
	if ev.Request.PostData != nil {
		ex.Request.PostData = *ev.Request.PostData
	}
	s.mu.Lock()
	s.pending[ev.RequestID] = ex
	s.mu.Unlock()
}

func (s *session) onResponse(ev *network.ResponseReceivedReply) {
	s.mu.Lock()
	ex, ok := s.pending[ev.RequestID]
	s.mu.Unlock()
	if !ok {
		return
	}
	ex.Response = browser.ExchangeResponse{
		Status:     ev.Response.Status,
		StatusText: ev.Response.StatusText,
		Headers:    decodeHeaders(ev.Response.Headers),
	}
}

func (s *session) onFinished(ev *network.LoadingFinishedReply) {
	s.mu.Lock()
	ex, ok := s.pending[ev.RequestID]
	if ok {
		delete(s.pending, ev.RequestID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	if s.wantBody(ex) {
		ex.Response.BodySnippet = s.fetchBodySnippet(ev.RequestID)
	}
	s.deliver(ex)
}

// deliver records a completed exchange and hands it to matching waiters.
func (s *session) deliver(ex *browser.Exchange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.complete = append(s.complete, ex)
	for _, w := range s.waiters {
		if w.match(ex.Request.URL, ex.Request.Method) {
			select {
			case w.ch <- ex:
			default:
			}
		}
	}
}

// wantBody reports whether the exchange body should be fetched: either the
// capture predicate or an active waiter selects it.
func (s *session) wantBody(ex *browser.Exchange) bool {
	if s.capture != nil && s.capture(ex.Request.URL, ex.Request.Method) {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.waiters {
		if w.match(ex.Request.URL, ex.Request.Method) {
			return true
		}
	}
	return false
}

func (s *session) fetchBodySnippet(id network.RequestID) string {
	ctx, cancel := context.WithTimeout(s.ctx, 3*time.Second)
	defer cancel()
	reply, err := s.client.Network.GetResponseBody(ctx, network.NewGetResponseBodyArgs(id))
	if err != nil {
		return ""
	}
	body := reply.Body
	if reply.Base64Encoded {
		if decoded, err := base64.StdEncoding.DecodeString(reply.Body); err == nil {
			body = string(decoded)
		}
	}
	if len(body) > bodySnippetLimit {
		body = body[:bodySnippetLimit]
	}
	return body
}

func decodeHeaders(raw network.Headers) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var headers map[string]string
	if err := json.Unmarshal(raw, &headers); err != nil {
		return nil
	}
	return headers
}

// jsString encodes a Go string as a JS string literal.
func jsString(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}
