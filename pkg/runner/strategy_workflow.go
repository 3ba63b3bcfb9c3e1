package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pardeema/bot-attack-simulator/pkg/browser"
	"github.com/pardeema/bot-attack-simulator/pkg/config"
	"github.com/pardeema/bot-attack-simulator/pkg/event"
	"github.com/pardeema/bot-attack-simulator/pkg/logging"
)

// Selectors for the demo shop the simulator drives.
const (
	loginPagePath        = "/login"
	emailSelector        = "#email"
	passwordSelector     = "#password"
	submitSelector       = `button[type="submit"]`
	loginAPIPath         = "/api/auth/login"
	addToCartSelector    = ".add-to-cart-btn"
	viewCartSelector     = `a[href="/cart"]`
	checkoutBtnSelector  = "#proceed-to-checkout"
	placeOrderSelector   = "#place-order"
	checkoutAPIPath      = "/api/checkout"
	exchangeWaitTimeout  = 20 * time.Second
	navigationTimeout    = 10 * time.Second
	cartSettleDelay      = 500 * time.Millisecond
	workflowDetailNotice = "Captured API exchange"
)

var checkoutFormSelectors = map[string]string{
	"name":    "#fullName",
	"email":   "#email",
	"address": "#address",
	"city":    "#city",
	"state":   "#state",
	"zipCode": "#zipCode",
}

// workflowStrategy drives a full browser workflow per iteration: navigate,
// fill forms, click through, and observe the API exchange that decides the
// outcome. Every exchange on the workflow's API path is captured with full
// network detail, not just the deciding one.
type workflowStrategy struct {
	cfg     *config.RunConfig
	plan    credentialPlan
	runtime browser.Runtime
	log     *logging.Logger
}

func (s *workflowStrategy) apiPath() string {
	if s.cfg.IsLogin() {
		return loginAPIPath
	}
	return checkoutAPIPath
}

func (s *workflowStrategy) methodLabel() string {
	if s.cfg.IsLogin() {
		return "WORKFLOW (Login)"
	}
	return "WORKFLOW (Checkout)"
}

func (s *workflowStrategy) Execute(ctx context.Context, iteration int, emit Emitter) event.Outcome {
	start := time.Now()
	outcome := event.Outcome{
		ID:        iteration,
		URL:       s.cfg.FullURL(),
		Method:    s.methodLabel(),
		Timestamp: start.UnixMilli(),
	}

	step := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		s.log.Debug(logging.CategoryIteration, "workflow_step", msg, map[string]any{"iteration": iteration})
		emit(event.Progress{ID: iteration, Message: msg})
	}

	capture := browser.PathPredicate(s.apiPath(), "POST")

	step("Launching browser...")
	sess, err := s.runtime.NewSession(ctx, browser.Config{
		SessionID: fmt.Sprintf("iter-%d", iteration),
		Capture:   capture,
	})
	if err != nil {
		outcome.Status = event.StatusError
		outcome.StatusText = "Workflow Failed"
		outcome.Error = truncateError(err)
		step("Error: %s", outcome.Error)
		return outcome
	}
	// Teardown is unconditional: errors and cancellation still close the
	// browser before this iteration's outcome is final.
	defer func() {
		step("Closing browser...")
		if err := sess.Close(); err != nil {
			s.log.Warn(logging.CategoryBrowser, "session_close_failed", err.Error(), map[string]any{
				"iteration": iteration,
			})
		}
		step("Browser closed.")
	}()

	var exchange *browser.Exchange
	var known bool
	if s.cfg.IsLogin() {
		var password string
		password, known = s.plan.passwordFor(iteration)
		exchange, err = s.runLogin(ctx, sess, password, step)
	} else {
		exchange, err = s.runCheckout(ctx, sess, iteration, step)
	}
	if err != nil {
		outcome.Status = event.StatusError
		outcome.StatusText = "Workflow Failed"
		outcome.Error = truncateError(err)
		step("Error: %s", outcome.Error)
		s.emitCapturedDetail(iteration, sess, capture, known, emit)
		return outcome
	}

	step("Processing API response...")
	outcome.Status = event.Status(exchange.Response.Status)
	outcome.StatusText = exchange.Response.StatusText
	outcome.RequestHeaders = exchange.Request.Headers
	outcome.ResponseHeaders = exchange.Response.Headers
	outcome.ResponseSnippet = exchange.Response.BodySnippet
	outcome.RequestBody = displayPostData(exchange.Request.PostData, known)

	s.emitCapturedDetail(iteration, sess, capture, known, emit)
	step("Workflow completed. Final API Status: %s", outcome.Status)
	return outcome
}

func (s *workflowStrategy) runLogin(ctx context.Context, sess browser.Session, password string, step func(string, ...any)) (*browser.Exchange, error) {
	loginURL := joinURL(s.cfg.TargetURL, loginPagePath)

	step("Navigating to %s...", loginURL)
	if err := sess.Navigate(ctx, loginURL); err != nil {
		return nil, err
	}

	step("Filling login form...")
	if err := sess.Fill(ctx, emailSelector, "user@example.com"); err != nil {
		return nil, err
	}
	if err := sess.Fill(ctx, passwordSelector, password); err != nil {
		return nil, err
	}

	step("Clicking submit...")
	if err := sess.Click(ctx, submitSelector); err != nil {
		return nil, err
	}

	step("Waiting for API response (%s)...", loginAPIPath)
	return sess.WaitForExchange(ctx, browser.PathPredicate(loginAPIPath, "POST"), exchangeWaitTimeout)
}

func (s *workflowStrategy) runCheckout(ctx context.Context, sess browser.Session, iteration int, step func(string, ...any)) (*browser.Exchange, error) {
	step("Navigating to %s...", s.cfg.TargetURL)
	if err := sess.Navigate(ctx, s.cfg.TargetURL); err != nil {
		return nil, err
	}

	step("Adding first item to cart...")
	if err := sess.Click(ctx, addToCartSelector); err != nil {
		return nil, err
	}
	// Give the cart state a moment to settle before navigating away.
	select {
	case <-time.After(cartSettleDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	step("Navigating to cart...")
	if err := sess.Click(ctx, viewCartSelector); err != nil {
		return nil, err
	}
	if err := sess.WaitForURL(ctx, "/cart", navigationTimeout); err != nil {
		return nil, err
	}

	step("Proceeding to checkout...")
	if err := sess.Click(ctx, checkoutBtnSelector); err != nil {
		return nil, err
	}
	if err := sess.WaitForURL(ctx, "/checkout", navigationTimeout); err != nil {
		return nil, err
	}

	step("Filling checkout form...")
	if err := sess.WaitForSelector(ctx, checkoutFormSelectors["name"], navigationTimeout); err != nil {
		return nil, err
	}
	fields := map[string]string{
		checkoutFormSelectors["name"]:    fmt.Sprintf("Bot User %d", iteration),
		checkoutFormSelectors["email"]:   fmt.Sprintf("bot%d@test.com", iteration),
		checkoutFormSelectors["address"]: fmt.Sprintf("%d Automation Lane", iteration),
		checkoutFormSelectors["city"]:    "BotCity",
		checkoutFormSelectors["state"]:   "BT",
		checkoutFormSelectors["zipCode"]: "98765",
	}
	for selector, value := range fields {
		if err := sess.Fill(ctx, selector, value); err != nil {
			return nil, err
		}
	}

	step("Placing order...")
	if err := sess.Click(ctx, placeOrderSelector); err != nil {
		return nil, err
	}

	step("Waiting for API response (%s)...", checkoutAPIPath)
	return sess.WaitForExchange(ctx, browser.PathPredicate(checkoutAPIPath, "POST"), exchangeWaitTimeout)
}

// emitCapturedDetail publishes one detail-carrying step per captured API
// exchange so observers can inspect every matching request, not just the
// one that decided the outcome.
func (s *workflowStrategy) emitCapturedDetail(iteration int, sess browser.Session, capture browser.Predicate, known bool, emit Emitter) {
	for _, ex := range sess.Captured(capture) {
		emit(event.Progress{
			ID:      iteration,
			Message: fmt.Sprintf("%s: %s %s -> %d", workflowDetailNotice, ex.Request.Method, ex.Request.URL, ex.Response.Status),
			Details: &event.NetworkDetail{
				URL:                ex.Request.URL,
				Method:             ex.Request.Method,
				RequestHeaders:     ex.Request.Headers,
				RequestBody:        displayPostData(ex.Request.PostData, known),
				ResponseStatus:     event.Status(ex.Response.Status),
				ResponseStatusText: ex.Response.StatusText,
				ResponseHeaders:    ex.Response.Headers,
				ResponseSnippet:    ex.Response.BodySnippet,
			},
		})
	}
}

// displayPostData decodes a captured POST body for display, masking the
// known credential when this iteration carried it. Non-JSON bodies pass
// through as raw strings.
func displayPostData(postData string, known bool) any {
	if postData == "" {
		return nil
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(postData), &body); err != nil {
		return postData
	}
	return displayBody(body, known)
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
