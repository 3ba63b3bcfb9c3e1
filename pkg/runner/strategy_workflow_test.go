package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pardeema/bot-attack-simulator/pkg/browser"
	"github.com/pardeema/bot-attack-simulator/pkg/config"
	"github.com/pardeema/bot-attack-simulator/pkg/event"
	"github.com/pardeema/bot-attack-simulator/pkg/secrets"
)

// fakeSession scripts a browser session: actions are recorded, and the
// deciding exchange (or a scripted failure) is returned on demand.
type fakeSession struct {
	actions  []string
	exchange *browser.Exchange
	captured []*browser.Exchange
	failOn   string
	closed   bool
}

func (s *fakeSession) record(action string) error {
	s.actions = append(s.actions, action)
	if s.failOn == action {
		return errors.New(action + " failed")
	}
	return nil
}

func (s *fakeSession) Navigate(ctx context.Context, url string) error {
	return s.record("navigate " + url)
}

func (s *fakeSession) Fill(ctx context.Context, selector, value string) error {
	return s.record("fill " + selector)
}

func (s *fakeSession) Click(ctx context.Context, selector string) error {
	return s.record("click " + selector)
}

func (s *fakeSession) WaitForURL(ctx context.Context, substr string, timeout time.Duration) error {
	return s.record("waiturl " + substr)
}

func (s *fakeSession) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	return s.record("waitsel " + selector)
}

func (s *fakeSession) WaitForExchange(ctx context.Context, match browser.Predicate, timeout time.Duration) (*browser.Exchange, error) {
	if err := s.record("wait"); err != nil {
		return nil, err
	}
	if s.exchange == nil {
		return nil, browser.ErrExchangeTimeout
	}
	return s.exchange, nil
}

func (s *fakeSession) Captured(match browser.Predicate) []*browser.Exchange {
	var out []*browser.Exchange
	for _, ex := range s.captured {
		if match(ex.Request.URL, ex.Request.Method) {
			out = append(out, ex)
		}
	}
	return out
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type fakeRuntime struct {
	session    *fakeSession
	newErr     error
	sessionCfg browser.Config
}

func (r *fakeRuntime) NewSession(ctx context.Context, cfg browser.Config) (browser.Session, error) {
	r.sessionCfg = cfg
	if r.newErr != nil {
		return nil, r.newErr
	}
	return r.session, nil
}

func (r *fakeRuntime) Close() error { return nil }

func loginExchange(status int) *browser.Exchange {
	return &browser.Exchange{
		Request: browser.ExchangeRequest{
			URL:      "http://localhost:3000/api/auth/login",
			Method:   "POST",
			Headers:  map[string]string{"content-type": "application/json"},
			PostData: `{"email":"user@example.com","password":"` + secrets.KnownPassword + `"}`,
		},
		Response: browser.ExchangeResponse{
			Status:      status,
			StatusText:  "Unauthorized",
			Headers:     map[string]string{"content-type": "application/json"},
			BodySnippet: `{"error":"Invalid credentials"}`,
		},
	}
}

func workflowExecutor(t *testing.T, cfg *config.RunConfig, rt browser.Runtime) Executor {
	t.Helper()
	cfg.Strategy = config.StrategyWorkflow
	exec, err := NewExecutor(cfg, Deps{Browser: rt, Log: testLogger()})
	require.NoError(t, err)
	return exec
}

func TestWorkflowLoginSuccess(t *testing.T) {
	ex := loginExchange(401)
	sess := &fakeSession{exchange: ex, captured: []*browser.Exchange{ex}}
	rt := &fakeRuntime{session: sess}
	exec := workflowExecutor(t, loginConfig(1), rt)

	emit, progress := collectProgress(t)
	outcome := exec.Execute(context.Background(), 1, emit)

	assert.Equal(t, event.Status(401), outcome.Status)
	assert.Equal(t, "Unauthorized", outcome.StatusText)
	assert.Equal(t, "WORKFLOW (Login)", outcome.Method)
	assert.Equal(t, `{"error":"Invalid credentials"}`, outcome.ResponseSnippet)
	assert.True(t, sess.closed)

	// The scripted steps happen in order.
	require.GreaterOrEqual(t, len(sess.actions), 5)
	assert.Equal(t, "navigate http://localhost:3000/login", sess.actions[0])
	assert.Equal(t, "fill #email", sess.actions[1])
	assert.Equal(t, "fill #password", sess.actions[2])
	assert.Equal(t, `click button[type="submit"]`, sess.actions[3])
	assert.Equal(t, "wait", sess.actions[4])

	// One detail-carrying step per captured exchange.
	var details []*event.NetworkDetail
	for _, p := range *progress {
		if p.Details != nil {
			details = append(details, p.Details)
		}
	}
	require.Len(t, details, 1)
	assert.Equal(t, "http://localhost:3000/api/auth/login", details[0].URL)
	assert.Equal(t, event.Status(401), details[0].ResponseStatus)
}

func TestWorkflowMasksPlantedCredentialInCapture(t *testing.T) {
	ex := loginExchange(200)
	sess := &fakeSession{exchange: ex, captured: []*browser.Exchange{ex}}
	rt := &fakeRuntime{session: sess}

	cfg := loginConfig(1)
	cfg.Strategy = config.StrategyWorkflow
	strategy := &workflowStrategy{
		cfg:     cfg,
		plan:    credentialPlan{knownIndex: 1},
		runtime: rt,
		log:     testLogger(),
	}

	emit, progress := collectProgress(t)
	outcome := strategy.Execute(context.Background(), 1, emit)

	shown, ok := outcome.RequestBody.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, secrets.Mask, shown["password"])

	for _, p := range *progress {
		if p.Details == nil {
			continue
		}
		body, ok := p.Details.RequestBody.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, secrets.Mask, body["password"])
	}
}

func TestWorkflowFailureStillClosesBrowser(t *testing.T) {
	sess := &fakeSession{failOn: "click button[type=\"submit\"]"}
	rt := &fakeRuntime{session: sess}
	exec := workflowExecutor(t, loginConfig(1), rt)

	emit, progress := collectProgress(t)
	outcome := exec.Execute(context.Background(), 1, emit)

	assert.Equal(t, event.StatusError, outcome.Status)
	assert.Equal(t, "Workflow Failed", outcome.StatusText)
	assert.Contains(t, outcome.Error, "failed")
	assert.True(t, sess.closed, "browser must be torn down on workflow failure")

	var sawClosing, sawClosed bool
	for _, p := range *progress {
		switch p.Message {
		case "Closing browser...":
			sawClosing = true
		case "Browser closed.":
			sawClosed = true
		}
	}
	assert.True(t, sawClosing)
	assert.True(t, sawClosed)
}

func TestWorkflowNavigationWaitFailure(t *testing.T) {
	sess := &fakeSession{failOn: "waiturl /cart"}
	rt := &fakeRuntime{session: sess}

	cfg := loginConfig(1)
	cfg.Endpoint = "/api/checkout"
	exec := workflowExecutor(t, cfg, rt)

	emit, _ := collectProgress(t)
	outcome := exec.Execute(context.Background(), 1, emit)

	assert.Equal(t, event.StatusError, outcome.Status)
	assert.Equal(t, "Workflow Failed", outcome.StatusText)
	assert.True(t, sess.closed)
	assert.NotContains(t, sess.actions, "click #proceed-to-checkout")
}

func TestWorkflowBrowserUnavailable(t *testing.T) {
	rt := &fakeRuntime{newErr: browser.ErrUnavailable}
	exec := workflowExecutor(t, loginConfig(1), rt)

	emit, _ := collectProgress(t)
	outcome := exec.Execute(context.Background(), 1, emit)

	assert.Equal(t, event.StatusError, outcome.Status)
	assert.Equal(t, "Workflow Failed", outcome.StatusText)
}

func TestWorkflowCheckoutSteps(t *testing.T) {
	ex := &browser.Exchange{
		Request: browser.ExchangeRequest{
			URL:    "http://localhost:3000/api/checkout",
			Method: "POST",
		},
		Response: browser.ExchangeResponse{Status: 200, StatusText: "OK"},
	}
	sess := &fakeSession{exchange: ex}
	rt := &fakeRuntime{session: sess}

	cfg := loginConfig(1)
	cfg.Endpoint = "/api/checkout"
	exec := workflowExecutor(t, cfg, rt)

	emit, _ := collectProgress(t)
	outcome := exec.Execute(context.Background(), 1, emit)

	assert.Equal(t, event.Status(200), outcome.Status)
	assert.Equal(t, "WORKFLOW (Checkout)", outcome.Method)

	// Navigation-triggering clicks are followed by a synchronization wait
	// before the next element is touched.
	want := []string{
		"navigate http://localhost:3000",
		"click .add-to-cart-btn",
		"click " + `a[href="/cart"]`,
		"waiturl /cart",
		"click #proceed-to-checkout",
		"waiturl /checkout",
		"waitsel #fullName",
	}
	require.GreaterOrEqual(t, len(sess.actions), len(want))
	assert.Equal(t, want, sess.actions[:len(want)])
	assert.Contains(t, sess.actions, "click #place-order")

	// The capture predicate targets the checkout API.
	require.NotNil(t, rt.sessionCfg.Capture)
	assert.True(t, rt.sessionCfg.Capture("http://localhost:3000/api/checkout", "POST"))
	assert.False(t, rt.sessionCfg.Capture("http://localhost:3000/api/auth/login", "POST"))
}
