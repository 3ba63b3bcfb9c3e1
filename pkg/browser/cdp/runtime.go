// Package cdp adapts the browser port to a Chromium instance exposing the
// DevTools protocol. Each session is an isolated page target with its own
// WebSocket connection, created and destroyed per iteration.
package cdp

import (
	"context"
	"fmt"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/emulation"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/rpcc"

	"github.com/pardeema/bot-attack-simulator/pkg/browser"
	"github.com/pardeema/bot-attack-simulator/pkg/logging"
)

// Runtime creates page-target sessions against a running Chromium's
// DevTools endpoint (e.g. http://127.0.0.1:9222).
type Runtime struct {
	devtoolsURL string
	log         *logging.Logger
}

// NewRuntime builds a Runtime for the given DevTools URL.
func NewRuntime(devtoolsURL string, log *logging.Logger) *Runtime {
	return &Runtime{devtoolsURL: devtoolsURL, log: log}
}

// NewSession creates a fresh page target and attaches to it.
func (r *Runtime) NewSession(ctx context.Context, cfg browser.Config) (browser.Session, error) {
	devt := devtool.New(r.devtoolsURL)
	target, err := devt.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create page target: %w", err)
	}

	conn, err := rpcc.DialContext(ctx, target.WebSocketDebuggerURL)
	if err != nil {
		// Target was created; do not leak it.
		_ = devt.Close(ctx, target)
		return nil, fmt.Errorf("failed to dial target: %w", err)
	}

	client := cdp.NewClient(conn)
	sessCtx, cancel := context.WithCancel(context.Background())

	s := &session{
		id:      cfg.SessionID,
		devt:    devt,
		target:  target,
		conn:    conn,
		client:  client,
		ctx:     sessCtx,
		cancel:  cancel,
		capture: cfg.Capture,
		pending: make(map[network.RequestID]*browser.Exchange),
		log:     r.log,
	}

	if err := s.enableDomains(ctx, cfg.UserAgent); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.startNetworkCollector(); err != nil {
		s.Close()
		return nil, err
	}

	r.log.Debug(logging.CategoryBrowser, "session_created", "", map[string]any{
		"session_id": cfg.SessionID,
		"target_id":  string(target.ID),
	})
	return s, nil
}

// Close releases the runtime. Sessions hold their own connections, so
// there is nothing shared to tear down.
func (r *Runtime) Close() error {
	return nil
}

func (s *session) enableDomains(ctx context.Context, userAgent string) error {
	if err := s.client.Page.Enable(ctx); err != nil {
		return fmt.Errorf("failed to enable page domain: %w", err)
	}
	if err := s.client.Network.Enable(ctx, nil); err != nil {
		return fmt.Errorf("failed to enable network domain: %w", err)
	}
	if err := s.client.Runtime.Enable(ctx); err != nil {
		return fmt.Errorf("failed to enable runtime domain: %w", err)
	}
	if userAgent != "" {
		args := emulation.NewSetUserAgentOverrideArgs(userAgent)
		if err := s.client.Emulation.SetUserAgentOverride(ctx, args); err != nil {
			return fmt.Errorf("failed to override user agent: %w", err)
		}
	}
	return nil
}
