// Package runner executes simulation runs: a sequential, cancellable loop
// of simulated bot interactions against a target, publishing a two-tier
// event stream (transient progress steps and one outcome per iteration).
package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/pardeema/bot-attack-simulator/pkg/browser"
	"github.com/pardeema/bot-attack-simulator/pkg/config"
	"github.com/pardeema/bot-attack-simulator/pkg/event"
	"github.com/pardeema/bot-attack-simulator/pkg/logging"
	"github.com/pardeema/bot-attack-simulator/pkg/secrets"
	"github.com/pardeema/bot-attack-simulator/pkg/transport"
)

var (
	// ErrRunActive is returned when launching while a run is in progress.
	ErrRunActive = errors.New("a run is already active")

	// ErrUnsupportedWorkflow is returned when the workflow strategy has
	// no scripted workflow for the requested endpoint.
	ErrUnsupportedWorkflow = errors.New("no workflow implemented for endpoint")
)

// maxErrorLength bounds error text surfaced in outcomes.
const maxErrorLength = 200

// Emitter publishes a progress event from inside an iteration.
type Emitter func(event.Progress)

// Executor performs one simulated interaction. Implementations never
// return an error: iteration failures are contained in the Outcome so the
// run loop always continues.
type Executor interface {
	Execute(ctx context.Context, iteration int, emit Emitter) event.Outcome
}

// Deps are the external capabilities injected into executors.
type Deps struct {
	Sender  transport.Sender
	Browser browser.Runtime
	Log     *logging.Logger
}

// NewExecutor builds the executor for the run's strategy. The credential
// plan (which iteration carries the known password) is fixed here, at run
// start.
func NewExecutor(cfg *config.RunConfig, deps Deps) (Executor, error) {
	plan := newCredentialPlan(cfg)
	switch cfg.Strategy {
	case config.StrategyLightweight:
		return &httpStrategy{cfg: cfg, plan: plan, sender: deps.Sender, log: deps.Log, spoof: false}, nil
	case config.StrategyStealth:
		return &httpStrategy{cfg: cfg, plan: plan, sender: deps.Sender, log: deps.Log, spoof: true}, nil
	case config.StrategyWorkflow:
		if !cfg.IsLogin() && !cfg.IsCheckout() {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedWorkflow, cfg.Endpoint)
		}
		return &workflowStrategy{cfg: cfg, plan: plan, runtime: deps.Browser, log: deps.Log}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", cfg.Strategy)
	}
}

// credentialPlan fixes, for a whole run, which iteration gets the known
// password. Non-login runs have no plant.
type credentialPlan struct {
	knownIndex int
}

func newCredentialPlan(cfg *config.RunConfig) credentialPlan {
	if !cfg.IsLogin() {
		return credentialPlan{knownIndex: -1}
	}
	return credentialPlan{knownIndex: secrets.PlantIndex(cfg.NumRequests)}
}

// passwordFor returns the credential for an iteration and whether it is
// the planted known password.
func (p credentialPlan) passwordFor(iteration int) (string, bool) {
	if iteration == p.knownIndex {
		return secrets.KnownPassword, true
	}
	return secrets.RandomPassword(), false
}

// requestBody builds the POST payload for an iteration, mirroring the
// traffic shape of real shop clients.
func requestBody(cfg *config.RunConfig, iteration int, password string) map[string]any {
	switch {
	case cfg.IsLogin():
		return map[string]any{
			"email":    "user@example.com",
			"password": password,
		}
	case cfg.IsCheckout():
		return map[string]any{
			"items": []map[string]any{{
				"id":       iteration%5 + 1,
				"name":     fmt.Sprintf("Dummy Item %d", iteration%5+1),
				"price":    fmt.Sprintf("%.2f", 10.0+float64(iteration%40)),
				"quantity": 1,
			}},
			"shippingAddress": map[string]any{
				"name":    fmt.Sprintf("Test Bot %d", iteration),
				"email":   fmt.Sprintf("bot%d@example.com", iteration),
				"address": fmt.Sprintf("%d Bot St", iteration),
				"city":    "Botville",
				"state":   "BT",
				"zipCode": "12345",
				"country": "Botland",
			},
			"paymentMethod": paymentMethod(iteration),
		}
	default:
		return map[string]any{}
	}
}

func paymentMethod(iteration int) string {
	if iteration%2 == 0 {
		return "credit-card"
	}
	return "paypal"
}

// displayBody is the observer-facing copy of a request body: the known
// credential is masked, the wire value never is.
func displayBody(body map[string]any, knownUsed bool) map[string]any {
	if !knownUsed {
		return body
	}
	return secrets.RedactBody(body, "password", secrets.KnownPassword)
}

func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength]
	}
	return msg
}
