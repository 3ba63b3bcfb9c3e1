package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pardeema/bot-attack-simulator/pkg/bus"
	"github.com/pardeema/bot-attack-simulator/pkg/config"
	"github.com/pardeema/bot-attack-simulator/pkg/event"
	"github.com/pardeema/bot-attack-simulator/pkg/logging"
	"github.com/pardeema/bot-attack-simulator/pkg/telemetry"
)

// State is the lifecycle of one run. A handle is born running; there is
// no idle state because launching and starting the loop are one step.
type State int32

const (
	StateRunning State = iota
	StateFinished
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RunHandle identifies one launched run and carries its cooperative
// cancellation flag. Stop never interrupts the in-flight iteration; the
// loop checks the flag at iteration boundaries only.
type RunHandle struct {
	ID     string
	Config *config.RunConfig

	cancel atomic.Bool
	state  atomic.Int32
	done   chan struct{}
}

func newRunHandle(cfg *config.RunConfig) *RunHandle {
	h := &RunHandle{
		ID:     uuid.NewString(),
		Config: cfg,
		done:   make(chan struct{}),
	}
	h.state.Store(int32(StateRunning))
	return h
}

// Stop requests cooperative cancellation. It returns immediately; the run
// winds down after the current iteration completes.
func (h *RunHandle) Stop() {
	h.cancel.Store(true)
}

// Stopping reports whether cancellation has been requested.
func (h *RunHandle) Stopping() bool {
	return h.cancel.Load()
}

// State returns the run's current lifecycle state.
func (h *RunHandle) State() State {
	return State(h.state.Load())
}

// Done is closed once the run's finished event has been published.
func (h *RunHandle) Done() <-chan struct{} {
	return h.done
}

func (h *RunHandle) setState(s State) {
	h.state.Store(int32(s))
}

// ExecutorFactory builds the executor for a run; injectable for tests.
type ExecutorFactory func(cfg *config.RunConfig) (Executor, error)

// Coordinator owns the single active run. A second launch while one is
// running is rejected with ErrRunActive rather than interleaving streams.
type Coordinator struct {
	bus     bus.Bus
	log     *logging.Logger
	metrics *telemetry.Metrics
	factory ExecutorFactory

	mu      sync.Mutex
	current *RunHandle
}

// NewCoordinator wires the run loop to its broker, logger and metrics.
func NewCoordinator(b bus.Bus, log *logging.Logger, metrics *telemetry.Metrics, factory ExecutorFactory) *Coordinator {
	return &Coordinator{bus: b, log: log, metrics: metrics, factory: factory}
}

// Launch validates the configuration, claims the single run slot and
// starts the loop in the background. The returned handle acknowledges the
// launch; results arrive on the event stream.
func (c *Coordinator) Launch(ctx context.Context, cfg *config.RunConfig) (*RunHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.current != nil && c.current.State() == StateRunning {
		c.mu.Unlock()
		return nil, ErrRunActive
	}
	handle := newRunHandle(cfg)
	c.current = handle
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RunsStarted.Inc()
	}
	c.log.Info(logging.CategoryRun, "run_launched", "", map[string]any{
		"run_id":   handle.ID,
		"strategy": string(cfg.Strategy),
		"count":    cfg.NumRequests,
		"target":   cfg.FullURL(),
	})

	// The run outlives the launch request; it gets its own context and is
	// cancelled cooperatively through the handle, never through the caller.
	go c.run(context.Background(), handle)
	return handle, nil
}

// Current returns the most recently launched run, if any.
func (c *Coordinator) Current() *RunHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Stop signals the active run to wind down. It reports whether a running
// run was signalled and always returns immediately.
func (c *Coordinator) Stop() bool {
	c.mu.Lock()
	handle := c.current
	c.mu.Unlock()
	if handle == nil || handle.State() != StateRunning {
		return false
	}
	handle.Stop()
	c.log.Info(logging.CategoryRun, "stop_requested", "", map[string]any{"run_id": handle.ID})
	return true
}

// run is the sequential orchestration loop. Iteration i+1 never starts
// before iteration i's outcome has been published, and exactly one
// finished event terminates the stream on every path.
func (c *Coordinator) run(ctx context.Context, h *RunHandle) {
	defer close(h.done)

	finished := false
	publishFinished := func() {
		if finished {
			return
		}
		finished = true
		c.publish(ctx, event.NewFinished(event.Finished{Message: "Stream finished"}))
	}

	defer func() {
		if r := recover(); r != nil {
			c.publish(ctx, event.NewRunError(event.RunError{
				Message: "simulation failed",
				Error:   fmt.Sprintf("%v", r),
			}))
			h.setState(StateFailed)
			// When cancellation and the failure raced, the break path
			// already published finished; the latch prevents a duplicate.
			if !h.Stopping() {
				publishFinished()
			}
			c.recordRunEnd(h)
		}
	}()

	exec, err := c.factory(h.Config)
	if err != nil {
		c.log.Error(logging.CategoryRun, "run_rejected", err.Error(), map[string]any{"run_id": h.ID})
		c.publish(ctx, event.NewRunError(event.RunError{
			Message: "simulation could not start",
			Error:   truncateError(err),
		}))
		publishFinished()
		h.setState(StateFailed)
		c.recordRunEnd(h)
		return
	}

	emit := func(p event.Progress) {
		c.publish(ctx, event.NewProgress(p))
	}

	stopped := false
	for i := 1; i <= h.Config.NumRequests; i++ {
		if h.Stopping() {
			c.publish(ctx, event.NewProgress(event.Progress{
				ID:      i,
				Message: fmt.Sprintf("Stop requested at iteration %d. Exiting loop.", i),
			}))
			stopped = true
			break
		}

		start := time.Now()
		outcome := exec.Execute(ctx, i, emit)
		c.publish(ctx, event.NewOutcome(outcome))
		if c.metrics != nil {
			c.metrics.Iterations.WithLabelValues(string(h.Config.Strategy), string(event.Classify(outcome.Status))).Inc()
			c.metrics.IterationTime.WithLabelValues(string(h.Config.Strategy)).Observe(time.Since(start).Seconds())
		}
	}

	publishFinished()
	if stopped {
		h.setState(StateStopped)
	} else {
		h.setState(StateFinished)
	}
	c.recordRunEnd(h)
}

func (c *Coordinator) recordRunEnd(h *RunHandle) {
	if c.metrics != nil {
		c.metrics.RunsFinished.WithLabelValues(h.State().String()).Inc()
	}
	c.log.Info(logging.CategoryRun, "run_ended", "", map[string]any{
		"run_id": h.ID,
		"state":  h.State().String(),
	})
}

func (c *Coordinator) publish(ctx context.Context, env event.Envelope) {
	if err := c.bus.Publish(ctx, env); err != nil {
		c.log.Warn(logging.CategoryStream, "publish_failed", err.Error(), nil)
		return
	}
	if c.metrics != nil {
		c.metrics.EventsRelayed.WithLabelValues(string(env.Kind)).Inc()
	}
}
