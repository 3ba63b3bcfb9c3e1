// Command botsim runs the bot-attack simulator: an HTTP server that
// launches simulated attack runs against a target application and streams
// live results to connected observers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pardeema/bot-attack-simulator/pkg/api"
	"github.com/pardeema/bot-attack-simulator/pkg/browser/cdp"
	"github.com/pardeema/bot-attack-simulator/pkg/bus"
	"github.com/pardeema/bot-attack-simulator/pkg/config"
	"github.com/pardeema/bot-attack-simulator/pkg/logging"
	"github.com/pardeema/bot-attack-simulator/pkg/runner"
	"github.com/pardeema/bot-attack-simulator/pkg/telemetry"
	"github.com/pardeema/bot-attack-simulator/pkg/transport"
)

// Version information - set via ldflags during build
var (
	version   = "1.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  string
		listen      string
		devtoolsURL string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "path to YAML config file")
	flag.StringVar(&listen, "listen", "", "listen address override")
	flag.StringVar(&devtoolsURL, "devtools", "", "Chrome DevTools URL override")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("botsim %s (%s, built %s)\n", version, commit, buildDate)
		return
	}

	if err := run(configPath, listen, devtoolsURL); err != nil {
		fmt.Fprintf(os.Stderr, "botsim: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, listen, devtoolsURL string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if devtoolsURL != "" {
		cfg.DevToolsURL = devtoolsURL
	}

	log, err := logging.NewLogger(cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to open logs: %w", err)
	}
	defer log.Close()
	log.SetMinLevel(logging.Level(cfg.LogLevel))

	log.Info(logging.CategoryServer, "starting", "", map[string]any{
		"version": version,
		"listen":  cfg.Listen,
	})

	metrics := telemetry.NewMetrics()
	broker := bus.NewMemoryBus()
	defer broker.Close()

	sender := transport.NewClient(log)
	browserRuntime := cdp.NewRuntime(cfg.DevToolsURL, log)
	defer browserRuntime.Close()

	coord := runner.NewCoordinator(broker, log, metrics, func(rc *config.RunConfig) (runner.Executor, error) {
		return runner.NewExecutor(rc, runner.Deps{
			Sender:  sender,
			Browser: browserRuntime,
			Log:     log,
		})
	})

	server := api.NewServer(api.ServerConfig{
		Config:      cfg,
		Coordinator: coord,
		Bus:         broker,
		Logger:      log,
		Metrics:     metrics,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(server.ListenAndServe)
	g.Go(func() error {
		<-ctx.Done()
		log.Info(logging.CategoryServer, "shutting_down", "", nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
