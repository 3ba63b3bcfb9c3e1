// Package config holds the server configuration and the per-run
// configuration submitted at launch time.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default configuration values exported for documentation and validation
const (
	DefaultListen      = ":3000"
	DefaultStaticDir   = "web"
	DefaultLogDir      = "logs"
	DefaultLogLevel    = "info"
	DefaultDevToolsURL = "http://127.0.0.1:9222"

	// MaxRequests bounds the iteration count of a single run.
	MaxRequests = 1000
)

// Config is the server configuration, loadable from a YAML file.
type Config struct {
	Listen      string `yaml:"listen"`
	StaticDir   string `yaml:"static_dir"`
	LogDir      string `yaml:"log_dir"`
	LogLevel    string `yaml:"log_level"`
	DevToolsURL string `yaml:"devtools_url"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:      DefaultListen,
		StaticDir:   DefaultStaticDir,
		LogDir:      DefaultLogDir,
		LogLevel:    DefaultLogLevel,
		DevToolsURL: DefaultDevToolsURL,
	}
}

// Load reads a YAML config file over the defaults. A missing path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the server configuration.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return nil
}

// Strategy selects how one iteration is executed.
type Strategy string

const (
	// StrategyLightweight sends one plain HTTP request per iteration.
	StrategyLightweight Strategy = "lightweight"

	// StrategyStealth sends HTTP requests with spoofed browser headers.
	StrategyStealth Strategy = "stealth"

	// StrategyWorkflow drives a full browser workflow per iteration.
	StrategyWorkflow Strategy = "workflow"
)

// StrategyOptions carries strategy-specific knobs from the launch request.
type StrategyOptions struct {
	// Cookie, when set, is sent verbatim as the Cookie header by the
	// stealth strategy.
	Cookie string `json:"cookie,omitempty"`

	// RandomizeHeaders makes the lightweight strategy pick its headers
	// from the stealth pool instead of the static BotSim set.
	RandomizeHeaders bool `json:"randomizeHeaders,omitempty"`
}

// RunConfig is the immutable configuration of one run, created from the
// launch request and read-only afterward.
type RunConfig struct {
	TargetURL   string          `json:"targetUrl"`
	Endpoint    string          `json:"endpoint"`
	NumRequests int             `json:"numRequests"`
	Strategy    Strategy        `json:"strategy"`
	Options     StrategyOptions `json:"options"`
}

// Validate rejects incomplete or out-of-range launch parameters.
func (c *RunConfig) Validate() error {
	if c.TargetURL == "" || c.Endpoint == "" {
		return fmt.Errorf("targetUrl and endpoint are required")
	}
	if c.NumRequests < 1 || c.NumRequests > MaxRequests {
		return fmt.Errorf("numRequests must be between 1 and %d", MaxRequests)
	}
	switch c.Strategy {
	case StrategyLightweight, StrategyStealth, StrategyWorkflow:
	case "":
		return fmt.Errorf("strategy is required")
	default:
		return fmt.Errorf("unknown strategy %q", c.Strategy)
	}
	return nil
}

// FullURL joins the target base address and endpoint path.
func (c *RunConfig) FullURL() string {
	return strings.TrimSuffix(c.TargetURL, "/") + c.Endpoint
}

// IsLogin reports whether the run targets a login endpoint; those runs
// carry credentials and get the known-password plant.
func (c *RunConfig) IsLogin() bool {
	return strings.Contains(c.Endpoint, "login")
}

// IsCheckout reports whether the run targets a checkout endpoint.
func (c *RunConfig) IsCheckout() bool {
	return strings.Contains(c.Endpoint, "checkout")
}
