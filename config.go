package flowline

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flowlinehq/flowline/internal/transport"
	"github.com/flowlinehq/flowline/pkg/api"
	"github.com/flowlinehq/flowline/pkg/listener"
)

// DefaultConfiguration is the configuration name reported to the backend
// when none is set.
const DefaultConfiguration = "development"

// Config assembles a Client. The zero value works: every field falls back
// to the documented default. Fields tagged for YAML can also be loaded
// from a file with LoadConfig.
type Config struct {
	// BaseURL of the backend engine.
	BaseURL string `yaml:"base_url"`

	// APIKey, when set, is sent as a bearer token on every request.
	APIKey string `yaml:"api_key"`

	// Configuration names the runtime configuration this client runs
	// under. It is echoed on auto-trigger registrations and used for
	// client-initiated runs.
	Configuration string `yaml:"configuration"`

	// RequestTimeout bounds each backend request except the
	// execution-request poll, which uses PollTimeout.
	RequestTimeout time.Duration `yaml:"-"`

	// PollTimeout bounds a single execution-request poll.
	PollTimeout time.Duration `yaml:"-"`

	// PollInterval is the backoff after a failed poll.
	PollInterval time.Duration `yaml:"-"`

	// HeartbeatInterval spaces keepalive heartbeats while listening.
	HeartbeatInterval time.Duration `yaml:"-"`

	// Debug enables request/response logging on the HTTP transport.
	Debug bool `yaml:"debug"`

	// Logger receives operational events. Defaults to slog.Default().
	Logger *slog.Logger `yaml:"-"`

	// Observer receives run and task lifecycle events.
	Observer api.Observer `yaml:"-"`

	// Output is the process stream tracked output is teed to. Defaults
	// to os.Stdout.
	Output io.Writer `yaml:"-"`

	// Journal overrides the journal store. When nil, JournalDB selects a
	// SQLite journal, and with neither set the journal lives in memory.
	Journal api.JournalStore `yaml:"-"`

	// JournalDB is an open SQLite database for the journal. The caller
	// imports the driver, e.g. modernc.org/sqlite.
	JournalDB *sql.DB `yaml:"-"`

	// OnFlowComplete, when set, is invoked once per dispatched run with
	// the flow's name, after the run finished (success or failure).
	OnFlowComplete func(flowName string) `yaml:"-"`
}

// DefaultConfig returns the configuration a zero Config resolves to.
func DefaultConfig() Config {
	return Config{
		BaseURL:           transport.DefaultBaseURL,
		Configuration:     DefaultConfiguration,
		RequestTimeout:    transport.DefaultTimeout,
		PollTimeout:       listener.DefaultPollTimeout,
		PollInterval:      listener.DefaultPollInterval,
		HeartbeatInterval: listener.DefaultHeartbeatInterval,
	}
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = transport.DefaultBaseURL
	}
	if c.Configuration == "" {
		c.Configuration = DefaultConfiguration
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = transport.DefaultTimeout
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = listener.DefaultPollTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = listener.DefaultPollInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = listener.DefaultHeartbeatInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// fileConfig is the YAML shape of Config. Durations are strings in
// time.ParseDuration syntax ("500ms", "3s").
type fileConfig struct {
	BaseURL           string `yaml:"base_url"`
	APIKey            string `yaml:"api_key"`
	Configuration     string `yaml:"configuration"`
	RequestTimeout    string `yaml:"request_timeout"`
	PollTimeout       string `yaml:"poll_timeout"`
	PollInterval      string `yaml:"poll_interval"`
	HeartbeatInterval string `yaml:"heartbeat_interval"`
	Debug             bool   `yaml:"debug"`
}

// LoadConfig reads a YAML config file. Absent fields keep the defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	cfg.BaseURL = orDefault(fc.BaseURL, cfg.BaseURL)
	cfg.APIKey = fc.APIKey
	cfg.Configuration = orDefault(fc.Configuration, cfg.Configuration)
	cfg.Debug = fc.Debug

	durations := []struct {
		field string
		raw   string
		dst   *time.Duration
	}{
		{"request_timeout", fc.RequestTimeout, &cfg.RequestTimeout},
		{"poll_timeout", fc.PollTimeout, &cfg.PollTimeout},
		{"poll_interval", fc.PollInterval, &cfg.PollInterval},
		{"heartbeat_interval", fc.HeartbeatInterval, &cfg.HeartbeatInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse config %s: %s: %w", path, d.field, err)
		}
		*d.dst = v
	}

	return cfg, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
