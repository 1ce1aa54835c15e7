// Package config holds the server runtime configuration: where to listen,
// which pipeline config to load, and what to schedule.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/logging"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/server/cron"
)

const (
	defaultAddr            = ":8080"
	defaultRetryPoll       = "*/5 * * * *"
	defaultCleanup         = "0 3 * * *"
	defaultMaxHistory      = 100
	defaultLogCapture      = "info"
	defaultShutdownTimeout = 30 * time.Second
)

// ServerConfig represents the server runtime configuration.
type ServerConfig struct {
	Listener ListenerConfig `yaml:"listener"`
	// The path to the pipeline config file
	PipelineConfig string `yaml:"pipeline_config"`
	// Tenants refreshed on a schedule
	Tenants []TenantSchedule `yaml:"tenants"`
	// When to process due retry entries
	RetryPoll string `yaml:"retry_poll"`
	// When to delete resolved retry entries past retention
	Cleanup string `yaml:"cleanup"`
	// The directory used to store run history. Empty keeps history in memory.
	StateDir   string `yaml:"state_dir"`
	MaxHistory int    `yaml:"max_history"`
	// Minimum level of the log lines kept with each run
	LogCapture      string        `yaml:"log_capture"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ListenerConfig holds HTTP server listener settings.
type ListenerConfig struct {
	// The listen address, defaults to :8080
	Addr string `yaml:"addr"`
}

// TenantSchedule defines when a tenant's platforms are refreshed.
type TenantSchedule struct {
	ID string `yaml:"id"`
	// Trigger syntax: "google_maps,facebook:0 2 * * *;tripadvisor:0 3 * * 1"
	Schedule string `yaml:"schedule"`
}

// LoadConfig reads the YAML config file at the given path and returns a ServerConfig struct.
func LoadConfig(path string) (*ServerConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open server config file %s: %w", path, err)
	}
	defer f.Close()

	var cfg ServerConfig
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode YAML server config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	return &cfg, nil
}

// SetDefaults sets reasonable default values for optional fields.
func (c *ServerConfig) SetDefaults() {
	if c.Listener.Addr == "" {
		c.Listener.Addr = defaultAddr
	}
	if c.RetryPoll == "" {
		c.RetryPoll = defaultRetryPoll
	}
	if c.Cleanup == "" {
		c.Cleanup = defaultCleanup
	}
	if c.MaxHistory == 0 {
		c.MaxHistory = defaultMaxHistory
	}
	if c.LogCapture == "" {
		c.LogCapture = defaultLogCapture
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
}

// Validate checks the configuration. Tenant schedules are checked against
// the platform registry when they are registered with the scheduler.
func (c *ServerConfig) Validate() error {
	var errs []error
	if c.PipelineConfig == "" {
		errs = append(errs, errors.New("pipeline_config is required"))
	}
	if _, err := cron.ParseSchedule(c.RetryPoll); err != nil {
		errs = append(errs, fmt.Errorf("retry_poll: %w", err))
	}
	if _, err := cron.ParseSchedule(c.Cleanup); err != nil {
		errs = append(errs, fmt.Errorf("cleanup: %w", err))
	}
	if c.MaxHistory < 0 {
		errs = append(errs, fmt.Errorf("max_history must not be negative, got %d", c.MaxHistory))
	}
	if _, err := logging.ParseLevel(c.LogCapture); err != nil {
		errs = append(errs, fmt.Errorf("log_capture: %w", err))
	}
	if c.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("shutdown_timeout must not be negative"))
	}

	seen := make(map[string]bool, len(c.Tenants))
	for i, t := range c.Tenants {
		switch {
		case t.ID == "":
			errs = append(errs, fmt.Errorf("tenants[%d]: id is required", i))
		case seen[t.ID]:
			errs = append(errs, fmt.Errorf("tenants[%d]: duplicate tenant %q", i, t.ID))
		case t.Schedule == "":
			errs = append(errs, fmt.Errorf("tenants[%d]: schedule is required for %q", i, t.ID))
		}
		seen[t.ID] = true
	}
	return errors.Join(errs...)
}

// CaptureLevel returns the parsed LogCapture level.
func (c *ServerConfig) CaptureLevel() slog.Level {
	level, _ := logging.ParseLevel(c.LogCapture)
	return level
}
