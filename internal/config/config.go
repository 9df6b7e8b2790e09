// Package config loads engine settings from defaults, a YAML file and
// DAGRUN_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/maxkimambo/dagrun/internal/dispatch"
	engerrors "github.com/maxkimambo/dagrun/internal/errors"
	"github.com/maxkimambo/dagrun/internal/orchestrator"
	"github.com/maxkimambo/dagrun/internal/pool"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "DAGRUN_"

type Config struct {
	Pool         PoolConfig         `yaml:"pool"`
	Dispatch     DispatchConfig     `yaml:"dispatch"`
	Retry        RetryConfig        `yaml:"retry"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Backend      BackendConfig      `yaml:"backend"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type PoolConfig struct {
	Capacity          int           `yaml:"capacity"`
	UtilizationWindow time.Duration `yaml:"utilization_window"`
}

type DispatchConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type RetryConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxRetries  int           `yaml:"max_retries"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
	Multiplier  float64       `yaml:"multiplier"`
	Jitter      bool          `yaml:"jitter"`
}

type OrchestratorConfig struct {
	IdleBackoff      time.Duration `yaml:"idle_backoff"`
	StallLimit       int           `yaml:"stall_limit"`
	ProgressInterval time.Duration `yaml:"progress_interval"`
	CriticalTasks    []string      `yaml:"critical_tasks"`
}

type BackendConfig struct {
	// Kind is "shell" or "sim"
	Kind  string   `yaml:"kind"`
	Shell string   `yaml:"shell"`
	Env   []string `yaml:"env"`
}

type LoggingConfig struct {
	Verbose bool `yaml:"verbose"`
	JSON    bool `yaml:"json"`
	Quiet   bool `yaml:"quiet"`
}

// Default returns the built-in settings
func Default() *Config {
	d := dispatch.DefaultConfig()
	o := orchestrator.DefaultConfig()
	return &Config{
		Pool: PoolConfig{
			Capacity:          10,
			UtilizationWindow: pool.DefaultUtilizationWindow,
		},
		Dispatch: DispatchConfig{
			Timeout:      d.Timeout,
			PollInterval: d.PollInterval,
		},
		Retry: RetryConfig{
			Enabled:     true,
			MaxRetries:  d.Retry.MaxRetries,
			BaseBackoff: d.Retry.InitialBackoff,
			MaxBackoff:  d.Retry.MaxBackoff,
			Multiplier:  d.Retry.BackoffFactor,
		},
		Orchestrator: OrchestratorConfig{
			IdleBackoff:      o.IdleBackoff,
			StallLimit:       o.StallLimit,
			ProgressInterval: o.ProgressInterval,
		},
		Backend: BackendConfig{
			Kind:  "shell",
			Shell: "/bin/sh",
		},
	}
}

// Load returns the defaults overlaid with the file at path, when path is
// set, and then with the environment
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, engerrors.NewConfigError("file", fmt.Sprintf("%s is not valid YAML: %v", path, err)).WithCause(err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv applies DAGRUN_* overrides found through lookup
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	ints := map[string]*int{
		"POOL_CAPACITY": &c.Pool.Capacity,
		"MAX_RETRIES":   &c.Retry.MaxRetries,
	}
	for name, dst := range ints {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return engerrors.NewConfigError(EnvPrefix+name, fmt.Sprintf("%q is not an integer", v))
		}
		*dst = n
	}

	durations := map[string]*time.Duration{
		"TASK_TIMEOUT": &c.Dispatch.Timeout,
		"BASE_BACKOFF": &c.Retry.BaseBackoff,
		"MAX_BACKOFF":  &c.Retry.MaxBackoff,
	}
	for name, dst := range durations {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return engerrors.NewConfigError(EnvPrefix+name, fmt.Sprintf("%q is not a duration", v))
		}
		*dst = d
	}
	return nil
}

// Validate checks every field the engine depends on
func (c *Config) Validate() error {
	switch {
	case c.Pool.Capacity < 1:
		return engerrors.NewConfigError("pool.capacity", "must be at least 1")
	case c.Pool.UtilizationWindow <= 0:
		return engerrors.NewConfigError("pool.utilization_window", "must be positive")
	case c.Dispatch.Timeout <= 0:
		return engerrors.NewConfigError("dispatch.timeout", "must be positive")
	case c.Dispatch.PollInterval <= 0:
		return engerrors.NewConfigError("dispatch.poll_interval", "must be positive")
	case c.Retry.MaxRetries < 0:
		return engerrors.NewConfigError("retry.max_retries", "must not be negative")
	case c.Retry.BaseBackoff < 0:
		return engerrors.NewConfigError("retry.base_backoff", "must not be negative")
	case c.Retry.MaxBackoff < c.Retry.BaseBackoff:
		return engerrors.NewConfigError("retry.max_backoff", "must not be below retry.base_backoff")
	case c.Retry.Multiplier < 1:
		return engerrors.NewConfigError("retry.multiplier", "must be at least 1")
	case c.Orchestrator.IdleBackoff <= 0:
		return engerrors.NewConfigError("orchestrator.idle_backoff", "must be positive")
	case c.Orchestrator.StallLimit < 0:
		return engerrors.NewConfigError("orchestrator.stall_limit", "must not be negative")
	case c.Backend.Kind != "shell" && c.Backend.Kind != "sim":
		return engerrors.NewConfigError("backend.kind", fmt.Sprintf("unknown backend %q, expected shell or sim", c.Backend.Kind))
	}
	return nil
}

// RetryPolicy builds the dispatch retry policy. A disabled retry section
// means a single attempt per task.
func (c *Config) RetryPolicy() *dispatch.RetryPolicy {
	p := dispatch.NewCustomRetryPolicy(c.Retry.MaxRetries, c.Retry.BaseBackoff, c.Retry.MaxBackoff, c.Retry.Multiplier)
	p.EnableJitter = c.Retry.Jitter
	if !c.Retry.Enabled {
		p.MaxRetries = 0
	}
	return p
}

// DispatchConfig builds the dispatcher settings
func (c *Config) DispatchConfig() dispatch.Config {
	return dispatch.Config{
		Timeout:      c.Dispatch.Timeout,
		PollInterval: c.Dispatch.PollInterval,
		Retry:        c.RetryPolicy(),
	}
}

// OrchestratorConfig builds the run loop settings
func (c *Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		IdleBackoff:      c.Orchestrator.IdleBackoff,
		StallLimit:       c.Orchestrator.StallLimit,
		ProgressInterval: c.Orchestrator.ProgressInterval,
		CriticalTasks:    append([]string(nil), c.Orchestrator.CriticalTasks...),
	}
}
