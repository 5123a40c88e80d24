// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config resolves the daemon binaries and loads the harness
// configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	functesterrors "github.com/tombee/functest/pkg/errors"
)

// ErrInvalidConfig wraps validation failures.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the harness configuration.
type Config struct {
	Daemon   DaemonConfig   `yaml:"daemon"`
	Shutdown ShutdownConfig `yaml:"shutdown"`
	Coverage CoverageConfig `yaml:"coverage"`
	Log      LogConfig      `yaml:"log"`

	// TmpDir is where per-run directories are created. Empty means the
	// system temp dir.
	TmpDir string `yaml:"tmp_dir"`

	// SaveRoot is where robot-save/ is created. Empty means the working
	// directory.
	SaveRoot string `yaml:"save_root"`
}

// DaemonConfig describes the daemon under test.
type DaemonConfig struct {
	// Binary overrides the resolved rspamd path.
	Binary string `yaml:"binary"`

	// Args are passed to the daemon on start.
	Args []string `yaml:"args"`

	Host           string `yaml:"host"`
	NormalPort     int    `yaml:"normal_port"`
	ControllerPort int    `yaml:"controller_port"`

	// PIDFile is the path the daemon writes its PID to. Relative paths
	// are resolved against the run directory.
	PIDFile string `yaml:"pid_file"`

	// StartTimeout bounds waiting for the PID file and the ping endpoint.
	StartTimeout time.Duration `yaml:"start_timeout"`

	// HTTPTimeout bounds each probe exchange.
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

// ShutdownConfig holds the stop escalation timings.
type ShutdownConfig struct {
	TermTimeout time.Duration `yaml:"term_timeout"`
	KillWait    time.Duration `yaml:"kill_wait"`
}

// CoverageConfig controls luacov stats collection.
type CoverageConfig struct {
	// Pattern selects per-process stats files, relative to the run
	// directory unless absolute.
	Pattern string `yaml:"pattern"`

	// Output is the cumulative stats file.
	Output string `yaml:"output"`

	// MetricsFile, if set, receives collect metrics in the Prometheus
	// text format.
	MetricsFile string `yaml:"metrics_file"`
}

// LogConfig mirrors internal/log.Config in YAML form.
type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Daemon: DaemonConfig{
			Host:           "127.0.0.1",
			NormalPort:     56789,
			ControllerPort: 56790,
			PIDFile:        "rspamd.pid",
			StartTimeout:   30 * time.Second,
			HTTPTimeout:    5 * time.Second,
		},
		Shutdown: ShutdownConfig{
			TermTimeout: 10 * time.Second,
			KillWait:    20 * time.Second,
		},
		Coverage: CoverageConfig{
			Pattern: "*.luacov.stats.out",
			Output:  "luacov.stats.out",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// NormalAddr is the host:port of the scanning worker.
func (c *Config) NormalAddr() string {
	return net.JoinHostPort(c.Daemon.Host, strconv.Itoa(c.Daemon.NormalPort))
}

// ControllerAddr is the host:port of the controller worker.
func (c *Config) ControllerAddr() string {
	return net.JoinHostPort(c.Daemon.Host, strconv.Itoa(c.Daemon.ControllerPort))
}

// Load reads configuration from an optional YAML file, then applies
// environment overrides and validates the result. Environment variables
// take precedence over the file.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &functesterrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, &functesterrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// applyDefaults fills in zero values so partial files work.
func (c *Config) applyDefaults() {
	d := Default()

	if c.Daemon.Host == "" {
		c.Daemon.Host = d.Daemon.Host
	}
	if c.Daemon.NormalPort == 0 {
		c.Daemon.NormalPort = d.Daemon.NormalPort
	}
	if c.Daemon.ControllerPort == 0 {
		c.Daemon.ControllerPort = d.Daemon.ControllerPort
	}
	if c.Daemon.PIDFile == "" {
		c.Daemon.PIDFile = d.Daemon.PIDFile
	}
	if c.Daemon.StartTimeout == 0 {
		c.Daemon.StartTimeout = d.Daemon.StartTimeout
	}
	if c.Daemon.HTTPTimeout == 0 {
		c.Daemon.HTTPTimeout = d.Daemon.HTTPTimeout
	}
	if c.Shutdown.TermTimeout == 0 {
		c.Shutdown.TermTimeout = d.Shutdown.TermTimeout
	}
	if c.Shutdown.KillWait == 0 {
		c.Shutdown.KillWait = d.Shutdown.KillWait
	}
	if c.Coverage.Pattern == "" {
		c.Coverage.Pattern = d.Coverage.Pattern
	}
	if c.Coverage.Output == "" {
		c.Coverage.Output = d.Coverage.Output
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// loadFromEnv applies FUNCTEST_* overrides. Malformed numbers and
// durations are reported rather than ignored.
func (c *Config) loadFromEnv() error {
	if val := os.Getenv("FUNCTEST_HOST"); val != "" {
		c.Daemon.Host = val
	}
	if val := os.Getenv("FUNCTEST_TMPDIR"); val != "" {
		c.TmpDir = val
	}
	if val := os.Getenv("FUNCTEST_SAVE_ROOT"); val != "" {
		c.SaveRoot = val
	}
	if val := os.Getenv("FUNCTEST_STATS_OUTPUT"); val != "" {
		c.Coverage.Output = val
	}
	if val := os.Getenv("FUNCTEST_METRICS_FILE"); val != "" {
		c.Coverage.MetricsFile = val
	}

	ints := []struct {
		env string
		dst *int
	}{
		{"FUNCTEST_NORMAL_PORT", &c.Daemon.NormalPort},
		{"FUNCTEST_CONTROLLER_PORT", &c.Daemon.ControllerPort},
	}
	for _, it := range ints {
		val := os.Getenv(it.env)
		if val == "" {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return &functesterrors.ConfigError{Key: it.env, Reason: "not an integer", Cause: err}
		}
		*it.dst = n
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"FUNCTEST_START_TIMEOUT", &c.Daemon.StartTimeout},
		{"FUNCTEST_HTTP_TIMEOUT", &c.Daemon.HTTPTimeout},
		{"FUNCTEST_TERM_TIMEOUT", &c.Shutdown.TermTimeout},
		{"FUNCTEST_KILL_WAIT", &c.Shutdown.KillWait},
	}
	for _, d := range durations {
		val := os.Getenv(d.env)
		if val == "" {
			continue
		}
		v, err := time.ParseDuration(val)
		if err != nil {
			return &functesterrors.ConfigError{Key: d.env, Reason: "not a duration", Cause: err}
		}
		*d.dst = v
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = val == "1" || strings.ToLower(val) == "true"
	}

	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []string

	for name, port := range map[string]int{
		"daemon.normal_port":     c.Daemon.NormalPort,
		"daemon.controller_port": c.Daemon.ControllerPort,
	} {
		if port < 1 || port > 65535 {
			errs = append(errs, fmt.Sprintf("%s must be between 1 and 65535, got %d", name, port))
		}
	}
	if c.Daemon.NormalPort == c.Daemon.ControllerPort {
		errs = append(errs, fmt.Sprintf("daemon.normal_port and daemon.controller_port must differ, both are %d", c.Daemon.NormalPort))
	}
	if c.Daemon.StartTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("daemon.start_timeout must be positive, got %v", c.Daemon.StartTimeout))
	}
	if c.Daemon.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("daemon.http_timeout must be positive, got %v", c.Daemon.HTTPTimeout))
	}
	if c.Shutdown.TermTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("shutdown.term_timeout must be positive, got %v", c.Shutdown.TermTimeout))
	}
	if c.Shutdown.KillWait <= 0 {
		errs = append(errs, fmt.Sprintf("shutdown.kill_wait must be positive, got %v", c.Shutdown.KillWait))
	}
	if strings.ContainsAny(c.Coverage.Output, "*?[") {
		errs = append(errs, fmt.Sprintf("coverage.output must be a plain path, not a pattern, got %q", c.Coverage.Output))
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	if len(errs) > 0 {
		slices.Sort(errs)
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}

	return nil
}
