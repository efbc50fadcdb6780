// Package config holds the executor and server configuration surface:
// executor mode and tunables, compression negotiation defaults, and
// connection limits. It follows the pkg/common/config idiom (JSON file +
// environment overrides + Validate()), scoped to this module's domain.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/noisefs-labs/execcore/pkg/executor"
)

// ExecutorMode selects which executor.Executor implementation the server
// constructs.
type ExecutorMode string

const (
	ModeSynchronous ExecutorMode = "synchronous"
	ModeAdaptive    ExecutorMode = "adaptive"
)

// AdaptiveConfig mirrors executor.AdaptiveOptions as a JSON-serializable,
// hot-reloadable document. Field names use the operator-facing
// configuration keys (snake_case) rather than Go naming, so operators see
// the same vocabulary in config files and documentation.
type AdaptiveConfig struct {
	ReservedThreads      int `json:"reserved_threads"`
	WorkerRunTimeMs      int `json:"worker_run_time_ms"`
	RunTimeJitterPct     int `json:"run_time_jitter_pct"`
	StuckThreadTimeoutMs int `json:"stuck_thread_timeout_ms"`
	MaxQueueLatencyUs    int `json:"max_queue_latency_us"`
	IdlePctThreshold     int `json:"idle_pct_threshold"`
	RecursionLimit       int `json:"recursion_limit"`
}

// ToOptions converts the JSON-serializable AdaptiveConfig into the
// executor.AdaptiveOptions the Adaptive executor actually consumes.
func (c AdaptiveConfig) ToOptions() executor.AdaptiveOptions {
	return executor.AdaptiveOptions{
		ReservedThreads:    c.ReservedThreads,
		WorkerRunTime:      time.Duration(c.WorkerRunTimeMs) * time.Millisecond,
		RunTimeJitterPct:   c.RunTimeJitterPct,
		StuckThreadTimeout: time.Duration(c.StuckThreadTimeoutMs) * time.Millisecond,
		MaxQueueLatency:    time.Duration(c.MaxQueueLatencyUs) * time.Microsecond,
		IdlePctThreshold:   c.IdlePctThreshold,
		RecursionLimit:     c.RecursionLimit,
	}
}

// CompressionConfig holds net.compression.* settings.
type CompressionConfig struct {
	// Compressors is a comma-separated list ("snappy,zlib") or the literal
	// "disabled". Use CompressorNames() to get the parsed form.
	Compressors string `json:"compressors"`
}

// CompressorNames parses the Compressors field into a name list, returning nil
// when compression is disabled.
func (c CompressionConfig) CompressorNames() []string {
	if c.Compressors == "" || c.Compressors == "disabled" {
		return nil
	}
	parts := strings.Split(c.Compressors, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			names = append(names, p)
		}
	}
	return names
}

// Config is the server's full configuration document.
type Config struct {
	ExecutorMode   ExecutorMode      `json:"executor_mode"`
	Adaptive       AdaptiveConfig    `json:"adaptive"`
	Compression    CompressionConfig `json:"compression"`
	MaxConnections int               `json:"max_connections"`
}

// DefaultConfig returns the configuration the server starts with absent any
// file or environment overrides, matching executor.DefaultAdaptiveOptions.
func DefaultConfig() *Config {
	return &Config{
		ExecutorMode: ModeAdaptive,
		Adaptive: AdaptiveConfig{
			ReservedThreads:      1,
			WorkerRunTimeMs:      3000,
			RunTimeJitterPct:     15,
			StuckThreadTimeoutMs: 250,
			MaxQueueLatencyUs:    500,
			IdlePctThreshold:     60,
			RecursionLimit:       8,
		},
		Compression: CompressionConfig{
			Compressors: "snappy",
		},
		MaxConnections: 1000000,
	}
}

// LoadConfig reads configPath (if non-empty) over DefaultConfig, applies
// environment overrides, and validates the result.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvironmentOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// SaveToFile writes c as indented JSON to path.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file %s: %w", path, err)
	}
	return nil
}

// env var names, EXECCORE_-prefixed to avoid colliding with host processes.
const (
	envExecutorMode     = "EXECCORE_EXECUTOR_MODE"
	envMaxConnections   = "EXECCORE_MAX_CONNECTIONS"
	envCompressors      = "EXECCORE_COMPRESSION_COMPRESSORS"
	envReservedThreads  = "EXECCORE_ADAPTIVE_RESERVED_THREADS"
	envIdlePctThreshold = "EXECCORE_ADAPTIVE_IDLE_PCT_THRESHOLD"
)

func (c *Config) applyEnvironmentOverrides() {
	if v := os.Getenv(envExecutorMode); v != "" {
		c.ExecutorMode = ExecutorMode(v)
	}
	if v := os.Getenv(envCompressors); v != "" {
		c.Compression.Compressors = v
	}
	if v := os.Getenv(envMaxConnections); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxConnections = n
		}
	}
	if v := os.Getenv(envReservedThreads); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Adaptive.ReservedThreads = n
		}
	}
	if v := os.Getenv(envIdlePctThreshold); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Adaptive.IdlePctThreshold = n
		}
	}
}

// Validate checks the configuration for internally-consistent, sane
// values, returning a descriptive error naming a reasonable fix.
func (c *Config) Validate() error {
	switch c.ExecutorMode {
	case ModeSynchronous, ModeAdaptive:
	default:
		return fmt.Errorf("invalid executor_mode %q: must be %q or %q", c.ExecutorMode, ModeSynchronous, ModeAdaptive)
	}

	if c.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive (current: %d); try 1000000 for a busy server or 100 for a small one", c.MaxConnections)
	}

	a := c.Adaptive
	if a.ReservedThreads < 0 {
		return fmt.Errorf("adaptive.reserved_threads cannot be negative (current: %d)", a.ReservedThreads)
	}
	if a.WorkerRunTimeMs <= 0 {
		return fmt.Errorf("adaptive.worker_run_time_ms must be positive (current: %d); 3000 is a reasonable default", a.WorkerRunTimeMs)
	}
	if a.RunTimeJitterPct < 0 || a.RunTimeJitterPct > 100 {
		return fmt.Errorf("adaptive.run_time_jitter_pct must be in [0, 100] (current: %d)", a.RunTimeJitterPct)
	}
	if a.StuckThreadTimeoutMs <= 0 {
		return fmt.Errorf("adaptive.stuck_thread_timeout_ms must be positive (current: %d)", a.StuckThreadTimeoutMs)
	}
	if a.MaxQueueLatencyUs <= 0 {
		return fmt.Errorf("adaptive.max_queue_latency_us must be positive (current: %d)", a.MaxQueueLatencyUs)
	}
	if a.IdlePctThreshold < 0 || a.IdlePctThreshold > 100 {
		return fmt.Errorf("adaptive.idle_pct_threshold must be in [0, 100] (current: %d); 60 is the default, 0 disables idle exits", a.IdlePctThreshold)
	}
	if a.RecursionLimit < 0 {
		return fmt.Errorf("adaptive.recursion_limit cannot be negative (current: %d); 8 is the default, 0 disables inline recursion", a.RecursionLimit)
	}

	for _, name := range c.Compression.CompressorNames() {
		switch name {
		case "noop", "snappy", "zlib":
		default:
			return fmt.Errorf("unknown compressor %q in compression.compressors; valid options: noop, snappy, zlib, or \"disabled\"", name)
		}
	}

	return nil
}
