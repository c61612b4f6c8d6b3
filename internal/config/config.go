// Package config provides configuration management for the agentctl
// daemon. Configuration is loaded from (highest to lowest priority):
//  1. Environment variables (AGENTCTL_*)
//  2. <hub>/config.json, or <hub>/config.yaml when config.json is absent
//  3. Defaults
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultHubDirName is the directory created under $HOME when AGENTCTL_DIR
// is not set.
const DefaultHubDirName = ".agentctl"

// Config holds all daemon configuration. Durations in config.json are
// nanosecond counts (time.Duration's own underlying representation);
// config.yaml takes duration strings such as "90s", the only form yaml.v3
// decodes into a time.Duration.
type Config struct {
	// HubDir is the root directory for sockets, stores, and tokens.
	HubDir string `json:"hub_dir" yaml:"hub_dir"`

	SLA        SLAConfig        `json:"sla" yaml:"sla"`
	Adaptive   AdaptiveConfig   `json:"adaptive" yaml:"adaptive"`
	Breaker    BreakerConfig    `json:"breaker" yaml:"breaker"`
	Watchdog   WatchdogConfig   `json:"watchdog" yaml:"watchdog"`
	Acceptance AcceptanceConfig `json:"acceptance" yaml:"acceptance"`
	Council    CouncilConfig    `json:"council" yaml:"council"`
}

// CouncilConfig controls the multi-reviewer council (spec §4.14). Members
// and Chairman name accounts the council calls out to; an empty Members
// list disables the council and leaves callers to fall back to a
// non-council verification method.
type CouncilConfig struct {
	Command  string        `json:"command" yaml:"command"`
	Members  []string      `json:"members" yaml:"members"`
	Chairman string        `json:"chairman" yaml:"chairman"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
}

// SLAConfig controls the stale-task scanner (spec §4.8).
type SLAConfig struct {
	ScanInterval         time.Duration `json:"scan_interval" yaml:"scan_interval"`
	PingAfter            time.Duration `json:"ping_after" yaml:"ping_after"`
	ReassignAfter        time.Duration `json:"reassign_after" yaml:"reassign_after"`
	BlockedEscalateAfter time.Duration `json:"blocked_escalate_after" yaml:"blocked_escalate_after"`
	ReviewPingAfter      time.Duration `json:"review_ping_after" yaml:"review_ping_after"`
}

// AdaptiveConfig controls the session-metrics-driven SLA engine (spec §4.9).
type AdaptiveConfig struct {
	PollInterval           time.Duration `json:"poll_interval" yaml:"poll_interval"`
	NoCheckpointAfter      time.Duration `json:"no_checkpoint_after" yaml:"no_checkpoint_after"`
	ContextSaturationRatio float64       `json:"context_saturation_ratio" yaml:"context_saturation_ratio"`
	DefaultWindowTokens    int           `json:"default_window_tokens" yaml:"default_window_tokens"`
	Cooldown               time.Duration `json:"cooldown" yaml:"cooldown"`
}

// BreakerConfig controls the circuit breaker (spec §4.10).
type BreakerConfig struct {
	ConsecutiveFailureLimit int           `json:"consecutive_failure_limit" yaml:"consecutive_failure_limit"`
	TrustDropWindow         time.Duration `json:"trust_drop_window" yaml:"trust_drop_window"`
	TrustDropThreshold      float64       `json:"trust_drop_threshold" yaml:"trust_drop_threshold"`
	UnresponsiveAfter       time.Duration `json:"unresponsive_after" yaml:"unresponsive_after"`
}

// WatchdogConfig controls the self-health probe (spec §4.16).
type WatchdogConfig struct {
	Interval       time.Duration `json:"interval" yaml:"interval"`
	MemoryLimitMiB uint64        `json:"memory_limit_mib" yaml:"memory_limit_mib"`
}

// AcceptanceConfig controls the acceptance-suite executor (spec §4.12).
type AcceptanceConfig struct {
	DefaultTimeout time.Duration `json:"default_timeout" yaml:"default_timeout"`
	MaxOutputBytes int           `json:"max_output_bytes" yaml:"max_output_bytes"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		HubDir: defaultHubDir(),
		SLA: SLAConfig{
			ScanInterval:         60 * time.Second,
			PingAfter:            30 * time.Minute,
			ReassignAfter:        60 * time.Minute,
			BlockedEscalateAfter: 15 * time.Minute,
			ReviewPingAfter:      10 * time.Minute,
		},
		Adaptive: AdaptiveConfig{
			PollInterval:           30 * time.Second,
			NoCheckpointAfter:      10 * time.Minute,
			ContextSaturationRatio: 0.80,
			DefaultWindowTokens:    200_000,
			Cooldown:               15 * time.Minute,
		},
		Breaker: BreakerConfig{
			ConsecutiveFailureLimit: 3,
			TrustDropWindow:         24 * time.Hour,
			TrustDropThreshold:      -20,
			UnresponsiveAfter:       30 * time.Minute,
		},
		Watchdog: WatchdogConfig{
			Interval:       30 * time.Second,
			MemoryLimitMiB: 1024,
		},
		Acceptance: AcceptanceConfig{
			DefaultTimeout: 30 * time.Second,
			MaxOutputBytes: 64 * 1024,
		},
		Council: CouncilConfig{
			Command: "claude",
			Timeout: 60 * time.Second,
		},
	}
}

func defaultHubDir() string {
	if v := os.Getenv("AGENTCTL_DIR"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultHubDirName
	}
	return filepath.Join(home, DefaultHubDirName)
}

// Load loads configuration with precedence env > <hub>/config.{json,yaml} >
// defaults. config.json is tried first; config.yaml is a fallback for
// operators who prefer YAML, matching how this project's other tooling
// round-trips its config-like files. A missing file of either name is not
// an error; it is equivalent to an empty file.
func Load() (*Config, error) {
	cfg := Default()

	fileCfg, err := loadFromPath(filepath.Join(cfg.HubDir, "config.json"), json.Unmarshal)
	if err != nil {
		return nil, err
	}
	if fileCfg == nil {
		fileCfg, err = loadFromPath(filepath.Join(cfg.HubDir, "config.yaml"), yaml.Unmarshal)
		if err != nil {
			return nil, err
		}
	}
	if fileCfg != nil {
		merge(cfg, fileCfg)
	}

	applyEnv(cfg)
	return cfg, nil
}

func loadFromPath(path string, unmarshal func([]byte, any) error) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var cfg Config
	if err := unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// merge overlays non-zero fields of src onto dst.
func merge(dst, src *Config) {
	if src.HubDir != "" {
		dst.HubDir = src.HubDir
	}
	if src.SLA.ScanInterval != 0 {
		dst.SLA.ScanInterval = src.SLA.ScanInterval
	}
	if src.SLA.PingAfter != 0 {
		dst.SLA.PingAfter = src.SLA.PingAfter
	}
	if src.SLA.ReassignAfter != 0 {
		dst.SLA.ReassignAfter = src.SLA.ReassignAfter
	}
	if src.SLA.BlockedEscalateAfter != 0 {
		dst.SLA.BlockedEscalateAfter = src.SLA.BlockedEscalateAfter
	}
	if src.SLA.ReviewPingAfter != 0 {
		dst.SLA.ReviewPingAfter = src.SLA.ReviewPingAfter
	}
	if src.Adaptive.PollInterval != 0 {
		dst.Adaptive.PollInterval = src.Adaptive.PollInterval
	}
	if src.Adaptive.NoCheckpointAfter != 0 {
		dst.Adaptive.NoCheckpointAfter = src.Adaptive.NoCheckpointAfter
	}
	if src.Adaptive.ContextSaturationRatio != 0 {
		dst.Adaptive.ContextSaturationRatio = src.Adaptive.ContextSaturationRatio
	}
	if src.Adaptive.DefaultWindowTokens != 0 {
		dst.Adaptive.DefaultWindowTokens = src.Adaptive.DefaultWindowTokens
	}
	if src.Adaptive.Cooldown != 0 {
		dst.Adaptive.Cooldown = src.Adaptive.Cooldown
	}
	if src.Breaker.ConsecutiveFailureLimit != 0 {
		dst.Breaker.ConsecutiveFailureLimit = src.Breaker.ConsecutiveFailureLimit
	}
	if src.Breaker.TrustDropWindow != 0 {
		dst.Breaker.TrustDropWindow = src.Breaker.TrustDropWindow
	}
	if src.Breaker.TrustDropThreshold != 0 {
		dst.Breaker.TrustDropThreshold = src.Breaker.TrustDropThreshold
	}
	if src.Breaker.UnresponsiveAfter != 0 {
		dst.Breaker.UnresponsiveAfter = src.Breaker.UnresponsiveAfter
	}
	if src.Watchdog.Interval != 0 {
		dst.Watchdog.Interval = src.Watchdog.Interval
	}
	if src.Watchdog.MemoryLimitMiB != 0 {
		dst.Watchdog.MemoryLimitMiB = src.Watchdog.MemoryLimitMiB
	}
	if src.Acceptance.DefaultTimeout != 0 {
		dst.Acceptance.DefaultTimeout = src.Acceptance.DefaultTimeout
	}
	if src.Acceptance.MaxOutputBytes != 0 {
		dst.Acceptance.MaxOutputBytes = src.Acceptance.MaxOutputBytes
	}
	if src.Council.Command != "" {
		dst.Council.Command = src.Council.Command
	}
	if len(src.Council.Members) != 0 {
		dst.Council.Members = src.Council.Members
	}
	if src.Council.Chairman != "" {
		dst.Council.Chairman = src.Council.Chairman
	}
	if src.Council.Timeout != 0 {
		dst.Council.Timeout = src.Council.Timeout
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("AGENTCTL_DIR"); v != "" {
		cfg.HubDir = v
	}
	if v := os.Getenv("AGENTCTL_SLA_SCAN_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SLA.ScanInterval = d
		}
	}
	if v := os.Getenv("AGENTCTL_WATCHDOG_MEMORY_LIMIT_MIB"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Watchdog.MemoryLimitMiB = n
		}
	}
}
