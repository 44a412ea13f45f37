// Package config loads the memlens configuration file and applies
// environment variable overrides.
package config

import (
	"time"

	"github.com/coral-mesh/memlens/internal/sys/procmem"
)

// Config is the top-level configuration stored at ~/.memlens/config.yaml.
type Config struct {
	Version     string         `yaml:"version"`
	Target      TargetConfig   `yaml:"target"`
	Liveness    LivenessConfig `yaml:"liveness"`
	Layouts     LayoutsConfig  `yaml:"layouts"`
	Logging     LoggingConfig  `yaml:"logging"`
	Accessor    AccessorConfig `yaml:"accessor"`
	AttachRetry RetryConfig    `yaml:"attach_retry"`
}

// TargetConfig describes how the target process is found.
type TargetConfig struct {
	// DefaultLinkBase overrides the preferred image load address of the
	// layout when non-zero.
	DefaultLinkBase uint64 `yaml:"default_link_base,omitempty" env:"MEMLENS_DEFAULT_LINK_BASE"`

	// ProcessName, when set, is tried before Criteria.
	ProcessName string `yaml:"process_name,omitempty" env:"MEMLENS_PROCESS_NAME"`

	// Criteria are tried in order until one resolves to a process.
	Criteria []procmem.Matcher `yaml:"criteria"`
}

// LivenessConfig controls the target liveness poll.
type LivenessConfig struct {
	Enabled  bool          `yaml:"enabled" env:"MEMLENS_LIVENESS_ENABLED"`
	Interval time.Duration `yaml:"interval" env:"MEMLENS_LIVENESS_INTERVAL"`
}

// LayoutsConfig locates the layout catalogue.
type LayoutsConfig struct {
	Path string `yaml:"path" env:"MEMLENS_LAYOUTS_PATH"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"MEMLENS_LOG_LEVEL"`
	Pretty bool   `yaml:"pretty" env:"MEMLENS_LOG_PRETTY"`
}

// AccessorConfig configures remote reads and writes.
type AccessorConfig struct {
	// Strict turns short writes into errors.
	Strict bool `yaml:"strict" env:"MEMLENS_STRICT"`
}

// RetryConfig is the backoff used while waiting for the target.
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries" env:"MEMLENS_ATTACH_RETRIES"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}
