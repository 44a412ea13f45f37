package config

import (
	"time"

	"github.com/coral-mesh/memlens/internal/sys/procmem"
)

const (
	// DefaultDir is the configuration directory under the user's home.
	DefaultDir = ".memlens"

	// ConfigFile is the configuration file name.
	ConfigFile = "config.yaml"

	// LayoutsFile is the default layout catalogue file name.
	LayoutsFile = "layouts.yaml"

	// SchemaVersion is the current configuration schema version.
	SchemaVersion = "1"
)

// DefaultCriteria are the discovery matchers for Dwarf Fortress builds,
// from most to least specific.
func DefaultCriteria() []procmem.Matcher {
	return []procmem.Matcher{
		{WindowClass: "OpenGL", WindowTitle: "Dwarf Fortress"},
		{WindowClass: "SDL_app", WindowTitle: "Dwarf Fortress"},
		{WindowTitle: "Dwarf Fortress"},
		{ProcessName: "Dwarf Fortress.exe"},
	}
}

// DefaultConfig returns the configuration used when no file exists.
// The layouts path is left empty and resolved by the loader. A zero link
// base defers to the layout, which defaults to layout.DefaultLinkBase.
func DefaultConfig() *Config {
	return &Config{
		Version: SchemaVersion,
		Target: TargetConfig{
			Criteria: DefaultCriteria(),
		},
		Liveness: LivenessConfig{
			Enabled:  true,
			Interval: time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
		AttachRetry: RetryConfig{
			MaxRetries:     5,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
		},
	}
}
