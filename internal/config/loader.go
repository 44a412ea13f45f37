package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/memlens/internal/privilege"
	"github.com/coral-mesh/memlens/internal/safe"
	"github.com/coral-mesh/memlens/internal/sys/procmem"
)

// EnvConfigDir overrides the configuration directory.
const EnvConfigDir = "MEMLENS_CONFIG"

// Loader handles loading and saving the configuration file.
type Loader struct {
	dir     string
	homeDir string
	lookup  LookupFunc
}

// NewLoader creates a config loader.
// The configuration directory is resolved in this order:
//  1. MEMLENS_CONFIG environment variable.
//  2. ~/.memlens of the invoking user, even under sudo.
//  3. ~/.memlens of the current user.
//  4. A directory under the system temp dir, so defaults and env overrides
//     still apply where no home directory exists.
func NewLoader() (*Loader, error) {
	l := &Loader{lookup: os.LookupEnv}

	if u, err := privilege.DetectOriginalUser(); err == nil && u.HomeDir != "" {
		l.homeDir = u.HomeDir
	} else if home, err := os.UserHomeDir(); err == nil {
		l.homeDir = home
	}

	switch {
	case os.Getenv(EnvConfigDir) != "":
		l.dir = os.Getenv(EnvConfigDir)
	case l.homeDir != "":
		l.dir = filepath.Join(l.homeDir, DefaultDir)
	default:
		l.dir = filepath.Join(os.TempDir(), "memlens-fallback")
	}
	return l, nil
}

// NewLoaderAt creates a loader rooted at dir that reads overrides from
// lookup. A leading ~ in configured paths expands to the parent of dir.
func NewLoaderAt(dir string, lookup LookupFunc) *Loader {
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}
	return &Loader{dir: dir, homeDir: filepath.Dir(dir), lookup: lookup}
}

// Dir returns the configuration directory.
func (l *Loader) Dir() string {
	return l.dir
}

// ConfigPath returns the path to the configuration file.
func (l *Loader) ConfigPath() string {
	return filepath.Join(l.dir, ConfigFile)
}

// DefaultLayoutsPath returns the layout catalogue used when none is configured.
func (l *Loader) DefaultLayoutsPath() string {
	return filepath.Join(l.dir, LayoutsFile)
}

// Load reads the configuration. Layers apply in order: defaults, the
// config file when present, then environment variables. The result is
// validated.
func (l *Loader) Load() (*Config, error) {
	return l.LoadFile(l.ConfigPath())
}

// LoadFile is Load with an explicit configuration file.
func (l *Loader) LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := safe.ReadFile(path, &safe.ReadFileOptions{AllowSymlinks: true})
	switch {
	case err == nil:
		// Lists in the file replace the defaults rather than appending.
		cfg.Target.Criteria = nil
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := LoadFromLookup(cfg, l.lookup); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if cfg.Layouts.Path == "" {
		cfg.Layouts.Path = l.DefaultLayoutsPath()
	}
	cfg.Layouts.Path = l.expandHome(cfg.Layouts.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to the configuration file, creating the directory.
func (l *Loader) Save(cfg *Config) error {
	//nolint:gosec // G301: Directory needs standard permissions for traversal.
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	//nolint:gosec // G306: The config file holds no secrets.
	if err := os.WriteFile(l.ConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (l *Loader) expandHome(path string) string {
	if l.homeDir == "" {
		return path
	}
	if path == "~" {
		return l.homeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(l.homeDir, path[2:])
	}
	return path
}

// Matchers returns the discovery criteria with the ProcessName override first.
func (c *Config) Matchers() []procmem.Matcher {
	out := make([]procmem.Matcher, 0, len(c.Target.Criteria)+1)
	if c.Target.ProcessName != "" {
		out = append(out, procmem.Matcher{ProcessName: c.Target.ProcessName})
	}
	return append(out, c.Target.Criteria...)
}
