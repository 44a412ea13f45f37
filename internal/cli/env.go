package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/memlens/internal/cli/helpers"
	"github.com/coral-mesh/memlens/internal/config"
	"github.com/coral-mesh/memlens/internal/layout"
	"github.com/coral-mesh/memlens/internal/logging"
	"github.com/coral-mesh/memlens/internal/memory"
	"github.com/coral-mesh/memlens/internal/privilege"
	"github.com/coral-mesh/memlens/internal/sys/procmem"
)

// newSystem returns the process backend.
var newSystem = procmem.Native

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configDir string
	logLevel  string
	pretty    bool
	strict    bool
	process   string
	linkBase  uint64
	layouts   string
}

func (o *globalOptions) bind(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&o.configDir, "config-dir", "", "Configuration directory (default ~/.memlens or $"+config.EnvConfigDir+")")
	flags.StringVar(&o.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	flags.BoolVar(&o.pretty, "pretty", false, "Human-readable log output")
	flags.BoolVar(&o.strict, "strict", false, "Report short writes as errors")
	flags.StringVarP(&o.process, "process", "p", "", "Target executable name, tried before the configured criteria")
	flags.Var(helpers.NewAddressValue(0, &o.linkBase), "link-base", "Override the preferred image load address")
	flags.StringVar(&o.layouts, "layouts", "", "Layout catalogue path")
}

// environment is the resolved configuration of one command invocation.
type environment struct {
	cfg      *config.Config
	logger   zerolog.Logger
	registry *layout.StaticRegistry
}

func (o *globalOptions) loader() (*config.Loader, error) {
	if o.configDir != "" {
		return config.NewLoaderAt(o.configDir, os.LookupEnv), nil
	}
	loader, err := config.NewLoader()
	if err != nil {
		return nil, fmt.Errorf("failed to create config loader: %w", err)
	}
	return loader, nil
}

// load resolves configuration as defaults < file < environment < flags.
func (o *globalOptions) load(cmd *cobra.Command) (*environment, error) {
	loader, err := o.loader()
	if err != nil {
		return nil, err
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Logging.Level = o.logLevel
	}
	if flags.Changed("pretty") {
		cfg.Logging.Pretty = o.pretty
	}
	if flags.Changed("strict") {
		cfg.Accessor.Strict = o.strict
	}
	if flags.Changed("process") {
		cfg.Target.ProcessName = o.process
	}
	if flags.Changed("link-base") {
		cfg.Target.DefaultLinkBase = o.linkBase
	}
	if flags.Changed("layouts") {
		cfg.Layouts.Path = o.layouts
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
		Output: cmd.ErrOrStderr(),
	})

	registry, err := layout.LoadFile(cfg.Layouts.Path)
	if err != nil {
		return nil, err
	}
	logger.Debug().
		Str("path", cfg.Layouts.Path).
		Int("layouts", len(registry.Fingerprints())).
		Msg("Layout catalogue loaded")

	return &environment{cfg: cfg, logger: logger, registry: registry}, nil
}

// attachOptions converts the configuration into attach options.
func (e *environment) attachOptions() memory.AttachOptions {
	return memory.AttachOptions{
		Criteria:        e.cfg.Matchers(),
		DefaultLinkBase: e.cfg.Target.DefaultLinkBase,
		Liveness: memory.Liveness{
			Enabled:  e.cfg.Liveness.Enabled,
			Interval: e.cfg.Liveness.Interval,
		},
		Accessor: memory.AccessorOptions{Strict: e.cfg.Accessor.Strict},
	}
}

// attach opens a session on the configured target. Access failures carry
// a platform hint.
func (e *environment) attach(ctx context.Context) (*memory.Session, error) {
	attacher := memory.NewAttacher(newSystem(), e.registry, e.logger)
	sess, err := attacher.Attach(ctx, e.attachOptions())
	if err != nil {
		if errors.Is(err, memory.ErrAccessDenied) {
			if hint := privilege.AccessHint(); hint != "" {
				return nil, fmt.Errorf("%w (%s)", err, hint)
			}
		}
		return nil, err
	}
	return sess, nil
}

// resolve parses an address argument, relocating it when requested.
func resolve(sess *memory.Session, arg string, relocate bool) (uint64, error) {
	addr, err := helpers.ParseAddress(arg)
	if err != nil {
		return 0, err
	}
	if relocate {
		return sess.Corrected(addr), nil
	}
	return addr, nil
}
