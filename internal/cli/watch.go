package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/memlens/internal/cli/helpers"
	"github.com/coral-mesh/memlens/internal/liveness"
	"github.com/coral-mesh/memlens/internal/memory"
	"github.com/coral-mesh/memlens/internal/retry"
)

func newWatchCmd(opts *globalOptions) *cobra.Command {
	var (
		reconnect bool
		interval  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the target, rescanning its memory map until it exits",
		Long: `Attach and poll the target for liveness. After every successful check the
address space is rescanned and changes to the segment list are reported.

With --reconnect, memlens waits for the target to start (using the
attach_retry backoff from the configuration) and reattaches after it exits.
Press Ctrl-C to stop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("interval") {
				env.cfg.Liveness.Interval = interval
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			w := &watcher{env: env, cmd: cmd, reconnect: reconnect}
			err = w.run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&reconnect, "reconnect", false, "Wait for the target and reattach after it exits")
	cmd.Flags().DurationVar(&interval, "interval", memory.DefaultLivenessInterval, "Liveness poll interval")

	return cmd
}

// watcher drives the attach, monitor, reattach cycle.
type watcher struct {
	env       *environment
	cmd       *cobra.Command
	reconnect bool
}

func (w *watcher) retryConfig() retry.Config {
	rc := w.env.cfg.AttachRetry
	return retry.Config{
		MaxRetries:     rc.MaxRetries,
		InitialBackoff: rc.InitialBackoff,
		MaxBackoff:     rc.MaxBackoff,
		Jitter:         0.1,
	}
}

// attach connects once, or keeps retrying while the target is absent when
// reconnecting.
func (w *watcher) attach(ctx context.Context) (*memory.Session, error) {
	if !w.reconnect {
		return w.env.attach(ctx)
	}

	var sess *memory.Session
	err := retry.DoNotify(ctx, w.retryConfig(), func() error {
		s, err := w.env.attach(ctx)
		if err != nil {
			return err
		}
		sess = s
		return nil
	}, func(err error) bool {
		return errors.Is(err, memory.ErrProcessNotFound)
	}, func(attempt int, err error, wait time.Duration) {
		w.env.logger.Info().
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("Target not running, waiting")
	})
	return sess, err
}

func (w *watcher) run(ctx context.Context) error {
	for {
		sess, err := w.attach(ctx)
		if err != nil {
			return err
		}

		err = w.follow(ctx, sess)
		if cerr := sess.Detach(); cerr != nil {
			w.env.logger.Warn().Err(cerr).Msg("Failed to detach from target")
		}
		if !errors.Is(err, liveness.ErrDisconnected) || !w.reconnect {
			return err
		}
		w.cmd.Println(helpers.Warn("Target exited, waiting for it to restart"))
	}
}

// follow monitors one session until the target exits or ctx is done.
func (w *watcher) follow(ctx context.Context, sess *memory.Session) error {
	w.cmd.Print(renderAttachReport(newAttachReport(sess)))

	digest := sess.Regions().Digest()
	monitor := liveness.NewMonitor(sess, w.env.logger)
	monitor.OnTick(func() {
		summary := sess.Rescan()
		next := sess.Regions().Digest()
		if next == digest {
			return
		}
		digest = next
		lo, hi := sess.Bounds()
		w.cmd.Printf("%s memory map changed: %d segments, %s - %s\n",
			time.Now().Format("15:04:05"), summary.Accepted,
			helpers.FormatAddress(lo), helpers.FormatAddress(hi))
	})

	live := sess.Liveness()
	if !live.Enabled {
		<-ctx.Done()
		return ctx.Err()
	}

	return monitor.Run(ctx, live.Interval)
}
