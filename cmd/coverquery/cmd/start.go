package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/coverquery/coverquery/internal/config"
	"github.com/coverquery/coverquery/internal/watcher"
)

// newStartCmd creates the start command.
func newStartCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Watch the project and re-run coverage on source changes",
		Long: `Run the suite under coverage once, then keep watching the
configured paths. Source file changes trigger a debounced re-run and
re-index, so the working-revision view in the store tracks the tree.

Stop with Ctrl-C.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				errorf(cmd, "%v", err)
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := runAndIndex(cmd, cfg, nil, false); err != nil {
				return err
			}
			if once {
				return nil
			}
			return watchLoop(ctx, cmd, cfg)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Run and index once, then exit without watching")

	return cmd
}

// watchLoop blocks watching the project, re-running coverage on each
// debounced batch of source changes, until the context is cancelled.
func watchLoop(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	paths := cfg.ResolveWatchPaths()
	fmt.Fprintf(cmd.OutOrStdout(), "Watching %d paths (debounce %s)\n", len(paths), cfg.DebounceWindow())

	// Fan all per-path watchers into one trigger channel so a change in
	// any watched tree causes exactly one re-run per debounce window.
	changed := make(chan int, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	for _, p := range paths {
		w, err := watcher.New(watcher.Options{
			DebounceWindow: cfg.DebounceWindow(),
		}, slog.Default())
		if err != nil {
			errorf(cmd, "%v", err)
			return err
		}

		g.Go(func() error {
			defer w.Stop()
			err := w.Start(ctx, p)
			if err == context.Canceled {
				return nil
			}
			return err
		})
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case err, ok := <-w.Errors():
					if !ok {
						return nil
					}
					slog.Warn("watcher error", "error", err)
				case batch, ok := <-w.Events():
					if !ok {
						return nil
					}
					select {
					case changed <- len(batch):
					default:
					}
				}
			}
		})
	}

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case n := <-changed:
				slog.Info("source changes detected", "files", n)
				fmt.Fprintf(cmd.OutOrStdout(), "%d files changed, re-running coverage\n", n)
				if err := runAndIndex(cmd, cfg, nil, false); err != nil {
					// A failed run should not kill the watch loop.
					slog.Error("re-run failed", "error", err)
				}
			}
		}
	})

	return g.Wait()
}
