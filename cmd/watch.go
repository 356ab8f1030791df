package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/assetmin/internal/site"
	"github.com/conneroisu/assetmin/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Rebuild pages whenever a source changes",
	Long: `Render the configured pages, then watch the root directory and render them
again whenever a stylesheet, script, page or manifest changes.

The work directory, the publish directory and the output directory are never
watched, so writing bundles does not trigger another build.`,
	RunE: runWatch,
}

var watchOut string

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVarP(&watchOut, "out", "o", "dist", "directory receiving the rendered pages")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(cmd, site.Options{OutDir: watchOut})
	if err != nil {
		return err
	}
	defer a.Close()

	a.rebuild(ctx)

	fw, err := a.watch(ctx, []string{watchOut}, func(ctx context.Context) {
		a.rebuild(ctx)
	})
	if err != nil {
		return err
	}
	defer fw.Stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s for changes (Ctrl+C to stop)\n", a.cfg.App.RootDir)
	<-ctx.Done()
	return nil
}

// rebuild renders every page and logs the pages that failed.
func (a *app) rebuild(ctx context.Context) []site.Result {
	results, err := a.site.BuildAll(ctx)
	if err != nil {
		a.logger.Error(ctx, err, "Build failed")
		return nil
	}
	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
			a.logger.Error(ctx, r.Err, "Page build failed", "page", r.Path)
		}
	}
	stats := a.coordinator.Stats()
	a.logger.Info(ctx, "Pages built",
		"pages", len(results),
		"failed", failed,
		"bundles_built", stats.Builds,
		"bundles_reused", stats.Hits,
	)
	return results
}

// watch starts a watcher over the root directory calling changed after every
// batch of relevant changes. The directories the app writes to, and the
// extra ones given, are ignored.
func (a *app) watch(ctx context.Context, extra []string, changed func(context.Context)) (*watcher.FileWatcher, error) {
	fw, err := watcher.NewFileWatcher(a.cfg.Watch.Debounce, a.logger, a.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	dirs := append([]string{a.cfg.App.WorkDir}, extra...)
	if a.local != nil {
		dirs = append(dirs, a.cfg.Publish.Dir)
	}
	ignored := slices.Clone(a.cfg.Watch.Ignore)
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if abs, err := filepath.Abs(dir); err == nil {
			ignored = append(ignored, abs)
		}
	}

	fw.AddFilter(watcher.AssetFilter)
	fw.AddFilter(watcher.IgnoreFilter(ignored...))
	fw.AddHandler(func(ctx context.Context, events []watcher.ChangeEvent) error {
		a.logger.Info(ctx, "Sources changed", "files", len(events), "first", events[0].Path)
		a.builder.InvalidateCache()
		changed(ctx)
		return nil
	})

	if err := fw.AddRecursive(a.cfg.App.RootDir, a.cfg.Watch.Ignore...); err != nil {
		fw.Stop()
		return nil, fmt.Errorf("failed to watch %s: %w", a.cfg.App.RootDir, err)
	}
	if err := fw.Start(ctx); err != nil {
		fw.Stop()
		return nil, err
	}
	return fw, nil
}
