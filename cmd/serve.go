package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/assetmin/internal/server"
	"github.com/conneroisu/assetmin/internal/site"
	"github.com/conneroisu/assetmin/internal/websocket"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the site with bundled resources and live reload",
	Long: `Start a development server rendering every HTML page below the root directory
with its stylesheets and scripts bundled. Locally published bundles are served
with immutable caching, and connected browsers reload whenever a source
changes.

Endpoints:
  /health      liveness and version
  /api/stats   bundle statistics
  /metrics     Prometheus metrics
  /ws          live reload WebSocket

Examples:
  assetmin serve                    Serve on localhost:8080
  assetmin serve --port 3000        Serve on another port
  assetmin serve --no-reload        Serve without watching for changes`,
	RunE: runServe,
}

var serveNoReload bool

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	serveCmd.Flags().String("host", "localhost", "host to bind to")
	serveCmd.Flags().BoolVar(&serveNoReload, "no-reload", false, "disable watching and live reload")
	bindFlag("server.port", serveCmd.Flags().Lookup("port"))
	bindFlag("server.host", serveCmd.Flags().Lookup("host"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(cmd, site.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := server.Config{
		Addr:        a.cfg.Addr(),
		BaseURL:     a.cfg.App.BaseURL,
		Site:        a.site,
		Coordinator: a.coordinator,
		Metrics:     a.metrics,
		Logger:      a.logger,
	}
	if a.local != nil {
		cfg.PublishDir = a.cfg.Publish.Dir
		cfg.PublishURL = a.cfg.Publish.URL
	}
	if !serveNoReload {
		origins := []string{a.cfg.Addr(), fmt.Sprintf("127.0.0.1:%d", a.cfg.Server.Port)}
		cfg.Reload = websocket.NewManager(origins, a.logger, a.metrics)
	}
	srv := server.New(cfg)

	if !serveNoReload {
		fw, err := a.watch(ctx, nil, func(ctx context.Context) {
			// Pages are rendered on request, so a change only needs the
			// browsers to fetch them again.
			srv.Reload("")
		})
		if err != nil {
			return err
		}
		defer fw.Stop()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Serving %s on http://%s%s/\n", a.cfg.App.RootDir, a.cfg.Addr(), a.cfg.App.BaseURL)
	return srv.Start(ctx)
}
