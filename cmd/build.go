package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/assetmin/internal/build"
	"github.com/conneroisu/assetmin/internal/site"
)

var buildCmd = &cobra.Command{
	Use:   "build [pages...]",
	Short: "Render pages with their resources bundled",
	Long: `Render every configured page, or the pages given as glob patterns relative
to the root directory, replacing the local stylesheets and scripts each page
declares with published bundles.

HTML pages have their <link rel="stylesheet"> and <script src> tags replaced.
YAML manifests (.yml, .yaml) list the groups of a page and are written back
with bundle URLs.

Examples:
  assetmin build                    Render the pages configured in app.pages
  assetmin build 'blog/*.html'      Render the matching pages only
  assetmin build --out dist         Write the rendered pages to dist
  assetmin build --format json      Print the report as JSON`,
	RunE: runBuild,
}

var (
	buildOut     string
	buildFormat  string
	buildWorkers int
)

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().StringVarP(&buildOut, "out", "o", "dist", "directory receiving the rendered pages (empty discards them)")
	buildCmd.Flags().StringVarP(&buildFormat, "format", "f", "text", "report format (text, json, yaml)")
	buildCmd.Flags().IntVarP(&buildWorkers, "workers", "w", 0, "pages built concurrently (0 uses every CPU)")
	buildCmd.Flags().Bool("fail-on-error", false, "fail when a declared resource cannot be bundled")
	bindFlag("minify.fail_on_error", buildCmd.Flags().Lookup("fail-on-error"))
}

// buildReport is the machine readable outcome of a build.
type buildReport struct {
	Pages    []site.Result `json:"pages" yaml:"pages"`
	Stats    build.Stats   `json:"stats" yaml:"stats"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

func runBuild(cmd *cobra.Command, args []string) error {
	switch buildFormat {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unsupported format %q (use text, json or yaml)", buildFormat)
	}

	a, err := setup(cmd, site.Options{Pages: args, OutDir: buildOut, Workers: buildWorkers})
	if err != nil {
		return err
	}
	defer a.Close()

	start := time.Now()
	results, err := a.site.BuildAll(cmd.Context())
	if err != nil {
		return err
	}

	report := buildReport{
		Pages:    results,
		Stats:    a.coordinator.Stats(),
		Duration: time.Since(start),
	}
	if err := writeReport(cmd.OutOrStdout(), buildFormat, report); err != nil {
		return err
	}

	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d pages failed", failed, len(results))
	}
	return nil
}

func writeReport(w io.Writer, format string, report buildReport) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	}

	title := cases.Title(language.English)
	for _, r := range report.Pages {
		if r.Err != nil {
			fmt.Fprintf(w, "✗ %s: %s\n", r.Path, r.Error)
			continue
		}
		fmt.Fprintf(w, "✓ %s (%s)\n", r.Path, r.Duration.Round(time.Millisecond))
		if r.Page == nil {
			continue
		}
		if urls := r.Page.CSS.URLs(); len(urls) > 0 {
			fmt.Fprintf(w, "    %-8s %s\n", "CSS", strings.Join(urls, ", "))
		}
		for _, pos := range r.Page.Positions() {
			if urls := r.Page.Script(pos).URLs(); len(urls) > 0 {
				fmt.Fprintf(w, "    %-8s %s\n", title.String(pos.String()), strings.Join(urls, ", "))
			}
		}
	}

	s := report.Stats
	fmt.Fprintf(w, "\n%d pages in %s\n", len(report.Pages), report.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Bundles: %d built, %d reused, %d failed\n", s.Builds, s.Hits, s.Failures)
	fmt.Fprintf(w, "Intermediates: %d temporary files, %d stylesheets rewritten\n", s.TempFiles, s.Rewrites)
	return nil
}
