package cmd

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conneroisu/assetmin/internal/fingerprint"
	"github.com/conneroisu/assetmin/internal/resource"
	"github.com/conneroisu/assetmin/internal/site"
)

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint <url>...",
	Short: "Show the bundle an ordered set of resources maps to",
	Long: `Resolve the given resource URLs the way a page build does and print the
fingerprint of the resulting file set together with the bundle file name.

The fingerprint changes when the set, its order or the newest modification
time of its files changes.

Examples:
  assetmin fingerprint /css/a.css /css/b.css
  assetmin fingerprint --kind js /js/app.js --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFingerprint,
}

var (
	fingerprintKind string
	fingerprintJSON bool
)

func init() {
	rootCmd.AddCommand(fingerprintCmd)

	fingerprintCmd.Flags().StringVarP(&fingerprintKind, "kind", "k", "", "resource kind (css, js); derived from the first URL when empty")
	fingerprintCmd.Flags().BoolVar(&fingerprintJSON, "json", false, "print as JSON")
}

// fingerprintOutput describes the bundle of a file set.
type fingerprintOutput struct {
	Key     string   `json:"key"`
	Bundle  string   `json:"bundle"`
	Path    string   `json:"path"`
	Files   []string `json:"files"`
	Missing []string `json:"missing,omitempty"`
}

func runFingerprint(cmd *cobra.Command, args []string) error {
	name := fingerprintKind
	if name == "" {
		name = strings.TrimPrefix(path.Ext(strings.SplitN(args[0], "?", 2)[0]), ".")
	}
	kind, ok := resource.ParseKind(name)
	if !ok {
		return fmt.Errorf("cannot tell the resource kind from %q, use --kind", name)
	}

	a, err := setup(cmd, site.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	files, missing, err := a.builder.ResolveFiles(cmd.Context(), args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("none of the %d resources exist", len(args))
	}

	out := fingerprintOutput{Missing: missing}
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	out.Files = paths

	fp, err := fingerprint.Compute(paths)
	if err != nil {
		return err
	}
	out.Key = fp.String()
	out.Bundle = fp.BundleName(a.cfg.Minify.MinSuffix, kind.Ext())
	out.Path = a.builder.BundlePath(out.Bundle)

	w := cmd.OutOrStdout()
	if fingerprintJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Fprintf(w, "Key:    %s\n", out.Key)
	fmt.Fprintf(w, "Bundle: %s\n", out.Bundle)
	fmt.Fprintf(w, "Path:   %s\n", out.Path)
	fmt.Fprintf(w, "Newest: %s\n", fp.Time().UTC().Format("2006-01-02 15:04:05 UTC"))
	for _, url := range missing {
		fmt.Fprintf(w, "Missing: %s\n", url)
	}
	return nil
}
