package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/assetmin/internal/version"
)

var (
	versionFormat string
	versionShort  bool
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display the version, commit, build time, Go version and platform of this
binary.

Examples:
  assetmin version                 Show detailed version info
  assetmin version --short         Show the short version only
  assetmin version --format json   Output as JSON`,
	RunE: runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().StringVarP(&versionFormat, "format", "f", "text", "output format (text, json)")
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "show the short version only")
}

func runVersion(cmd *cobra.Command, args []string) error {
	info := version.Get()
	w := cmd.OutOrStdout()

	switch versionFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			version.BuildInfo
			IsRelease bool `json:"is_release"`
		}{info, info.IsRelease()})
	case "text":
		if versionShort {
			fmt.Fprintln(w, info.Short())
			return nil
		}
		fmt.Fprintln(w, info.String())
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json)", versionFormat)
	}
}
