package cli

import (
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// version is set by ldflags at build time.
var version = "dev"

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := json.MarshalIndent(buildInfo(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

// buildInfo reports the release version plus the VCS revision and the
// goja version the binary was built with, when the toolchain recorded them.
func buildInfo() map[string]string {
	info := map[string]string{
		"name":    "rtcwatch",
		"version": version,
		"go":      runtime.Version(),
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" {
			info["revision"] = s.Value
		}
	}
	for _, dep := range bi.Deps {
		if dep.Path == "github.com/dop251/goja" {
			info["goja"] = dep.Version
		}
	}
	return info
}
