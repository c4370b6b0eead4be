package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rtcwatch/internal/profile"
)

var targetsInitOutput string

func init() {
	rootCmd.AddCommand(targetsCmd)
	targetsCmd.AddCommand(targetsListCmd)
	targetsCmd.AddCommand(targetsShowCmd)
	targetsCmd.AddCommand(targetsInitCmd)
	targetsInitCmd.Flags().StringVarP(&targetsInitOutput, "output", "o", "", "Output path (default: ~/.rtcwatch/profiles/<name>.yaml)")
}

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Manage target profiles",
	Long:  "List, inspect and create profiles: named sets of members to intercept.",
}

var targetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available target profiles",
	RunE:  runTargetsList,
}

var targetsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show the members a profile intercepts",
	Args:  cobra.ExactArgs(1),
	RunE:  runTargetsShow,
}

var targetsInitCmd = &cobra.Command{
	Use:   "init <name>",
	Short: "Generate a starter profile template",
	Args:  cobra.ExactArgs(1),
	RunE:  runTargetsInit,
}

func runTargetsList(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	names := profile.List()
	if len(names) == 0 {
		fmt.Fprintln(out, "No profiles available.")
		return nil
	}

	fmt.Fprintln(out, "Available profiles:")
	for _, name := range names {
		p, err := profile.Load(name)
		if err != nil {
			fmt.Fprintf(out, "  %-15s (error loading: %v)\n", name, err)
			continue
		}
		origin := "user"
		if profile.IsBuiltin(name) {
			origin = "built-in"
		}
		fmt.Fprintf(out, "  %-15s %-9s %3d targets  %s\n", name, origin, len(p.Targets), p.Description)
	}
	return nil
}

func runTargetsShow(cmd *cobra.Command, args []string) error {
	name := args[0]
	p, err := profile.Load(name)
	if err != nil {
		return fmt.Errorf("failed to load profile %q: %w", name, err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Profile: %s (%s)\n\n", p.Name, p.Description)
	for _, t := range p.Targets {
		line := fmt.Sprintf("  %-8s %s", t.Kind, t.Key())
		if t.Threshold > 0 {
			line += fmt.Sprintf("  (threshold %d)", t.Threshold)
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "To apply at runtime:")
	fmt.Fprintf(out, "  rtcwatch run --profile %s <script.js>\n", name)
	return nil
}

func runTargetsInit(cmd *cobra.Command, args []string) error {
	name := args[0]
	if profile.IsBuiltin(name) {
		return fmt.Errorf("%q is a built-in profile; choose another name", name)
	}

	outPath := targetsInitOutput
	if outPath == "" {
		dir, err := profile.Dir()
		if err != nil {
			return err
		}
		outPath = filepath.Join(dir, name+".yaml")
	}

	if _, err := os.Stat(outPath); err == nil {
		return fmt.Errorf("file already exists: %s (remove it first or use --output)", outPath)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(outPath, []byte(profile.InitProfile(name)), 0o644); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created profile template: %s\n", outPath)
	fmt.Fprintf(cmd.OutOrStdout(), "Edit it, then check with: rtcwatch targets show %s\n", name)
	return nil
}
