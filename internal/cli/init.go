package cli

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rtcwatch/internal/config"
	"github.com/ppiankov/rtcwatch/internal/daemon"
	"github.com/ppiankov/rtcwatch/internal/systemd"
)

var (
	initMode           string
	initInstallSystemd bool
	initForce          bool
	initSystemdDir     = "/etc/systemd/system"
)

func init() {
	initCmd.Flags().StringVar(&initMode, "mode", "user", "Config location: user (~/.rtcwatch) or system (/etc/rtcwatch)")
	initCmd.Flags().BoolVar(&initInstallSystemd, "install-systemd", false, "Install rtcwatch-watch@ and rtcwatch-collector units (requires root)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config files")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap rtcwatch configuration and optional systemd integration",
	Long: `Creates the config directory with a commented config.yaml and a profiles
directory. In user mode the inbox, outbox and state directories used by
'rtcwatch watch' are created too.

User mode (default):  ~/.rtcwatch/
System mode:          /etc/rtcwatch/ (requires root); inboxes live under
                      /var/lib/rtcwatch/<name>, created by systemd

With --install-systemd: installs rtcwatch-watch@.service and
rtcwatch-collector.service, so an inbox can be watched via:
  systemctl enable --now rtcwatch-watch@<name>`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	configDir, err := initConfigDir()
	if err != nil {
		return err
	}
	if initInstallSystemd {
		if runtime.GOOS != "linux" {
			return fmt.Errorf("--install-systemd is only supported on Linux")
		}
		if os.Geteuid() != 0 {
			return fmt.Errorf("--install-systemd requires root; run with sudo")
		}
	}

	if err := os.MkdirAll(filepath.Join(configDir, "profiles"), 0o755); err != nil {
		return fmt.Errorf("create profiles directory: %w", err)
	}
	if initMode != "system" {
		if err := daemon.EnsureDirs(daemon.DirsUnder(configDir)); err != nil {
			return err
		}
	}

	files := map[string]string{filepath.Join(configDir, "config.yaml"): config.DefaultYAML()}
	if initInstallSystemd {
		for name, unit := range systemd.Units() {
			files[filepath.Join(initSystemdDir, name)] = unit
		}
	}
	created, err := writeAll(files)
	if err != nil {
		return err
	}
	if initInstallSystemd {
		if err := exec.Command("systemctl", "daemon-reload").Run(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: systemctl daemon-reload failed: %v\n", err)
		}
	}

	printInitSummary(os.Stdout, configDir, created)
	return nil
}

// writeAll writes each file with writeIfMissing, in path order, and
// returns the paths actually written.
func writeAll(files map[string]string) ([]string, error) {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var created []string
	for _, p := range paths {
		wrote, err := writeIfMissing(p, files[p])
		if err != nil {
			return created, err
		}
		if wrote {
			created = append(created, p)
		}
	}
	return created, nil
}

func printInitSummary(w io.Writer, configDir string, created []string) {
	fmt.Fprintln(w, "rtcwatch init complete.")
	fmt.Fprintln(w)
	if len(created) == 0 {
		fmt.Fprintln(w, "All files already exist (use --force to overwrite).")
	} else {
		fmt.Fprintln(w, "Created:")
		for _, p := range created {
			fmt.Fprintf(w, "  %s\n", p)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Observe a script:")
	fmt.Fprintln(w, "  rtcwatch run <script.js>")
	switch {
	case initInstallSystemd:
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Watch an inbox as a service:")
		fmt.Fprintln(w, "  sudo systemctl enable --now rtcwatch-watch@<name>")
	case initMode != "system":
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Or drop scripts into %s and run:\n", daemon.DirsUnder(configDir).Inbox)
		fmt.Fprintln(w, "  rtcwatch watch")
	}
}

// initConfigDir returns the configuration directory for --mode.
func initConfigDir() (string, error) {
	switch initMode {
	case "system":
		return "/etc/rtcwatch", nil
	case "user", "":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(home, ".rtcwatch"), nil
	}
	return "", fmt.Errorf("unknown mode %q: use 'user' or 'system'", initMode)
}

// writeIfMissing writes content to path unless it exists and --force is
// unset. Reports whether it wrote.
func writeIfMissing(path, content string) (bool, error) {
	if _, err := os.Stat(path); err == nil && !initForce {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create directory %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
