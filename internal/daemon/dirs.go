package daemon

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

const dirPerm = 0750

// DirConfig is the daemon's on-disk layout. State holds processing/ (jobs
// whose page is running) and done/ (job sources after their run).
type DirConfig struct {
	Inbox  string
	Outbox string
	State  string
}

// DirsUnder lays out inbox, outbox and state side by side under root.
func DirsUnder(root string) DirConfig {
	return DirConfig{
		Inbox:  filepath.Join(root, "inbox"),
		Outbox: filepath.Join(root, "outbox"),
		State:  filepath.Join(root, "state"),
	}
}

// DefaultDirConfig returns the layout under ~/.rtcwatch.
func DefaultDirConfig() DirConfig {
	if home, err := os.UserHomeDir(); err == nil {
		return DirsUnder(filepath.Join(home, ".rtcwatch"))
	}
	return DirsUnder(".rtcwatch")
}

func (d DirConfig) ProcessingDir() string { return filepath.Join(d.State, "processing") }

func (d DirConfig) DoneDir() string { return filepath.Join(d.State, "done") }

// Validate requires all three directories and keeps them apart. Results
// are .json files, so an outbox inside the inbox would feed every result
// back in as a job.
func (d DirConfig) Validate() error {
	if d.Inbox == "" || d.Outbox == "" || d.State == "" {
		return fmt.Errorf("inbox, outbox, and state directories are required")
	}
	named := map[string]string{"inbox": d.Inbox, "outbox": d.Outbox, "state": d.State}
	for a, pa := range named {
		for b, pb := range named {
			if a != b && within(pa, pb) {
				return fmt.Errorf("%s %s must not be inside %s %s", a, pa, b, pb)
			}
		}
	}
	return nil
}

// within reports whether path is dir or below it.
func within(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// EnsureDirs creates every directory in the layout. Idempotent.
func EnsureDirs(cfg DirConfig) error {
	for _, dir := range []string{cfg.Inbox, cfg.Outbox, cfg.ProcessingDir(), cfg.DoneDir()} {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// moveFile renames src to dst. Across devices (an inbox on a bind mount)
// it stages a copy next to dst, renames it into place, then removes src,
// so dst never appears half-written.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Remove(src)
}
