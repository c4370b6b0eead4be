package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/rtcwatch/internal/intercept"
	"github.com/ppiankov/rtcwatch/internal/model"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Threshold != 100 {
		t.Errorf("expected threshold 100, got %d", cfg.Threshold)
	}
	if cfg.Verbose {
		t.Error("diagnostics should be off by default")
	}
	if cfg.Profile != "webrtc" {
		t.Errorf("expected webrtc profile, got %s", cfg.Profile)
	}
	if cfg.Sink.Type != SinkStdout {
		t.Errorf("expected stdout sink, got %s", cfg.Sink.Type)
	}
	if cfg.ErrorPolicy() != intercept.ReportErrorsThrow {
		t.Errorf("expected throw policy, got %s", cfg.ErrorPolicy())
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Threshold != 100 {
		t.Errorf("expected defaults, got threshold %d", cfg.Threshold)
	}
}

func TestLoadEmptyPathUsesHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".rtcwatch")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("threshold: 7\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Threshold != 7 {
		t.Errorf("expected threshold 7 from home config, got %d", cfg.Threshold)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
threshold: 3
verbose: true
report_errors: log
sink:
  type: sqlite
  path: /tmp/reports.db
  timeout: 2s
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Threshold != 3 {
		t.Errorf("expected threshold 3, got %d", cfg.Threshold)
	}
	if !cfg.Verbose {
		t.Error("expected verbose")
	}
	if cfg.Profile != "webrtc" {
		t.Errorf("unspecified profile should keep default, got %q", cfg.Profile)
	}
	if cfg.ErrorPolicy() != intercept.ReportErrorsLog {
		t.Errorf("expected log policy, got %s", cfg.ErrorPolicy())
	}
	if cfg.Sink.Type != SinkSQLite || cfg.Sink.Path != "/tmp/reports.db" {
		t.Errorf("unexpected sink %+v", cfg.Sink)
	}
	if cfg.Sink.Timeout != 2*time.Second {
		t.Errorf("expected 2s timeout, got %s", cfg.Sink.Timeout)
	}
	lc := cfg.Logger()
	if !lc.Verbose || lc.Level != "debug" {
		t.Errorf("unexpected logger config %+v", lc)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "threshold: [unclosed\n")
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadRejectsUnknownKind(t *testing.T) {
	path := writeConfig(t, `
targets:
  - owner: RTCPeerConnection
    member: close
    kind: delete
`)
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for unknown target kind")
	}
}

func TestLoadRejectsBadPolicyAndThreshold(t *testing.T) {
	for _, content := range []string{"report_errors: ignore\n", "threshold: 0\n"} {
		if _, err := LoadConfig(writeConfig(t, content)); err == nil {
			t.Errorf("expected error for %q", content)
		}
	}
}

func TestLoadNormalizesKindAliases(t *testing.T) {
	path := writeConfig(t, `
targets:
  - owner: RTCPeerConnection
    member: close
    kind: function
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Targets[0].Kind != model.KindCall {
		t.Errorf("expected alias normalized to call, got %s", cfg.Targets[0].Kind)
	}
}

func TestResolveTargetsAppendsExtras(t *testing.T) {
	path := writeConfig(t, `
targets:
  - owner: RTCPeerConnection
    member: close
    kind: call
    threshold: 2
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	targets, err := cfg.ResolveTargets()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(targets) != 11 {
		t.Fatalf("expected 10 profile targets plus 1 extra, got %d", len(targets))
	}
	last := targets[len(targets)-1]
	if last.Key() != "RTCPeerConnection.close" || last.Threshold != 2 {
		t.Errorf("expected extra target last, got %+v", last)
	}
}

func TestResolveTargetsWithoutProfile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Profile = ""
	cfg.Targets = []model.InterceptTarget{{Owner: "A", Member: "b", Kind: model.KindCall}}
	targets, err := cfg.ResolveTargets()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(targets) != 1 {
		t.Errorf("expected only extra targets, got %d", len(targets))
	}
}

func TestResolveTargetsUnknownProfile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg := DefaultConfig()
	cfg.Profile = "does-not-exist"
	if _, err := cfg.ResolveTargets(); err == nil {
		t.Error("expected error for unknown profile")
	}
}

func TestDefaultYAMLMatchesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, DefaultYAML()))
	if err != nil {
		t.Fatalf("default template does not load: %v", err)
	}
	def := DefaultConfig()
	if cfg.Threshold != def.Threshold || cfg.Profile != def.Profile || cfg.Sink.Type != def.Sink.Type {
		t.Errorf("template diverges from defaults: %+v", cfg)
	}
	if cfg.ReportErrors != def.ReportErrors || cfg.LogFormat != def.LogFormat {
		t.Errorf("template diverges from defaults: %+v", cfg)
	}
	if len(cfg.Targets) != 0 {
		t.Errorf("expected no extra targets, got %d", len(cfg.Targets))
	}
}
