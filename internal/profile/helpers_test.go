package profile

import (
	"os"
	"path/filepath"
	"testing"
)

func writeUserProfile(t *testing.T, home, name, content string) {
	t.Helper()
	dir := filepath.Join(home, ".rtcwatch", "profiles")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
