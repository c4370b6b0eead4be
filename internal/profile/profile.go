package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/rtcwatch/internal/model"
)

// Profile is a named, reusable list of intercept targets.
type Profile struct {
	Name        string                  `yaml:"name"`
	Description string                  `yaml:"description"`
	Targets     []model.InterceptTarget `yaml:"targets"`
}

// Dir returns ~/.rtcwatch/profiles, where user profiles live.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".rtcwatch", "profiles"), nil
}

// IsBuiltin reports whether name is compiled into the binary.
func IsBuiltin(name string) bool {
	_, ok := builtinProfiles[name]
	return ok
}

// Load returns a built-in profile, or <Dir>/<name>.yaml (or .yml).
// Built-ins cannot be shadowed by user files.
func Load(name string) (*Profile, error) {
	if data, ok := builtinProfiles[name]; ok {
		return parse(name, data)
	}

	dir, err := Dir()
	if err != nil {
		return nil, fmt.Errorf("profile %q not found (%v)", name, err)
	}
	for _, ext := range []string{".yaml", ".yml"} {
		data, err := os.ReadFile(filepath.Join(dir, name+ext))
		if err == nil {
			return parse(name, data)
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read profile %q: %w", name, err)
		}
	}
	return nil, fmt.Errorf("profile %q not found", name)
}

// parse decodes and validates a profile. Kind aliases such as "function"
// are normalized so the engine only sees canonical kinds.
func parse(name string, data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile %q: %w", name, err)
	}
	for i := range p.Targets {
		k, err := model.ParseKind(string(p.Targets[i].Kind))
		if err != nil {
			return nil, fmt.Errorf("profile %q: targets[%d]: %w", name, i, err)
		}
		p.Targets[i].Kind = k
	}
	if err := Validate(&p); err != nil {
		return nil, fmt.Errorf("profile %q: %w", name, err)
	}
	return &p, nil
}

// List returns the sorted names of built-in and user profiles.
func List() []string {
	names := make([]string, 0, len(builtinProfiles))
	for name := range builtinProfiles {
		names = append(names, name)
	}
	if dir, err := Dir(); err == nil {
		if entries, err := os.ReadDir(dir); err == nil {
			for _, e := range entries {
				ext := filepath.Ext(e.Name())
				if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
					continue
				}
				if name := strings.TrimSuffix(e.Name(), ext); !IsBuiltin(name) {
					names = append(names, name)
				}
			}
		}
	}
	sort.Strings(names)
	return compact(names)
}

// compact drops adjacent duplicates (a user profile saved as both .yaml
// and .yml).
func compact(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks that a profile is named and every target is complete.
func Validate(p *Profile) error {
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	if len(p.Targets) == 0 {
		return fmt.Errorf("profile %q has no targets", p.Name)
	}
	for i, t := range p.Targets {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("targets[%d]: %w", i, err)
		}
	}
	return nil
}

// Merge returns the profile's targets followed by extra. Order is preserved;
// a later entry for the same key is installed over the earlier one.
func Merge(p *Profile, extra []model.InterceptTarget) []model.InterceptTarget {
	var base []model.InterceptTarget
	if p != nil {
		base = p.Targets
	}
	out := make([]model.InterceptTarget, 0, len(base)+len(extra))
	out = append(out, base...)
	return append(out, extra...)
}
