package model

import (
	"fmt"
	"strings"
)

// Kind selects which interceptor a target is installed with.
type Kind string

const (
	KindCall     Kind = "call"
	KindGet      Kind = "get"
	KindSet      Kind = "set"
	KindProperty Kind = "property" // getter and setter, whichever exist
)

// ParseKind validates a kind string from configuration.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindCall, KindGet, KindSet, KindProperty:
		return k, nil
	case "function", "method":
		return KindCall, nil
	case "":
		return "", fmt.Errorf("missing kind")
	default:
		return "", fmt.Errorf("unknown kind %q", s)
	}
}

// IsAccessor reports whether the kind targets a getter/setter pair.
func (k Kind) IsAccessor() bool {
	return k == KindGet || k == KindSet || k == KindProperty
}

// AccessType is the kind of access carried in a reported record.
type AccessType string

const (
	AccessCall AccessType = "call"
	AccessGet  AccessType = "get"
	AccessSet  AccessType = "set"
)

// InterceptTarget identifies one interceptable member of an owner type.
// Owner is the name of a global constructor whose prototype holds Member.
// Threshold overrides the engine default when non-zero.
type InterceptTarget struct {
	Owner     string `yaml:"owner"     json:"owner"`
	Member    string `yaml:"member"    json:"member"`
	Kind      Kind   `yaml:"kind"      json:"kind"`
	Threshold int    `yaml:"threshold,omitempty" json:"threshold,omitempty"`
}

// Key returns the target's AccessKey.
func (t InterceptTarget) Key() string {
	return AccessKey(t.Owner, t.Member)
}

// Validate checks that the target names an owner, a member, and a known kind.
func (t InterceptTarget) Validate() error {
	if t.Owner == "" {
		return fmt.Errorf("target %q: missing owner", t.Member)
	}
	if strings.Contains(t.Owner, ".") {
		return fmt.Errorf("target %q: owner must be a bare constructor name", t.Owner)
	}
	if t.Member == "" {
		return fmt.Errorf("target %s: missing member", t.Owner)
	}
	if _, err := ParseKind(string(t.Kind)); err != nil {
		return fmt.Errorf("target %s: %w", t.Key(), err)
	}
	if t.Threshold < 0 {
		return fmt.Errorf("target %s: negative threshold %d", t.Key(), t.Threshold)
	}
	return nil
}

// AccessKey derives the stable counter key and record description for a
// member. Owner names are global identifiers without dots, so keys from
// distinct owners never collide.
func AccessKey(owner, member string) string {
	return owner + "." + member
}

// CallDetails is one intercepted access as handed to the reporter.
// Field names follow the record shape consumed by downstream analysis.
type CallDetails struct {
	Description string     `json:"description"`
	AccessType  AccessType `json:"accessType"`
	Args        any        `json:"args"`
	RetVal      any        `json:"retVal,omitempty"`
	Source      string     `json:"source"`
}
