package webhook

import "time"

// Config defines a webhook destination for report records.
type Config struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack"
	Members []string          `yaml:"members" json:"members"` // description prefixes; empty sends everything
	Headers map[string]string `yaml:"headers" json:"headers"`
	Timeout time.Duration     `yaml:"timeout" json:"timeout"`
}
