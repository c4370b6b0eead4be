// Package webhook posts report records to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/rtcwatch/internal/report"
)

const defaultTimeout = 5 * time.Second

// Sink posts each record as one request. Delivery is synchronous and is
// not retried; a failed post is returned to the reporter.
type Sink struct {
	cfg    Config
	client *http.Client
}

// New creates a webhook sink.
func New(cfg Config) (*Sink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook: url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Sink{cfg: cfg, client: &http.Client{Timeout: timeout}}, nil
}

// Deliver implements report.Sink. Records whose description matches none
// of the configured member prefixes are accepted without a request.
func (s *Sink) Deliver(ctx context.Context, rec report.Record) error {
	if !matches(s.cfg.Members, rec.Description) {
		return nil
	}

	body, err := FormatPayload(s.cfg.Format, rec)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook rejected: HTTP %d", resp.StatusCode)
	}
	return nil
}

func matches(prefixes []string, description string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(description, p) {
			return true
		}
	}
	return false
}
