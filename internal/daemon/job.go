// Package daemon implements the rtcwatch inbox service. Scripts and page
// jobs arrive as files in the inbox directory, each is run in its own
// observed page, and a result summary is written to the outbox.
package daemon

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ppiankov/rtcwatch/internal/page"
)

// DefaultBaseURL prefixes bare .js inbox files so their call sites resolve.
const DefaultBaseURL = "https://inbox.rtcwatch.local"

// validID matches alphanumeric characters, dashes, and underscores only.
var validID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Job is one page dropped into the inbox. A .json file carries a Job; a
// bare .js file becomes a single-script Job.
type Job struct {
	ID        string        `json:"id"`
	Scripts   []page.Script `json:"scripts"`
	Threshold int           `json:"threshold,omitempty"`
	CreatedAt time.Time     `json:"created_at,omitempty"`
}

// Result is written to the outbox after a job's page has run.
type Result struct {
	ID          string       `json:"id"`
	Status      string       `json:"status"`
	Page        *page.Result `json:"page,omitempty"`
	Error       string       `json:"error,omitempty"`
	CompletedAt time.Time    `json:"completed_at"`
}

// Result status values.
const (
	ResultDone   = "done"
	ResultErrors = "script_errors"
	ResultFailed = "failed"
)

// JobFromScript wraps a bare script file. The script is loaded under
// baseURL + "/" + its file name.
func JobFromScript(path string, source []byte, baseURL string) *Job {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	name := filepath.Base(path)
	return &Job{
		ID:        jobID(path),
		Scripts:   []page.Script{{URL: strings.TrimRight(baseURL, "/") + "/" + name, Source: string(source)}},
		CreatedAt: time.Now().UTC(),
	}
}

// jobID derives an ID from a file name: the extension is stripped and any
// character outside [a-zA-Z0-9_-] becomes '-'.
func jobID(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, name)
}

// ValidateJob checks that a job has all required fields and safe values.
func ValidateJob(j *Job) error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if strings.Contains(j.ID, "..") {
		return fmt.Errorf("job ID must not contain '..'")
	}
	if !validID.MatchString(j.ID) {
		return fmt.Errorf("job ID contains invalid characters: only alphanumeric, dash, and underscore allowed")
	}
	if len(j.Scripts) == 0 {
		return fmt.Errorf("job has no scripts")
	}
	for i, s := range j.Scripts {
		if s.URL == "" {
			return fmt.Errorf("scripts[%d]: url is required", i)
		}
	}
	if j.Threshold < 0 {
		return fmt.Errorf("negative threshold %d", j.Threshold)
	}
	return nil
}
