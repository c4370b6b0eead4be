package reportlog

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/rtcwatch/internal/model"
	"github.com/ppiankov/rtcwatch/internal/report"
)

// Filter selects entries from a report log. Empty fields match everything.
type Filter struct {
	PageID      string
	Description string // substring match
	Source      string // substring match
	From        time.Time
	To          time.Time
}

// Summary holds access counts for a replayed log.
type Summary struct {
	Total          int            `json:"total"`
	Calls          int            `json:"calls"`
	Gets           int            `json:"gets"`
	Sets           int            `json:"sets"`
	ByDescription  map[string]int `json:"by_description"`
	Sources        []string       `json:"sources"`
	FirstTimestamp string         `json:"first_timestamp"`
	LastTimestamp  string         `json:"last_timestamp"`
}

// ReplayResult holds filtered entries and their summary.
type ReplayResult struct {
	Entries []Entry `json:"entries"`
	Summary Summary `json:"summary"`
}

// Replay reads the report log and returns entries matching the filter.
func Replay(path string, filter Filter) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open report log: %w", err)
	}
	defer f.Close()

	result := &ReplayResult{Summary: Summary{ByDescription: make(map[string]int)}}
	sources := make(map[string]bool)

	scanner := newScanner(f)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue // skip malformed lines
		}
		if !filter.matches(entry) {
			continue
		}
		result.Entries = append(result.Entries, entry)
		updateSummary(&result.Summary, entry)
		sources[entry.Source] = true
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read report log: %w", err)
	}

	for s := range sources {
		result.Summary.Sources = append(result.Summary.Sources, s)
	}
	sort.Strings(result.Summary.Sources)
	return result, nil
}

// Tail keeps only the last n entries of r. n <= 0 keeps everything.
// The summary still describes every matched entry.
func (r *ReplayResult) Tail(n int) *ReplayResult {
	if n <= 0 || len(r.Entries) <= n {
		return r
	}
	out := *r
	out.Entries = r.Entries[len(r.Entries)-n:]
	return &out
}

func (f Filter) matches(e Entry) bool {
	if f.PageID != "" && e.PageID != f.PageID {
		return false
	}
	if f.Description != "" && !strings.Contains(e.Description, f.Description) {
		return false
	}
	if f.Source != "" && !strings.Contains(e.Source, f.Source) {
		return false
	}
	if !f.From.IsZero() || !f.To.IsZero() {
		ts, err := time.Parse(report.TimeFormat, e.Timestamp)
		if err != nil {
			return false
		}
		if !f.From.IsZero() && ts.Before(f.From) {
			return false
		}
		if !f.To.IsZero() && ts.After(f.To) {
			return false
		}
	}
	return true
}

func updateSummary(s *Summary, e Entry) {
	s.Total++
	switch e.AccessType {
	case model.AccessCall:
		s.Calls++
	case model.AccessGet:
		s.Gets++
	case model.AccessSet:
		s.Sets++
	}
	s.ByDescription[e.Description]++

	if s.FirstTimestamp == "" {
		s.FirstTimestamp = e.Timestamp
	}
	s.LastTimestamp = e.Timestamp
}
