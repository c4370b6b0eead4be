package reportlog

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ppiankov/rtcwatch/internal/report"
)

// FormatTimeline renders entries grouped under a heading per page, in log
// order, followed by per-member totals.
func FormatTimeline(result *ReplayResult) string {
	if len(result.Entries) == 0 {
		return "No entries found.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Reports: %s to %s UTC\n",
		reformat(result.Summary.FirstTimestamp, time.DateTime),
		reformat(result.Summary.LastTimestamp, time.TimeOnly))

	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	page := "\x00"
	for _, e := range result.Entries {
		if e.PageID != page {
			page = e.PageID
			name := page
			if name == "" {
				name = "(no page id)"
			}
			fmt.Fprintf(tw, "\n[%s]\n", name)
		}
		fmt.Fprintf(tw, "  %s\t#%d\t%s\t%s\t%s\n",
			reformat(e.Timestamp, time.TimeOnly),
			e.Seq,
			strings.ToUpper(string(e.AccessType)),
			clip(e.Description, 48),
			clip(e.Source, 64))
	}
	tw.Flush()

	b.WriteString("\n")
	writeSummary(&b, result.Summary)
	return b.String()
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay result: %w", err)
	}
	return string(data), nil
}

// writeSummary lists members by descending count, then name.
func writeSummary(b *strings.Builder, s Summary) {
	fmt.Fprintf(b, "Summary: %d total (%d call, %d get, %d set) from %d source(s)\n",
		s.Total, s.Calls, s.Gets, s.Sets, len(s.Sources))

	members := make([]string, 0, len(s.ByDescription))
	for m := range s.ByDescription {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		ci, cj := s.ByDescription[members[i]], s.ByDescription[members[j]]
		return ci > cj || (ci == cj && members[i] < members[j])
	})
	for _, m := range members {
		fmt.Fprintf(b, "  %6d  %s\n", s.ByDescription[m], m)
	}
}

// reformat re-lays a record timestamp, leaving unparsable input as is.
func reformat(ts, layout string) string {
	t, err := time.Parse(report.TimeFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format(layout)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
