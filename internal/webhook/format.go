package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/ppiankov/rtcwatch/internal/report"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, rec report.Record) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(rec)
	default:
		return formatGeneric(rec)
	}
}

func formatGeneric(rec report.Record) ([]byte, error) {
	return json.Marshal(rec)
}

func formatSlack(rec report.Record) ([]byte, error) {
	args, err := json.Marshal(rec.Args)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("rtcwatch: %s %s", rec.AccessType, rec.Description),
				},
			},
			map[string]any{
				"type": "section",
				"fields": []any{
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Source:* %s", rec.Source)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Page:* %s #%d", rec.PageID, rec.Seq)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Args:* `%s`", truncate(string(args), 200))},
				},
			},
		},
	}
	return json.Marshal(payload)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
