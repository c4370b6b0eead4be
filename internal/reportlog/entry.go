package reportlog

import (
	"github.com/ppiankov/rtcwatch/internal/model"
	"github.com/ppiankov/rtcwatch/internal/report"
)

// Entry is one line in the hash-chained JSONL report log.
// Args and RetVal hold exported runtime values; maps marshal with sorted
// keys, so re-marshalling an entry is deterministic.
type Entry struct {
	Timestamp   string           `json:"ts"`
	PageID      string           `json:"page_id,omitempty"`
	Seq         int64            `json:"seq"`
	Description string           `json:"description"`
	AccessType  model.AccessType `json:"accessType"`
	Args        any              `json:"args"`
	RetVal      any              `json:"retVal,omitempty"`
	Source      string           `json:"source"`
	PrevHash    string           `json:"prev_hash"`
}

func entryFor(rec report.Record) Entry {
	return Entry{
		Timestamp:   rec.Timestamp,
		PageID:      rec.PageID,
		Seq:         rec.Seq,
		Description: rec.Description,
		AccessType:  rec.AccessType,
		Args:        rec.Args,
		RetVal:      rec.RetVal,
		Source:      rec.Source,
	}
}
