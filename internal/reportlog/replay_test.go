package reportlog

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/rtcwatch/internal/model"
	"github.com/ppiankov/rtcwatch/internal/report"
)

func seedLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reports.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	recs := []report.Record{
		testRecord(1, "RTCPeerConnection.onicecandidate", model.AccessSet, "https://a.example/fp.js"),
		testRecord(2, "RTCPeerConnection.createOffer", model.AccessCall, "https://a.example/fp.js"),
		testRecord(3, "RTCPeerConnection.onicecandidate", model.AccessGet, "https://b.example/lib.js"),
		testRecord(4, "RTCDataChannel.send", model.AccessCall, "UNKNOWN_SOURCE"),
	}
	recs[3].PageID = "page-2"
	for _, r := range recs {
		if err := l.Deliver(context.Background(), r); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func TestReplayAll(t *testing.T) {
	result, err := Replay(seedLog(t), Filter{})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	s := result.Summary
	if s.Total != 4 || s.Calls != 2 || s.Gets != 1 || s.Sets != 1 {
		t.Errorf("unexpected summary %+v", s)
	}
	if s.ByDescription["RTCPeerConnection.onicecandidate"] != 2 {
		t.Errorf("expected 2 onicecandidate entries, got %d", s.ByDescription["RTCPeerConnection.onicecandidate"])
	}
	want := []string{"UNKNOWN_SOURCE", "https://a.example/fp.js", "https://b.example/lib.js"}
	if strings.Join(s.Sources, ",") != strings.Join(want, ",") {
		t.Errorf("expected sources %v, got %v", want, s.Sources)
	}
}

func TestReplayFilters(t *testing.T) {
	path := seedLog(t)

	cases := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"description", Filter{Description: "onicecandidate"}, 2},
		{"source", Filter{Source: "a.example"}, 2},
		{"page", Filter{PageID: "page-2"}, 1},
		{"combined", Filter{Description: "createOffer", Source: "b.example"}, 0},
		{"future", Filter{From: time.Now().Add(time.Hour)}, 0},
		{"past", Filter{To: time.Now().Add(-time.Hour)}, 0},
	}
	for _, tc := range cases {
		result, err := Replay(path, tc.filter)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if len(result.Entries) != tc.want {
			t.Errorf("%s: expected %d entries, got %d", tc.name, tc.want, len(result.Entries))
		}
	}
}

func TestReplayMissingFile(t *testing.T) {
	if _, err := Replay(filepath.Join(t.TempDir(), "none.jsonl"), Filter{}); err == nil {
		t.Error("expected error for missing log")
	}
}

func TestTailKeepsLastEntries(t *testing.T) {
	result, err := Replay(seedLog(t), Filter{})
	if err != nil {
		t.Fatal(err)
	}
	tail := result.Tail(2)
	if len(tail.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(tail.Entries))
	}
	if tail.Entries[1].Description != "RTCDataChannel.send" {
		t.Errorf("expected last entry kept, got %s", tail.Entries[1].Description)
	}
	if tail.Summary.Total != 4 {
		t.Errorf("summary should cover all matches, got %d", tail.Summary.Total)
	}
	if len(result.Entries) != 4 {
		t.Error("tail must not modify the original result")
	}
	if got := result.Tail(0); len(got.Entries) != 4 {
		t.Errorf("tail 0 should keep everything, got %d", len(got.Entries))
	}
}

func TestFormatTimeline(t *testing.T) {
	result, err := Replay(seedLog(t), Filter{})
	if err != nil {
		t.Fatal(err)
	}
	out := FormatTimeline(result)
	for _, want := range []string{"Reports:", "CALL", "SET", "RTCDataChannel.send", "4 total (2 call, 1 get, 1 set) from 3 source(s)"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in timeline:\n%s", want, out)
		}
	}
}

func TestFormatTimelineEmpty(t *testing.T) {
	if got := FormatTimeline(&ReplayResult{}); got != "No entries found.\n" {
		t.Errorf("unexpected empty timeline %q", got)
	}
}

func TestFormatJSON(t *testing.T) {
	result, err := Replay(seedLog(t), Filter{Description: "send"})
	if err != nil {
		t.Fatal(err)
	}
	out, err := FormatJSON(result)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"accessType": "call"`) {
		t.Errorf("expected indented JSON entry, got %s", out)
	}
}
