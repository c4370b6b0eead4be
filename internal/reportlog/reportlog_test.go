package reportlog

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/rtcwatch/internal/model"
	"github.com/ppiankov/rtcwatch/internal/report"
)

func newTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reports.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open report log: %v", err)
	}
	return l, path
}

func testRecord(seq int64, desc string, access model.AccessType, source string) report.Record {
	return report.Record{
		Seq:       seq,
		Timestamp: time.Now().UTC().Format(report.TimeFormat),
		PageID:    "page-1",
		CallDetails: model.CallDetails{
			Description: desc,
			AccessType:  access,
			Args:        []any{"x", map[string]any{"b": 1, "a": 2}},
			Source:      source,
		},
	}
}

func writeRecords(t *testing.T, l *Log, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		rec := testRecord(int64(i+1), "RTCPeerConnection.createOffer", model.AccessCall, "https://a.example/fp.js")
		if err := l.Deliver(context.Background(), rec); err != nil {
			t.Fatalf("deliver %d: %v", i, err)
		}
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func writeLines(t *testing.T, path string, lines []string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestSequentialWritesProduceValidChain(t *testing.T) {
	l, path := newTestLog(t)
	writeRecords(t, l, 5)
	l.Close()

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid chain, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 5 {
		t.Fatalf("expected 5 lines, got %d", result.Lines)
	}
}

func TestFirstEntryReferencesGenesis(t *testing.T) {
	l, path := newTestLog(t)
	writeRecords(t, l, 1)
	l.Close()

	var e Entry
	if err := json.Unmarshal([]byte(readLines(t, path)[0]), &e); err != nil {
		t.Fatal(err)
	}
	if e.PrevHash != GenesisHash {
		t.Errorf("expected genesis prev_hash, got %s", e.PrevHash)
	}
	if e.Description != "RTCPeerConnection.createOffer" || e.PageID != "page-1" {
		t.Errorf("record fields not carried: %+v", e)
	}
}

func TestVerifyDetectsTamperedEntry(t *testing.T) {
	l, path := newTestLog(t)
	writeRecords(t, l, 3)
	l.Close()

	lines := readLines(t, path)
	lines[1] = strings.Replace(lines[1], "fp.js", "ok.js", 1)
	writeLines(t, path, lines)

	result := Verify(path)
	if result.Valid {
		t.Fatal("expected tampered chain to be invalid")
	}
	if result.ErrorLine != 3 {
		t.Fatalf("expected error at line 3, got line %d", result.ErrorLine)
	}
}

func TestVerifyDetectsDeletedEntry(t *testing.T) {
	l, path := newTestLog(t)
	writeRecords(t, l, 3)
	l.Close()

	lines := readLines(t, path)
	writeLines(t, path, []string{lines[0], lines[2]})

	result := Verify(path)
	if result.Valid {
		t.Fatal("expected chain with deleted entry to be invalid")
	}
	if result.ErrorLine != 2 {
		t.Fatalf("expected error at line 2, got line %d", result.ErrorLine)
	}
}

func TestVerifyDetectsBadGenesis(t *testing.T) {
	l, path := newTestLog(t)
	writeRecords(t, l, 2)
	l.Close()

	lines := readLines(t, path)
	writeLines(t, path, lines[1:])

	result := Verify(path)
	if result.Valid || result.ErrorLine != 1 {
		t.Fatalf("expected genesis failure at line 1, got %+v", result)
	}
}

func TestVerifyDetectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	writeLines(t, path, []string{"not json"})

	result := Verify(path)
	if result.Valid || result.ErrorLine != 1 {
		t.Fatalf("expected parse error at line 1, got %+v", result)
	}
}

func TestVerifyMissingFile(t *testing.T) {
	result := Verify(filepath.Join(t.TempDir(), "missing.jsonl"))
	if result.Valid || result.Error == "" {
		t.Fatalf("expected open error, got %+v", result)
	}
}

func TestReopenContinuesChain(t *testing.T) {
	l, path := newTestLog(t)
	writeRecords(t, l, 2)
	l.Close()

	l2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	writeRecords(t, l2, 2)
	l2.Close()

	result := Verify(path)
	if !result.Valid || result.Lines != 4 {
		t.Fatalf("expected valid 4-line chain after reopen, got %+v", result)
	}
}

func TestConcurrentDeliveriesKeepChain(t *testing.T) {
	l, path := newTestLog(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := testRecord(int64(i), "RTCDataChannel.send", model.AccessCall, "https://a.example/fp.js")
			if err := l.Deliver(context.Background(), rec); err != nil {
				t.Errorf("deliver: %v", err)
			}
		}(i)
	}
	wg.Wait()
	l.Close()

	result := Verify(path)
	if !result.Valid || result.Lines != 10 {
		t.Fatalf("expected valid 10-line chain, got %+v", result)
	}
}

func TestDeliverAfterClose(t *testing.T) {
	l, _ := newTestLog(t)
	l.Close()

	err := l.Deliver(context.Background(), testRecord(1, "a.b", model.AccessCall, ""))
	if !errors.Is(err, report.ErrSinkClosed) {
		t.Fatalf("expected ErrSinkClosed, got %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}

func TestHeadMatchesVerify(t *testing.T) {
	l, path := newTestLog(t)
	if l.Head() != GenesisHash {
		t.Fatalf("new log head = %s, want genesis", l.Head())
	}
	writeRecords(t, l, 3)
	head := l.Head()
	l.Close()

	result := Verify(path)
	if !result.Valid || result.Head != head {
		t.Fatalf("verify head %s, log head %s (%+v)", result.Head, head, result)
	}
}

func TestReopenLargeLogUsesLastLine(t *testing.T) {
	l, path := newTestLog(t)
	// Well past one backwards-read chunk.
	writeRecords(t, l, 200)
	head := l.Head()
	l.Close()

	l2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()
	if l2.Head() != head {
		t.Fatalf("reopened head %s, want %s", l2.Head(), head)
	}
}

func TestVerifyReportsLinesBeforeBreak(t *testing.T) {
	l, path := newTestLog(t)
	writeRecords(t, l, 4)
	l.Close()

	lines := readLines(t, path)
	writeLines(t, path, append(lines[:2], lines[3]))

	result := Verify(path)
	if result.Valid || result.ErrorLine != 3 || result.Lines != 2 {
		t.Fatalf("expected 2 intact lines then a break at 3, got %+v", result)
	}
}
