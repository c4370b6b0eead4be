// Package reportlog is an append-only, tamper-evident record of reported
// accesses: one JSON line per record, each carrying the hash of the line
// before it.
package reportlog

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ppiankov/rtcwatch/internal/report"
)

// GenesisHash is the prev_hash of the first entry.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// maxLine bounds one JSONL line; exported values are depth-limited but
// strings inside them are not.
const maxLine = 4 << 20

// Log appends hash-chained entries to a JSONL file. It is a report.Sink
// and safe for concurrent use; entries are synced before Deliver returns.
type Log struct {
	mu   sync.Mutex
	path string
	file *os.File
	head string // hash of the last line written
}

// Open opens path for appending, creating it and its directory if needed.
// An existing log is continued from its last line.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("reportlog: create directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("reportlog: open file: %w", err)
	}

	head := GenesisHash
	last, err := lastLine(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("reportlog: read existing log: %w", err)
	}
	if last != nil {
		head = HashLine(last)
	}
	return &Log{path: path, file: file, head: head}, nil
}

// lastLine returns the final non-empty line of f, reading backwards from
// the end so reopening a large log stays cheap.
func lastLine(f *os.File) ([]byte, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	end := info.Size()
	const chunk = 8 << 10
	var tail []byte
	for end > 0 {
		n := int64(chunk)
		if end < n {
			n = end
		}
		buf := make([]byte, n)
		if _, err := f.ReadAt(buf, end-n); err != nil && err != io.EOF {
			return nil, err
		}
		end -= n
		tail = append(buf, tail...)

		trimmed := bytes.TrimRight(tail, "\n")
		if i := bytes.LastIndexByte(trimmed, '\n'); i >= 0 {
			return trimmed[i+1:], nil
		}
		if len(tail) > maxLine {
			return nil, fmt.Errorf("last line exceeds %d bytes", maxLine)
		}
	}
	trimmed := bytes.TrimRight(tail, "\n")
	if len(trimmed) == 0 {
		return nil, nil
	}
	return trimmed, nil
}

// Deliver implements report.Sink.
func (l *Log) Deliver(_ context.Context, rec report.Record) error {
	return l.Append(entryFor(rec))
}

// Append chains entry onto the log. A missing timestamp is set to now.
func (l *Log) Append(entry Entry) error {
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(report.TimeFormat)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return report.ErrSinkClosed
	}

	entry.PrevHash = l.head
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("reportlog: marshal entry: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("reportlog: write entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("reportlog: sync: %w", err)
	}
	l.head = HashLine(line)
	return nil
}

func (l *Log) Path() string { return l.path }

// Head returns the hash the next entry will carry as prev_hash.
func (l *Log) Head() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head
}

// Close closes the file; later deliveries fail with report.ErrSinkClosed.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// HashLine returns "sha256:<hex>" of line.
func HashLine(line []byte) string {
	sum := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func newScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64<<10), maxLine)
	return s
}
