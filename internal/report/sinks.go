package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Discard drops every record.
type Discard struct{}

// Deliver implements Sink.
func (Discard) Deliver(context.Context, Record) error { return nil }

// FuncSink adapts an in-process callback into a Sink.
type FuncSink func(ctx context.Context, rec Record) error

// Deliver implements Sink.
func (f FuncSink) Deliver(ctx context.Context, rec Record) error {
	if f == nil {
		return ErrSinkClosed
	}
	return f(ctx, rec)
}

// Tee delivers every record to each sink in order. All sinks are tried;
// their errors are joined.
func Tee(sinks ...Sink) Sink {
	return tee(sinks)
}

type tee []Sink

func (t tee) Deliver(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range t {
		if err := s.Deliver(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// JSONSink writes one JSON object per line.
type JSONSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONSink creates a JSON lines sink on w.
func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{enc: json.NewEncoder(w)}
}

// Deliver implements Sink.
func (s *JSONSink) Deliver(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return nil
}

// Buffer keeps records in memory.
type Buffer struct {
	mu      sync.Mutex
	records []Record
	closed  bool
}

// Deliver implements Sink.
func (b *Buffer) Deliver(_ context.Context, rec Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrSinkClosed
	}
	b.records = append(b.records, rec)
	return nil
}

// Records returns a copy of everything delivered so far.
func (b *Buffer) Records() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Record, len(b.records))
	copy(out, b.records)
	return out
}

// Len returns the number of delivered records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Close makes subsequent deliveries fail with ErrSinkClosed.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
