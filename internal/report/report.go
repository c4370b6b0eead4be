// Package report delivers intercepted-access records to a single sink.
package report

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ppiankov/rtcwatch/internal/model"
)

// TimeFormat is the timestamp layout used in every record.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// ErrSinkClosed is returned by sinks that no longer accept records.
var ErrSinkClosed = errors.New("report: sink closed")

// Record is the envelope delivered to sinks: the call details plus the page
// they came from and their order within it.
type Record struct {
	Seq       int64  `json:"seq"`
	Timestamp string `json:"ts"`
	PageID    string `json:"page_id,omitempty"`
	model.CallDetails
}

// Sink receives records. Delivery is synchronous; a returned error means the
// record was not accepted.
type Sink interface {
	Deliver(ctx context.Context, rec Record) error
}

// Reporter forwards call details to one sink with no buffering and no retry.
type Reporter struct {
	ctx    context.Context
	sink   Sink
	pageID string
	seq    atomic.Int64
	ok     atomic.Int64
	now    func() time.Time
}

// NewReporter creates a Reporter for one page. A nil sink discards.
func NewReporter(ctx context.Context, sink Sink, pageID string) *Reporter {
	if ctx == nil {
		ctx = context.Background()
	}
	if sink == nil {
		sink = Discard{}
	}
	return &Reporter{
		ctx:    ctx,
		sink:   sink,
		pageID: pageID,
		now:    time.Now,
	}
}

// Report wraps d in a Record and delivers it. Sink errors are returned to the
// caller unchanged apart from wrapping.
func (r *Reporter) Report(d model.CallDetails) error {
	rec := Record{
		Seq:         r.seq.Add(1),
		Timestamp:   r.now().UTC().Format(TimeFormat),
		PageID:      r.pageID,
		CallDetails: d,
	}
	if err := r.sink.Deliver(r.ctx, rec); err != nil {
		return fmt.Errorf("report %s (%s): %w", d.Description, d.AccessType, err)
	}
	r.ok.Add(1)
	return nil
}

// Delivered returns how many records the sink accepted.
func (r *Reporter) Delivered() int64 {
	return r.ok.Load()
}

// Attempted returns how many records were handed to the sink.
func (r *Reporter) Attempted() int64 {
	return r.seq.Load()
}
