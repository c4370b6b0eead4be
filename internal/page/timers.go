package page

import (
	"container/heap"
	"fmt"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// maxTimers caps how many callbacks one Load may run, so a script that
// keeps rescheduling itself still terminates.
const maxTimers = 10000

// timerQueue is a virtual clock: callbacks run in due order as soon as the
// script finishes, without real waiting.
type timerQueue struct {
	now     int64
	nextID  int64
	pending timerHeap
	live    map[int64]bool
}

type timer struct {
	id   int64
	due  int64
	fn   goja.Callable
	args []goja.Value
}

func newTimerQueue() *timerQueue {
	return &timerQueue{live: make(map[int64]bool)}
}

func (q *timerQueue) add(fn goja.Callable, delay int64, args []goja.Value) int64 {
	if delay < 0 {
		delay = 0
	}
	q.nextID++
	heap.Push(&q.pending, &timer{id: q.nextID, due: q.now + delay, fn: fn, args: args})
	q.live[q.nextID] = true
	return q.nextID
}

func (q *timerQueue) cancel(id int64) {
	delete(q.live, id)
}

func (q *timerQueue) reset() {
	q.pending = nil
	q.live = make(map[int64]bool)
}

// drain runs pending callbacks. A callback that throws does not stop the
// others; the first such error is returned once the queue is empty.
func (q *timerQueue) drain(log *zap.Logger) error {
	var first error
	for ran := 0; q.pending.Len() > 0; ran++ {
		if ran >= maxTimers {
			log.Warn("timer limit reached", zap.Int("dropped", q.pending.Len()))
			q.reset()
			break
		}
		t := heap.Pop(&q.pending).(*timer)
		if !q.live[t.id] {
			continue
		}
		delete(q.live, t.id)
		q.now = t.due
		if _, err := t.fn(goja.Undefined(), t.args...); err != nil {
			if _, ok := err.(*goja.InterruptedError); ok {
				return err
			}
			log.Debug("timer callback failed", zap.Int64("timer", t.id), zap.Error(err))
			if first == nil {
				first = fmt.Errorf("timer %d: %w", t.id, err)
			}
		}
	}
	return first
}

type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].due != h[j].due {
		return h[i].due < h[j].due
	}
	return h[i].id < h[j].id
}
func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) { *h = append(*h, x.(*timer)) }

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	*h = old[:n-1]
	return t
}
