package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	// settleDelay is how long the inbox must stay quiet before queued
	// files are dispatched. Script drops usually arrive in bursts.
	settleDelay = 200 * time.Millisecond

	// defaultWorkers bounds concurrent pages; each one owns a goja runtime.
	defaultWorkers = 4

	// queueDepth must exceed the worker count so a burst flush does not
	// stall the event loop.
	queueDepth = 200

	pollDefault = 5 * time.Second
)

// workerPool runs a handler over queued paths on a fixed set of goroutines.
// A panicking handler is logged and the worker moves on.
type workerPool struct {
	queue   chan string
	wg      sync.WaitGroup
	handler func(path string)
	log     *zap.Logger
}

func newWorkerPool(n int, handler func(path string), log *zap.Logger) *workerPool {
	p := &workerPool{
		queue:   make(chan string, queueDepth),
		handler: handler,
		log:     log,
	}
	p.wg.Add(n)
	for range n {
		go p.work()
	}
	return p
}

func (p *workerPool) work() {
	defer p.wg.Done()
	for path := range p.queue {
		p.run(path)
	}
}

func (p *workerPool) run(path string) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("job panicked", zap.String("path", path), zap.Any("panic", r))
		}
	}()
	p.handler(path)
}

// submit queues path, giving up when ctx is done.
func (p *workerPool) submit(ctx context.Context, path string) bool {
	select {
	case p.queue <- path:
		return true
	case <-ctx.Done():
		return false
	}
}

// stop closes the queue and waits for in-flight jobs.
func (p *workerPool) stop() {
	close(p.queue)
	p.wg.Wait()
}

// InboxWatcher dispatches job files created in the inbox to a worker pool,
// using filesystem notifications.
type InboxWatcher struct {
	inbox   string
	handler func(path string)
	settle  time.Duration
	workers int
	log     *zap.Logger
}

// NewInboxWatcher creates a watcher for the inbox directory. workers <= 0
// selects the default pool size.
func NewInboxWatcher(inbox string, handler func(path string), workers int, log *zap.Logger) *InboxWatcher {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &InboxWatcher{inbox: inbox, handler: handler, settle: settleDelay, workers: workers, log: log}
}

// Run blocks until ctx is cancelled. Files still waiting to settle are
// dispatched before it returns, and running jobs are allowed to finish.
func (w *InboxWatcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fsw.Close() }()
	if err := fsw.Add(w.inbox); err != nil {
		return err
	}

	pool := newWorkerPool(w.workers, w.handler, w.log)
	pending := make(map[string]struct{})

	// Only this goroutine touches pending; the timer just signals.
	settled := time.NewTimer(w.settle)
	settled.Stop()

	dispatch := func() {
		for _, path := range sortedKeys(pending) {
			if !pool.submit(ctx, path) {
				break
			}
		}
		clear(pending)
	}
	defer func() {
		settled.Stop()
		dispatch()
		pool.stop()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-settled.C:
			dispatch()

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			// Moves out of the inbox fire Rename/Remove; only arrivals count.
			if !ev.Has(fsnotify.Create) || !isJobFile(ev.Name) {
				continue
			}
			pending[ev.Name] = struct{}{}
			settled.Reset(w.settle)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("inbox watcher error", zap.Error(err))
		}
	}
}

// PollWatcher lists the inbox on an interval, for filesystems without
// notifications (NFS, some container mounts). Jobs run on the polling
// goroutine, one at a time.
type PollWatcher struct {
	inbox    string
	handler  func(path string)
	interval time.Duration
	seen     map[string]bool
}

// NewPollWatcher creates a polling watcher. Zero interval selects 5s.
func NewPollWatcher(inbox string, handler func(path string), interval time.Duration) *PollWatcher {
	if interval <= 0 {
		interval = pollDefault
	}
	return &PollWatcher{inbox: inbox, handler: handler, interval: interval, seen: make(map[string]bool)}
}

// Run blocks until ctx is cancelled.
func (w *PollWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.poll()
		}
	}
}

// poll runs every job file not seen before. Names that left the inbox are
// forgotten, so a later drop under the same name runs again.
func (w *PollWatcher) poll() {
	paths, err := listJobs(w.inbox)
	if err != nil {
		return
	}
	present := make(map[string]bool, len(paths))
	for _, path := range paths {
		present[path] = true
		if !w.seen[path] {
			w.seen[path] = true
			w.handler(path)
		}
	}
	for path := range w.seen {
		if !present[path] {
			delete(w.seen, path)
		}
	}
}

// ScanExisting runs handler over job files already in the inbox, in name
// order. A missing inbox is not an error.
func ScanExisting(inbox string, handler func(path string)) error {
	paths, err := listJobs(inbox)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, path := range paths {
		handler(path)
	}
	return nil
}

// listJobs returns the inbox's job files sorted by name.
func listJobs(inbox string) ([]string, error) {
	entries, err := os.ReadDir(inbox)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.Type().IsRegular() && isJobFile(e.Name()) {
			paths = append(paths, filepath.Join(inbox, e.Name()))
		}
	}
	return paths, nil
}

// isJobFile accepts visible .js scripts and .json page jobs. Writers stage
// files under a .tmp suffix and rename them into place.
func isJobFile(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch filepath.Ext(name) {
	case ".js", ".json":
		return true
	}
	return false
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
