package profile

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/selres/domselect/internal/selector"
)

// Saver persists profile snapshots in one batch. A profile without
// patterns means the domain was reset and its document can be deleted.
type Saver interface {
	SaveProfiles(ctx context.Context, profiles []selector.Profile) error
}

// Flusher defaults.
const (
	DefaultFlushInterval = 2 * time.Second
	minBackoff           = 500 * time.Millisecond
	maxBackoff           = 30 * time.Second
	flushTimeout         = 10 * time.Second
)

// Flusher writes dirty profiles to a Saver in the background, at most once
// per interval. Failures are logged and retried with exponential backoff;
// the in-memory store stays authoritative meanwhile.
type Flusher struct {
	store    *Store
	saver    Saver
	interval time.Duration
	logger   *slog.Logger

	// flushMu orders batches: a newer snapshot never commits before an
	// older one.
	flushMu sync.Mutex

	mu      sync.Mutex
	dirty   map[string]struct{}
	backoff time.Duration
	next    time.Time // no attempt before this instant

	flushes  atomic.Int64
	failures atomic.Int64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewFlusher subscribes to store changes and starts the flush loop.
func NewFlusher(store *Store, saver Saver, interval time.Duration, logger *slog.Logger) *Flusher {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	f := &Flusher{
		store:    store,
		saver:    saver,
		interval: interval,
		logger:   logger,
		dirty:    make(map[string]struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	store.OnChange(f.MarkDirty)
	go f.loop()
	return f
}

// MarkDirty queues domain for the next flush. Never blocks on I/O.
func (f *Flusher) MarkDirty(domain string) {
	f.mu.Lock()
	f.dirty[domain] = struct{}{}
	f.mu.Unlock()
}

// Pending is the number of domains waiting to be written.
func (f *Flusher) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dirty)
}

// Flushes and Failures count completed and failed batches.
func (f *Flusher) Flushes() int64  { return f.flushes.Load() }
func (f *Flusher) Failures() int64 { return f.failures.Load() }

// Flush writes every dirty domain now. On failure the domains are queued
// again and a *selector.PersistenceError is returned. Concurrent calls
// run one after the other.
func (f *Flusher) Flush(ctx context.Context) error {
	f.flushMu.Lock()
	defer f.flushMu.Unlock()

	f.mu.Lock()
	if len(f.dirty) == 0 {
		f.mu.Unlock()
		return nil
	}
	domains := make([]string, 0, len(f.dirty))
	for d := range f.dirty {
		domains = append(domains, d)
	}
	f.dirty = make(map[string]struct{})
	f.mu.Unlock()

	sort.Strings(domains)
	batch := make([]selector.Profile, len(domains))
	for i, d := range domains {
		batch[i] = f.store.Snapshot(d)
	}

	if err := f.saver.SaveProfiles(ctx, batch); err != nil {
		f.failures.Add(1)
		f.mu.Lock()
		for _, d := range domains {
			f.dirty[d] = struct{}{}
		}
		f.mu.Unlock()
		return &selector.PersistenceError{Op: "save profiles", Domains: domains, Err: err}
	}
	f.flushes.Add(1)
	return nil
}

func (f *Flusher) loop() {
	defer close(f.done)
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stop:
			return
		case now := <-ticker.C:
			f.tick(now)
		}
	}
}

func (f *Flusher) tick(now time.Time) {
	f.mu.Lock()
	wait := now.Before(f.next)
	f.mu.Unlock()
	if wait {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	err := f.Flush(ctx)
	cancel()

	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		f.backoff = 0
		f.next = time.Time{}
		return
	}
	f.backoff = nextBackoff(f.backoff)
	f.next = now.Add(f.backoff)
	f.logger.Warn("domselect: profile flush failed", "error", err, "retry_in", f.backoff)
}

func nextBackoff(cur time.Duration) time.Duration {
	if cur < minBackoff {
		return minBackoff
	}
	return min(cur*2, maxBackoff)
}

// Close stops the loop and performs a final flush.
func (f *Flusher) Close(ctx context.Context) error {
	f.closeOnce.Do(func() { close(f.stop) })
	<-f.done
	if err := f.Flush(ctx); err != nil {
		f.logger.Error("domselect: final profile flush failed", "error", err)
		return err
	}
	return nil
}
