// Package syncer owns outbound draft synchronization: the priority-ordered
// pending set drained on a timer, and the pull-side conflict resolution
// against the remote drafts API.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/helmstudio/draftsync/internal/domain"
	"github.com/helmstudio/draftsync/internal/logger"
	"github.com/helmstudio/draftsync/internal/metrics"
)

const (
	defaultSyncInterval  = 15 * time.Second
	defaultCallTimeout   = 15 * time.Second
	defaultForceWaitStep = 100 * time.Millisecond
	defaultForceWaitMax  = 50

	// PriorityDefault is the priority assigned to ordinary background saves.
	PriorityDefault = 0
	// PriorityUserAction is assigned when an explicit user action (save,
	// schedule, publish) triggers the sync.
	PriorityUserAction = 10
)

// ErrDrainBusy is returned by ForceSyncNow when a drain cycle stayed in
// flight for the whole bounded wait.
var ErrDrainBusy = errors.New("drain cycle still in progress")

// Cache is the view of the local draft cache the scheduler needs: current
// entity state for exclusion checks and payload resolution at drain time.
type Cache interface {
	TweetByID(ctx context.Context, id string) *domain.Tweet
	ThreadByID(ctx context.Context, id string) *domain.Thread
	ThreadWithTweets(ctx context.Context, id string) *domain.ThreadWithTweets
}

// Remote is the outbound half of the remote drafts API.
type Remote interface {
	UpsertTweet(ctx context.Context, tweet *domain.Tweet) error
	UpsertThread(ctx context.Context, thread *domain.ThreadWithTweets) error
}

// PendingEntry is one record in the pending-sync set.
type PendingEntry struct {
	ID       string            `json:"id"`
	Kind     domain.EntityKind `json:"kind"`
	Priority int               `json:"priority"`
	QueuedAt time.Time         `json:"queuedAt"`
}

func pendingKey(id string, kind domain.EntityKind) string {
	return fmt.Sprintf("%s:%s", kind, id)
}

// SchedulerConfig holds the scheduler's policy knobs. The reference cadence
// is 15 seconds; all values are configurable policy, not contract.
type SchedulerConfig struct {
	Interval      time.Duration
	CallTimeout   time.Duration
	ForceWaitStep time.Duration
	ForceWaitMax  int
}

// DefaultSchedulerConfig returns sensible defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:      defaultSyncInterval,
		CallTimeout:   defaultCallTimeout,
		ForceWaitStep: defaultForceWaitStep,
		ForceWaitMax:  defaultForceWaitMax,
	}
}

// Scheduler maintains the pending-sync set and drains it against the remote
// drafts API on a fixed cadence. Exactly one instance exists per client
// process, and at most one drain cycle runs at a time.
type Scheduler struct {
	cache   Cache
	remote  Remote
	log     logger.Logger
	metrics *metrics.Sync
	tracer  trace.Tracer

	interval      time.Duration
	callTimeout   time.Duration
	forceWaitStep time.Duration
	forceWaitMax  int

	mu       sync.Mutex
	pending  map[string]PendingEntry
	draining bool

	runMu    sync.Mutex
	started  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler over the given cache and remote API.
func NewScheduler(cache Cache, remote Remote, cfg SchedulerConfig, m *metrics.Sync, log logger.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSyncInterval
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.ForceWaitStep <= 0 {
		cfg.ForceWaitStep = defaultForceWaitStep
	}
	if cfg.ForceWaitMax <= 0 {
		cfg.ForceWaitMax = defaultForceWaitMax
	}
	if m == nil {
		m = metrics.NewNopSync()
	}

	return &Scheduler{
		cache:         cache,
		remote:        remote,
		log:           log,
		metrics:       m,
		tracer:        otel.Tracer("draft-scheduler"),
		interval:      cfg.Interval,
		callTimeout:   cfg.CallTimeout,
		forceWaitStep: cfg.ForceWaitStep,
		forceWaitMax:  cfg.ForceWaitMax,
		pending:       make(map[string]PendingEntry),
		stopChan:      make(chan struct{}),
	}
}

// Start begins the periodic drain loop. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.runMu.Lock()
	if s.started {
		s.runMu.Unlock()
		return
	}
	s.started = true
	s.runMu.Unlock()

	s.wg.Add(1)
	go s.run(ctx)

	s.log.Info("sync scheduler started", logger.Duration("interval", s.interval))
}

// Stop gracefully stops the drain loop, letting an in-flight cycle finish.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	if !s.started {
		s.runMu.Unlock()
		return
	}
	s.started = false
	s.runMu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
	s.log.Info("sync scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.DrainCycle(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Enqueue registers a draft for outbound sync. Submitted or
// pending-approval entities are never enqueued; that state is re-read from
// the cache here, not trusted from the caller. Re-enqueueing an entry keeps
// the set at one record per draft: the priority never demotes, and the queue
// time refreshes so a flush racing with this save cannot drop the newer save.
func (s *Scheduler) Enqueue(ctx context.Context, id string, kind domain.EntityKind, priority int) {
	if !s.eligible(ctx, id, kind) {
		s.log.Debug("enqueue skipped, entity frozen or missing",
			logger.String("id", id), logger.String("kind", string(kind)))
		return
	}

	key := pendingKey(id, kind)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.pending[key]; ok && existing.Priority > priority {
		priority = existing.Priority
	}
	s.pending[key] = PendingEntry{
		ID:       id,
		Kind:     kind,
		Priority: priority,
		QueuedAt: time.Now(),
	}
	s.metrics.PendingSize.Set(float64(len(s.pending)))
}

// IsPending reports whether a draft has outstanding local changes not yet
// acknowledged by the remote store.
func (s *Scheduler) IsPending(id string, kind domain.EntityKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.pending[pendingKey(id, kind)]
	return ok
}

// Pending returns a snapshot of the pending set, highest priority first.
func (s *Scheduler) Pending() []PendingEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked()
}

// DrainCycle runs one pass over the pending set and reports whether the
// pass completed. An empty set completes trivially; a cycle already in
// flight returns false without queueing a second concurrent one. Failures
// leave their entries in place for the next tick and never abort the rest
// of the pass.
func (s *Scheduler) DrainCycle(ctx context.Context) bool {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return false
	}
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return true
	}
	s.draining = true
	snapshot := s.sortedLocked()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.draining = false
		s.metrics.PendingSize.Set(float64(len(s.pending)))
		s.mu.Unlock()
	}()

	for _, entry := range snapshot {
		s.syncOne(ctx, entry)
	}
	s.metrics.DrainCycles.Inc()
	return true
}

// ForceSyncNow runs a drain cycle synchronously relative to the caller.
// It attempts the cycle directly each step so a timer tick sneaking in
// between a check and the call cannot turn the force into a no-op; when a
// cycle stays in flight for the whole bounded wait it returns ErrDrainBusy.
func (s *Scheduler) ForceSyncNow(ctx context.Context) error {
	for i := 0; i < s.forceWaitMax; i++ {
		if s.DrainCycle(ctx) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.forceWaitStep):
		}
	}
	return ErrDrainBusy
}

// sortedLocked returns pending entries ordered by priority descending, then
// queue time ascending. Callers must hold s.mu.
func (s *Scheduler) sortedLocked() []PendingEntry {
	entries := make([]PendingEntry, 0, len(s.pending))
	for _, e := range s.pending {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority > entries[j].Priority
		}
		return entries[i].QueuedAt.Before(entries[j].QueuedAt)
	})
	return entries
}

// syncOne flushes a single pending entry. The exclusion check runs again
// here, immediately before the network call: the entity may have been
// submitted for approval after it was enqueued, or earlier in this same
// cycle.
func (s *Scheduler) syncOne(ctx context.Context, entry PendingEntry) {
	ctx, span := s.tracer.Start(ctx, "draft.sync",
		trace.WithAttributes(
			attribute.String("draft_id", entry.ID),
			attribute.String("kind", string(entry.Kind)),
			attribute.Int("priority", entry.Priority),
		))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	var err error
	switch entry.Kind {
	case domain.KindTweet:
		err = s.syncTweet(callCtx, entry)
	case domain.KindThread:
		err = s.syncThread(callCtx, entry)
	default:
		s.remove(entry)
		return
	}

	if errors.Is(err, errSkipEntry) {
		s.remove(entry)
		s.metrics.SyncSkipped.WithLabelValues(string(entry.Kind)).Inc()
		return
	}
	if err != nil {
		// Retained for the next tick; failures are never dropped.
		s.log.Warn("draft sync failed",
			logger.String("id", entry.ID),
			logger.String("kind", string(entry.Kind)),
			logger.Error(err))
		s.metrics.SyncFailure.WithLabelValues(string(entry.Kind)).Inc()
		return
	}

	s.removeIfUnchanged(entry)
	s.metrics.SyncSuccess.WithLabelValues(string(entry.Kind)).Inc()
}

// errSkipEntry marks entries to drop from the pending set without a remote
// call: frozen by the approval workflow, or gone from the local cache.
var errSkipEntry = errors.New("skip pending entry")

func (s *Scheduler) syncTweet(ctx context.Context, entry PendingEntry) error {
	tweet := s.cache.TweetByID(ctx, entry.ID)
	if tweet == nil || !tweet.Syncable() {
		return errSkipEntry
	}

	// A tweet that joined a thread since it was queued syncs as part of
	// the whole thread; membership is resolved at drain time.
	if tweet.ThreadID != "" {
		thread := s.cache.ThreadWithTweets(ctx, tweet.ThreadID)
		if thread == nil {
			return errSkipEntry
		}
		if !thread.Syncable() {
			return errSkipEntry
		}
		return s.remote.UpsertThread(ctx, thread)
	}

	return s.remote.UpsertTweet(ctx, tweet)
}

func (s *Scheduler) syncThread(ctx context.Context, entry PendingEntry) error {
	thread := s.cache.ThreadWithTweets(ctx, entry.ID)
	if thread == nil || !thread.Syncable() {
		return errSkipEntry
	}
	return s.remote.UpsertThread(ctx, thread)
}

func (s *Scheduler) eligible(ctx context.Context, id string, kind domain.EntityKind) bool {
	switch kind {
	case domain.KindTweet:
		t := s.cache.TweetByID(ctx, id)
		return t != nil && t.Syncable()
	case domain.KindThread:
		t := s.cache.ThreadByID(ctx, id)
		return t != nil && t.Syncable()
	}
	return false
}

func (s *Scheduler) remove(entry PendingEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, pendingKey(entry.ID, entry.Kind))
}

// removeIfUnchanged clears a flushed entry unless it was re-enqueued while
// the remote call was in flight, in which case the newer queue record stays
// for the next cycle.
func (s *Scheduler) removeIfUnchanged(entry PendingEntry) {
	key := pendingKey(entry.ID, entry.Kind)

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.pending[key]
	if !ok {
		return
	}
	if current.QueuedAt.Equal(entry.QueuedAt) && current.Priority == entry.Priority {
		delete(s.pending, key)
	}
}
