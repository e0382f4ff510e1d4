package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/helmstudio/draftsync/internal/domain"
	"github.com/helmstudio/draftsync/internal/logger"
	"github.com/helmstudio/draftsync/internal/metrics"
)

// CacheWriter extends the scheduler's cache view with the non-enqueueing
// write path used when a remote copy wins conflict resolution.
type CacheWriter interface {
	Cache
	ApplyRemoteTweet(ctx context.Context, tweet *domain.Tweet) error
	ApplyRemoteThread(ctx context.Context, thread *domain.Thread, tweets []domain.Tweet) error
}

// RemoteReader is the pull half of the remote drafts API.
type RemoteReader interface {
	GetTweet(ctx context.Context, id string) (*domain.Tweet, error)
	GetThread(ctx context.Context, id string) (*domain.ThreadWithTweets, error)
	GetAllDrafts(ctx context.Context) (*domain.DraftSet, error)
}

// Reconciler merges remote draft state into the local cache. Per-item
// merges are decided by last-modified comparison; the bulk path trusts the
// remote wholesale on initial load.
type Reconciler struct {
	cache   CacheWriter
	remote  RemoteReader
	log     logger.Logger
	metrics *metrics.Sync
}

// NewReconciler creates a reconciler over the given cache and remote API.
func NewReconciler(cache CacheWriter, remote RemoteReader, m *metrics.Sync, log logger.Logger) *Reconciler {
	if m == nil {
		m = metrics.NewNopSync()
	}
	return &Reconciler{
		cache:   cache,
		remote:  remote,
		log:     log,
		metrics: m,
	}
}

// FetchLatestDraft pulls one draft by id and merges it into the local cache
// when the remote copy is strictly newer than the local one (falling back
// to creation time for never-edited local copies). A draft that is not
// cached locally is written unconditionally. The write never re-enqueues,
// so a remote update cannot loop back out. Returns whether the local cache
// changed.
func (r *Reconciler) FetchLatestDraft(ctx context.Context, id string, kind domain.EntityKind) (bool, error) {
	switch kind {
	case domain.KindTweet:
		return r.fetchLatestTweet(ctx, id)
	case domain.KindThread:
		return r.fetchLatestThread(ctx, id)
	}
	return false, fmt.Errorf("%w: %q", domain.ErrInvalidKind, kind)
}

func (r *Reconciler) fetchLatestTweet(ctx context.Context, id string) (bool, error) {
	remote, err := r.remote.GetTweet(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("fetch tweet %s: %w", id, err)
	}

	local := r.cache.TweetByID(ctx, id)
	if local != nil && !remote.ModifiedAt().After(local.ModifiedAt()) {
		return false, nil
	}

	if err := r.cache.ApplyRemoteTweet(ctx, remote); err != nil {
		return false, fmt.Errorf("apply remote tweet %s: %w", id, err)
	}
	return true, nil
}

func (r *Reconciler) fetchLatestThread(ctx context.Context, id string) (bool, error) {
	remote, err := r.remote.GetThread(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("fetch thread %s: %w", id, err)
	}

	local := r.cache.ThreadByID(ctx, id)
	if local != nil && !remote.ModifiedAt().After(local.ModifiedAt()) {
		return false, nil
	}

	if err := r.cache.ApplyRemoteThread(ctx, &remote.Thread, remote.Tweets); err != nil {
		return false, fmt.Errorf("apply remote thread %s: %w", id, err)
	}
	return true, nil
}

// SyncAllFromServer pulls the user's entire remote draft set and writes
// every tweet and thread into the local cache without per-item timestamp
// comparison; the remote is authoritative for initial load. Runs once per
// session at application mount. Failures are logged, not retried here.
func (r *Reconciler) SyncAllFromServer(ctx context.Context) bool {
	set, err := r.remote.GetAllDrafts(ctx)
	if err != nil {
		r.log.Error("bulk draft reconciliation failed", logger.Error(err))
		return false
	}

	for i := range set.Tweets {
		if err := r.cache.ApplyRemoteTweet(ctx, &set.Tweets[i]); err != nil {
			r.log.Error("apply remote tweet",
				logger.String("tweet_id", set.Tweets[i].ID), logger.Error(err))
		}
	}
	for i := range set.Threads {
		th := &set.Threads[i]
		if err := r.cache.ApplyRemoteThread(ctx, &th.Thread, th.Tweets); err != nil {
			r.log.Error("apply remote thread",
				logger.String("thread_id", th.ID), logger.Error(err))
		}
	}

	r.metrics.ReconcilePull.Inc()
	r.log.Info("synced drafts from server",
		logger.Int("tweets", len(set.Tweets)),
		logger.Int("threads", len(set.Threads)))
	return true
}
