// Package cache implements the local draft cache: synchronous, durable
// persistence for tweets and threads over a pluggable key-value backend.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/helmstudio/draftsync/internal/domain"
	"github.com/helmstudio/draftsync/internal/kv"
	"github.com/helmstudio/draftsync/internal/logger"
)

const baseKey = "helm_app"

// Queue receives drafts that need outbound synchronization. Implemented by
// the sync scheduler; attached after construction because the scheduler also
// reads from the store.
type Queue interface {
	Enqueue(ctx context.Context, id string, kind domain.EntityKind, priority int)
	ForceSyncNow(ctx context.Context) error
}

// RemoteDeleter issues fire-and-forget deletes against the remote drafts API.
type RemoteDeleter interface {
	DeleteDraftAsync(kind domain.EntityKind, id string, cleanup bool)
}

// Store is the local draft cache. Reads fail soft: a corrupted or
// unavailable backend degrades to empty results rather than failing the
// caller. One instance is shared per running client and all methods are
// safe for concurrent use.
type Store struct {
	kv       kv.Store
	userID   string
	log      logger.Logger
	queue    Queue
	remote   RemoteDeleter
	priority int

	// mu serializes the whole-collection read-modify-write every mutation
	// performs; without it two concurrent saves can both decode the same
	// snapshot and the later Set drops the earlier one.
	mu sync.Mutex
}

// New creates a Store namespaced to the given user. Attach the sync queue
// and remote deleter before use; without them the store still persists but
// never triggers outbound sync.
func New(backend kv.Store, userID string, log logger.Logger) *Store {
	return &Store{
		kv:     backend,
		userID: userID,
		log:    log,
	}
}

// SetQueue attaches the outbound sync queue.
func (s *Store) SetQueue(q Queue) { s.queue = q }

// SetRemote attaches the remote deleter used by the delete paths.
func (s *Store) SetRemote(r RemoteDeleter) { s.remote = r }

// SetPriority sets the priority used when enqueueing saved drafts.
func (s *Store) SetPriority(p int) { s.priority = p }

func (s *Store) tweetsKey() string {
	return fmt.Sprintf("%s_%s_tweets", baseKey, s.userID)
}

func (s *Store) threadsKey() string {
	return fmt.Sprintf("%s_%s_threads", baseKey, s.userID)
}

// Tweets returns every cached tweet. Returns an empty slice when the key is
// absent or the stored payload does not parse.
func (s *Store) Tweets(ctx context.Context) []domain.Tweet {
	var tweets []domain.Tweet
	s.read(ctx, s.tweetsKey(), &tweets)
	return tweets
}

// Threads returns every cached thread, empty on absence or parse failure.
func (s *Store) Threads(ctx context.Context) []domain.Thread {
	var threads []domain.Thread
	s.read(ctx, s.threadsKey(), &threads)
	return threads
}

// TweetByID returns the cached tweet with the given id, or nil.
func (s *Store) TweetByID(ctx context.Context, id string) *domain.Tweet {
	for _, t := range s.Tweets(ctx) {
		if t.ID == id {
			return &t
		}
	}
	return nil
}

// ThreadByID returns the cached thread with the given id, or nil.
func (s *Store) ThreadByID(ctx context.Context, id string) *domain.Thread {
	for _, t := range s.Threads(ctx) {
		if t.ID == id {
			return &t
		}
	}
	return nil
}

// ThreadWithTweets joins a thread with its member tweets sorted by position
// ascending. Returns nil when the thread is not cached.
func (s *Store) ThreadWithTweets(ctx context.Context, id string) *domain.ThreadWithTweets {
	thread := s.ThreadByID(ctx, id)
	if thread == nil {
		return nil
	}

	var members []domain.Tweet
	for _, t := range s.Tweets(ctx) {
		if t.ThreadID == id {
			members = append(members, t)
		}
	}
	domain.SortTweetsByPosition(members)

	return &domain.ThreadWithTweets{Thread: *thread, Tweets: members}
}

// ThreadPreview returns the lowest-position member of a thread, used for
// summary display. Returns nil when the thread has no cached members.
func (s *Store) ThreadPreview(ctx context.Context, id string) *domain.Tweet {
	tw := s.ThreadWithTweets(ctx, id)
	if tw == nil || len(tw.Tweets) == 0 {
		return nil
	}
	return &tw.Tweets[0]
}

// SaveTweet inserts or replaces a tweet by id and persists synchronously.
// Draft tweets are enqueued for outbound sync; immediate additionally forces
// an out-of-band flush the caller awaits, used by explicit save/schedule
// actions that need confirmation.
func (s *Store) SaveTweet(ctx context.Context, tweet *domain.Tweet, immediate bool) error {
	if err := s.putTweet(ctx, tweet); err != nil {
		s.log.Error("save tweet", logger.String("tweet_id", tweet.ID), logger.Error(err))
		return err
	}

	s.enqueueIfDraft(ctx, tweet.ID, domain.KindTweet, tweet.Status)

	if immediate && s.queue != nil {
		return s.queue.ForceSyncNow(ctx)
	}
	return nil
}

// SaveThread persists a thread and then each member tweet in turn. Member
// tweets are stamped with the thread id and team, and follow the draft
// enqueue rule individually but never force an immediate flush; only the
// thread-level call may.
func (s *Store) SaveThread(ctx context.Context, thread *domain.Thread, tweets []domain.Tweet, immediate bool) error {
	if err := s.putThread(ctx, thread); err != nil {
		s.log.Error("save thread", logger.String("thread_id", thread.ID), logger.Error(err))
		return err
	}

	for i := range tweets {
		member := tweets[i]
		member.ThreadID = thread.ID
		if member.TeamID == "" {
			member.TeamID = thread.TeamID
		}
		if err := s.putTweet(ctx, &member); err != nil {
			s.log.Error("save thread member",
				logger.String("thread_id", thread.ID),
				logger.String("tweet_id", member.ID),
				logger.Error(err))
			return err
		}
		s.enqueueIfDraft(ctx, member.ID, domain.KindTweet, member.Status)
	}

	s.enqueueIfDraft(ctx, thread.ID, domain.KindThread, thread.Status)

	if immediate && s.queue != nil {
		return s.queue.ForceSyncNow(ctx)
	}
	return nil
}

// ApplyRemoteTweet writes a tweet fetched from the remote store without
// re-enqueueing it, so a remote update never loops back out.
func (s *Store) ApplyRemoteTweet(ctx context.Context, tweet *domain.Tweet) error {
	return s.putTweet(ctx, tweet)
}

// ApplyRemoteThread writes a thread and its members from the remote store
// without re-enqueueing any of them.
func (s *Store) ApplyRemoteThread(ctx context.Context, thread *domain.Thread, tweets []domain.Tweet) error {
	if err := s.putThread(ctx, thread); err != nil {
		return err
	}
	for i := range tweets {
		member := tweets[i]
		member.ThreadID = thread.ID
		if err := s.putTweet(ctx, &member); err != nil {
			return err
		}
	}
	return nil
}

// DeleteTweet removes a tweet locally, then issues a fire-and-forget remote
// delete. The local removal is complete before the remote call is attempted
// and is never rolled back.
func (s *Store) DeleteTweet(ctx context.Context, id string) error {
	s.mu.Lock()
	tweets := s.Tweets(ctx)
	kept := tweets[:0]
	for _, t := range tweets {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	err := s.write(ctx, s.tweetsKey(), kept)
	s.mu.Unlock()
	if err != nil {
		s.log.Error("delete tweet", logger.String("tweet_id", id), logger.Error(err))
		return err
	}

	if s.remote != nil {
		s.remote.DeleteDraftAsync(domain.KindTweet, id, true)
	}
	return nil
}

// DeleteThread removes a thread and every member tweet locally, then issues
// a fire-and-forget remote delete for the thread.
func (s *Store) DeleteThread(ctx context.Context, id string) error {
	s.mu.Lock()
	threads := s.Threads(ctx)
	keptThreads := threads[:0]
	for _, t := range threads {
		if t.ID != id {
			keptThreads = append(keptThreads, t)
		}
	}
	if err := s.write(ctx, s.threadsKey(), keptThreads); err != nil {
		s.mu.Unlock()
		s.log.Error("delete thread", logger.String("thread_id", id), logger.Error(err))
		return err
	}

	tweets := s.Tweets(ctx)
	keptTweets := tweets[:0]
	for _, t := range tweets {
		if t.ThreadID != id {
			keptTweets = append(keptTweets, t)
		}
	}
	err := s.write(ctx, s.tweetsKey(), keptTweets)
	s.mu.Unlock()
	if err != nil {
		s.log.Error("delete thread members", logger.String("thread_id", id), logger.Error(err))
		return err
	}

	if s.remote != nil {
		s.remote.DeleteDraftAsync(domain.KindThread, id, true)
	}
	return nil
}

// TweetsByTeam filters cached tweets by team. An empty teamID or "all"
// returns everything; tweets without a team are always included.
func (s *Store) TweetsByTeam(ctx context.Context, teamID string) []domain.Tweet {
	tweets := s.Tweets(ctx)
	if teamID == "" || teamID == "all" {
		return tweets
	}
	var out []domain.Tweet
	for _, t := range tweets {
		if t.TeamID == teamID || t.TeamID == "" {
			out = append(out, t)
		}
	}
	return out
}

// ThreadsByTeam filters cached threads by team with the same rules as
// TweetsByTeam.
func (s *Store) ThreadsByTeam(ctx context.Context, teamID string) []domain.Thread {
	threads := s.Threads(ctx)
	if teamID == "" || teamID == "all" {
		return threads
	}
	var out []domain.Thread
	for _, t := range threads {
		if t.TeamID == teamID || t.TeamID == "" {
			out = append(out, t)
		}
	}
	return out
}

// ClearUserData drops both collections for the current user. Used on logout.
func (s *Store) ClearUserData(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Delete(ctx, s.tweetsKey()); err != nil {
		return fmt.Errorf("clear tweets: %w", err)
	}
	if err := s.kv.Delete(ctx, s.threadsKey()); err != nil {
		return fmt.Errorf("clear threads: %w", err)
	}
	return nil
}

func (s *Store) enqueueIfDraft(ctx context.Context, id string, kind domain.EntityKind, status domain.Status) {
	if status != domain.StatusDraft || s.queue == nil {
		return
	}
	s.queue.Enqueue(ctx, id, kind, s.priority)
}

func (s *Store) putTweet(ctx context.Context, tweet *domain.Tweet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tweets := s.Tweets(ctx)
	replaced := false
	for i := range tweets {
		if tweets[i].ID != tweet.ID {
			continue
		}
		merged := *tweet
		// Preserve media refs when the incoming copy omits them.
		if merged.MediaIDs == nil {
			merged.MediaIDs = tweets[i].MediaIDs
		}
		tweets[i] = merged
		replaced = true
		break
	}
	if !replaced {
		tweets = append(tweets, *tweet)
	}
	return s.write(ctx, s.tweetsKey(), tweets)
}

func (s *Store) putThread(ctx context.Context, thread *domain.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	threads := s.Threads(ctx)
	replaced := false
	for i := range threads {
		if threads[i].ID != thread.ID {
			continue
		}
		merged := *thread
		if merged.TeamID == "" {
			merged.TeamID = threads[i].TeamID
		}
		threads[i] = merged
		replaced = true
		break
	}
	if !replaced {
		threads = append(threads, *thread)
	}
	return s.write(ctx, s.threadsKey(), threads)
}

// read decodes the JSON array under key into out, degrading to no-op on
// absence, backend failure, or corrupt payload.
func (s *Store) read(ctx context.Context, key string, out any) {
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, kv.ErrNoKey) {
			s.log.Error("read cache key", logger.String("key", key), logger.Error(err))
		}
		return
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		s.log.Error("decode cache key", logger.String("key", key), logger.Error(err))
	}
}

func (s *Store) write(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache key %s: %w", key, err)
	}
	if err := s.kv.Set(ctx, key, string(raw)); err != nil {
		return fmt.Errorf("write cache key %s: %w", key, err)
	}
	return nil
}
