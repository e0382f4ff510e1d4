package cache_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmstudio/draftsync/internal/cache"
	"github.com/helmstudio/draftsync/internal/domain"
	"github.com/helmstudio/draftsync/internal/kv"
	"github.com/helmstudio/draftsync/internal/logger"
)

type enqueueCall struct {
	ID       string
	Kind     domain.EntityKind
	Priority int
}

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []enqueueCall
	forced   int
}

func (f *fakeQueue) Enqueue(_ context.Context, id string, kind domain.EntityKind, priority int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, enqueueCall{ID: id, Kind: kind, Priority: priority})
}

func (f *fakeQueue) ForceSyncNow(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forced++
	return nil
}

type deleteCall struct {
	Kind    domain.EntityKind
	ID      string
	Cleanup bool
}

type fakeDeleter struct {
	mu      sync.Mutex
	deletes []deleteCall
}

func (f *fakeDeleter) DeleteDraftAsync(kind domain.EntityKind, id string, cleanup bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, deleteCall{Kind: kind, ID: id, Cleanup: cleanup})
}

func newTestStore(t *testing.T) (*cache.Store, *kv.Memory, *fakeQueue, *fakeDeleter) {
	t.Helper()

	backend := kv.NewMemory()
	store := cache.New(backend, "user-1", logger.NewNopLogger())
	queue := &fakeQueue{}
	deleter := &fakeDeleter{}
	store.SetQueue(queue)
	store.SetRemote(deleter)
	return store, backend, queue, deleter
}

func TestSaveTweetPersistsUnderUserKey(t *testing.T) {
	store, backend, _, _ := newTestStore(t)
	ctx := context.Background()

	tweet := &domain.Tweet{ID: "t1", Content: "hello", Status: domain.StatusDraft}
	require.NoError(t, store.SaveTweet(ctx, tweet, false))

	raw, err := backend.Get(ctx, "helm_app_user-1_tweets")
	require.NoError(t, err)
	assert.Contains(t, raw, `"t1"`)

	got := store.TweetByID(ctx, "t1")
	require.NotNil(t, got)
	assert.Equal(t, "hello", got.Content)
}

func TestSaveTweetEnqueuesOnlyDrafts(t *testing.T) {
	store, _, queue, _ := newTestStore(t)
	ctx := context.Background()

	testCases := []struct {
		name     string
		tweet    domain.Tweet
		enqueued bool
	}{
		{"draft is enqueued", domain.Tweet{ID: "d1", Status: domain.StatusDraft}, true},
		{"pending approval is not", domain.Tweet{ID: "p1", Status: domain.StatusPendingApproval}, false},
		{"scheduled is not", domain.Tweet{ID: "s1", Status: domain.StatusScheduled}, false},
		{"published is not", domain.Tweet{ID: "x1", Status: domain.StatusPublished}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			before := len(queue.enqueued)
			tweet := tc.tweet
			require.NoError(t, store.SaveTweet(ctx, &tweet, false))

			if tc.enqueued {
				require.Len(t, queue.enqueued, before+1)
				assert.Equal(t, tc.tweet.ID, queue.enqueued[before].ID)
				assert.Equal(t, domain.KindTweet, queue.enqueued[before].Kind)
			} else {
				assert.Len(t, queue.enqueued, before)
			}
		})
	}
}

func TestSaveTweetImmediateForcesFlush(t *testing.T) {
	store, _, queue, _ := newTestStore(t)
	ctx := context.Background()

	tweet := &domain.Tweet{ID: "t1", Status: domain.StatusDraft}
	require.NoError(t, store.SaveTweet(ctx, tweet, true))
	assert.Equal(t, 1, queue.forced)

	require.NoError(t, store.SaveTweet(ctx, tweet, false))
	assert.Equal(t, 1, queue.forced)
}

func TestSaveTweetPreservesMediaRefs(t *testing.T) {
	store, _, _, _ := newTestStore(t)
	ctx := context.Background()

	withMedia := &domain.Tweet{ID: "t1", Status: domain.StatusDraft, MediaIDs: []string{"m1", "m2"}}
	require.NoError(t, store.SaveTweet(ctx, withMedia, false))

	// A later save without media keeps the existing refs.
	update := &domain.Tweet{ID: "t1", Content: "edited", Status: domain.StatusDraft}
	require.NoError(t, store.SaveTweet(ctx, update, false))

	got := store.TweetByID(ctx, "t1")
	require.NotNil(t, got)
	assert.Equal(t, []string{"m1", "m2"}, got.MediaIDs)
	assert.Equal(t, "edited", got.Content)

	// An explicit empty list clears them.
	cleared := &domain.Tweet{ID: "t1", Status: domain.StatusDraft, MediaIDs: []string{}}
	require.NoError(t, store.SaveTweet(ctx, cleared, false))
	got = store.TweetByID(ctx, "t1")
	require.NotNil(t, got)
	assert.Empty(t, got.MediaIDs)
}

func TestSaveThreadStampsMembers(t *testing.T) {
	store, _, queue, _ := newTestStore(t)
	ctx := context.Background()

	thread := &domain.Thread{ID: "th1", TweetIDs: []string{"t1", "t2"}, Status: domain.StatusDraft, TeamID: "team-a"}
	members := []domain.Tweet{
		{ID: "t1", Position: 0, Status: domain.StatusDraft},
		{ID: "t2", Position: 1, Status: domain.StatusDraft},
	}
	require.NoError(t, store.SaveThread(ctx, thread, members, false))

	for _, id := range []string{"t1", "t2"} {
		got := store.TweetByID(ctx, id)
		require.NotNil(t, got)
		assert.Equal(t, "th1", got.ThreadID)
		assert.Equal(t, "team-a", got.TeamID)
	}

	// Members and thread all enqueued as drafts.
	ids := make([]string, 0, len(queue.enqueued))
	for _, call := range queue.enqueued {
		ids = append(ids, call.ID)
	}
	assert.Equal(t, []string{"t1", "t2", "th1"}, ids)
	assert.Equal(t, domain.KindThread, queue.enqueued[2].Kind)
}

func TestThreadWithTweetsSortsByPosition(t *testing.T) {
	store, _, _, _ := newTestStore(t)
	ctx := context.Background()

	thread := &domain.Thread{ID: "th1", TweetIDs: []string{"t1", "t2", "t3"}, Status: domain.StatusDraft}
	members := []domain.Tweet{
		{ID: "t3", Position: 2, Status: domain.StatusDraft},
		{ID: "t1", Position: 0, Content: "first", Status: domain.StatusDraft},
		{ID: "t2", Position: 1, Status: domain.StatusDraft},
	}
	require.NoError(t, store.SaveThread(ctx, thread, members, false))

	tw := store.ThreadWithTweets(ctx, "th1")
	require.NotNil(t, tw)
	require.Len(t, tw.Tweets, 3)
	assert.Equal(t, "t1", tw.Tweets[0].ID)
	assert.Equal(t, "t3", tw.Tweets[2].ID)

	preview := store.ThreadPreview(ctx, "th1")
	require.NotNil(t, preview)
	assert.Equal(t, "first", preview.Content)
}

func TestDeleteThreadCascadesToMembers(t *testing.T) {
	store, _, _, deleter := newTestStore(t)
	ctx := context.Background()

	thread := &domain.Thread{ID: "th1", TweetIDs: []string{"t1", "t2"}, Status: domain.StatusDraft}
	members := []domain.Tweet{
		{ID: "t1", Position: 0, Status: domain.StatusDraft},
		{ID: "t2", Position: 1, Status: domain.StatusDraft},
	}
	standalone := &domain.Tweet{ID: "solo", Status: domain.StatusDraft}
	require.NoError(t, store.SaveThread(ctx, thread, members, false))
	require.NoError(t, store.SaveTweet(ctx, standalone, false))

	require.NoError(t, store.DeleteThread(ctx, "th1"))

	assert.Nil(t, store.ThreadByID(ctx, "th1"))
	assert.Nil(t, store.TweetByID(ctx, "t1"))
	assert.Nil(t, store.TweetByID(ctx, "t2"))
	assert.NotNil(t, store.TweetByID(ctx, "solo"))

	require.Len(t, deleter.deletes, 1)
	assert.Equal(t, deleteCall{Kind: domain.KindThread, ID: "th1", Cleanup: true}, deleter.deletes[0])
}

func TestDeleteTweetIssuesRemoteDelete(t *testing.T) {
	store, _, _, deleter := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveTweet(ctx, &domain.Tweet{ID: "t1", Status: domain.StatusDraft}, false))
	require.NoError(t, store.DeleteTweet(ctx, "t1"))

	assert.Nil(t, store.TweetByID(ctx, "t1"))
	require.Len(t, deleter.deletes, 1)
	assert.Equal(t, deleteCall{Kind: domain.KindTweet, ID: "t1", Cleanup: true}, deleter.deletes[0])
}

func TestApplyRemoteNeverEnqueues(t *testing.T) {
	store, _, queue, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ApplyRemoteTweet(ctx, &domain.Tweet{ID: "t1", Status: domain.StatusDraft}))
	thread := &domain.Thread{ID: "th1", TweetIDs: []string{"t2"}, Status: domain.StatusDraft}
	require.NoError(t, store.ApplyRemoteThread(ctx, thread, []domain.Tweet{{ID: "t2", Status: domain.StatusDraft}}))

	assert.Empty(t, queue.enqueued)
	assert.NotNil(t, store.TweetByID(ctx, "t1"))
	assert.NotNil(t, store.ThreadByID(ctx, "th1"))
	got := store.TweetByID(ctx, "t2")
	require.NotNil(t, got)
	assert.Equal(t, "th1", got.ThreadID)
}

func TestReadsDegradeOnCorruptPayload(t *testing.T) {
	store, backend, _, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "helm_app_user-1_tweets", "{not json"))

	assert.Empty(t, store.Tweets(ctx))
	assert.Nil(t, store.TweetByID(ctx, "t1"))

	// A save replaces the corrupt payload and recovers.
	require.NoError(t, store.SaveTweet(ctx, &domain.Tweet{ID: "t1", Status: domain.StatusDraft}, false))
	assert.NotNil(t, store.TweetByID(ctx, "t1"))
}

func TestTeamFilters(t *testing.T) {
	store, _, _, _ := newTestStore(t)
	ctx := context.Background()

	for _, tweet := range []domain.Tweet{
		{ID: "a", TeamID: "team-a", Status: domain.StatusDraft},
		{ID: "b", TeamID: "team-b", Status: domain.StatusDraft},
		{ID: "c", Status: domain.StatusDraft},
	} {
		tw := tweet
		require.NoError(t, store.SaveTweet(ctx, &tw, false))
	}

	assert.Len(t, store.TweetsByTeam(ctx, ""), 3)
	assert.Len(t, store.TweetsByTeam(ctx, "all"), 3)

	// Team filter keeps teamless drafts visible.
	teamA := store.TweetsByTeam(ctx, "team-a")
	require.Len(t, teamA, 2)
	assert.Equal(t, "a", teamA[0].ID)
	assert.Equal(t, "c", teamA[1].ID)
}

func TestConcurrentSavesKeepEveryTweet(t *testing.T) {
	store, _, _, _ := newTestStore(t)
	ctx := context.Background()

	const writers = 8
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			tweet := &domain.Tweet{ID: fmt.Sprintf("t%d", i), Status: domain.StatusDraft}
			if err := store.SaveTweet(ctx, tweet, false); err != nil {
				t.Errorf("SaveTweet(t%d) error = %v", i, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	// No save may be lost to a racing read-modify-write.
	assert.Len(t, store.Tweets(ctx), writers)
}

func TestConcurrentSaveAndDelete(t *testing.T) {
	store, _, _, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveTweet(ctx, &domain.Tweet{ID: "doomed", Status: domain.StatusDraft}, false))

	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-start
		if err := store.SaveTweet(ctx, &domain.Tweet{ID: "kept", Status: domain.StatusDraft}, false); err != nil {
			t.Errorf("SaveTweet error = %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		<-start
		if err := store.DeleteTweet(ctx, "doomed"); err != nil {
			t.Errorf("DeleteTweet error = %v", err)
		}
	}()
	close(start)
	wg.Wait()

	assert.Nil(t, store.TweetByID(ctx, "doomed"))
	assert.NotNil(t, store.TweetByID(ctx, "kept"))
}

func TestClearUserData(t *testing.T) {
	store, backend, _, _ := newTestStore(t)
	ctx := context.Background()

	other := cache.New(backend, "user-2", logger.NewNopLogger())

	require.NoError(t, store.SaveTweet(ctx, &domain.Tweet{ID: "mine", Status: domain.StatusDraft}, false))
	require.NoError(t, other.SaveTweet(ctx, &domain.Tweet{ID: "theirs", Status: domain.StatusDraft}, false))

	require.NoError(t, store.ClearUserData(ctx))

	assert.Empty(t, store.Tweets(ctx))
	assert.NotNil(t, other.TweetByID(ctx, "theirs"))
}
