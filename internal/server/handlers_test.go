package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmstudio/draftsync/internal/domain"
	"github.com/helmstudio/draftsync/internal/logger"
	"github.com/helmstudio/draftsync/internal/server"
)

// fakeStore keys drafts by user so the tests can verify token scoping.
type fakeStore struct {
	tweets  map[string]map[string]domain.Tweet
	threads map[string]map[string]domain.ThreadWithTweets
	pingErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tweets:  map[string]map[string]domain.Tweet{},
		threads: map[string]map[string]domain.ThreadWithTweets{},
	}
}

func (f *fakeStore) UpsertTweet(_ context.Context, userID string, tweet *domain.Tweet) error {
	if f.tweets[userID] == nil {
		f.tweets[userID] = map[string]domain.Tweet{}
	}
	f.tweets[userID][tweet.ID] = *tweet
	return nil
}

func (f *fakeStore) UpsertThread(_ context.Context, userID string, thread *domain.ThreadWithTweets) error {
	if f.threads[userID] == nil {
		f.threads[userID] = map[string]domain.ThreadWithTweets{}
	}
	f.threads[userID][thread.ID] = *thread
	return nil
}

func (f *fakeStore) GetTweet(_ context.Context, userID, id string) (*domain.Tweet, error) {
	t, ok := f.tweets[userID][id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &t, nil
}

func (f *fakeStore) GetThread(_ context.Context, userID, id string) (*domain.ThreadWithTweets, error) {
	t, ok := f.threads[userID][id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &t, nil
}

func (f *fakeStore) ListAll(_ context.Context, userID string) (*domain.DraftSet, error) {
	set := &domain.DraftSet{Tweets: []domain.Tweet{}, Threads: []domain.ThreadWithTweets{}}
	for _, t := range f.tweets[userID] {
		if t.ThreadID == "" {
			set.Tweets = append(set.Tweets, t)
		}
	}
	for _, th := range f.threads[userID] {
		set.Threads = append(set.Threads, th)
	}
	return set, nil
}

func (f *fakeStore) DeleteTweet(_ context.Context, userID, id string) ([]string, error) {
	t, ok := f.tweets[userID][id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	delete(f.tweets[userID], id)
	return t.MediaIDs, nil
}

func (f *fakeStore) DeleteThread(_ context.Context, userID, id string) ([]string, error) {
	_, ok := f.threads[userID][id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	delete(f.threads[userID], id)
	var media []string
	for tid, t := range f.tweets[userID] {
		if t.ThreadID == id {
			media = append(media, t.MediaIDs...)
			delete(f.tweets[userID], tid)
		}
	}
	return media, nil
}

func (f *fakeStore) Ping(_ context.Context) error { return f.pingErr }

type fakeCleaner struct {
	calls [][]string
}

func (f *fakeCleaner) Cleanup(_ context.Context, _ string, mediaIDs []string) error {
	f.calls = append(f.calls, mediaIDs)
	return nil
}

func newTestRouter(t *testing.T) (http.Handler, *fakeStore, *fakeCleaner) {
	t.Helper()

	store := newFakeStore()
	cleaner := &fakeCleaner{}
	tokens := server.TokenMap{"tok-alice": "alice", "tok-bob": "bob"}
	router := server.NewRouter(store, cleaner, tokens, logger.NewNopLogger(), false)
	return router.SetupRoutes(), store, cleaner
}

func doRequest(t *testing.T, handler http.Handler, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestDraftsRequireAuth(t *testing.T) {
	handler, _, _ := newTestRouter(t)

	testCases := []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"unknown token", "tok-nobody"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, handler, http.MethodGet, "/drafts", tc.token, nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestSaveAndGetTweet(t *testing.T) {
	handler, _, _ := newTestRouter(t)

	envelope := map[string]any{
		"type": "tweet",
		"data": domain.Tweet{ID: "t1", Content: "hello", Status: domain.StatusDraft},
	}
	rec := doRequest(t, handler, http.MethodPost, "/drafts", "tok-alice", envelope)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/drafts?type=tweet&id=t1", "tok-alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.Tweet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "hello", got.Content)
}

func TestDraftsAreScopedByToken(t *testing.T) {
	handler, _, _ := newTestRouter(t)

	envelope := map[string]any{
		"type": "tweet",
		"data": domain.Tweet{ID: "t1", Content: "alice's", Status: domain.StatusDraft},
	}
	rec := doRequest(t, handler, http.MethodPost, "/drafts", "tok-alice", envelope)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/drafts?type=tweet&id=t1", "tok-bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAllDrafts(t *testing.T) {
	handler, store, _ := newTestRouter(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertTweet(ctx, "alice", &domain.Tweet{ID: "t1", Status: domain.StatusDraft}))
	require.NoError(t, store.UpsertThread(ctx, "alice", &domain.ThreadWithTweets{
		Thread: domain.Thread{ID: "th1", TweetIDs: []string{"m1"}, Status: domain.StatusDraft},
	}))

	rec := doRequest(t, handler, http.MethodGet, "/drafts", "tok-alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var set domain.DraftSet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &set))
	assert.Len(t, set.Tweets, 1)
	assert.Len(t, set.Threads, 1)
}

func TestSaveDraftRejectsBadPayloads(t *testing.T) {
	handler, _, _ := newTestRouter(t)

	testCases := []struct {
		name string
		body any
	}{
		{"unknown type", map[string]any{"type": "bogus", "data": map[string]any{}}},
		{"missing data", map[string]any{"type": "tweet"}},
		{"missing type", map[string]any{"data": map[string]any{}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, handler, http.MethodPost, "/drafts", "tok-alice", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestDeleteDraftWithCleanup(t *testing.T) {
	handler, store, cleaner := newTestRouter(t)
	ctx := context.Background()

	tweet := &domain.Tweet{ID: "t1", MediaIDs: []string{"m1", "m2"}, Status: domain.StatusDraft}
	require.NoError(t, store.UpsertTweet(ctx, "alice", tweet))

	rec := doRequest(t, handler, http.MethodDelete, "/drafts?type=tweet&id=t1&cleanup=true", "tok-alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := store.GetTweet(ctx, "alice", "t1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.Len(t, cleaner.calls, 1)
	assert.Equal(t, []string{"m1", "m2"}, cleaner.calls[0])
}

func TestDeleteDraftWithoutCleanup(t *testing.T) {
	handler, store, cleaner := newTestRouter(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertTweet(ctx, "alice", &domain.Tweet{ID: "t1", MediaIDs: []string{"m1"}, Status: domain.StatusDraft}))

	rec := doRequest(t, handler, http.MethodDelete, "/drafts?type=tweet&id=t1", "tok-alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, cleaner.calls)
}

func TestDeleteMissingDraft(t *testing.T) {
	handler, _, _ := newTestRouter(t)

	rec := doRequest(t, handler, http.MethodDelete, "/drafts?type=tweet&id=nope", "tok-alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpointIsPublic(t *testing.T) {
	handler, store, _ := newTestRouter(t)

	rec := doRequest(t, handler, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])

	store.pingErr = context.DeadlineExceeded
	rec = doRequest(t, handler, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "degraded", health["status"])
}

func TestParseTokenMap(t *testing.T) {
	m := server.ParseTokenMap("tok-a:alice, tok-b:bob,,bad,also-bad:")

	assert.Len(t, m, 2)
	user, ok := m.Resolve("tok-a")
	assert.True(t, ok)
	assert.Equal(t, "alice", user)
	_, ok = m.Resolve("bad")
	assert.False(t, ok)
}
