package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/helmstudio/draftsync/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS draft_tweets (
	id            TEXT        NOT NULL,
	user_id       TEXT        NOT NULL,
	content       TEXT        NOT NULL DEFAULT '',
	media_ids     TEXT[]      NOT NULL DEFAULT '{}',
	status        TEXT        NOT NULL DEFAULT 'draft',
	thread_id     TEXT        NOT NULL DEFAULT '',
	position      INT         NOT NULL DEFAULT 0,
	scheduled_for TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_modified TIMESTAMPTZ,
	is_submitted  BOOLEAN     NOT NULL DEFAULT FALSE,
	team_id       TEXT        NOT NULL DEFAULT '',
	PRIMARY KEY (id, user_id)
);

CREATE TABLE IF NOT EXISTS draft_threads (
	id            TEXT        NOT NULL,
	user_id       TEXT        NOT NULL,
	tweet_ids     TEXT[]      NOT NULL DEFAULT '{}',
	status        TEXT        NOT NULL DEFAULT 'draft',
	scheduled_for TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_modified TIMESTAMPTZ,
	is_submitted  BOOLEAN     NOT NULL DEFAULT FALSE,
	team_id       TEXT        NOT NULL DEFAULT '',
	PRIMARY KEY (id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_draft_tweets_thread ON draft_tweets (user_id, thread_id);
`

// tweetSelectList is the column list for draft_tweets reads (single source
// for schema changes).
const tweetSelectList = `id, content, media_ids, status, thread_id, position,
	scheduled_for, created_at, last_modified, is_submitted, team_id`

const threadSelectList = `id, tweet_ids, status, scheduled_for, created_at,
	last_modified, is_submitted, team_id`

// DraftRepository stores per-user draft tweets and threads in Postgres.
type DraftRepository struct {
	db *sqlx.DB
}

// NewDraftRepository creates a new repository
func NewDraftRepository(db *sqlx.DB) *DraftRepository {
	return &DraftRepository{db: db}
}

// InitSchema creates the draft tables when they do not exist yet.
func (r *DraftRepository) InitSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init draft schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity, used by health checks.
func (r *DraftRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type tweetRow struct {
	ID           string         `db:"id"`
	Content      string         `db:"content"`
	MediaIDs     pq.StringArray `db:"media_ids"`
	Status       string         `db:"status"`
	ThreadID     string         `db:"thread_id"`
	Position     int            `db:"position"`
	ScheduledFor *time.Time     `db:"scheduled_for"`
	CreatedAt    time.Time      `db:"created_at"`
	LastModified *time.Time     `db:"last_modified"`
	IsSubmitted  bool           `db:"is_submitted"`
	TeamID       string         `db:"team_id"`
}

func (t tweetRow) toDomain() domain.Tweet {
	return domain.Tweet{
		ID:           t.ID,
		Content:      t.Content,
		MediaIDs:     []string(t.MediaIDs),
		Status:       domain.Status(t.Status),
		ThreadID:     t.ThreadID,
		Position:     t.Position,
		ScheduledFor: t.ScheduledFor,
		CreatedAt:    t.CreatedAt,
		LastModified: t.LastModified,
		IsSubmitted:  t.IsSubmitted,
		TeamID:       t.TeamID,
	}
}

type threadRow struct {
	ID           string         `db:"id"`
	TweetIDs     pq.StringArray `db:"tweet_ids"`
	Status       string         `db:"status"`
	ScheduledFor *time.Time     `db:"scheduled_for"`
	CreatedAt    time.Time      `db:"created_at"`
	LastModified *time.Time     `db:"last_modified"`
	IsSubmitted  bool           `db:"is_submitted"`
	TeamID       string         `db:"team_id"`
}

func (t threadRow) toDomain() domain.Thread {
	return domain.Thread{
		ID:           t.ID,
		TweetIDs:     []string(t.TweetIDs),
		Status:       domain.Status(t.Status),
		ScheduledFor: t.ScheduledFor,
		CreatedAt:    t.CreatedAt,
		LastModified: t.LastModified,
		IsSubmitted:  t.IsSubmitted,
		TeamID:       t.TeamID,
	}
}

const upsertTweetQuery = `
	INSERT INTO draft_tweets (
		id, user_id, content, media_ids, status, thread_id, position,
		scheduled_for, created_at, last_modified, is_submitted, team_id
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (id, user_id) DO UPDATE SET
		content       = EXCLUDED.content,
		media_ids     = EXCLUDED.media_ids,
		status        = EXCLUDED.status,
		thread_id     = EXCLUDED.thread_id,
		position      = EXCLUDED.position,
		scheduled_for = EXCLUDED.scheduled_for,
		last_modified = EXCLUDED.last_modified,
		is_submitted  = EXCLUDED.is_submitted,
		team_id       = EXCLUDED.team_id`

// UpsertTweet inserts or replaces one tweet for a user.
func (r *DraftRepository) UpsertTweet(ctx context.Context, userID string, tweet *domain.Tweet) error {
	if tweet.ID == "" {
		return fmt.Errorf("%w: tweet id is required", domain.ErrInvalidDraft)
	}

	_, err := r.db.ExecContext(ctx, upsertTweetQuery,
		tweet.ID, userID, tweet.Content, pq.StringArray(tweet.MediaIDs),
		string(tweet.Status), tweet.ThreadID, tweet.Position,
		tweet.ScheduledFor, createdAtOrNow(tweet.CreatedAt), tweet.LastModified,
		tweet.IsSubmitted, tweet.TeamID)
	if err != nil {
		return fmt.Errorf("upsert tweet %s: %w", tweet.ID, err)
	}
	return nil
}

// UpsertThread replaces a thread and its member tweets in one transaction.
// Tweets previously attached to the thread but absent from the new member
// list are detached from it, not deleted.
func (r *DraftRepository) UpsertThread(ctx context.Context, userID string, thread *domain.ThreadWithTweets) error {
	if thread.ID == "" {
		return fmt.Errorf("%w: thread id is required", domain.ErrInvalidDraft)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert thread: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	const upsertThreadQuery = `
		INSERT INTO draft_threads (
			id, user_id, tweet_ids, status, scheduled_for, created_at,
			last_modified, is_submitted, team_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id, user_id) DO UPDATE SET
			tweet_ids     = EXCLUDED.tweet_ids,
			status        = EXCLUDED.status,
			scheduled_for = EXCLUDED.scheduled_for,
			last_modified = EXCLUDED.last_modified,
			is_submitted  = EXCLUDED.is_submitted,
			team_id       = EXCLUDED.team_id`

	_, err = tx.ExecContext(ctx, upsertThreadQuery,
		thread.ID, userID, pq.StringArray(thread.TweetIDs), string(thread.Status),
		thread.ScheduledFor, createdAtOrNow(thread.CreatedAt), thread.LastModified,
		thread.IsSubmitted, thread.TeamID)
	if err != nil {
		return fmt.Errorf("upsert thread %s: %w", thread.ID, err)
	}

	memberIDs := make([]string, 0, len(thread.Tweets))
	for i := range thread.Tweets {
		member := thread.Tweets[i]
		member.ThreadID = thread.ID
		memberIDs = append(memberIDs, member.ID)

		_, err = tx.ExecContext(ctx, upsertTweetQuery,
			member.ID, userID, member.Content, pq.StringArray(member.MediaIDs),
			string(member.Status), member.ThreadID, member.Position,
			member.ScheduledFor, createdAtOrNow(member.CreatedAt), member.LastModified,
			member.IsSubmitted, member.TeamID)
		if err != nil {
			return fmt.Errorf("upsert thread member %s: %w", member.ID, err)
		}
	}

	const detachQuery = `
		UPDATE draft_tweets SET thread_id = ''
		WHERE user_id = $1 AND thread_id = $2 AND NOT (id = ANY($3))`
	if _, err = tx.ExecContext(ctx, detachQuery, userID, thread.ID, pq.StringArray(memberIDs)); err != nil {
		return fmt.Errorf("detach removed thread members: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert thread: %w", err)
	}
	return nil
}

// GetTweet returns one tweet, or domain.ErrNotFound.
func (r *DraftRepository) GetTweet(ctx context.Context, userID, id string) (*domain.Tweet, error) {
	var row tweetRow
	query := `SELECT ` + tweetSelectList + ` FROM draft_tweets WHERE user_id = $1 AND id = $2`

	if err := r.db.GetContext(ctx, &row, query, userID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get tweet %s: %w", id, err)
	}

	tweet := row.toDomain()
	return &tweet, nil
}

// GetThread returns one thread with its member tweets sorted by position,
// or domain.ErrNotFound.
func (r *DraftRepository) GetThread(ctx context.Context, userID, id string) (*domain.ThreadWithTweets, error) {
	var row threadRow
	query := `SELECT ` + threadSelectList + ` FROM draft_threads WHERE user_id = $1 AND id = $2`

	if err := r.db.GetContext(ctx, &row, query, userID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get thread %s: %w", id, err)
	}

	members, err := r.threadMembers(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	return &domain.ThreadWithTweets{Thread: row.toDomain(), Tweets: members}, nil
}

// ListAll returns the user's full draft set: standalone tweets plus every
// thread with its members.
func (r *DraftRepository) ListAll(ctx context.Context, userID string) (*domain.DraftSet, error) {
	var tweetRows []tweetRow
	query := `SELECT ` + tweetSelectList + ` FROM draft_tweets
		WHERE user_id = $1 AND thread_id = '' ORDER BY created_at`
	if err := r.db.SelectContext(ctx, &tweetRows, query, userID); err != nil {
		return nil, fmt.Errorf("list tweets: %w", err)
	}

	var threadRows []threadRow
	query = `SELECT ` + threadSelectList + ` FROM draft_threads
		WHERE user_id = $1 ORDER BY created_at`
	if err := r.db.SelectContext(ctx, &threadRows, query, userID); err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}

	set := &domain.DraftSet{
		Tweets:  make([]domain.Tweet, 0, len(tweetRows)),
		Threads: make([]domain.ThreadWithTweets, 0, len(threadRows)),
	}
	for _, row := range tweetRows {
		set.Tweets = append(set.Tweets, row.toDomain())
	}
	for _, row := range threadRows {
		members, err := r.threadMembers(ctx, userID, row.ID)
		if err != nil {
			return nil, err
		}
		set.Threads = append(set.Threads, domain.ThreadWithTweets{
			Thread: row.toDomain(),
			Tweets: members,
		})
	}
	return set, nil
}

// DeleteTweet removes one tweet and returns its media ids so the caller can
// clean up stored media.
func (r *DraftRepository) DeleteTweet(ctx context.Context, userID, id string) ([]string, error) {
	var media pq.StringArray
	query := `DELETE FROM draft_tweets WHERE user_id = $1 AND id = $2 RETURNING media_ids`

	if err := r.db.GetContext(ctx, &media, query, userID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("delete tweet %s: %w", id, err)
	}
	return []string(media), nil
}

// DeleteThread removes a thread and all its member tweets, returning the
// union of the members' media ids.
func (r *DraftRepository) DeleteThread(ctx context.Context, userID, id string) ([]string, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delete thread: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var mediaRows []pq.StringArray
	query := `DELETE FROM draft_tweets WHERE user_id = $1 AND thread_id = $2 RETURNING media_ids`
	if err := tx.SelectContext(ctx, &mediaRows, query, userID, id); err != nil {
		return nil, fmt.Errorf("delete thread members: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM draft_threads WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return nil, fmt.Errorf("delete thread %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, domain.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete thread: %w", err)
	}

	var media []string
	for _, row := range mediaRows {
		media = append(media, []string(row)...)
	}
	return media, nil
}

func (r *DraftRepository) threadMembers(ctx context.Context, userID, threadID string) ([]domain.Tweet, error) {
	var rows []tweetRow
	query := `SELECT ` + tweetSelectList + ` FROM draft_tweets
		WHERE user_id = $1 AND thread_id = $2 ORDER BY position`
	if err := r.db.SelectContext(ctx, &rows, query, userID, threadID); err != nil {
		return nil, fmt.Errorf("list thread members %s: %w", threadID, err)
	}

	members := make([]domain.Tweet, 0, len(rows))
	for _, row := range rows {
		members = append(members, row.toDomain())
	}
	return members, nil
}

func createdAtOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
