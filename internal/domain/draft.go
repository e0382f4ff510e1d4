// Package domain contains the core domain models for the draftsync engine.
package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a tweet or thread.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusScheduled       Status = "scheduled"
	StatusPublished       Status = "published"
)

// Valid reports whether s is a known lifecycle status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPendingApproval, StatusApproved,
		StatusRejected, StatusScheduled, StatusPublished:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// transition. Published is terminal; rejected returns to draft for revision.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusDraft:
		return next == StatusPendingApproval || next == StatusScheduled
	case StatusPendingApproval:
		return next == StatusApproved || next == StatusRejected
	case StatusApproved:
		return next == StatusScheduled
	case StatusRejected:
		return next == StatusDraft
	case StatusScheduled:
		return next == StatusPublished
	case StatusPublished:
		return false
	}
	return false
}

// EntityKind distinguishes the two draft collections on the wire and in the
// pending-sync set.
type EntityKind string

const (
	KindTweet  EntityKind = "tweet"
	KindThread EntityKind = "thread"
)

// Valid reports whether k is a known entity kind.
func (k EntityKind) Valid() bool {
	return k == KindTweet || k == KindThread
}

// Tweet is a standalone unit of content. A tweet that belongs to a thread
// carries the thread id and its ordinal position within it.
type Tweet struct {
	ID           string     `db:"id"            json:"id"`
	Content      string     `db:"content"       json:"content"`
	MediaIDs     []string   `db:"media_ids"     json:"mediaIds,omitempty"`
	Status       Status     `db:"status"        json:"status"`
	ThreadID     string     `db:"thread_id"     json:"threadId,omitempty"`
	Position     int        `db:"position"      json:"position,omitempty"`
	ScheduledFor *time.Time `db:"scheduled_for" json:"scheduledFor,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"createdAt"`
	LastModified *time.Time `db:"last_modified" json:"lastModified,omitempty"`
	IsSubmitted  bool       `db:"is_submitted"  json:"isSubmitted,omitempty"`
	TeamID       string     `db:"team_id"       json:"teamId,omitempty"`
}

// Thread is an ordered group of tweets published together.
type Thread struct {
	ID           string     `db:"id"            json:"id"`
	TweetIDs     []string   `db:"tweet_ids"     json:"tweetIds"`
	Status       Status     `db:"status"        json:"status"`
	ScheduledFor *time.Time `db:"scheduled_for" json:"scheduledFor,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"createdAt"`
	LastModified *time.Time `db:"last_modified" json:"lastModified,omitempty"`
	IsSubmitted  bool       `db:"is_submitted"  json:"isSubmitted,omitempty"`
	TeamID       string     `db:"team_id"       json:"teamId,omitempty"`
}

// ThreadWithTweets joins a thread with its member tweets, sorted by position.
type ThreadWithTweets struct {
	Thread
	Tweets []Tweet `json:"tweets"`
}

// DraftSet is the full remote draft collection for one user, as returned by
// GET /drafts.
type DraftSet struct {
	Tweets  []Tweet            `json:"tweets"`
	Threads []ThreadWithTweets `json:"threads"`
}

// NewTweet creates a draft tweet with a fresh id.
func NewTweet(content string) (*Tweet, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalidDraft)
	}
	return &Tweet{
		ID:        uuid.NewString(),
		Content:   content,
		Status:    StatusDraft,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// NewThread creates a draft thread over the given ordered tweet ids.
func NewThread(tweetIDs []string) (*Thread, error) {
	if len(tweetIDs) == 0 {
		return nil, fmt.Errorf("%w: thread requires at least one tweet", ErrInvalidDraft)
	}
	return &Thread{
		ID:        uuid.NewString(),
		TweetIDs:  append([]string(nil), tweetIDs...),
		Status:    StatusDraft,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Syncable reports whether the tweet may be enqueued for outbound sync.
// Submitted and pending-approval content is frozen until a review decision.
func (t *Tweet) Syncable() bool {
	return !t.IsSubmitted && t.Status != StatusPendingApproval
}

// Syncable reports whether the thread may be enqueued for outbound sync.
func (t *Thread) Syncable() bool {
	return !t.IsSubmitted && t.Status != StatusPendingApproval
}

// ModifiedAt returns the conflict-resolution timestamp: the last local
// modification, or creation time when the entity was never edited.
func (t *Tweet) ModifiedAt() time.Time {
	if t.LastModified != nil {
		return *t.LastModified
	}
	return t.CreatedAt
}

// ModifiedAt returns the conflict-resolution timestamp for a thread.
func (t *Thread) ModifiedAt() time.Time {
	if t.LastModified != nil {
		return *t.LastModified
	}
	return t.CreatedAt
}

// Touch bumps LastModified, keeping it monotonically non-decreasing.
func (t *Tweet) Touch() {
	now := time.Now().UTC()
	if t.LastModified != nil && now.Before(*t.LastModified) {
		return
	}
	t.LastModified = &now
}

// Touch bumps LastModified, keeping it monotonically non-decreasing.
func (t *Thread) Touch() {
	now := time.Now().UTC()
	if t.LastModified != nil && now.Before(*t.LastModified) {
		return
	}
	t.LastModified = &now
}

// SortTweetsByPosition orders tweets by ascending position. Tweets without a
// position sort as position 0; the sort is stable so insertion order breaks
// ties.
func SortTweetsByPosition(tweets []Tweet) {
	sort.SliceStable(tweets, func(i, j int) bool {
		return tweets[i].Position < tweets[j].Position
	})
}
