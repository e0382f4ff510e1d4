// Package remote implements the HTTP client for the drafts API, the
// authoritative store the local cache synchronizes against.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/helmstudio/draftsync/internal/domain"
	"github.com/helmstudio/draftsync/internal/logger"
)

const defaultTimeout = 30 * time.Second

// Client talks to the remote drafts service. All methods are safe for
// concurrent use.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	log     logger.Logger

	// deleteTimeout bounds the detached fire-and-forget delete calls.
	deleteTimeout time.Duration
}

// draftEnvelope is the POST /drafts body: an entity kind plus its payload.
type draftEnvelope struct {
	Type domain.EntityKind `json:"type"`
	Data any               `json:"data"`
}

// NewClient creates a drafts API client. The token is sent as a bearer
// credential; obtaining it is the session layer's concern.
func NewClient(baseURL, token string, timeout time.Duration, log logger.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("drafts API URL is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL:       baseURL,
		token:         token,
		client:        &http.Client{Timeout: timeout},
		log:           log,
		deleteTimeout: timeout,
	}, nil
}

// UpsertTweet pushes one standalone tweet to the remote store.
func (c *Client) UpsertTweet(ctx context.Context, tweet *domain.Tweet) error {
	if err := c.postDraft(ctx, domain.KindTweet, tweet); err != nil {
		return fmt.Errorf("upsert tweet %s: %w", tweet.ID, err)
	}
	return nil
}

// UpsertThread pushes a thread together with its member tweets.
func (c *Client) UpsertThread(ctx context.Context, thread *domain.ThreadWithTweets) error {
	if err := c.postDraft(ctx, domain.KindThread, thread); err != nil {
		return fmt.Errorf("upsert thread %s: %w", thread.ID, err)
	}
	return nil
}

// GetTweet fetches one tweet by id. Returns domain.ErrNotFound for 404s.
func (c *Client) GetTweet(ctx context.Context, id string) (*domain.Tweet, error) {
	var tweet domain.Tweet
	if err := c.getDraft(ctx, domain.KindTweet, id, &tweet); err != nil {
		return nil, err
	}
	return &tweet, nil
}

// GetThread fetches one thread with its members by id.
func (c *Client) GetThread(ctx context.Context, id string) (*domain.ThreadWithTweets, error) {
	var thread domain.ThreadWithTweets
	if err := c.getDraft(ctx, domain.KindThread, id, &thread); err != nil {
		return nil, err
	}
	return &thread, nil
}

// GetAllDrafts fetches the caller's entire remote draft set.
func (c *Client) GetAllDrafts(ctx context.Context) (*domain.DraftSet, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/drafts", nil, nil)
	if err != nil {
		return nil, err
	}

	var set domain.DraftSet
	if err := c.do(req, &set); err != nil {
		return nil, fmt.Errorf("fetch all drafts: %w", err)
	}
	return &set, nil
}

// DeleteDraftAsync issues a remote delete on a detached goroutine and
// returns immediately. The local deletion has already taken effect; remote
// cleanup is best effort, so failures are logged, never retried, and never
// surfaced to the caller.
func (c *Client) DeleteDraftAsync(kind domain.EntityKind, id string, cleanup bool) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.deleteTimeout)
		defer cancel()

		if err := c.deleteDraft(ctx, kind, id, cleanup); err != nil {
			c.log.Warn("remote draft delete failed",
				logger.String("id", id),
				logger.String("kind", string(kind)),
				logger.Error(err))
			return
		}
		c.log.Debug("remote draft deleted",
			logger.String("id", id),
			logger.String("kind", string(kind)))
	}()
}

func (c *Client) postDraft(ctx context.Context, kind domain.EntityKind, data any) error {
	body, err := json.Marshal(draftEnvelope{Type: kind, Data: data})
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/drafts", nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, nil)
}

func (c *Client) getDraft(ctx context.Context, kind domain.EntityKind, id string, out any) error {
	query := url.Values{}
	query.Set("type", string(kind))
	query.Set("id", id)

	req, err := c.newRequest(ctx, http.MethodGet, "/drafts", query, nil)
	if err != nil {
		return err
	}

	if err := c.do(req, out); err != nil {
		return fmt.Errorf("fetch %s %s: %w", kind, id, err)
	}
	return nil
}

func (c *Client) deleteDraft(ctx context.Context, kind domain.EntityKind, id string, cleanup bool) error {
	query := url.Values{}
	query.Set("type", string(kind))
	query.Set("id", id)
	if cleanup {
		query.Set("cleanup", "true")
	}

	req, err := c.newRequest(ctx, http.MethodDelete, "/drafts", query, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do executes the request, maps 404 to domain.ErrNotFound and any other
// non-2xx status to an error, and decodes the body into out when given.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		// Read a little of the body for the error message, then discard.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
