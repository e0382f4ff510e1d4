package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/helmstudio/draftsync/internal/domain"
	"github.com/helmstudio/draftsync/internal/logger"
)

// draftEnvelope is the POST /drafts body: a kind discriminator plus the
// entity payload.
type draftEnvelope struct {
	Type domain.EntityKind `json:"type" binding:"required"`
	Data json.RawMessage   `json:"data" binding:"required"`
}

// getDrafts returns the caller's full draft set, or a single entity when
// type and id query parameters are present.
func (r *Router) getDrafts(c *gin.Context) {
	userID := currentUser(c)

	kind := domain.EntityKind(c.Query("type"))
	id := c.Query("id")
	if kind == "" && id == "" {
		set, err := r.store.ListAll(c.Request.Context(), userID)
		if err != nil {
			r.log.Error("list drafts failed", logger.Error(err), logger.String("user_id", userID))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list drafts"})
			return
		}
		c.JSON(http.StatusOK, set)
		return
	}

	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required when type is set"})
		return
	}

	switch kind {
	case domain.KindTweet:
		tweet, err := r.store.GetTweet(c.Request.Context(), userID, id)
		if err != nil {
			r.handleStoreError(c, err, "tweet", "get")
			return
		}
		c.JSON(http.StatusOK, tweet)
	case domain.KindThread:
		thread, err := r.store.GetThread(c.Request.Context(), userID, id)
		if err != nil {
			r.handleStoreError(c, err, "thread", "get")
			return
		}
		c.JSON(http.StatusOK, thread)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown draft type"})
	}
}

// saveDraft upserts a tweet or a thread with its members.
func (r *Router) saveDraft(c *gin.Context) {
	userID := currentUser(c)

	var envelope draftEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch envelope.Type {
	case domain.KindTweet:
		var tweet domain.Tweet
		if err := json.Unmarshal(envelope.Data, &tweet); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid tweet payload"})
			return
		}
		if err := r.store.UpsertTweet(c.Request.Context(), userID, &tweet); err != nil {
			r.handleStoreError(c, err, "tweet", "save")
			return
		}
		c.JSON(http.StatusOK, gin.H{"saved": tweet.ID})
	case domain.KindThread:
		var thread domain.ThreadWithTweets
		if err := json.Unmarshal(envelope.Data, &thread); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid thread payload"})
			return
		}
		if err := r.store.UpsertThread(c.Request.Context(), userID, &thread); err != nil {
			r.handleStoreError(c, err, "thread", "save")
			return
		}
		c.JSON(http.StatusOK, gin.H{"saved": thread.ID})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown draft type"})
	}
}

// deleteDraft removes a draft; cleanup=true also releases its media.
func (r *Router) deleteDraft(c *gin.Context) {
	userID := currentUser(c)

	kind := domain.EntityKind(c.Query("type"))
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}

	var (
		mediaIDs []string
		err      error
	)
	switch kind {
	case domain.KindTweet:
		mediaIDs, err = r.store.DeleteTweet(c.Request.Context(), userID, id)
	case domain.KindThread:
		mediaIDs, err = r.store.DeleteThread(c.Request.Context(), userID, id)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown draft type"})
		return
	}
	if err != nil {
		r.handleStoreError(c, err, string(kind), "delete")
		return
	}

	if c.Query("cleanup") == "true" {
		if cleanupErr := r.media.Cleanup(c.Request.Context(), userID, mediaIDs); cleanupErr != nil {
			r.log.Warn("media cleanup failed",
				logger.Error(cleanupErr),
				logger.String("user_id", userID),
				logger.String("draft_id", id))
		}
	}

	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// handleStoreError maps repository errors to HTTP responses
func (r *Router) handleStoreError(c *gin.Context, err error, entityType, operation string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": entityType + " not found"})
	case errors.Is(err, domain.ErrInvalidDraft):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		r.log.Error("store operation failed",
			logger.Error(err),
			logger.String("entity", entityType),
			logger.String("operation", operation))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to " + operation + " " + entityType})
	}
}
