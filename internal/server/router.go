// Package server exposes the drafts HTTP API consumed by the sync agent.
package server

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/helmstudio/draftsync/internal/domain"
	"github.com/helmstudio/draftsync/internal/logger"
)

const (
	healthStatusHealthy  = "healthy"
	healthStatusDegraded = "degraded"
	healthCheckTimeout   = 2 * time.Second
	serviceVersion       = "1.0.0"
)

// DraftStore is the persistence surface the handlers need. Implemented by
// database.DraftRepository.
type DraftStore interface {
	UpsertTweet(ctx context.Context, userID string, tweet *domain.Tweet) error
	UpsertThread(ctx context.Context, userID string, thread *domain.ThreadWithTweets) error
	GetTweet(ctx context.Context, userID, id string) (*domain.Tweet, error)
	GetThread(ctx context.Context, userID, id string) (*domain.ThreadWithTweets, error)
	ListAll(ctx context.Context, userID string) (*domain.DraftSet, error)
	DeleteTweet(ctx context.Context, userID, id string) ([]string, error)
	DeleteThread(ctx context.Context, userID, id string) ([]string, error)
	Ping(ctx context.Context) error
}

// Router holds the drafts API dependencies
type Router struct {
	store    DraftStore
	media    MediaCleaner
	resolver TokenResolver
	log      logger.Logger
	debug    bool
}

// NewRouter creates a new drafts API router
func NewRouter(store DraftStore, media MediaCleaner, resolver TokenResolver, log logger.Logger, debug bool) *Router {
	return &Router{
		store:    store,
		media:    media,
		resolver: resolver,
		log:      log,
		debug:    debug,
	}
}

// SetupRoutes builds the gin engine with middleware and all draft routes.
func (r *Router) SetupRoutes() *gin.Engine {
	if !r.debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	// Health check (public, no auth)
	router.GET("/health", r.healthCheck)

	drafts := router.Group("/drafts", bearerAuth(r.resolver))
	drafts.GET("", r.getDrafts)
	drafts.POST("", r.saveDraft)
	drafts.DELETE("", r.deleteDraft)

	return router
}

// healthCheck returns the service health status
func (r *Router) healthCheck(c *gin.Context) {
	health := gin.H{
		"status":  healthStatusHealthy,
		"service": "draftsd",
		"version": serviceVersion,
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	dbConnected := true
	if err := r.store.Ping(ctx); err != nil {
		dbConnected = false
		health["status"] = healthStatusDegraded
	}
	health["database"] = gin.H{
		"connected": dbConnected,
	}

	c.JSON(200, health)
}
