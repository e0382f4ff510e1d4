package server

import (
	"context"

	"github.com/helmstudio/draftsync/internal/logger"
)

// MediaCleaner releases stored media once the drafts referencing it are gone.
type MediaCleaner interface {
	Cleanup(ctx context.Context, userID string, mediaIDs []string) error
}

// LogMediaCleaner records cleanup requests without touching storage. Used
// until a real media store is wired in.
type LogMediaCleaner struct {
	log logger.Logger
}

// NewLogMediaCleaner creates a new logging cleaner
func NewLogMediaCleaner(log logger.Logger) *LogMediaCleaner {
	return &LogMediaCleaner{log: log}
}

// Cleanup implements MediaCleaner.
func (l *LogMediaCleaner) Cleanup(_ context.Context, userID string, mediaIDs []string) error {
	if len(mediaIDs) == 0 {
		return nil
	}
	l.log.Info("media cleanup requested",
		logger.String("user_id", userID),
		logger.Strings("media_ids", mediaIDs))
	return nil
}
