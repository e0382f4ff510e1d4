package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const userIDContextKey = "draftsync.user_id"

// TokenResolver maps a bearer token to the user it belongs to.
type TokenResolver interface {
	Resolve(token string) (userID string, ok bool)
}

// TokenMap resolves tokens from a static in-memory table.
type TokenMap map[string]string

// Resolve implements TokenResolver.
func (m TokenMap) Resolve(token string) (string, bool) {
	userID, ok := m[token]
	return userID, ok
}

// ParseTokenMap parses a "token:user,token:user" list, the format of the
// DRAFTSD_TOKENS environment variable.
func ParseTokenMap(raw string) TokenMap {
	m := TokenMap{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, userID, ok := strings.Cut(pair, ":")
		if !ok || token == "" || userID == "" {
			continue
		}
		m[token] = userID
	}
	return m
}

// bearerAuth rejects requests without a resolvable bearer token and stores
// the resolved user id on the context.
func bearerAuth(resolver TokenResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing bearer token",
			})
			return
		}

		userID, ok := resolver.Resolve(token)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid bearer token",
			})
			return
		}

		c.Set(userIDContextKey, userID)
		c.Next()
	}
}

// currentUser returns the user id stored by bearerAuth.
func currentUser(c *gin.Context) string {
	return c.GetString(userIDContextKey)
}
