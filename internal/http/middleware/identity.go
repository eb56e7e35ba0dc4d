// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file reads the caller's identity from X-User-ID and X-User-Role.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// Identity headers. Authentication happens upstream; the API trusts these.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

const (
	ctxKeyUserID   = "userID"
	ctxKeyUserRole = "userRole"
)

// AnonymousActor is used when a request carries no identity.
const AnonymousActor = "anonymous"

// Identity copies the caller identity headers into the Gin context so that
// logging, rate limiting and idempotency all key on the same actor.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := strings.TrimSpace(c.GetHeader(HeaderUserID)); id != "" {
			c.Set(ctxKeyUserID, id)
		}
		if role := strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderUserRole))); role != "" {
			c.Set(ctxKeyUserRole, role)
		}
		c.Next()
	}
}

// ActorID returns the caller id, or AnonymousActor.
func ActorID(c *gin.Context) string {
	if s := ctxString(c, ctxKeyUserID); s != "" {
		return s
	}
	return AnonymousActor
}

// ActorRole returns the caller role, or "".
func ActorRole(c *gin.Context) string { return ctxString(c, ctxKeyUserRole) }

func ctxString(c *gin.Context, key string) string {
	if v, ok := c.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
