package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ResolveIdentity verifies the request credential and stores the result in
// the request context. Verification is fail-soft: an absent or invalid token
// resolves to the anonymous identity and the request continues. Routes that
// need a verified user reject anonymous themselves (RequireIdentity for REST,
// the handshake handler for WebSocket).
func ResolveIdentity(tm *TokenManager, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := Anonymous

		if token, err := ExtractToken(c.Request); err == nil {
			claims, err := tm.Verify(token)
			if err != nil {
				logger.Debug().
					Err(err).
					Str("path", c.Request.URL.Path).
					Msg("Token verification failed, continuing as anonymous")
			} else {
				identity = Identity{UserID: claims.UserID, Username: claims.Username}
			}
		}

		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), identity))
		c.Next()
	}
}

// RequireIdentity aborts the request with 401 when the resolved identity is
// anonymous. Must run after ResolveIdentity.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IdentityFrom(c.Request.Context()).IsAnonymous() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Next()
	}
}
