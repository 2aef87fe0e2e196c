package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func middlewareRouter(tm *TokenManager, requireAuth bool) (*gin.Engine, *Identity) {
	gin.SetMode(gin.TestMode)

	var seen Identity
	r := gin.New()
	handlers := []gin.HandlerFunc{ResolveIdentity(tm, zerolog.Nop())}
	if requireAuth {
		handlers = append(handlers, RequireIdentity())
	}
	handlers = append(handlers, func(c *gin.Context) {
		seen = IdentityFrom(c.Request.Context())
		c.Status(http.StatusOK)
	})
	r.GET("/probe", handlers...)
	return r, &seen
}

func TestResolveIdentityWithValidToken(t *testing.T) {
	req := require.New(t)
	tm := NewTokenManager("test-secret", time.Hour)
	router, seen := middlewareRouter(tm, false)

	token, err := tm.Generate(7, "alice")
	req.NoError(err)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/probe?token="+token, nil))

	req.Equal(http.StatusOK, w.Code)
	req.Equal(Identity{UserID: 7, Username: "alice"}, *seen)
}

func TestResolveIdentityFailsSoft(t *testing.T) {
	req := require.New(t)
	tm := NewTokenManager("test-secret", time.Hour)
	router, seen := middlewareRouter(tm, false)

	for _, target := range []string{"/probe", "/probe?token=garbage"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))

		// The request continues as anonymous instead of being rejected.
		req.Equal(http.StatusOK, w.Code)
		req.True(seen.IsAnonymous())
	}
}

func TestRequireIdentityRejectsAnonymous(t *testing.T) {
	req := require.New(t)
	tm := NewTokenManager("test-secret", time.Hour)
	router, _ := middlewareRouter(tm, true)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/probe", nil))
	req.Equal(http.StatusUnauthorized, w.Code)

	token, err := tm.Generate(7, "alice")
	req.NoError(err)
	w = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/probe", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, r)
	req.Equal(http.StatusOK, w.Code)
}
