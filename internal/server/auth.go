package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/humpbacklabs/humpback/internal/store"
)

// ownerIDKey is the echo context key the auth middleware sets and
// handlers read.
const ownerIDKey = "owner_id"

// apiKeyAuth authenticates a bearer api key by hash lookup. Every
// failure mode collapses into the same 401 so the endpoint cannot be
// used as a credential oracle.
func (s *Server) apiKeyAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := bearerToken(c.Request().Header.Get("Authorization"))
			if !ok {
				return unauthorized(c)
			}
			key, err := s.store.GetAPIKeyByHash(c.Request().Context(), store.HashKey(token))
			if err != nil {
				return unauthorized(c)
			}
			c.Set(ownerIDKey, key.OwnerID)
			return next(c)
		}
	}
}

// checkInternalSecret guards operator endpoints with a constant-time
// comparison against the configured shared secret.
func (s *Server) checkInternalSecret(c echo.Context) bool {
	token, ok := bearerToken(c.Request().Header.Get("Authorization"))
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.internalSecret)) == 1
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}

func ownerID(c echo.Context) string {
	id, _ := c.Get(ownerIDKey).(string)
	return id
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
}
