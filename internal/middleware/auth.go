package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/marketorder/gateway/internal/apperr"
	"github.com/marketorder/gateway/internal/model"
)

// TokenLookup is the subset of the token store Auth needs.
type TokenLookup interface {
	Get(ctx context.Context, id string) (model.Token, error)
}

// Auth enforces opaque bearer-token equality against store: it extracts
// "Authorization: Bearer <token>", looks the id up, rejects expired or
// unknown tokens, and attaches the Token to the gin context.
func Auth(store TokenLookup, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			Fail(c, apperr.MissingAuthorizationHeader)
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			Fail(c, apperr.MalformedAuthorizationHeader)
			return
		}
		id := parts[1]

		token, err := store.Get(c.Request.Context(), id)
		if err != nil {
			Logger(c, logger).Debug("access token lookup failed", zap.String("token_id", id), zap.Error(err))
			Fail(c, apperr.InvalidAccessToken)
			return
		}
		if token.Expired(time.Now()) {
			Fail(c, apperr.AccessTokenExpired)
			return
		}

		c.Set("token", token)
		c.Set("token_id", token.ID)
		c.Next()
	}
}

// RequireMaster rejects requests whose Authorization bearer token does not
// equal masterToken exactly (spec's admin routes).
func RequireMaster(masterToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			Fail(c, apperr.MissingAuthorizationHeader)
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			Fail(c, apperr.MalformedAuthorizationHeader)
			return
		}
		if parts[1] != masterToken {
			Fail(c, apperr.InvalidMasterToken)
			return
		}
		c.Next()
	}
}

// TokenFromContext retrieves the Token attached by Auth.
func TokenFromContext(c *gin.Context) (model.Token, bool) {
	v, ok := c.Get("token")
	if !ok {
		return model.Token{}, false
	}
	t, ok := v.(model.Token)
	return t, ok
}
