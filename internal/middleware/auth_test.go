package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/marketorder/gateway/internal/apperr"
	"github.com/marketorder/gateway/internal/model"
)

type fakeTokenLookup struct {
	tokens map[string]model.Token
}

func (f fakeTokenLookup) Get(ctx context.Context, id string) (model.Token, error) {
	t, ok := f.tokens[id]
	if !ok {
		return model.Token{}, errTokenNotFound
	}
	return t, nil
}

var errTokenNotFound = apperr.TokenDoesNotExist

func newAuthEngine(lookup fakeTokenLookup) *gin.Engine {
	engine := gin.New()
	engine.Use(ErrorMapper())
	engine.GET("/secure", Auth(lookup, zap.NewNop()), func(c *gin.Context) {
		tok, _ := TokenFromContext(c)
		c.String(http.StatusOK, tok.ID)
	})
	return engine
}

func TestAuthRejectsMissingHeader(t *testing.T) {
	engine := newAuthEngine(fakeTokenLookup{tokens: map[string]model.Token{}})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	engine.ServeHTTP(w, req)
	assert.Equal(t, apperr.MissingAuthorizationHeader.HTTPStatus(), w.Code)
}

func TestAuthRejectsMalformedHeader(t *testing.T) {
	engine := newAuthEngine(fakeTokenLookup{tokens: map[string]model.Token{}})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Basic abc")
	engine.ServeHTTP(w, req)
	assert.Equal(t, apperr.MalformedAuthorizationHeader.HTTPStatus(), w.Code)
}

func TestAuthRejectsUnknownToken(t *testing.T) {
	engine := newAuthEngine(fakeTokenLookup{tokens: map[string]model.Token{}})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer unknown")
	engine.ServeHTTP(w, req)
	assert.Equal(t, apperr.InvalidAccessToken.HTTPStatus(), w.Code)
}

func TestAuthRejectsExpiredToken(t *testing.T) {
	expired := model.Token{ID: "tok", CreatedAt: time.Now().Add(-time.Hour), TTL: 60}
	engine := newAuthEngine(fakeTokenLookup{tokens: map[string]model.Token{"tok": expired}})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer tok")
	engine.ServeHTTP(w, req)
	assert.Equal(t, apperr.AccessTokenExpired.HTTPStatus(), w.Code)
}

func TestAuthAcceptsValidToken(t *testing.T) {
	valid := model.Token{ID: "tok", CreatedAt: time.Now(), TTL: 3600}
	engine := newAuthEngine(fakeTokenLookup{tokens: map[string]model.Token{"tok": valid}})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer tok")
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tok", w.Body.String())
}

func TestRequireMasterRejectsWrongToken(t *testing.T) {
	engine := gin.New()
	engine.Use(ErrorMapper())
	engine.GET("/admin", RequireMaster("master-secret"), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	engine.ServeHTTP(w, req)
	assert.Equal(t, apperr.InvalidMasterToken.HTTPStatus(), w.Code)
}

func TestRequireMasterAcceptsCorrectToken(t *testing.T) {
	engine := gin.New()
	engine.Use(ErrorMapper())
	engine.GET("/admin", RequireMaster("master-secret"), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer master-secret")
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
