package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestLoggerAssignsRequestID(t *testing.T) {
	core, _ := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	engine := gin.New()
	engine.Use(RequestLogger(logger, time.Second))
	engine.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequestLoggerLogsWarnWhenSlow(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	engine := gin.New()
	engine.Use(RequestLogger(logger, time.Millisecond))
	engine.GET("/slow", func(c *gin.Context) {
		time.Sleep(5 * time.Millisecond)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/slow", nil))

	entries := logs.All()
	require.NotEmpty(t, entries)
	assert.Equal(t, "slow request", entries[len(entries)-1].Message)
	assert.Equal(t, zap.WarnLevel, entries[len(entries)-1].Level)
}

func TestLoggerFallsBackToBaseWhenUnset(t *testing.T) {
	base := zap.NewNop()
	engine := gin.New()
	var got *zap.Logger
	engine.GET("/y", func(c *gin.Context) {
		got = Logger(c, base)
		c.Status(http.StatusOK)
	})
	engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/y", nil))
	assert.Same(t, base, got)
}
