package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketorder/gateway/internal/apperr"
	"github.com/marketorder/gateway/internal/config"
	"github.com/marketorder/gateway/internal/middleware"
)

func stringsReader(s string) *strings.Reader { return strings.NewReader(s) }

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestAPI() *API {
	cfg := config.Default()
	return &API{cfg: cfg, validate: newOrderValidator()}
}

func TestPing(t *testing.T) {
	a := newTestAPI()
	engine := gin.New()
	engine.GET("/ping", a.ping)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
}

func TestMarketsListsConfiguredSymbols(t *testing.T) {
	a := newTestAPI()
	engine := gin.New()
	engine.GET("/markets", a.markets)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/markets", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "oz")
	assert.Contains(t, body, "wb")
}

func TestConfigRedactsMasterToken(t *testing.T) {
	a := newTestAPI()
	a.cfg.MasterToken = "top-secret"
	engine := gin.New()
	engine.GET("/config", a.config)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/config", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "top-secret")
}

func TestValidOrderNormalizesProducts(t *testing.T) {
	a := newTestAPI()
	engine := gin.New()
	engine.POST("/valid-order", a.validOrder)

	w := httptest.NewRecorder()
	body := `{"products":["oz/123456","oz/123456","wb/654321"]}`
	req := httptest.NewRequest(http.MethodPost, "/valid-order", stringsReader(body))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Products []string `json:"products"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, []string{"oz/123456", "wb/654321"}, got.Products)
}

func TestValidOrderRejectsEmptyBody(t *testing.T) {
	a := newTestAPI()
	engine := gin.New()
	engine.Use(middleware.ErrorMapper())
	engine.POST("/valid-order", a.validOrder)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/valid-order", stringsReader(""))
	engine.ServeHTTP(w, req)

	assert.Equal(t, apperr.EmptyRequestBody.HTTPStatus(), w.Code)
}

func TestValidOrderRejectsMissingProductsField(t *testing.T) {
	a := newTestAPI()
	engine := gin.New()
	engine.Use(middleware.ErrorMapper())
	engine.POST("/valid-order", a.validOrder)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/valid-order", stringsReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)

	assert.Equal(t, apperr.InvalidOrderFormat.HTTPStatus(), w.Code)
}

func TestValidOrderRejectsInvalidProduct(t *testing.T) {
	a := newTestAPI()
	engine := gin.New()
	engine.Use(middleware.ErrorMapper())
	engine.POST("/valid-order", a.validOrder)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/valid-order", stringsReader(`{"products":["garbage"]}`))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)

	assert.Equal(t, apperr.InvalidOrderParameter.HTTPStatus(), w.Code)
}
