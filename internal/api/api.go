// Package api registers the gin route handlers described in §6.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/marketorder/gateway/internal/apperr"
	"github.com/marketorder/gateway/internal/config"
	"github.com/marketorder/gateway/internal/middleware"
	"github.com/marketorder/gateway/internal/model"
	"github.com/marketorder/gateway/internal/scheduler"
	"github.com/marketorder/gateway/internal/store"
	"github.com/marketorder/gateway/internal/validate"
	"github.com/marketorder/gateway/internal/wsobserver"
)

// API bundles the dependencies every route handler needs.
type API struct {
	cfg       config.Config
	scheduler *scheduler.Scheduler
	tokens    *store.TokenStore
	logger    *zap.Logger
	upgrader  websocket.Upgrader
	validate  *validator.Validate
}

// New constructs an API handler bundle.
func New(cfg config.Config, sched *scheduler.Scheduler, tokens *store.TokenStore, logger *zap.Logger) *API {
	return &API{
		cfg:       cfg,
		scheduler: sched,
		tokens:    tokens,
		logger:    logger,
		upgrader: websocket.Upgrader{
			Subprotocols:    []string{"send-only"},
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		validate: newOrderValidator(),
	}
}

// newOrderValidator reuses the gin "binding" struct tags already present on
// model.Order/OrderCookie so the same tags drive both c.ShouldBindJSON (used
// nowhere here, since bodies are read raw to distinguish EmptyRequestBody
// from malformed JSON) and this explicit post-unmarshal check.
func newOrderValidator() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	return v
}

// Register mounts every route under the api group (already scoped to
// root_api_path by the caller) plus the NoRoute fallback.
func (a *API) Register(engine *gin.Engine, group *gin.RouterGroup, masterAuth gin.HandlerFunc, tokenAuth gin.HandlerFunc) {
	group.GET("/ping", a.ping)
	group.GET("/myip", a.myip)
	group.GET("/state", a.state)
	group.GET("/markets", a.markets)
	group.GET("/config", a.config)
	group.GET("/admin", a.admin)

	group.POST("/create-token/", masterAuth, a.createToken)
	group.POST("/update-token/", masterAuth, a.updateToken)
	group.DELETE("/cutout-token/:id", masterAuth, a.cutoutToken)

	group.GET("/token-info", tokenAuth, a.tokenInfo)
	group.GET("/token-info/:id", a.tokenInfoByID)
	group.GET("/test-token", a.testToken)

	group.POST("/valid-order", tokenAuth, a.validOrder)
	group.GET("/valid-order", tokenAuth, a.validOrder)
	group.POST("/order", tokenAuth, a.order)
	group.GET("/task/:hash", tokenAuth, a.task)
	group.POST("/task/:hash", tokenAuth, a.task)
	group.Any("/task-ws/:hash", tokenAuth, a.taskWS)

	engine.NoRoute(middleware.NotFoundHandler)
}

func (a *API) ping(c *gin.Context) {
	c.String(http.StatusOK, "pong")
}

func (a *API) myip(c *gin.Context) {
	c.String(http.StatusOK, c.Request.RemoteAddr)
}

func (a *API) state(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"handlersCount":    a.scheduler.HandlersCount(),
		"tasksQueueLimit":  a.cfg.API.HandlerQueueLimit,
		"currTaskQueue":    a.scheduler.TotalQueueLen(),
		"openWsLimit":      a.cfg.API.OpenWSLimit,
		"currOpenWs":       a.scheduler.OpenWSCount(),
	})
}

func (a *API) markets(c *gin.Context) {
	out := make(gin.H, len(a.cfg.API.AvailableMarkets))
	for _, m := range a.cfg.API.AvailableMarkets {
		out[m] = gin.H{"symbol": m}
	}
	c.JSON(http.StatusOK, out)
}

func (a *API) config(c *gin.Context) {
	c.JSON(http.StatusOK, a.cfg.Public())
}

func (a *API) admin(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(adminDoc))
}

func (a *API) createToken(c *gin.Context) {
	ttl, opLimit, tcLimit, err := parseTokenQuery(c)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	token := model.Token{ID: uuid.NewString(), CreatedAt: time.Now().UTC(), TTL: ttl, OpLimit: opLimit, TCLimit: tcLimit}
	if err := a.tokens.Create(c.Request.Context(), token); err != nil {
		middleware.Fail(c, apperr.DatabaseError.WithDetail("%v", err))
		return
	}
	c.JSON(http.StatusCreated, token)
}

func (a *API) updateToken(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		middleware.Fail(c, apperr.MissingURLQueryParameter.WithDetail("id"))
		return
	}
	ttl, opLimit, tcLimit, err := parseTokenQuery(c)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	token, updErr := a.tokens.Update(c.Request.Context(), model.Token{ID: id, TTL: ttl, OpLimit: opLimit, TCLimit: tcLimit})
	if updErr != nil {
		if updErr == store.ErrNotFound {
			middleware.Fail(c, apperr.TokenDoesNotExist)
			return
		}
		middleware.Fail(c, apperr.DatabaseError.WithDetail("%v", updErr))
		return
	}
	c.JSON(http.StatusCreated, token)
}

func (a *API) cutoutToken(c *gin.Context) {
	id := c.Param("id")
	token, err := a.tokens.Delete(c.Request.Context(), id)
	if err != nil {
		if err == store.ErrNotFound {
			middleware.Fail(c, apperr.TokenDoesNotExist)
			return
		}
		middleware.Fail(c, apperr.DatabaseError.WithDetail("%v", err))
		return
	}
	c.JSON(http.StatusOK, token)
}

func (a *API) tokenInfo(c *gin.Context) {
	token, _ := middleware.TokenFromContext(c)
	c.JSON(http.StatusOK, token)
}

func (a *API) tokenInfoByID(c *gin.Context) {
	id := c.Param("id")
	token, err := a.tokens.Get(c.Request.Context(), id)
	if err != nil {
		if err == store.ErrNotFound {
			middleware.Fail(c, apperr.TokenDoesNotExist)
			return
		}
		middleware.Fail(c, apperr.DatabaseError.WithDetail("%v", err))
		return
	}
	c.JSON(http.StatusOK, token)
}

func (a *API) testToken(c *gin.Context) {
	addr := c.Request.RemoteAddr
	if !a.scheduler.ClaimTestTokenAddr(addr) {
		middleware.Fail(c, apperr.AccessRestricted)
		return
	}
	token := model.Token{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		TTL:       a.cfg.API.TestToken.TTL,
		OpLimit:   a.cfg.API.TestToken.OpLimit,
		TCLimit:   a.cfg.API.TestToken.TCLimit,
	}
	if err := a.tokens.Create(c.Request.Context(), token); err != nil {
		middleware.Fail(c, apperr.DatabaseError.WithDetail("%v", err))
		return
	}
	c.JSON(http.StatusCreated, token)
}

func (a *API) validOrder(c *gin.Context) {
	order, err := a.bindOrder(c)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	markets := a.cfg.API.AvailableMarkets
	normalized, verr := validate.Order(order.Products, order.ProxyPool, validate.NewAvailableMarkets(markets))
	if verr != nil {
		middleware.Fail(c, mapOrderValidationErr(verr))
		return
	}
	order.Products = normalized.ProductKeys
	c.JSON(http.StatusOK, order)
}

func (a *API) order(c *gin.Context) {
	order, err := a.bindOrder(c)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	token, _ := middleware.TokenFromContext(c)
	order.TokenID = token.ID

	hash, ierr := a.scheduler.InsertOrder(order, scheduler.TokenLimits{OpLimit: token.OpLimit, TCLimit: token.TCLimit})
	if ierr != nil {
		if appErr, ok := ierr.(*apperr.Error); ok {
			middleware.Fail(c, appErr)
			return
		}
		middleware.Fail(c, apperr.UnknownError.WithDetail("%v", ierr))
		return
	}
	c.String(http.StatusOK, hash)
}

func (a *API) task(c *gin.Context) {
	hash := c.Param("hash")
	task, err := a.scheduler.GetTaskState(c.Request.Context(), hash)
	if err != nil {
		if appErr, ok := err.(*apperr.Error); ok {
			middleware.Fail(c, appErr)
			return
		}
		middleware.Fail(c, apperr.UnknownError.WithDetail("%v", err))
		return
	}
	c.JSON(http.StatusOK, task)
}

func (a *API) taskWS(c *gin.Context) {
	hash := c.Param("hash")
	if err := a.scheduler.OpenWebSocket(); err != nil {
		middleware.Fail(c, err.(*apperr.Error))
		return
	}
	defer a.scheduler.CloseWebSocket()

	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	wsobserver.Run(c.Request.Context(), conn, hash, a.scheduler, a.cfg.API.WSSendingInterval(), a.logger)
}

func parseTokenQuery(c *gin.Context) (ttl int64, opLimit, tcLimit int, err *apperr.Error) {
	ttl, err = queryInt64(c, "ttl")
	if err != nil {
		return
	}
	var opLimit64, tcLimit64 int64
	opLimit64, err = queryInt64(c, "op_limit")
	if err != nil {
		return
	}
	tcLimit64, err = queryInt64(c, "tc_limit")
	if err != nil {
		return
	}
	return ttl, int(opLimit64), int(tcLimit64), nil
}

func queryInt64(c *gin.Context, key string) (int64, *apperr.Error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, apperr.MissingURLQueryParameter.WithDetail(key)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperr.InvalidURLQueryParameter.WithDetail(key)
	}
	return v, nil
}

func (a *API) bindOrder(c *gin.Context) (model.Order, *apperr.Error) {
	body, err := c.GetRawData()
	if err != nil || len(body) == 0 {
		return model.Order{}, apperr.EmptyRequestBody
	}
	var order model.Order
	if err := json.Unmarshal(body, &order); err != nil {
		return model.Order{}, apperr.InvalidOrderFormat
	}
	if err := a.validate.Struct(order); err != nil {
		return model.Order{}, apperr.InvalidOrderFormat.WithDetail("%v", err)
	}
	if len(order.Products) == 0 {
		return model.Order{}, apperr.EmptyOrder
	}
	return order, nil
}

func mapOrderValidationErr(err error) *apperr.Error {
	if verr, ok := err.(*validate.Error); ok {
		return apperr.InvalidOrderParameter.WithDetail("%s: %s", verr.Kind, verr.Input)
	}
	return apperr.InvalidOrderFormat
}
