// Package scheduler is the process-wide AppState equivalent (§4.5): routes
// orders to the least-loaded handler, aggregates reads across handlers,
// tracks WebSocket connection count, and guards test-token issuance.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marketorder/gateway/internal/apperr"
	"github.com/marketorder/gateway/internal/cache"
	"github.com/marketorder/gateway/internal/config"
	"github.com/marketorder/gateway/internal/executor"
	"github.com/marketorder/gateway/internal/handler"
	"github.com/marketorder/gateway/internal/hashkey"
	"github.com/marketorder/gateway/internal/model"
	"github.com/marketorder/gateway/internal/sessionpool"
	"github.com/marketorder/gateway/internal/store"
	"github.com/marketorder/gateway/internal/validate"
)

// resultReader is the subset of *store.ResultStore the Scheduler needs for
// its take-once fallback read; narrowed to an interface for testability.
type resultReader interface {
	TakeOnce(ctx context.Context, hash string) (model.Task, error)
}

// handlerLane is the subset of *handler.Handler the Scheduler drives;
// narrowed to an interface so tests can exercise routing/quota logic with a
// lane that does not start a background executor worker.
type handlerLane interface {
	Register(task *model.Task) error
	Get(hash string) (model.Task, bool)
	Len() int
	CountByToken(tokenID string) int
}

// Scheduler owns every Handler and the process-lifetime shared state
// (§5 table): open_ws counter and blocked_addrs set.
type Scheduler struct {
	cfg      config.Config
	handlers []handlerLane
	results  resultReader
	cache    *cache.Cache
	logger   *zap.Logger
	markets  validate.AvailableMarkets

	wsMu    sync.Mutex
	openWS  int

	blockedMu sync.Mutex
	blocked   map[string]struct{}

	resultCacheTTL time.Duration

	// insertMu serializes the quota-check-then-register sequence in
	// InsertOrder so two concurrent orders for the same token can't both
	// observe a count below TCLimit and both register.
	insertMu sync.Mutex
}

// New constructs cfg.API.HandlersCount handlers, each backed by pool and
// extract, and returns the Scheduler that fronts them.
func New(ctx context.Context, cfg config.Config, pool *sessionpool.Pool, extract executor.Extractor, results *store.ResultStore, c *cache.Cache, logger *zap.Logger) *Scheduler {
	s := &Scheduler{
		cfg:            cfg,
		results:        results,
		cache:          c,
		logger:         logger,
		markets:        validate.NewAvailableMarkets(cfg.API.AvailableMarkets),
		blocked:        make(map[string]struct{}),
		resultCacheTTL: time.Duration(cfg.Redis.ResultCacheTTL) * time.Millisecond,
	}
	for i := 0; i < cfg.API.HandlersCount; i++ {
		s.handlers = append(s.handlers, handler.New(ctx, cfg.API.HandlerQueueLimit, pool, cfg, extract, results, logger))
	}
	return s
}

// selectHandlerIndex implements "join the shortest queue": the index of
// the handler with the minimum Len(), ties broken by lowest index.
func (s *Scheduler) selectHandlerIndex() int {
	if len(s.handlers) == 1 {
		return 0
	}
	best := 0
	bestLen := s.handlers[0].Len()
	for i := 1; i < len(s.handlers); i++ {
		if l := s.handlers[i].Len(); l < bestLen {
			best, bestLen = i, l
		}
	}
	return best
}

// TokenLimits is the subset of a Token needed to enforce quotas without
// importing the token store here.
type TokenLimits struct {
	OpLimit int
	TCLimit int
}

// InsertOrder validates/normalizes o, enforces the token's product and
// concurrency limits, computes its order_hash, selects a handler, and
// registers the Task. Returns the hash on success.
func (s *Scheduler) InsertOrder(o model.Order, limits TokenLimits) (string, error) {
	normalized, err := validate.Order(o.Products, o.ProxyPool, s.markets)
	if err != nil {
		return "", mapValidationErr(err)
	}
	if len(normalized.ProductKeys) == 0 {
		return "", apperr.EmptyOrder
	}
	if len(normalized.ProductKeys) > limits.OpLimit {
		return "", apperr.ProductLimitExceeded.WithDetail("order has %d products, limit is %d", len(normalized.ProductKeys), limits.OpLimit)
	}

	s.insertMu.Lock()
	defer s.insertMu.Unlock()

	if s.TaskCountByToken(o.TokenID) >= limits.TCLimit {
		return "", apperr.ConcurrencyLimitExceeded.WithDetail("token %s already has %d tasks in flight", o.TokenID, limits.TCLimit)
	}

	hash := hashkey.OrderHash(o.TokenID, normalized.ProductKeys)
	task := &model.Task{
		Order:     model.Order{TokenID: o.TokenID, Products: normalized.ProductKeys, ProxyPool: o.ProxyPool, Cookies: o.Cookies},
		OrderHash: hash,
		Status:    model.StatusWaiting,
		CreatedAt: time.Now().UTC(),
	}

	idx := s.selectHandlerIndex()
	if err := s.handlers[idx].Register(task); err != nil {
		return "", err
	}
	return hash, nil
}

func mapValidationErr(err error) *apperr.Error {
	if verr, ok := err.(*validate.Error); ok {
		return apperr.InvalidOrderParameter.WithDetail("%s: %s", verr.Kind, verr.Input)
	}
	return apperr.InvalidOrderFormat
}

// GetTaskState returns the live or once-persisted Task for hash: checks
// every handler's heap first, then a short-lived cache read-through, then
// falls back to a take-once Result-store read (§4.5, §8 law 5). The cache
// entry is only ever populated from this Scheduler's own successful
// TakeOnce, with a short TTL: it smooths a client's own duplicate poll
// landing right after its first read consumed the row, it does not hand
// the terminal result to a second, distinct observer beyond that window.
func (s *Scheduler) GetTaskState(ctx context.Context, hash string) (model.Task, error) {
	for _, h := range s.handlers {
		if t, ok := h.Get(hash); ok {
			return t, nil
		}
	}
	if task, ok := s.cache.GetTask(ctx, hash); ok {
		return task, nil
	}
	task, err := s.results.TakeOnce(ctx, hash)
	if err != nil {
		if err == store.ErrNotFound {
			return model.Task{}, apperr.TaskNotFound
		}
		return model.Task{}, apperr.DatabaseError.WithDetail("%v", err)
	}
	s.cache.PutTask(ctx, task, s.resultCacheTTL)
	return task, nil
}

// TaskCountByToken sums CountByToken across every handler.
func (s *Scheduler) TaskCountByToken(tokenID string) int {
	n := 0
	for _, h := range s.handlers {
		n += h.CountByToken(tokenID)
	}
	return n
}

// TotalQueueLen sums Len() across every handler.
func (s *Scheduler) TotalQueueLen() int {
	n := 0
	for _, h := range s.handlers {
		n += h.Len()
	}
	return n
}

// HandlersCount reports the configured handler count.
func (s *Scheduler) HandlersCount() int { return len(s.handlers) }

// OpenWebSocket increments the WS counter, failing with
// WebSocketLimitExceeded once cfg.API.OpenWSLimit is reached.
func (s *Scheduler) OpenWebSocket() error {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	if s.openWS >= s.cfg.API.OpenWSLimit {
		return apperr.WebSocketLimitExceeded
	}
	s.openWS++
	return nil
}

// CloseWebSocket decrements the WS counter, never below zero.
func (s *Scheduler) CloseWebSocket() {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	if s.openWS > 0 {
		s.openWS--
	}
}

// OpenWSCount reports the current count, for /state.
func (s *Scheduler) OpenWSCount() int {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	return s.openWS
}

// ClaimTestTokenAddr implements the §4.5 anti-abuse check: addr (the
// client's raw RemoteAddr, including ephemeral port — preserved literally
// per §9's open question) may claim a test token exactly once per process
// lifetime, or once per cfg.API.TestToken.TTL seconds if Redis is
// configured.
func (s *Scheduler) ClaimTestTokenAddr(addr string) bool {
	ttl := time.Duration(s.cfg.API.TestToken.TTL) * time.Second
	if claimed, ok := s.cache.ClaimTestTokenAddr(context.Background(), addr, ttl); ok {
		return claimed
	}

	s.blockedMu.Lock()
	defer s.blockedMu.Unlock()
	if _, blocked := s.blocked[addr]; blocked {
		return false
	}
	s.blocked[addr] = struct{}{}
	return true
}
