// Package handler implements a single Task Handler (§4.4): one FIFO
// channel of order hashes, an in-memory task registry ("heap") with
// contiguous queue positions, and one background worker draining it.
package handler

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/marketorder/gateway/internal/apperr"
	"github.com/marketorder/gateway/internal/config"
	"github.com/marketorder/gateway/internal/executor"
	"github.com/marketorder/gateway/internal/model"
	"github.com/marketorder/gateway/internal/sessionpool"
)

// resultSink is the subset of *store.ResultStore a Handler needs; narrowed
// to an interface so tests can exercise queue compaction without a live
// Postgres pool.
type resultSink interface {
	Insert(ctx context.Context, task model.Task) error
}

// Handler owns one FIFO lane of work: a bounded channel of order hashes and
// the in-memory map backing queue-position bookkeeping.
type Handler struct {
	queueLimit int
	ch         chan string

	mu   sync.RWMutex
	heap map[string]*model.Task

	pool    *sessionpool.Pool
	cfg     config.Config
	extract executor.Extractor
	results resultSink
	logger  *zap.Logger
}

// New constructs a Handler and starts its worker goroutine. ctx cancellation
// stops the worker after its current task finishes.
func New(ctx context.Context, queueLimit int, pool *sessionpool.Pool, cfg config.Config, extract executor.Extractor, results resultSink, logger *zap.Logger) *Handler {
	h := &Handler{
		queueLimit: queueLimit,
		ch:         make(chan string, queueLimit),
		heap:       make(map[string]*model.Task, queueLimit),
		pool:       pool,
		cfg:        cfg,
		extract:    extract,
		results:    results,
		logger:     logger,
	}
	go h.run(ctx)
	return h
}

// Register inserts task into the heap (assigning task.QueueNum = len(heap))
// and enqueues its hash for the worker, per §4.4's registration algorithm.
func (h *Handler) Register(task *model.Task) error {
	h.mu.Lock()
	if len(h.heap) >= h.queueLimit {
		h.mu.Unlock()
		return apperr.QueueOverflow
	}
	if _, dup := h.heap[task.OrderHash]; dup {
		h.mu.Unlock()
		return apperr.DuplicateTask.WithDetail("duplicate task %s", task.OrderHash)
	}
	task.QueueNum = len(h.heap)
	h.heap[task.OrderHash] = task
	h.mu.Unlock()

	select {
	case h.ch <- task.OrderHash:
		return nil
	default:
		h.mu.Lock()
		removed := task.QueueNum
		delete(h.heap, task.OrderHash)
		for _, t := range h.heap {
			if t.QueueNum > removed {
				t.QueueNum--
			}
		}
		h.mu.Unlock()
		return apperr.TaskSendFailure
	}
}

func (h *Handler) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case hash := <-h.ch:
			h.process(ctx, hash)
		}
	}
}

func (h *Handler) process(ctx context.Context, hash string) {
	h.mu.RLock()
	task, ok := h.heap[hash]
	h.mu.RUnlock()
	if !ok {
		return
	}

	// task.Order.Products was replaced with the normalized, deduplicated
	// "symbol/id" keys by the Scheduler at registration time (§3 Task:
	// "order (captured Order, products may be moved out during execution)").
	productKeys := task.Order.Products

	executor.Run(ctx, task, productKeys, h.pool, h.cfg, h.extract, h.logger, func(snapshot model.Task) {
		h.onSnapshot(ctx, hash, snapshot)
	})
}

func (h *Handler) onSnapshot(ctx context.Context, hash string, snapshot model.Task) {
	h.mu.Lock()
	defer h.mu.Unlock()

	current, ok := h.heap[hash]
	if !ok {
		return
	}
	*current = snapshot

	if !snapshot.Status.Terminal() {
		return
	}

	removed := current.QueueNum
	delete(h.heap, hash)
	for _, t := range h.heap {
		if t.QueueNum > removed {
			t.QueueNum--
		}
	}

	if err := h.results.Insert(ctx, snapshot); err != nil {
		h.logger.Warn("best-effort result persist failed", zap.String("order_hash", hash), zap.Error(err))
	}
}

// Contains reports whether hash is currently live in this handler's heap.
func (h *Handler) Contains(hash string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.heap[hash]
	return ok
}

// Get returns a clone of the live Task for hash, if present.
func (h *Handler) Get(hash string) (model.Task, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.heap[hash]
	if !ok {
		return model.Task{}, false
	}
	return t.Clone(), true
}

// Len returns the current heap size, used for join-shortest-queue
// selection and total_queue_len aggregation.
func (h *Handler) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.heap)
}

// CountByToken linear-scans the heap counting tasks for tokenID (heap is
// small, per §4.4).
func (h *Handler) CountByToken(tokenID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, t := range h.heap {
		if t.Order.TokenID == tokenID {
			n++
		}
	}
	return n
}
