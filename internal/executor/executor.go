// Package executor drives one Task's product-by-product fetch+extract loop
// (§4.3): progress mutation, the oz warm-up heuristic, the null-streak
// self-interrupt heuristic, and snapshot emission for the owning handler.
package executor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/marketorder/gateway/internal/config"
	"github.com/marketorder/gateway/internal/model"
	"github.com/marketorder/gateway/internal/sessionpool"
	"github.com/marketorder/gateway/internal/validate"
)

// Extractor is the pure per-marketplace data-extraction function, reused
// from the repo and out of scope for this package: given raw fetched bytes
// for a symbol, produce product data or nil if extraction found nothing.
type Extractor func(symbol model.Symbol, raw []byte) interface{}

// Run executes task in place, yielding one snapshot per step via emit.
// task.Status must be model.StatusWaiting on entry and its Order's
// Products/ProxyPool/Cookies untouched; productKeys is the pre-normalized,
// deduplicated product list computed by the caller during registration.
func Run(ctx context.Context, task *model.Task, productKeys []string, pool *sessionpool.Pool, cfg config.Config, extract Extractor, logger *zap.Logger, emit func(model.Task)) {
	task.Progress = model.TaskProgress{Done: 0, Total: len(productKeys)}

	proxies := make([]validate.Proxy, 0, len(task.Order.ProxyPool))
	for _, raw := range task.Order.ProxyPool {
		if p, err := validate.ParseProxy(raw); err == nil {
			proxies = append(proxies, p)
		}
	}

	sess, err := sessionpool.Acquire(ctx, pool, cfg, proxies, task.Order.Cookies, logger)
	if err != nil {
		task.Status = model.StatusError
		task.Result = model.TaskResult{Error: err.Error()}
		emit(*task)
		return
	}
	defer sess.Close()

	task.Status = model.StatusProcessing
	task.Result = model.TaskResult{Data: make(map[string]interface{}, len(productKeys))}

	products := make([]model.Product, len(productKeys))
	for i, key := range productKeys {
		products[i] = validate.BuildProduct(key)
	}

	if hasSymbol(products, model.SymbolOzon) {
		for _, p := range products {
			if p.Symbol == model.SymbolOzon {
				sess.WarmUp(ctx, p)
				break
			}
		}
	}

	interruptStep := cfg.API.InterruptCheckStep
	nullStreak := make([]bool, 0, interruptStep)

	for _, p := range products {
		raw, ferr := sess.Fetch(ctx, p)
		var data interface{}
		isNull := true
		if ferr == nil && raw != nil {
			data = extract(p.Symbol, raw)
			isNull = data == nil
		}
		task.Result.Data[p.Key()] = data
		task.Progress.Done++

		nullStreak = appendStreak(nullStreak, isNull, interruptStep)

		if shouldSelfInterrupt(task.Progress.Done, interruptStep, nullStreak) {
			task.Status = model.StatusInterrupted
			emit(*task)
			return
		}

		if task.Progress.Done == task.Progress.Total {
			task.Status = model.StatusCompleted
		}
		emit(*task)
	}

	if task.Status == model.StatusProcessing {
		task.Status = model.StatusCompleted
		emit(*task)
	}
}

func hasSymbol(products []model.Product, symbol model.Symbol) bool {
	for _, p := range products {
		if p.Symbol == symbol {
			return true
		}
	}
	return false
}

func allTrue(bs []bool) bool {
	if len(bs) == 0 {
		return false
	}
	for _, b := range bs {
		if !b {
			return false
		}
	}
	return true
}

// appendStreak appends isNull to the sliding window, trimming it back down
// to at most interruptStep entries.
func appendStreak(window []bool, isNull bool, interruptStep int) []bool {
	window = append(window, isNull)
	if len(window) > interruptStep {
		window = window[len(window)-interruptStep:]
	}
	return window
}

// shouldSelfInterrupt reports whether the last interruptStep fetches were
// all null, checked only every interruptStep-th fetch (§4.3's self-interrupt
// heuristic). interruptStep <= 0 disables the heuristic entirely.
func shouldSelfInterrupt(done, interruptStep int, window []bool) bool {
	if interruptStep <= 0 || done < interruptStep || done%interruptStep != 0 {
		return false
	}
	return allTrue(window)
}

// DeadlineFromConfig is a convenience for callers building the per-task
// context; the executor itself relies on the caller-supplied ctx for
// cancellation and does not impose its own overall timeout.
func DeadlineFromConfig(cfg config.Config) time.Duration {
	return time.Duration(cfg.Browser.RequestTimeout) * time.Millisecond
}
