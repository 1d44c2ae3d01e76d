/*
refresher.go - Periodic policy cache refresh

PURPOSE:
  Rebuilds the handler's policy cache from the store on a fixed interval so
  that policies edited by another instance (or directly in the database)
  are picked up without a restart.

DESIGN:
  - Runs a background goroutine driven by a ticker
  - Refreshes once immediately on Start
  - A failed refresh is logged and the previous cache is kept

CONFIGURATION:
  - Interval: How often to refresh (default: 5 minutes, cache.refresh_interval)
  - Enabled:  Whether the refresher runs (zero interval disables it)

USAGE:
  refresher := NewCacheRefresher(handler, 5*time.Minute)
  refresher.Start()
  // ... later
  refresher.Stop()

SEE ALSO:
  - handlers.go: LoadPolicies
*/
package api

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// refreshTimeout bounds a single refresh.
const refreshTimeout = 30 * time.Second

// CacheRefresher periodically reloads the policy cache.
type CacheRefresher struct {
	Handler  *Handler
	Interval time.Duration
	Enabled  bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	runs atomic.Int64
}

// NewCacheRefresher creates a refresher. A non-positive interval disables it.
func NewCacheRefresher(handler *Handler, interval time.Duration) *CacheRefresher {
	return &CacheRefresher{
		Handler:  handler,
		Interval: interval,
		Enabled:  interval > 0,
	}
}

// Start begins refreshing in the background.
func (cr *CacheRefresher) Start() {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	if !cr.Enabled {
		zap.L().Info("cache refresher disabled")
		return
	}
	if cr.ticker != nil {
		return
	}

	cr.ticker = time.NewTicker(cr.Interval)
	cr.stop = make(chan struct{})
	cr.wg.Add(1)

	go cr.run(cr.ticker, cr.stop)

	zap.L().Info("cache refresher started", zap.Duration("interval", cr.Interval))
}

// Stop halts the refresher and waits for an in-flight refresh.
func (cr *CacheRefresher) Stop() {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	if cr.ticker == nil {
		return
	}
	cr.ticker.Stop()
	close(cr.stop)
	cr.wg.Wait()
	cr.ticker = nil
	zap.L().Info("cache refresher stopped")
}

// Runs reports how many refreshes have completed.
func (cr *CacheRefresher) Runs() int {
	return int(cr.runs.Load())
}

func (cr *CacheRefresher) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer cr.wg.Done()

	cr.Refresh()

	for {
		select {
		case <-ticker.C:
			cr.Refresh()
		case <-stop:
			return
		}
	}
}

// Refresh reloads the cache once.
func (cr *CacheRefresher) Refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	start := time.Now()
	if err := cr.Handler.LoadPolicies(ctx); err != nil {
		zap.L().Error("policy cache refresh failed", zap.Error(err))
		return
	}

	cr.runs.Add(1)

	zap.L().Debug("policy cache refreshed",
		zap.Int("policies", cr.Handler.cachedCount()),
		zap.Duration("elapsed", time.Since(start)),
	)
}
