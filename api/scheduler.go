/*
scheduler.go - Periodic aggregate cache rebuild

PURPOSE:
  Sales recorded without matches post at the cache's average cost, so the
  cache drifts from Σ(lot remaining × lot price) until the next rebuild.
  The scheduler runs Service.HardSync on a fixed interval.

CONFIGURATION:
  - Interval: how often to rebuild; zero disables the scheduler

USAGE:
  scheduler := NewHardSyncScheduler(svc, time.Hour, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: HardSync endpoint (manual rebuild)
  - inventory/aggregate.go: AggregateCache.HardSync
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/produce-ledger/inventory"
)

type HardSyncScheduler struct {
	Service  *inventory.Service
	Interval time.Duration
	Log      *zap.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewHardSyncScheduler(svc *inventory.Service, interval time.Duration, log *zap.Logger) *HardSyncScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &HardSyncScheduler{
		Service:  svc,
		Interval: interval,
		Log:      log.Named("scheduler"),
	}
}

// Start begins the scheduler. It is a no-op when the interval is zero or the
// scheduler is already running.
func (s *HardSyncScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Interval <= 0 {
		s.Log.Info("hard sync scheduler disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.Log.Info("hard sync scheduler started", zap.Duration("interval", s.Interval))
}

// Stop stops the scheduler and waits for an in-flight rebuild.
func (s *HardSyncScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Log.Info("hard sync scheduler stopped")
}

func (s *HardSyncScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	for {
		select {
		case <-ticker.C:
			s.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow rebuilds the cache immediately.
func (s *HardSyncScheduler) RunNow(ctx context.Context) error {
	if _, err := s.Service.HardSync(ctx); err != nil {
		s.Log.Error("hard sync failed", zap.Error(err))
		return err
	}
	return nil
}
