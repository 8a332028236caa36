package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/releaserelay/release_layer/internal/app/system"
	"github.com/releaserelay/release_layer/pkg/logger"
)

var _ system.Service = (*LimiterSweeper)(nil)

// LimiterSweeper periodically evicts idle client limiters.
type LimiterSweeper struct {
	limiter  *RateLimiter
	interval time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func NewLimiterSweeper(limiter *RateLimiter, interval time.Duration, log *logger.Logger) *LimiterSweeper {
	if log == nil {
		log = logger.NewDefault("ratelimit-sweeper")
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &LimiterSweeper{limiter: limiter, interval: interval, log: log}
}

func (s *LimiterSweeper) Name() string { return "ratelimit-sweeper" }

func (s *LimiterSweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.limiter.evict()
			}
		}
	}()

	s.log.Info("rate limit sweeper started")
	return nil
}

func (s *LimiterSweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("rate limit sweeper stopped")
	return nil
}
