package dialog

import (
	"context"
	"sync"
	"time"

	"github.com/releaserelay/release_layer/internal/app/system"
	"github.com/releaserelay/release_layer/pkg/logger"
)

var _ system.Service = (*Sweeper)(nil)

// Sweeper expires idle dialog sessions on an interval.
type Sweeper struct {
	engine *Engine
	log    *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func NewSweeper(engine *Engine, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewDefault("dialog-sweeper")
	}
	return &Sweeper{engine: engine, log: log}
}

func (s *Sweeper) Name() string { return "dialog-sweeper" }

func (s *Sweeper) Start(ctx context.Context) error {
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
		ticker := time.NewTicker(s.engine.sweep)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.engine.expire(runCtx)
			}
		}
	}()

	s.log.Info("dialog sweeper started")
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
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

	s.log.Info("dialog sweeper stopped")
	return nil
}
