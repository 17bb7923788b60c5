package signing

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultResyncInterval     = 10 * time.Second
	DefaultResyncInitialDelay = 10 * time.Second
)

// Resyncer refreshes pending statuses from the broker.
type Resyncer interface {
	ResyncPending(ctx context.Context) (int, error)
}

// Scheduler runs ResyncPending in the background with a fixed delay between the end of
// one pass and the start of the next.
type Scheduler struct {
	resyncer     Resyncer
	interval     time.Duration
	initialDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler starts a scheduler that runs until Stop is called or ctx is done.
func NewScheduler(ctx context.Context, resyncer Resyncer, interval, initialDelay time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultResyncInterval
	}
	if initialDelay < 0 {
		initialDelay = DefaultResyncInitialDelay
	}

	schedCtx, cancel := context.WithCancel(ctx)

	s := &Scheduler{
		resyncer:     resyncer,
		interval:     interval,
		initialDelay: initialDelay,
		ctx:          schedCtx,
		cancel:       cancel,
	}

	s.wg.Add(1)
	go s.loop()

	return s
}

// Stop gracefully stops the background goroutine, waiting for a running pass to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	timer := time.NewTimer(s.initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			log.Info().Msg("Resync scheduler stopped")
			return

		case <-timer.C:
			log.Debug().Msg("Resync triggered, fetching status of pending messages")
			if _, err := s.resyncer.ResyncPending(s.ctx); err != nil {
				log.Error().Err(err).Msg("Resync failed")
			}
			timer.Reset(s.interval)
		}
	}
}
