// Package scheduler runs the daemon's periodic housekeeping: pruning expired
// login sessions and sweeping the pin state so a pin whose expiry passes
// overnight is torn down even if no surface triggers a reconciliation.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"playsync/internal/pin"
	"playsync/internal/store"
)

const DefaultInterval = 5 * time.Minute

type Scheduler struct {
	store    *store.Store
	pin      *pin.Manager
	interval time.Duration

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

type Option func(*Scheduler)

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		s.interval = d
	}
}

func New(st *store.Store, pm *pin.Manager, opts ...Option) *Scheduler {
	sch := &Scheduler{
		store:    st,
		pin:      pm,
		interval: DefaultInterval,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(sch)
	}
	return sch
}

// Start runs the housekeeping loop: one pass immediately, then on the
// configured interval.
func (sch *Scheduler) Start(ctx context.Context) {
	sch.startOnce.Do(func() {
		ctx, sch.cancel = context.WithCancel(ctx)
		go sch.run(ctx)
	})
}

func (sch *Scheduler) Stop() {
	if sch.cancel != nil {
		sch.cancel()
		<-sch.done
	}
}

func (sch *Scheduler) run(ctx context.Context) {
	defer close(sch.done)

	sch.Sweep(ctx)

	ticker := time.NewTicker(sch.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sch.Sweep(ctx)
		}
	}
}

// Sweep performs one housekeeping pass.
func (sch *Scheduler) Sweep(ctx context.Context) {
	if n, err := sch.store.DeleteExpiredSessions(); err != nil {
		log.Printf("scheduler: pruning sessions: %v", err)
	} else if n > 0 {
		log.Printf("scheduler: pruned %d expired sessions", n)
	}

	if sch.pin != nil {
		sch.pin.Reconcile(ctx, "sweep")
	}
}
