// Package scheduler periodically queues reconciliation of the units that can
// still change.
package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/itbasis/go-clock"

	"gymkhana-bot/internal/models"
)

type Store interface {
	ActiveStages(ctx context.Context) ([]models.Stage, error)
	BaseFigureIDs(ctx context.Context) ([]int64, error)
}

type Enqueuer interface {
	ReconcileUnit(ctx context.Context, kind models.UnitKind, id int64) error
}

type Scheduler struct {
	db       Store
	q        Enqueuer
	clock    clock.Clock
	interval time.Duration
}

func New(db Store, q Enqueuer, clk clock.Clock, interval time.Duration) *Scheduler {
	return &Scheduler{db: db, q: q, clock: clk, interval: interval}
}

// Tick queues one reconcile task per active stage and per base figure.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	stages, err := s.db.ActiveStages(ctx)
	if err != nil {
		return 0, err
	}
	figures, err := s.db.BaseFigureIDs(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	var errs []error
	for _, st := range stages {
		if err := s.q.ReconcileUnit(ctx, models.UnitStage, st.StageID); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	for _, id := range figures {
		if err := s.q.ReconcileUnit(ctx, models.UnitFigure, id); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Run ticks once at start and then every interval until ctx is done. A zero
// interval disables the scheduler.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		log.Printf("scheduler: disabled")
		<-ctx.Done()
		return nil
	}
	log.Printf("scheduler: refreshing every %s", s.interval)

	tick := func(ctx context.Context) {
		n, err := s.Tick(ctx)
		if err != nil {
			log.Printf("scheduler: tick: %v", err)
		}
		if n > 0 {
			log.Printf("scheduler: queued %d units", n)
		}
	}
	tick(ctx)
	Every(ctx, s.clock, s.interval, tick)
	return nil
}

// Every calls fn on each tick until ctx is done. Each call gets at most one
// interval to finish.
func Every(ctx context.Context, clk clock.Clock, interval time.Duration, fn func(context.Context)) {
	ticker := clk.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tctx, cancel := context.WithTimeout(ctx, interval)
			fn(tctx)
			cancel()
		}
	}
}
