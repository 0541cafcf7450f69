package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"gymkhana-bot/internal/models"
)

// staleAfter is how long a task may stay running before it is assumed to
// belong to a dead worker.
const staleAfter = 15 * time.Minute

type Handler interface {
	Handle(ctx context.Context, payload []byte) error
}

// Abandoner is implemented by handlers that react to a task being given up,
// either after the last retry or on a permanent failure.
type Abandoner interface {
	Abandon(ctx context.Context, payload []byte, cause error) error
}

type HandlerFunc func(ctx context.Context, payload []byte) error

func (f HandlerFunc) Handle(ctx context.Context, payload []byte) error {
	return f(ctx, payload)
}

func (q *Queue) Register(kind string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
}

func (q *Queue) handler(kind string) Handler {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.handlers[kind]
}

// RunOnce claims up to limit due tasks and processes them in turn. It returns
// the number of tasks claimed.
func (q *Queue) RunOnce(ctx context.Context, limit int) (int, error) {
	tasks, err := q.db.ClaimTasks(ctx, limit)
	if err != nil {
		return 0, err
	}
	for _, t := range tasks {
		q.process(ctx, t)
	}
	return len(tasks), nil
}

// Run polls for due tasks and hands them to a pool of workers until ctx is
// done. Tasks left running by a dead worker are requeued at start and then
// every staleAfter. Claimed tasks no worker picked up are released on exit.
func (q *Queue) Run(ctx context.Context, workers int, poll time.Duration) error {
	if workers <= 0 {
		return fmt.Errorf("queue: need at least one worker")
	}

	if err := q.requeueStale(ctx); err != nil {
		return err
	}
	lastSweep := q.clock.Now()

	tasks := make(chan models.Task)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				q.process(ctx, t)
			}
		}()
	}
	defer func() {
		close(tasks)
		wg.Wait()
	}()

	log.Printf("queue: %d workers polling every %s", workers, poll)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if q.clock.Now().Sub(lastSweep) >= staleAfter {
			if err := q.requeueStale(ctx); err != nil && ctx.Err() == nil {
				log.Printf("queue: %v", err)
			}
			lastSweep = q.clock.Now()
		}

		claimed, err := q.db.ClaimTasks(ctx, workers)
		if err != nil && ctx.Err() == nil {
			log.Printf("queue: claim failed: %v", err)
		}
		for i, t := range claimed {
			select {
			case tasks <- t:
			case <-ctx.Done():
				q.release(ctx, claimed[i:])
				return nil
			}
		}
		if len(claimed) == workers {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-q.clock.After(poll):
		}
	}
}

func (q *Queue) requeueStale(ctx context.Context) error {
	n, err := q.db.RequeueStale(ctx, q.clock.Now().Add(-staleAfter))
	if err != nil {
		return fmt.Errorf("requeue stale tasks: %w", err)
	}
	if n > 0 {
		log.Printf("queue: requeued %d stale tasks", n)
	}
	return nil
}

func (q *Queue) release(ctx context.Context, claimed []models.Task) {
	ids := make([]uuid.UUID, len(claimed))
	for i, t := range claimed {
		ids[i] = t.ID
	}
	n, err := q.db.ReleaseTasks(context.WithoutCancel(ctx), ids)
	if err != nil {
		log.Printf("queue: release %d claimed tasks: %v", len(ids), err)
		return
	}
	log.Printf("queue: released %d claimed tasks", n)
}

func (q *Queue) process(ctx context.Context, t models.Task) {
	// bookkeeping must land even when the worker is shutting down
	bg := context.WithoutCancel(ctx)

	h := q.handler(t.Kind)
	if h == nil {
		log.Printf("queue: no handler for %s task %s", t.Kind, t.ID)
		if err := q.db.FailTask(bg, t.ID, "no handler for "+t.Kind); err != nil {
			log.Printf("queue: fail task %s: %v", t.ID, err)
		}
		return
	}

	err := h.Handle(ctx, t.Payload)
	switch {
	case err == nil:
		if err := q.db.CompleteTask(bg, t.ID); err != nil {
			log.Printf("queue: complete task %s: %v", t.ID, err)
		}

	case errors.Is(err, ErrPermanent) || t.Attempts >= t.MaxAttempts:
		log.Printf("queue: %s task %s abandoned after %d attempts: %v", t.Kind, t.ID, t.Attempts, err)
		if ferr := q.db.FailTask(bg, t.ID, err.Error()); ferr != nil {
			log.Printf("queue: fail task %s: %v", t.ID, ferr)
		}
		if a, ok := h.(Abandoner); ok {
			if aerr := a.Abandon(bg, t.Payload, err); aerr != nil {
				log.Printf("queue: abandon hook for %s task %s: %v", t.Kind, t.ID, aerr)
			}
		}

	default:
		delay := q.policy.Delay(t.Attempts)
		runAt := q.clock.Now().Add(delay).UTC()
		log.Printf("queue: warning: %s task %s attempt %d/%d failed, retry in %s: %v",
			t.Kind, t.ID, t.Attempts, t.MaxAttempts, delay.Round(time.Millisecond), err)
		if rerr := q.db.RetryTask(bg, t.ID, runAt, err.Error()); rerr != nil {
			log.Printf("queue: retry task %s: %v", t.ID, rerr)
		}
	}
}
