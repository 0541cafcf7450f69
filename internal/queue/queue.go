// Package queue runs deferred work out of the tasks table: message delivery
// and unit reconciliation.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/itbasis/go-clock"

	"gymkhana-bot/internal/models"
)

const (
	KindDeliverMessage = "deliver_message"
	KindReconcileUnit  = "reconcile_unit"
)

// ErrPermanent marks failures that retrying cannot fix.
var ErrPermanent = errors.New("permanent failure")

// Permanent wraps err so that the task is failed without further retries.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

type DeliverMessage struct {
	TelegramID int64  `json:"telegram_id"`
	Text       string `json:"text"`
}

type ReconcileUnit struct {
	Kind models.UnitKind `json:"kind"`
	ID   int64           `json:"id"`
}

type Store interface {
	InsertTask(ctx context.Context, t *models.Task) error
	ClaimTasks(ctx context.Context, limit int) ([]models.Task, error)
	CompleteTask(ctx context.Context, id uuid.UUID) error
	RetryTask(ctx context.Context, id uuid.UUID, runAt time.Time, lastErr string) error
	FailTask(ctx context.Context, id uuid.UUID, lastErr string) error
	RequeueStale(ctx context.Context, cutoff time.Time) (int64, error)
	ReleaseTasks(ctx context.Context, ids []uuid.UUID) (int64, error)
}

type Queue struct {
	db     Store
	clock  clock.Clock
	policy Policy

	mu       sync.RWMutex
	handlers map[string]Handler
}

func New(db Store, clk clock.Clock, policy Policy) *Queue {
	return &Queue{
		db:       db,
		clock:    clk,
		policy:   policy,
		handlers: map[string]Handler{},
	}
}

// Enqueue stores a task of the given kind, due now.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}
	t := &models.Task{
		Kind:        kind,
		Payload:     body,
		MaxAttempts: q.policy.MaxAttempts(),
		RunAt:       q.clock.Now().UTC(),
	}
	return q.db.InsertTask(ctx, t)
}

func (q *Queue) DeliverMessage(ctx context.Context, telegramID int64, text string) error {
	return q.Enqueue(ctx, KindDeliverMessage, DeliverMessage{TelegramID: telegramID, Text: text})
}

func (q *Queue) ReconcileUnit(ctx context.Context, kind models.UnitKind, id int64) error {
	return q.Enqueue(ctx, KindReconcileUnit, ReconcileUnit{Kind: kind, ID: id})
}
