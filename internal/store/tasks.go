package store

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"gymkhana-bot/internal/models"
)

func (r *repo) InsertTask(ctx context.Context, t *models.Task) error {
	now := r.clock.Now().UTC()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.RunAt.IsZero() {
		t.RunAt = now
	}
	t.Status = models.TaskPending

	q := psql.Insert("tasks").
		Columns("id", "kind", "payload", "status", "attempts", "max_attempts", "run_at", "created_at", "updated_at").
		Values(t.ID, t.Kind, string(t.Payload), string(t.Status), 0, t.MaxAttempts, t.RunAt, now, now)
	if _, err := r.exec(ctx, q); err != nil {
		return fmt.Errorf("insert task %s: %w", t.Kind, err)
	}
	return nil
}

// ClaimTasks marks up to limit due tasks as running and returns them. Rows
// locked by another worker are skipped, so concurrent workers never claim the
// same task.
func (r *repo) ClaimTasks(ctx context.Context, limit int) ([]models.Task, error) {
	const claim = `UPDATE tasks SET status = 'running', attempts = attempts + 1, updated_at = $1
		WHERE id IN (
			SELECT id FROM tasks
			WHERE status = 'pending' AND run_at <= $1
			ORDER BY run_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, kind, payload, attempts, max_attempts, run_at, last_error`

	rows, err := r.q.Query(ctx, claim, r.clock.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("claim tasks: %w", err)
	}
	defer rows.Close()

	var out []models.Task
	for rows.Next() {
		t := models.Task{Status: models.TaskRunning}
		if err := rows.Scan(&t.ID, &t.Kind, &t.Payload, &t.Attempts, &t.MaxAttempts, &t.RunAt, &t.LastError); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *repo) CompleteTask(ctx context.Context, id uuid.UUID) error {
	return r.setTask(ctx, id, sq.Eq{"status": string(models.TaskDone)})
}

func (r *repo) RetryTask(ctx context.Context, id uuid.UUID, runAt time.Time, lastErr string) error {
	return r.setTask(ctx, id, sq.Eq{
		"status":     string(models.TaskPending),
		"run_at":     runAt.UTC(),
		"last_error": lastErr,
	})
}

func (r *repo) FailTask(ctx context.Context, id uuid.UUID, lastErr string) error {
	return r.setTask(ctx, id, sq.Eq{
		"status":     string(models.TaskFailed),
		"last_error": lastErr,
	})
}

func (r *repo) setTask(ctx context.Context, id uuid.UUID, values sq.Eq) error {
	values["updated_at"] = r.clock.Now().UTC()
	tag, err := r.exec(ctx, psql.Update("tasks").SetMap(values).Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update task %s: %w", id, ErrNotFound)
	}
	return nil
}

// RequeueStale returns tasks stuck in running since before cutoff to the
// pending state. Those belong to workers that died mid-task.
func (r *repo) RequeueStale(ctx context.Context, cutoff time.Time) (int64, error) {
	q := psql.Update("tasks").
		Set("status", string(models.TaskPending)).
		Set("updated_at", r.clock.Now().UTC()).
		Where(sq.Eq{"status": string(models.TaskRunning)}).
		Where(sq.Lt{"updated_at": cutoff.UTC()})
	tag, err := r.exec(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("requeue stale tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ReleaseTasks puts claimed tasks that never reached a worker back to
// pending and refunds the attempt taken by the claim.
func (r *repo) ReleaseTasks(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	q := psql.Update("tasks").
		Set("status", string(models.TaskPending)).
		Set("attempts", sq.Expr("GREATEST(attempts - 1, 0)")).
		Set("updated_at", r.clock.Now().UTC()).
		Where(sq.Eq{"id": ids, "status": string(models.TaskRunning)})
	tag, err := r.exec(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("release tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// TaskStats counts tasks per status.
func (r *repo) TaskStats(ctx context.Context) (map[models.TaskStatus]int, error) {
	rows, err := r.query(ctx, psql.Select("status", "COUNT(*)").From("tasks").GroupBy("status"))
	if err != nil {
		return nil, fmt.Errorf("select task stats: %w", err)
	}
	defer rows.Close()

	out := map[models.TaskStatus]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan task stats: %w", err)
		}
		out[models.TaskStatus(status)] = n
	}
	return out, rows.Err()
}
