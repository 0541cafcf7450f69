package store

import (
	"context"
	"fmt"

	"gymkhana-bot/internal/models"
)

func (r *repo) CreateReport(ctx context.Context, rep *models.Report) error {
	rep.CreatedAt = r.clock.Now().UTC()
	q := psql.Insert("reports").
		Columns("user_id", "text", "source", "report_type", "resolved", "created_at").
		Values(rep.UserID, rep.Text, string(rep.Source), string(rep.Type), rep.Resolved, rep.CreatedAt).
		Suffix("RETURNING id")
	if err := r.row(ctx, q).Scan(&rep.ID); err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}
