package store

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"gymkhana-bot/internal/models"
)

// resultTable maps a unit to its results table and unit column.
func resultTable(unit models.UnitRef) (table, column string) {
	if unit.Kind == models.UnitFigure {
		return "base_figure_results", "base_figure_id"
	}
	return "stage_results", "stage_id"
}

// Result returns the stored best attempt of an athlete in a unit. Inside a
// transaction the row stays locked until commit.
func (r *repo) Result(ctx context.Context, unit models.UnitRef, athleteID int64) (*models.Result, error) {
	table, column := resultTable(unit)
	place := "place"
	if unit.Kind == models.UnitFigure {
		place = "NULL::int"
	}

	q := psql.Select("id", "motorcycle_id", "date", place, "fine", "result_time_ms", "result_time", "video").
		From(table).
		Where(sq.Eq{column: unit.ID, "athlete_id": athleteID}).
		Suffix("FOR UPDATE")

	res := models.Result{Unit: unit, AthleteID: athleteID}
	var video *string
	err := r.row(ctx, q).Scan(&res.ID, &res.MotorcycleID, &res.Date, &res.Place, &res.Fine, &res.TimeMS, &res.TimeText, &video)
	if err != nil {
		return nil, fmt.Errorf("result %s athlete %d: %w", unit, athleteID, err)
	}
	res.Video = valueOrEmpty(video)
	return &res, nil
}

func (r *repo) CreateResult(ctx context.Context, res *models.Result) error {
	table, column := resultTable(res.Unit)
	values := map[string]any{
		column:           res.Unit.ID,
		"athlete_id":     res.AthleteID,
		"motorcycle_id":  res.MotorcycleID,
		"date":           res.Date,
		"fine":           res.Fine,
		"result_time_ms": res.TimeMS,
		"result_time":    res.TimeText,
		"video":          nullString(res.Video),
	}
	if res.Unit.Kind == models.UnitStage {
		values["place"] = res.Place
	}

	if err := r.row(ctx, psql.Insert(table).SetMap(values).Suffix("RETURNING id")).Scan(&res.ID); err != nil {
		return fmt.Errorf("insert result %s athlete %d: %w", res.Unit, res.AthleteID, err)
	}
	return nil
}

// UpdateResult overwrites the mutable fields of a stored result.
func (r *repo) UpdateResult(ctx context.Context, res *models.Result) error {
	table, _ := resultTable(res.Unit)
	values := map[string]any{
		"result_time_ms": res.TimeMS,
		"result_time":    res.TimeText,
		"fine":           res.Fine,
		"video":          nullString(res.Video),
	}
	if res.Unit.Kind == models.UnitStage {
		values["place"] = res.Place
	}

	tag, err := r.exec(ctx, psql.Update(table).SetMap(values).Where(sq.Eq{"id": res.ID}))
	if err != nil {
		return fmt.Errorf("update result %d: %w", res.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update result %d: %w", res.ID, ErrNotFound)
	}
	return nil
}

// Leaderboard returns the unit's results fastest first.
func (r *repo) Leaderboard(ctx context.Context, unit models.UnitRef) ([]models.LeaderboardRow, error) {
	table, column := resultTable(unit)
	place := "r.place"
	if unit.Kind == models.UnitFigure {
		place = "NULL::int"
	}

	q := psql.Select(place, "a.id", "a.first_name || ' ' || a.last_name", "a.sportsman_class",
		"m.title", "r.result_time_ms", "r.result_time", "r.fine", "COALESCE(r.video, '')").
		From(table + " r").
		Join("athletes a ON a.id = r.athlete_id").
		Join("motorcycles m ON m.id = r.motorcycle_id").
		Where(sq.Eq{"r." + column: unit.ID}).
		OrderBy("r.result_time_ms", "a.id")

	rows, err := r.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("select leaderboard %s: %w", unit, err)
	}
	defer rows.Close()

	var out []models.LeaderboardRow
	for rows.Next() {
		var row models.LeaderboardRow
		var class string
		err := rows.Scan(&row.Place, &row.AthleteID, &row.AthleteName, &class,
			&row.Motorcycle, &row.TimeMS, &row.TimeText, &row.Fine, &row.Video)
		if err != nil {
			return nil, fmt.Errorf("scan leaderboard row: %w", err)
		}
		row.SportsmanClass = models.SportsmanClass(class)
		out = append(out, row)
	}
	return out, rows.Err()
}

// BestTime returns the unit leader's time, or 0 when the unit has no results.
func (r *repo) BestTime(ctx context.Context, unit models.UnitRef) (int, error) {
	table, column := resultTable(unit)
	var best *int
	q := psql.Select("MIN(result_time_ms)").From(table).Where(sq.Eq{column: unit.ID})
	if err := r.row(ctx, q).Scan(&best); err != nil {
		return 0, fmt.Errorf("best time %s: %w", unit, err)
	}
	if best == nil {
		return 0, nil
	}
	return *best, nil
}
