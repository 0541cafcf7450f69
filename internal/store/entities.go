package store

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"gymkhana-bot/internal/models"
)

// Countries, cities and motorcycles match on the exact title. "Moscow" and
// "Москва" are different cities.

func (r *repo) EnsureCountry(ctx context.Context, title string) (int64, models.Outcome, error) {
	return r.ensure(ctx, "countries",
		sq.Eq{"title": title},
		map[string]any{"title": title})
}

func (r *repo) EnsureCity(ctx context.Context, title string, countryID int64) (int64, models.Outcome, error) {
	return r.ensure(ctx, "cities",
		sq.Eq{"title": title, "country_id": countryID},
		map[string]any{"title": title, "country_id": countryID})
}

func (r *repo) EnsureMotorcycle(ctx context.Context, title string) (int64, models.Outcome, error) {
	return r.ensure(ctx, "motorcycles",
		sq.Eq{"title": title},
		map[string]any{"title": title})
}

var athleteColumns = []string{"id", "first_name", "last_name", "COALESCE(city_id, 0)", "sportsman_class", "img_url", "number"}

func scanAthlete(row pgx.Row) (*models.Athlete, error) {
	var a models.Athlete
	var class string
	var img *string
	if err := row.Scan(&a.ID, &a.FirstName, &a.LastName, &a.CityID, &class, &img, &a.Number); err != nil {
		return nil, err
	}
	a.SportsmanClass = models.SportsmanClass(class)
	a.ImgURL = valueOrEmpty(img)
	return &a, nil
}

func (r *repo) Athlete(ctx context.Context, id int64) (*models.Athlete, error) {
	a, err := scanAthlete(r.row(ctx, psql.Select(athleteColumns...).From("athletes").Where(sq.Eq{"id": id})))
	if err != nil {
		return nil, fmt.Errorf("athlete %d: %w", id, err)
	}
	return a, nil
}

func (r *repo) CreateAthlete(ctx context.Context, a *models.Athlete) error {
	_, err := r.exec(ctx, psql.Insert("athletes").SetMap(athleteValues(a, r.clock.Now())))
	if err != nil {
		return fmt.Errorf("insert athlete %d: %w", a.ID, err)
	}
	return nil
}

// UpdateAthlete overwrites a profile with fresh data from the results site.
func (r *repo) UpdateAthlete(ctx context.Context, a *models.Athlete) error {
	values := athleteValues(a, r.clock.Now())
	delete(values, "id")

	tag, err := r.exec(ctx, psql.Update("athletes").SetMap(values).Where(sq.Eq{"id": a.ID}))
	if err != nil {
		return fmt.Errorf("update athlete %d: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update athlete %d: %w", a.ID, ErrNotFound)
	}
	return nil
}

func athleteValues(a *models.Athlete, now time.Time) map[string]any {
	var cityID *int64
	if a.CityID != 0 {
		cityID = &a.CityID
	}
	class := a.SportsmanClass
	if class == models.ClassNone {
		class = models.ClassN
	}
	return map[string]any{
		"id":              a.ID,
		"first_name":      a.FirstName,
		"last_name":       a.LastName,
		"city_id":         cityID,
		"sportsman_class": string(class),
		"img_url":         nullString(a.ImgURL),
		"number":          a.Number,
		"updated_at":      now,
	}
}

func (r *repo) AthleteIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.query(ctx, psql.Select("id").From("athletes").OrderBy("id"))
	if err != nil {
		return nil, fmt.Errorf("select athletes: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan athletes: %w", err)
	}
	return ids, nil
}

func (r *repo) UpsertChampionship(ctx context.Context, c *models.Championship) error {
	q := psql.Insert("championships").
		Columns("champ_id", "title", "year", "description", "champ_type").
		Values(c.ChampID, c.Title, c.Year, c.Description, c.ChampType).
		Suffix(`ON CONFLICT (champ_id) DO UPDATE SET
			title = EXCLUDED.title,
			year = EXCLUDED.year,
			description = EXCLUDED.description,
			champ_type = EXCLUDED.champ_type
		RETURNING id`)
	if err := r.row(ctx, q).Scan(&c.ID); err != nil {
		return fmt.Errorf("upsert championship %d: %w", c.ChampID, err)
	}
	return nil
}

// UpsertStage inserts or refreshes a stage by its external id and sets st.ID
// to the local row id. A missing championship keeps the stored one.
func (r *repo) UpsertStage(ctx context.Context, st *models.Stage) error {
	q := psql.Insert("stages").
		Columns("stage_id", "championship_id", "status", "title", "stage_class", "track_url", "date_start", "date_end").
		Values(st.StageID, st.ChampionshipID, string(st.Status), st.Title, string(st.StageClass),
			nullString(st.TrackURL), st.DateStart, st.DateEnd).
		Suffix(`ON CONFLICT (stage_id) DO UPDATE SET
			championship_id = COALESCE(EXCLUDED.championship_id, stages.championship_id),
			status = EXCLUDED.status,
			title = EXCLUDED.title,
			stage_class = EXCLUDED.stage_class,
			track_url = EXCLUDED.track_url,
			date_start = EXCLUDED.date_start,
			date_end = EXCLUDED.date_end
		RETURNING id`)
	if err := r.row(ctx, q).Scan(&st.ID); err != nil {
		return fmt.Errorf("upsert stage %d: %w", st.StageID, err)
	}
	return nil
}

func (r *repo) UpsertBaseFigure(ctx context.Context, f *models.BaseFigure) error {
	q := psql.Insert("base_figures").
		Columns("id", "title", "description", "track", "with_in_class").
		Values(f.ID, f.Title, f.Description, f.Track, f.WithInClass).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			track = EXCLUDED.track,
			with_in_class = EXCLUDED.with_in_class`)
	if _, err := r.exec(ctx, q); err != nil {
		return fmt.Errorf("upsert base figure %d: %w", f.ID, err)
	}
	return nil
}

var stageColumns = []string{"id", "stage_id", "championship_id", "status", "title", "stage_class", "track_url", "date_start", "date_end"}

func scanStage(row pgx.Row) (*models.Stage, error) {
	var st models.Stage
	var status, class string
	var track *string
	err := row.Scan(&st.ID, &st.StageID, &st.ChampionshipID, &status, &st.Title, &class, &track, &st.DateStart, &st.DateEnd)
	if err != nil {
		return nil, err
	}
	st.Status = models.StageStatus(status)
	st.StageClass = models.SportsmanClass(class)
	st.TrackURL = valueOrEmpty(track)
	return &st, nil
}

func (r *repo) StageByExternalID(ctx context.Context, stageID int64) (*models.Stage, error) {
	st, err := scanStage(r.row(ctx, psql.Select(stageColumns...).From("stages").Where(sq.Eq{"stage_id": stageID})))
	if err != nil {
		return nil, fmt.Errorf("stage %d: %w", stageID, err)
	}
	return st, nil
}

// ActiveStages lists stages still accepting or judging results, newest first.
func (r *repo) ActiveStages(ctx context.Context) ([]models.Stage, error) {
	q := psql.Select(stageColumns...).From("stages").
		Where(sq.Eq{"status": []string{string(models.StatusAccepting), string(models.StatusJudging)}}).
		OrderBy("date_start DESC NULLS LAST", "id DESC")

	rows, err := r.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("select active stages: %w", err)
	}
	defer rows.Close()

	var out []models.Stage
	for rows.Next() {
		st, err := scanStage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

func (r *repo) BaseFigure(ctx context.Context, id int64) (*models.BaseFigure, error) {
	var f models.BaseFigure
	q := psql.Select("id", "title", "description", "track", "with_in_class").From("base_figures").Where(sq.Eq{"id": id})
	if err := r.row(ctx, q).Scan(&f.ID, &f.Title, &f.Description, &f.Track, &f.WithInClass); err != nil {
		return nil, fmt.Errorf("base figure %d: %w", id, err)
	}
	return &f, nil
}

func (r *repo) BaseFigureIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.query(ctx, psql.Select("id").From("base_figures").OrderBy("id"))
	if err != nil {
		return nil, fmt.Errorf("select base figures: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan base figures: %w", err)
	}
	return ids, nil
}
