package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"

	"gymkhana-bot/internal/gcup"
	"gymkhana-bot/internal/models"
	"gymkhana-bot/internal/store"
	"gymkhana-bot/internal/util"
)

// TxRunner opens the transaction a pass runs in.
type TxRunner interface {
	Atomic(ctx context.Context, fn func(tx store.Tx) error) error
}

// Reconciler compares incoming results with the stored best results of a
// unit. A pass runs in one transaction; each record runs in a savepoint so a
// unique conflict only drops that record.
type Reconciler struct {
	db       TxRunner
	resolver *Resolver
}

func NewReconciler(db TxRunner, resolver *Resolver) *Reconciler {
	return &Reconciler{db: db, resolver: resolver}
}

type outcome int

const (
	outcomeNew outcome = iota
	outcomeImproved
	outcomeNoChange
)

// ReconcileStage upserts the stage and reconciles its results.
// championshipID may be nil when the stage is imported on its own.
func (r *Reconciler) ReconcileStage(ctx context.Context, p *gcup.StagePayload, championshipID *int64) (*Pass, error) {
	stage := stageFromPayload(p.StageSummary)
	stage.ChampionshipID = championshipID

	return r.run(ctx, p.Results, func(ctx context.Context, tx store.Tx) (models.UnitRef, error) {
		if err := tx.UpsertStage(ctx, stage); err != nil {
			return models.UnitRef{}, err
		}
		return models.UnitRef{Kind: models.UnitStage, ID: stage.ID, ExternalID: stage.StageID, Title: stage.Title}, nil
	})
}

func (r *Reconciler) ReconcileFigure(ctx context.Context, p *gcup.FigurePayload) (*Pass, error) {
	fig := &models.BaseFigure{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		Track:       p.Track,
		WithInClass: p.WithInClass,
	}

	return r.run(ctx, p.Results, func(ctx context.Context, tx store.Tx) (models.UnitRef, error) {
		if err := tx.UpsertBaseFigure(ctx, fig); err != nil {
			return models.UnitRef{}, err
		}
		return models.UnitRef{Kind: models.UnitFigure, ID: fig.ID, ExternalID: fig.ID, Title: fig.Title}, nil
	})
}

func (r *Reconciler) run(ctx context.Context, records []gcup.ResultRecord, upsert func(context.Context, store.Tx) (models.UnitRef, error)) (*Pass, error) {
	var pass Pass

	err := r.db.Atomic(ctx, func(tx store.Tx) error {
		// a retried transaction starts from scratch
		pass = Pass{}

		unit, err := upsert(ctx, tx)
		if err != nil {
			return fmt.Errorf("upsert unit: %w", err)
		}
		pass.Summary.Unit = unit

		seen := make(map[int64]bool, len(records))
		for _, rec := range records {
			if err := r.record(ctx, tx, unit, rec, seen, &pass); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("ingest: reconcile %s rolled back: %v", pass.Summary.Unit, err)
		return nil, err
	}

	log.Printf("ingest: %s", pass.Summary)
	return &pass, nil
}

func (r *Reconciler) record(ctx context.Context, tx store.Tx, unit models.UnitRef, rec gcup.ResultRecord, seen map[int64]bool, pass *Pass) error {
	if !rec.HasTime() {
		log.Printf("ingest: warning: %s: no result time for athlete %d, skipped", unit, rec.UserID)
		pass.Summary.Skipped++
		return nil
	}
	if seen[rec.UserID] {
		log.Printf("ingest: warning: %s: athlete %d repeated in payload, skipped", unit, rec.UserID)
		pass.Summary.Skipped++
		return nil
	}
	seen[rec.UserID] = true

	var out outcome
	var ev *Event
	err := tx.Atomic(ctx, func(sp store.Tx) error {
		var err error
		out, ev, err = r.apply(ctx, sp, unit, rec)
		return err
	})
	if errors.Is(err, store.ErrConflict) {
		log.Printf("ingest: warning: %s: conflict for athlete %d (%s %s, %s), skipped: %v",
			unit, rec.UserID, rec.UserFirstName, rec.UserLastName, rec.ResultTime, err)
		pass.Summary.Conflicts++
		return nil
	}
	if err != nil {
		return fmt.Errorf("athlete %d: %w", rec.UserID, err)
	}

	switch out {
	case outcomeNew:
		pass.Summary.New++
	case outcomeImproved:
		pass.Summary.Improved++
	default:
		pass.Summary.NoChange++
	}
	if ev != nil {
		pass.Events = append(pass.Events, *ev)
	}
	return nil
}

func (r *Reconciler) apply(ctx context.Context, tx store.Tx, unit models.UnitRef, rec gcup.ResultRecord) (outcome, *Event, error) {
	athlete, _, err := r.resolver.Athlete(ctx, tx, rec)
	if err != nil {
		return 0, nil, err
	}
	newTime := *rec.ResultTimeMS

	existing, err := tx.Result(ctx, unit, athlete.ID)
	if errors.Is(err, store.ErrNotFound) {
		motoID, _, err := r.resolver.Motorcycle(ctx, tx, rec.Motorcycle)
		if err != nil {
			return 0, nil, err
		}
		res := &models.Result{
			Unit:         unit,
			AthleteID:    athlete.ID,
			MotorcycleID: motoID,
			Date:         util.UnixTime(rec.Date),
			Fine:         intOr(rec.Fine, 0),
			TimeMS:       newTime,
			TimeText:     rec.ResultTime,
			Video:        stringOr(rec.Video, ""),
		}
		if unit.Kind == models.UnitStage {
			res.Place = rec.Place
		}
		if err := tx.CreateResult(ctx, res); err != nil {
			return 0, nil, err
		}
		log.Printf("ingest: NEW RESULT: %s added to %s with time %s", athlete.FullName(), unit, rec.ResultTime)
		return outcomeNew, newEvent(EventNew, res, athlete, rec.Motorcycle, 0), nil
	}
	if err != nil {
		return 0, nil, err
	}

	if newTime >= existing.TimeMS {
		return outcomeNoChange, nil, nil
	}

	oldTime := existing.TimeMS
	existing.TimeMS = newTime
	existing.TimeText = rec.ResultTime
	existing.Fine = intOr(rec.Fine, existing.Fine)
	existing.Video = stringOr(rec.Video, existing.Video)
	if unit.Kind == models.UnitStage && rec.Place != nil {
		existing.Place = rec.Place
	}
	if err := tx.UpdateResult(ctx, existing); err != nil {
		return 0, nil, err
	}
	log.Printf("ingest: IMPROVEMENT: %s improved time in %s by %s seconds (new time: %s)",
		athlete.FullName(), unit, util.FormatDelta(oldTime-newTime), rec.ResultTime)
	return outcomeImproved, newEvent(EventImproved, existing, athlete, rec.Motorcycle, oldTime), nil
}

func newEvent(kind EventKind, res *models.Result, athlete *models.Athlete, moto string, prev int) *Event {
	return &Event{
		Kind:       kind,
		Unit:       res.Unit,
		Athlete:    *athlete,
		Motorcycle: moto,
		TimeMS:     res.TimeMS,
		TimeText:   res.TimeText,
		Fine:       res.Fine,
		Place:      res.Place,
		Video:      res.Video,
		PrevTimeMS: prev,
	}
}

func stageFromPayload(p gcup.StageSummary) *models.Stage {
	status, ok := models.ParseStatus(p.Status)
	if !ok {
		if p.Status != "" {
			log.Printf("ingest: warning: stage %d has unknown status %q", p.ID, p.Status)
		}
		status = models.StatusUpcoming
	}
	class, _ := models.ParseClass(p.Class)

	return &models.Stage{
		StageID:    p.ID,
		Status:     status,
		Title:      p.Title,
		StageClass: class,
		TrackURL:   p.TrackURL,
		DateStart:  util.UnixTime(p.DateStart),
		DateEnd:    util.UnixTime(p.DateEnd),
	}
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func stringOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}
