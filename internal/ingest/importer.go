package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"

	"gymkhana-bot/internal/gcup"
	"gymkhana-bot/internal/models"
	"gymkhana-bot/internal/store"
)

// DefaultChampType is the championship type requested when none is given.
const DefaultChampType = "gp"

type Store interface {
	TxRunner
	UpsertChampionship(ctx context.Context, c *models.Championship) error
	AthleteIDs(ctx context.Context) ([]int64, error)
}

// Notifier receives the events of a committed pass.
type Notifier interface {
	Dispatch(ctx context.Context, events []Event) error
}

// Publisher mirrors a unit's leaderboard somewhere outside the database.
type Publisher interface {
	Publish(ctx context.Context, unit models.UnitRef) error
}

// Importer runs fetch, reconcile, fanout and publish for competition units.
type Importer struct {
	api        gcup.Client
	db         Store
	resolver   *Resolver
	reconciler *Reconciler
	notifier   Notifier
	publisher  Publisher
	champType  string
}

type Option func(*Importer)

func WithNotifier(n Notifier) Option {
	return func(i *Importer) { i.notifier = n }
}

func WithPublisher(p Publisher) Option {
	return func(i *Importer) { i.publisher = p }
}

func WithChampType(t string) Option {
	return func(i *Importer) {
		if t != "" {
			i.champType = t
		}
	}
}

func NewImporter(api gcup.Client, db Store, opts ...Option) *Importer {
	resolver := NewResolver(api)
	i := &Importer{
		api:        api,
		db:         db,
		resolver:   resolver,
		reconciler: NewReconciler(db, resolver),
		champType:  DefaultChampType,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// ImportStage fetches one stage and reconciles it. An unavailable results
// API is not an error: the stage is skipped and the summary says so.
func (i *Importer) ImportStage(ctx context.Context, stageID int64) (Summary, error) {
	return i.importStage(ctx, stageID, nil)
}

func (i *Importer) importStage(ctx context.Context, stageID int64, championshipID *int64) (Summary, error) {
	unit := models.UnitRef{Kind: models.UnitStage, ExternalID: stageID}

	payload, err := i.api.Stage(ctx, stageID, i.champType)
	if errors.Is(err, gcup.ErrUnavailable) {
		log.Printf("ingest: warning: no data for %s: %v", unit, err)
		return Summary{Unit: unit, Unavailable: true}, nil
	}
	if err != nil {
		return Summary{Unit: unit}, fmt.Errorf("fetch %s: %w", unit, err)
	}

	pass, err := i.reconciler.ReconcileStage(ctx, payload, championshipID)
	if err != nil {
		return Summary{Unit: unit}, fmt.Errorf("reconcile %s: %w", unit, err)
	}
	i.afterCommit(ctx, pass)
	return pass.Summary, nil
}

func (i *Importer) ImportFigure(ctx context.Context, figureID int64) (Summary, error) {
	unit := models.UnitRef{Kind: models.UnitFigure, ID: figureID, ExternalID: figureID}

	payload, err := i.api.BaseFigure(ctx, figureID)
	if errors.Is(err, gcup.ErrUnavailable) {
		log.Printf("ingest: warning: no data for %s: %v", unit, err)
		return Summary{Unit: unit, Unavailable: true}, nil
	}
	if err != nil {
		return Summary{Unit: unit}, fmt.Errorf("fetch %s: %w", unit, err)
	}

	pass, err := i.reconciler.ReconcileFigure(ctx, payload)
	if err != nil {
		return Summary{Unit: unit}, fmt.Errorf("reconcile %s: %w", unit, err)
	}
	i.afterCommit(ctx, pass)
	return pass.Summary, nil
}

// Import dispatches on the unit kind.
func (i *Importer) Import(ctx context.Context, kind models.UnitKind, id int64) (Summary, error) {
	if kind == models.UnitFigure {
		return i.ImportFigure(ctx, id)
	}
	return i.ImportStage(ctx, id)
}

// afterCommit hands events to the notifier and refreshes the published
// leaderboard. Failures here never undo the pass.
func (i *Importer) afterCommit(ctx context.Context, pass *Pass) {
	if i.notifier != nil && len(pass.Events) > 0 {
		if err := i.notifier.Dispatch(ctx, pass.Events); err != nil {
			log.Printf("ingest: fanout for %s failed: %v", pass.Summary.Unit, err)
		}
	}
	if i.publisher != nil && pass.Summary.Changed() {
		if err := i.publisher.Publish(ctx, pass.Summary.Unit); err != nil {
			log.Printf("ingest: publish %s failed: %v", pass.Summary.Unit, err)
		}
	}
}

// SeasonReport totals a season import.
type SeasonReport struct {
	Championships int
	Stages        int
	Unavailable   int
	Failed        int
	Totals        Summary
}

func (r SeasonReport) String() string {
	return fmt.Sprintf("championships=%d stages=%d unavailable=%d failed=%d new_result=%d improved_result=%d no_change=%d",
		r.Championships, r.Stages, r.Unavailable, r.Failed, r.Totals.New, r.Totals.Improved, r.Totals.NoChange)
}

// ImportSeason imports every championship of a type in the year range, then
// each of its stages. A stage that fails is logged and counted; the rest of
// the season still imports.
func (i *Importer) ImportSeason(ctx context.Context, champType string, fromYear, toYear int) (SeasonReport, error) {
	var report SeasonReport
	if champType == "" {
		champType = i.champType
	}

	champs, err := i.api.Championships(ctx, champType, fromYear, toYear)
	if err != nil {
		return report, fmt.Errorf("list championships: %w", err)
	}
	log.Printf("ingest: %d championships for %s %d-%d", len(champs), champType, fromYear, toYear)

	for _, c := range champs {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		champ := &models.Championship{
			ChampID:     c.ID,
			Title:       c.Title,
			Year:        c.Year,
			Description: c.Description,
			ChampType:   champType,
		}
		if err := i.db.UpsertChampionship(ctx, champ); err != nil {
			return report, err
		}
		report.Championships++

		detail, err := i.api.Championship(ctx, c.ID, champType)
		if err != nil {
			log.Printf("ingest: warning: championship %d (%s) unavailable: %v", c.ID, c.Title, err)
			report.Unavailable++
			continue
		}

		for _, st := range detail.Stages {
			summary, err := i.importStage(ctx, st.ID, &champ.ID)
			report.Stages++
			switch {
			case err != nil:
				log.Printf("ingest: stage %d (%s) failed: %v", st.ID, st.Title, err)
				report.Failed++
			case summary.Unavailable:
				report.Unavailable++
			default:
				report.Totals.Add(summary)
			}
		}
	}
	return report, nil
}

// RefreshReport totals an athlete refresh.
type RefreshReport struct {
	Updated     int
	Unavailable int
	Failed      int
}

func (r RefreshReport) String() string {
	return fmt.Sprintf("updated=%d unavailable=%d failed=%d", r.Updated, r.Unavailable, r.Failed)
}

// RefreshAthletes reloads every stored athlete profile from the results site.
func (i *Importer) RefreshAthletes(ctx context.Context) (RefreshReport, error) {
	var report RefreshReport

	ids, err := i.db.AthleteIDs(ctx)
	if err != nil {
		return report, err
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		profile, err := i.api.Athlete(ctx, id)
		if err != nil {
			log.Printf("ingest: warning: athlete %d unavailable: %v", id, err)
			report.Unavailable++
			continue
		}
		profile.ID = id

		err = i.db.Atomic(ctx, func(tx store.Tx) error {
			a, err := i.resolver.Refresh(ctx, tx, *profile)
			if err != nil {
				return err
			}
			return tx.UpdateAthlete(ctx, a)
		})
		if err != nil {
			log.Printf("ingest: athlete %d refresh failed: %v", id, err)
			report.Failed++
			continue
		}
		report.Updated++
	}
	return report, nil
}
