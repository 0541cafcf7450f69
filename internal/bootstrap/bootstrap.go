// Package bootstrap wires the pieces shared by the bot and the import
// commands: database, task queue and the importer with its fanout.
package bootstrap

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/itbasis/go-clock"

	"gymkhana-bot/internal/config"
	"gymkhana-bot/internal/gcup"
	"gymkhana-bot/internal/ingest"
	"gymkhana-bot/internal/notify"
	"gymkhana-bot/internal/queue"
	"gymkhana-bot/internal/sheets"
	"gymkhana-bot/internal/store"
)

const connectWait = 30 * time.Second

type Env struct {
	Config   config.Config
	Clock    clock.Clock
	Store    *store.Store
	Queue    *queue.Queue
	Importer *ingest.Importer
}

// Open connects to the database, applies the schema and builds the importer.
// Reconcile tasks are registered on the queue; delivery is left to the bot.
func Open(ctx context.Context, cfg config.Config) (*Env, error) {
	clk := clock.New()

	pool, err := store.Connect(ctx, cfg.DatabaseURL, connectWait)
	if err != nil {
		return nil, err
	}
	db := store.New(pool, clk)
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	api, err := gcup.New(cfg.GCupURL, cfg.GCupAPIKey, cfg.GCupTimeout)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("results api: %w", err)
	}

	q := queue.New(db, clk, Policy(cfg))
	opts := []ingest.Option{
		ingest.WithChampType(cfg.GCupChampType),
		ingest.WithNotifier(notify.NewFanout(db, q)),
	}
	if cfg.SpreadsheetID != "" {
		sc, err := sheets.New(ctx, cfg.GoogleServiceAccountJSON, cfg.SpreadsheetID)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("sheets: %w", err)
		}
		opts = append(opts, ingest.WithPublisher(sheets.NewPublisher(sc, db)))
		log.Printf("bootstrap: publishing leaderboards to spreadsheet %s", sc.SpreadsheetID())
	}
	imp := ingest.NewImporter(api, db, opts...)
	q.Register(queue.KindReconcileUnit, queue.ReconcileHandler(imp))

	return &Env{Config: cfg, Clock: clk, Store: db, Queue: q, Importer: imp}, nil
}

func (e *Env) Close() {
	e.Store.Close()
}

// Policy is the retry policy from the configuration.
func Policy(cfg config.Config) queue.Policy {
	p := queue.DefaultPolicy()
	p.MaxRetries = cfg.TaskMaxRetries
	if cfg.TaskRetryDelay > 0 {
		p.BaseDelay = cfg.TaskRetryDelay
	}
	if cfg.TaskRetryMaxDelay > 0 {
		p.MaxDelay = cfg.TaskRetryMaxDelay
	}
	return p
}
