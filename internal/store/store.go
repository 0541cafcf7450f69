package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/itbasis/go-clock"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"gymkhana-bot/internal/models"
)

//go:embed schema.sql
var schema string

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict wraps unique constraint violations.
	ErrConflict = errors.New("conflict")
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Tx is the part of the store a reconciliation pass works with. Atomic on a
// Tx opens a savepoint, so a failed nested call only undoes its own writes.
type Tx interface {
	Atomic(ctx context.Context, fn func(tx Tx) error) error

	EnsureCountry(ctx context.Context, title string) (int64, models.Outcome, error)
	EnsureCity(ctx context.Context, title string, countryID int64) (int64, models.Outcome, error)
	EnsureMotorcycle(ctx context.Context, title string) (int64, models.Outcome, error)
	Athlete(ctx context.Context, id int64) (*models.Athlete, error)
	CreateAthlete(ctx context.Context, a *models.Athlete) error
	UpdateAthlete(ctx context.Context, a *models.Athlete) error

	UpsertStage(ctx context.Context, st *models.Stage) error
	UpsertBaseFigure(ctx context.Context, f *models.BaseFigure) error
	Result(ctx context.Context, unit models.UnitRef, athleteID int64) (*models.Result, error)
	CreateResult(ctx context.Context, r *models.Result) error
	UpdateResult(ctx context.Context, r *models.Result) error
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type repo struct {
	q     querier
	clock clock.Clock
}

type Store struct {
	repo
	pool *pgxpool.Pool
}

var (
	_ Tx = (*Store)(nil)
	_ Tx = (*txStore)(nil)
)

func New(pool *pgxpool.Pool, clk clock.Clock) *Store {
	return &Store{
		repo: repo{q: pool, clock: clk},
		pool: pool,
	}
}

// Connect waits for the database to accept connections, retrying for up to
// wait before giving up.
func Connect(ctx context.Context, url string, wait time.Duration) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10

	deadline := time.Now().Add(wait)
	for {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		pool, err := pgxpool.NewWithConfig(pctx, cfg)
		if err == nil {
			if err = pool.Ping(pctx); err == nil {
				cancel()
				return pool, nil
			}
			pool.Close()
		}
		cancel()

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("connect db after retries: %w", err)
		}
		log.Printf("store: waiting for database: %v", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// Migrate applies the embedded schema. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Atomic runs fn in a transaction. The transaction commits only if fn
// returns nil.
func (s *Store) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	return runTx(ctx, tx, s.clock, fn)
}

type txStore struct {
	repo
	tx pgx.Tx
}

func (t *txStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin savepoint: %w", err)
	}
	return runTx(ctx, sp, t.clock, fn)
}

func runTx(ctx context.Context, tx pgx.Tx, clk clock.Clock, fn func(tx Tx) error) error {
	defer tx.Rollback(ctx)

	if err := fn(&txStore{repo: repo{q: tx, clock: clk}, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *repo) exec(ctx context.Context, q sq.Sqlizer) (pgconn.CommandTag, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	tag, err := r.q.Exec(ctx, sql, args...)
	return tag, mapErr(err)
}

func (r *repo) query(ctx context.Context, q sq.Sqlizer) (pgx.Rows, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	return r.q.Query(ctx, sql, args...)
}

func (r *repo) row(ctx context.Context, q sq.Sqlizer) pgx.Row {
	sql, args, err := q.ToSql()
	if err != nil {
		return errRow{err}
	}
	return mappedRow{r.q.QueryRow(ctx, sql, args...)}
}

type errRow struct{ err error }

func (e errRow) Scan(...any) error { return e.err }

type mappedRow struct{ pgx.Row }

func (m mappedRow) Scan(dest ...any) error {
	return mapErr(m.Row.Scan(dest...))
}

// mapErr turns driver errors callers branch on into package sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, ErrConflict)
	}
	return err
}

// ensure finds a row by key or inserts it, reporting which branch was taken.
func (r *repo) ensure(ctx context.Context, table string, key sq.Eq, values map[string]any) (int64, models.Outcome, error) {
	var id int64
	err := r.row(ctx, psql.Select("id").From(table).Where(key)).Scan(&id)
	if err == nil {
		return id, models.Found, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return 0, models.Found, fmt.Errorf("select %s: %w", table, err)
	}

	err = r.row(ctx, psql.Insert(table).SetMap(values).Suffix("RETURNING id")).Scan(&id)
	if err != nil {
		return 0, models.Found, fmt.Errorf("insert %s: %w", table, err)
	}
	return id, models.Created, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func valueOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
