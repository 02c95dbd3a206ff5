// Package store persists derivation runs to Postgres.
//
// Each run gets its own id; re-saving a panel never overwrites an earlier
// run. Absent values are stored as SQL NULL, never as zero.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seenimoa/cvmratios/pkg/models"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("store: run not found")

// Run describes one persisted derivation.
type Run struct {
	ID        uuid.UUID         `json:"id"`
	Rules     string            `json:"rules"`
	Source    string            `json:"source"`
	CreatedAt time.Time         `json:"created_at"`
	Summary   models.RunSummary `json:"summary"`
}

// Store wraps a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to the database at url and verifies the connection.
func Open(ctx context.Context, url string, logger *slog.Logger) (*Store, error) {
	if url == "" {
		return nil, errors.New("store: database url is empty")
	}
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("store: parse database url: %w", err)
	}
	cfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// EnsureSchema creates the tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL()); err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	return nil
}

// SaveDerived writes p as a new run in a single transaction.
func (s *Store) SaveDerived(ctx context.Context, p *models.DerivedPanel, source string) (Run, error) {
	run := Run{
		ID:        uuid.New(),
		Rules:     p.Rules,
		Source:    source,
		CreatedAt: time.Now().UTC(),
		Summary:   p.Summary,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Run{}, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO derivation_runs (id, rules, source, created_at, records, entities, with_prior, divergent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.Rules, run.Source, run.CreatedAt,
		run.Summary.Records, run.Summary.Entities, run.Summary.WithPrior, run.Summary.Divergent,
	)
	if err != nil {
		return Run{}, fmt.Errorf("store: insert run: %w", err)
	}

	batch := &pgx.Batch{}
	query := upsertSQL()
	for i := range p.Records {
		batch.Queue(query, recordArgs(run.ID, &p.Records[i])...)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return Run{}, fmt.Errorf("store: insert indicators: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Run{}, fmt.Errorf("store: commit: %w", err)
	}
	s.logger.Info("store: run saved", "run", run.ID, "records", len(p.Records))
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, rules, source, created_at, records, entities, with_prior, divergent
		FROM derivation_runs
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Rules, &r.Source, &r.CreatedAt,
			&r.Summary.Records, &r.Summary.Entities, &r.Summary.WithPrior, &r.Summary.Divergent); err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LoadRun reads a persisted run back into a derived panel.
func (s *Store) LoadRun(ctx context.Context, id uuid.UUID) (*models.DerivedPanel, error) {
	var p models.DerivedPanel
	err := s.pool.QueryRow(ctx, `
		SELECT rules, records, entities, with_prior, divergent
		FROM derivation_runs WHERE id = $1`, id).
		Scan(&p.Rules, &p.Summary.Records, &p.Summary.Entities, &p.Summary.WithPrior, &p.Summary.Divergent)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: load run: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		"SELECT "+strings.Join(recordColumns()[1:], ", ")+
			" FROM derived_indicators WHERE run_id = $1 ORDER BY entity_key, year", id)
	if err != nil {
		return nil, fmt.Errorf("store: load indicators: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec models.DerivedRecord
		dest, finish := scanTargets(&rec)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("store: scan indicators: %w", err)
		}
		finish()
		p.Records = append(p.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: load indicators: %w", err)
	}
	return &p, nil
}

// rawColumn prefixes raw fields so they cannot collide with metric names.
func rawColumn(f models.Field) string { return "raw_" + string(f) }

// recordColumns lists the derived_indicators columns in insert order.
func recordColumns() []string {
	cols := []string{
		"run_id", "entity_key", "cvm_code", "ticker", "name", "sector", "year",
		"has_prior", "leverage_effective", "divergent",
	}
	for _, f := range models.RawFields() {
		cols = append(cols, rawColumn(f))
	}
	for _, m := range models.Metrics() {
		cols = append(cols, string(m))
	}
	return cols
}

// keyColumns is the count of non-numeric leading columns in recordColumns.
const keyColumns = 10

func schemaSQL() string {
	var b strings.Builder
	b.WriteString(`CREATE TABLE IF NOT EXISTS derivation_runs (
	id          UUID PRIMARY KEY,
	rules       TEXT NOT NULL,
	source      TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	records     INTEGER NOT NULL,
	entities    INTEGER NOT NULL,
	with_prior  INTEGER NOT NULL,
	divergent   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS derived_indicators (
	run_id             UUID NOT NULL REFERENCES derivation_runs(id) ON DELETE CASCADE,
	entity_key         TEXT NOT NULL,
	cvm_code           TEXT NOT NULL DEFAULT '',
	ticker             TEXT NOT NULL DEFAULT '',
	name               TEXT NOT NULL DEFAULT '',
	sector             TEXT NOT NULL DEFAULT '',
	year               INTEGER NOT NULL,
	has_prior          BOOLEAN NOT NULL,
	leverage_effective BOOLEAN NOT NULL,
	divergent          BOOLEAN NOT NULL,
`)
	for _, col := range recordColumns()[keyColumns:] {
		fmt.Fprintf(&b, "\t%s DOUBLE PRECISION,\n", col)
	}
	b.WriteString("\tPRIMARY KEY (run_id, entity_key, year)\n);\n")
	b.WriteString("CREATE INDEX IF NOT EXISTS derived_indicators_ticker_idx ON derived_indicators (ticker, year);\n")
	return b.String()
}

// upsertSQL inserts one record, replacing it when the run already holds
// the same entity and year.
func upsertSQL() string {
	cols := recordColumns()
	placeholders := make([]string, len(cols))
	var updates []string
	for i, c := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		switch c {
		case "run_id", "entity_key", "year":
		default:
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
	}
	return fmt.Sprintf(
		"INSERT INTO derived_indicators (%s) VALUES (%s) ON CONFLICT (run_id, entity_key, year) DO UPDATE SET %s",
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(updates, ", "),
	)
}

// recordArgs returns the insert arguments for rec in recordColumns order.
// Absent values become nil, which the driver sends as NULL.
func recordArgs(runID uuid.UUID, rec *models.DerivedRecord) []any {
	e := rec.Entity
	args := []any{
		runID, e.Key(), e.Code, e.Ticker, e.Name, e.Sector, rec.Year,
		rec.HasPrior, rec.Indicators.LeverageEffective, rec.Indicators.Divergent,
	}
	for _, f := range models.RawFields() {
		args = append(args, nullable(rec.Get(f)))
	}
	for _, m := range models.Metrics() {
		args = append(args, nullable(rec.Indicators.Get(m)))
	}
	return args
}

func nullable(n models.Num) any {
	if p := n.Ptr(); p != nil {
		return *p
	}
	return nil
}

// scanTargets returns scan destinations for every recordColumns column
// except run_id, and a func that copies the scanned values into rec.
func scanTargets(rec *models.DerivedRecord) ([]any, func()) {
	var key string
	dest := []any{
		&key, &rec.Entity.Code, &rec.Entity.Ticker, &rec.Entity.Name, &rec.Entity.Sector, &rec.Year,
		&rec.HasPrior, &rec.Indicators.LeverageEffective, &rec.Indicators.Divergent,
	}
	raws := models.RawFields()
	metrics := models.Metrics()
	vals := make([]*float64, len(raws)+len(metrics))
	for i := range vals {
		dest = append(dest, &vals[i])
	}
	return dest, func() {
		for i, f := range raws {
			rec.Set(f, fromPtr(vals[i]))
		}
		for i, m := range metrics {
			rec.Indicators.Set(m, fromPtr(vals[len(raws)+i]))
		}
	}
}

func fromPtr(p *float64) models.Num {
	if p == nil {
		return models.None
	}
	return models.Some(*p)
}
