package database

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/courtdata/judgment-harvester/internal/harvest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig controls the Postgres connection pool and table names.
type PostgresConfig struct {
	DSN             string
	JudgmentsTable  string
	RunsTable       string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pgxPool is the subset of pgxpool.Pool the provider uses; pgxmock
// implements it for tests.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// PostgresProvider implements Provider using PostgreSQL via pgx.
//
// Expected schema:
//
//	CREATE TABLE judgments (
//	    record_key            TEXT PRIMARY KEY,
//	    court_type            TEXT NOT NULL,
//	    court_level           INT NOT NULL,
//	    court_name            TEXT NOT NULL,
//	    jurisdiction          TEXT NOT NULL,
//	    serial_number         TEXT,
//	    diary_number          TEXT,
//	    case_number           TEXT,
//	    petitioner_respondent TEXT,
//	    advocate              TEXT,
//	    bench                 TEXT,
//	    judgment_by           TEXT,
//	    judgment_date         TEXT,
//	    document_links        JSONB,
//	    object_bucket         TEXT,
//	    object_key            TEXT,
//	    object_uri            TEXT,
//	    file_size             BIGINT,
//	    content_hash          TEXT,
//	    search_from_date      TEXT,
//	    search_to_date        TEXT,
//	    scraped_at            TIMESTAMPTZ NOT NULL,
//	    updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
//
//	CREATE TABLE harvest_runs (
//	    run_id         UUID PRIMARY KEY,
//	    started_at     TIMESTAMPTZ NOT NULL,
//	    finished_at    TIMESTAMPTZ,
//	    status         TEXT NOT NULL,
//	    windows_done   INT NOT NULL DEFAULT 0,
//	    tasks_uploaded INT NOT NULL DEFAULT 0,
//	    tasks_failed   INT NOT NULL DEFAULT 0
//	);
type PostgresProvider struct {
	pool           pgxPool
	judgmentsTable string
	runsTable      string
}

// NewPostgresProvider connects a pgx pool and verifies it with a ping.
func NewPostgresProvider(ctx context.Context, cfg PostgresConfig) (*PostgresProvider, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return newPostgresProvider(pool, cfg)
}

// NewPostgresProviderWithPool constructs a provider from an existing pool
// (primarily for testing with pgxmock).
func NewPostgresProviderWithPool(pool pgxPool, cfg PostgresConfig) (*PostgresProvider, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return newPostgresProvider(pool, cfg)
}

func newPostgresProvider(pool pgxPool, cfg PostgresConfig) (*PostgresProvider, error) {
	judgments := cfg.JudgmentsTable
	if judgments == "" {
		judgments = "judgments"
	}
	runs := cfg.RunsTable
	if runs == "" {
		runs = "harvest_runs"
	}
	for _, table := range []string{judgments, runs} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &PostgresProvider{pool: pool, judgmentsTable: judgments, runsTable: runs}, nil
}

// UpsertJudgment inserts or updates the metadata row keyed by record key.
func (p *PostgresProvider) UpsertJudgment(ctx context.Context, rec harvest.JudgmentRecord) error {
	if rec.RecordKey == "" {
		return fmt.Errorf("record key is required")
	}
	linksJSON, err := json.Marshal(rec.DocumentLinks)
	if err != nil {
		return fmt.Errorf("marshal document links: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	record_key, court_type, court_level, court_name, jurisdiction,
	serial_number, diary_number, case_number, petitioner_respondent,
	advocate, bench, judgment_by, judgment_date, document_links,
	object_bucket, object_key, object_uri, file_size, content_hash,
	search_from_date, search_to_date, scraped_at, updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,NOW()
)
ON CONFLICT (record_key) DO UPDATE SET
	petitioner_respondent = EXCLUDED.petitioner_respondent,
	advocate = EXCLUDED.advocate,
	bench = EXCLUDED.bench,
	judgment_by = EXCLUDED.judgment_by,
	document_links = EXCLUDED.document_links,
	content_hash = EXCLUDED.content_hash,
	search_from_date = EXCLUDED.search_from_date,
	search_to_date = EXCLUDED.search_to_date,
	updated_at = NOW()`, p.judgmentsTable)

	_, err = p.pool.Exec(ctx, query,
		rec.RecordKey,
		rec.Court.Type,
		rec.Court.Level,
		rec.Court.Name,
		rec.Court.Jurisdiction,
		rec.SerialNumber,
		rec.DiaryNumber,
		rec.CaseNumber,
		rec.PetitionerRespondent,
		rec.Advocate,
		rec.Bench,
		rec.JudgmentBy,
		rec.JudgmentDate,
		linksJSON,
		rec.ObjectBucket,
		rec.ObjectKey,
		rec.ObjectURI,
		rec.FileSize,
		rec.ContentHash,
		rec.SearchFromDate,
		rec.SearchToDate,
		rec.ScrapedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert judgment %s: %w", rec.RecordKey, err)
	}
	return nil
}

// MarkUploaded records the archived object location for the record.
func (p *PostgresProvider) MarkUploaded(ctx context.Context, recordKey, objectURI string, size int64) error {
	if recordKey == "" {
		return fmt.Errorf("record key is required")
	}
	query := fmt.Sprintf(`
UPDATE %s SET object_uri = $1, file_size = $2, updated_at = NOW()
WHERE record_key = $3`, p.judgmentsTable)
	tag, err := p.pool.Exec(ctx, query, objectURI, size, recordKey)
	if err != nil {
		return fmt.Errorf("mark judgment %s uploaded: %w", recordKey, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark judgment %s uploaded: no metadata row", recordKey)
	}
	return nil
}

// StartRun inserts the bookkeeping row for a run. Re-running with the same
// run ID updates the start time rather than failing.
func (p *PostgresProvider) StartRun(ctx context.Context, run RunRecord) error {
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, started_at, status)
VALUES ($1, $2, $3)
ON CONFLICT (run_id) DO UPDATE SET started_at = EXCLUDED.started_at, status = EXCLUDED.status`,
		p.runsTable)
	if _, err := p.pool.Exec(ctx, query, run.RunID, run.StartedAt, run.Status); err != nil {
		return fmt.Errorf("start run %s: %w", run.RunID, err)
	}
	return nil
}

// FinishRun closes the bookkeeping row with final counters.
func (p *PostgresProvider) FinishRun(ctx context.Context, run RunRecord) error {
	query := fmt.Sprintf(`
UPDATE %s SET finished_at = $1, status = $2, windows_done = $3, tasks_uploaded = $4, tasks_failed = $5
WHERE run_id = $6`, p.runsTable)
	if _, err := p.pool.Exec(ctx, query,
		run.FinishedAt, run.Status, run.WindowsDone, run.TasksUploaded, run.TasksFailed, run.RunID,
	); err != nil {
		return fmt.Errorf("finish run %s: %w", run.RunID, err)
	}
	return nil
}

// Stats reads aggregate judgment counts.
func (p *PostgresProvider) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByCourt: make(map[string]int64)}

	query := fmt.Sprintf(`
SELECT COUNT(*), COUNT(*) FILTER (WHERE object_uri <> ''), COALESCE(MAX(scraped_at), 'epoch'::timestamptz)
FROM %s`, p.judgmentsTable)
	if err := p.pool.QueryRow(ctx, query).Scan(&stats.Total, &stats.Uploaded, &stats.LatestScrapedAt); err != nil {
		return Stats{}, fmt.Errorf("read judgment totals: %w", err)
	}

	byCourt := fmt.Sprintf(`SELECT court_type, COUNT(*) FROM %s GROUP BY court_type`, p.judgmentsTable)
	rows, err := p.pool.Query(ctx, byCourt)
	if err != nil {
		return Stats{}, fmt.Errorf("read judgment counts by court: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var court string
		var count int64
		if err := rows.Scan(&court, &count); err != nil {
			return Stats{}, fmt.Errorf("scan court count: %w", err)
		}
		stats.ByCourt[court] = count
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("iterate court counts: %w", err)
	}
	return stats, nil
}

// Close releases the underlying pool resources.
func (p *PostgresProvider) Close() error {
	p.pool.Close()
	return nil
}
