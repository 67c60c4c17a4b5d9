package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"

	"call-insights-go/internal/config"
	"call-insights-go/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS processing_records (
	clip_id             TEXT PRIMARY KEY,
	path                TEXT NOT NULL,
	stage               TEXT NOT NULL,
	call_date           TEXT,
	transcribe_attempts INT NOT NULL DEFAULT 0,
	analyze_attempts    INT NOT NULL DEFAULT 0,
	persist_attempts    INT NOT NULL DEFAULT 0,
	last_error_kind     TEXT,
	last_error_msg      TEXT,
	transcript          TEXT,
	confidence          DOUBLE PRECISION,
	analysis            JSONB,
	discovered_at       TIMESTAMPTZ,
	transcribed_at      TIMESTAMPTZ,
	analyzed_at         TIMESTAMPTZ,
	persisted_at        TIMESTAMPTZ,
	updated_at          TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS batch_runs (
	run_id      TEXT PRIMARY KEY,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	discovered  INT NOT NULL DEFAULT 0,
	succeeded   INT NOT NULL DEFAULT 0,
	failed      INT NOT NULL DEFAULT 0,
	skipped     INT NOT NULL DEFAULT 0
);`

// Postgres is the persistence gateway. The pooled sql.DB makes it safe for
// concurrent workers; pool limits are independent of the worker pool size.
type Postgres struct {
	db          *sql.DB
	dsn         string
	maxOpen     int
	maxIdle     int
	writeBudget time.Duration
	log         *logrus.Entry
}

func NewPostgres(cfg config.Config, log *logrus.Entry) *Postgres {
	return &Postgres{
		dsn:         cfg.DatabaseURL,
		maxOpen:     cfg.MaxOpenConns,
		maxIdle:     cfg.MaxIdleConns,
		writeBudget: 15 * time.Second,
		log:         log.WithField("component", "gateway"),
	}
}

// Connect opens the pool and verifies connectivity. Failure here is one of
// the few process-fatal conditions.
func (p *Postgres) Connect(ctx context.Context) error {
	if p.dsn == "" {
		return errors.New("postgres DSN is required")
	}
	db, err := sql.Open("pgx", p.dsn)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	if p.maxOpen > 0 {
		db.SetMaxOpenConns(p.maxOpen)
	}
	if p.maxIdle > 0 {
		db.SetMaxIdleConns(p.maxIdle)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}
	p.db = db
	return nil
}

func (p *Postgres) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

// Migrate creates the tables if missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// UpsertRecord writes one record snapshot, keyed by clip id. Re-applying
// the same record is a no-op, which is what makes resume idempotent.
// Connection blips are absorbed by a short backoff budget of their own so a
// storage hiccup does not consume provider retry budgets.
func (p *Postgres) UpsertRecord(ctx context.Context, rec *types.ProcessingRecord) error {
	var analysisJSON any
	if rec.Analysis != nil {
		b, err := json.Marshal(rec.Analysis)
		if err != nil {
			return types.NewProviderError("upsert record", types.KindConstraint, err)
		}
		analysisJSON = string(b)
	}

	op := func() error {
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO processing_records (
				clip_id, path, stage, call_date,
				transcribe_attempts, analyze_attempts, persist_attempts,
				last_error_kind, last_error_msg,
				transcript, confidence, analysis,
				discovered_at, transcribed_at, analyzed_at, persisted_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
			ON CONFLICT (clip_id) DO UPDATE SET
				path = EXCLUDED.path,
				stage = EXCLUDED.stage,
				call_date = EXCLUDED.call_date,
				transcribe_attempts = EXCLUDED.transcribe_attempts,
				analyze_attempts = EXCLUDED.analyze_attempts,
				persist_attempts = EXCLUDED.persist_attempts,
				last_error_kind = EXCLUDED.last_error_kind,
				last_error_msg = EXCLUDED.last_error_msg,
				transcript = EXCLUDED.transcript,
				confidence = EXCLUDED.confidence,
				analysis = EXCLUDED.analysis,
				discovered_at = EXCLUDED.discovered_at,
				transcribed_at = EXCLUDED.transcribed_at,
				analyzed_at = EXCLUDED.analyzed_at,
				persisted_at = EXCLUDED.persisted_at,
				updated_at = EXCLUDED.updated_at`,
			rec.ClipID, rec.Path, string(rec.Stage), nullString(rec.CallDate),
			rec.TranscribeAttempts, rec.AnalyzeAttempts, rec.PersistAttempts,
			nullString(rec.LastErrorKind), nullString(rec.LastErrorMsg),
			nullString(rec.Transcript), rec.Confidence, analysisJSON,
			rec.DiscoveredAt, rec.TranscribedAt, rec.AnalyzedAt, rec.PersistedAt, rec.UpdatedAt,
		)
		if err == nil {
			return nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
			// integrity violation, retrying cannot fix it
			return backoff.Permanent(types.NewProviderError("upsert record", types.KindConstraint, err))
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = p.writeBudget
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		var pe *types.ProviderError
		if errors.As(err, &pe) {
			return pe
		}
		return types.NewProviderError("upsert record", types.KindUnavailable, err)
	}
	return nil
}

// LoadRecords returns every durable record keyed by clip id. Used only at
// resume time, before the worker pool starts.
func (p *Postgres) LoadRecords(ctx context.Context) (map[string]*types.ProcessingRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT clip_id, path, stage, call_date,
		       transcribe_attempts, analyze_attempts, persist_attempts,
		       last_error_kind, last_error_msg,
		       transcript, confidence, analysis,
		       discovered_at, transcribed_at, analyzed_at, persisted_at, updated_at
		FROM processing_records`)
	if err != nil {
		return nil, types.NewProviderError("load records", types.KindUnavailable, err)
	}
	defer rows.Close()

	out := map[string]*types.ProcessingRecord{}
	for rows.Next() {
		var (
			rec          types.ProcessingRecord
			stage        string
			callDate     sql.NullString
			errKind      sql.NullString
			errMsg       sql.NullString
			transcript   sql.NullString
			confidence   sql.NullFloat64
			analysisJSON []byte
			discoveredAt sql.NullTime
		)
		if err := rows.Scan(
			&rec.ClipID, &rec.Path, &stage, &callDate,
			&rec.TranscribeAttempts, &rec.AnalyzeAttempts, &rec.PersistAttempts,
			&errKind, &errMsg,
			&transcript, &confidence, &analysisJSON,
			&discoveredAt, &rec.TranscribedAt, &rec.AnalyzedAt, &rec.PersistedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, types.NewProviderError("scan record", types.KindUnavailable, err)
		}
		rec.Stage = types.Stage(stage)
		rec.CallDate = callDate.String
		rec.LastErrorKind = errKind.String
		rec.LastErrorMsg = errMsg.String
		rec.Transcript = transcript.String
		rec.Confidence = confidence.Float64
		rec.DiscoveredAt = discoveredAt.Time
		if len(analysisJSON) > 0 {
			var a types.Analysis
			if err := json.Unmarshal(analysisJSON, &a); err != nil {
				p.log.WithField("clip_id", rec.ClipID).WithError(err).Warn("dropping unreadable analysis payload")
			} else {
				rec.Analysis = &a
			}
		}
		out[rec.ClipID] = &rec
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewProviderError("load records", types.KindUnavailable, err)
	}
	return out, nil
}

// SaveRun stores the finalized batch-run counters.
func (p *Postgres) SaveRun(ctx context.Context, run *types.BatchRun) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO batch_runs (run_id, started_at, finished_at, discovered, succeeded, failed, skipped)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (run_id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			discovered = EXCLUDED.discovered,
			succeeded = EXCLUDED.succeeded,
			failed = EXCLUDED.failed,
			skipped = EXCLUDED.skipped`,
		run.ID, run.StartedAt, run.FinishedAt, run.Discovered, run.Succeeded, run.Failed, run.Skipped)
	if err != nil {
		return types.NewProviderError("save run", types.KindUnavailable, err)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
