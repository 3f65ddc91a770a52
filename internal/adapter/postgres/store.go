// Package postgres stores series in PostgreSQL: one row per series key in
// "series" and one row per timestamp in "observations".
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/calsim-tables/internal/domain"
	"github.com/couchcryptid/calsim-tables/internal/observability"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schema string

// maxInsertRows keeps one multi-row insert under the 65535 bind parameter
// limit.
const maxInsertRows = 5000

const (
	upsertSeriesQuery = `
		INSERT INTO series (id, study, pathname, units, data_type, processed_at)
		VALUES (:id, :study, :pathname, :units, :data_type, :processed_at)
		ON CONFLICT (id) DO UPDATE SET processed_at = EXCLUDED.processed_at`

	deleteObservationsQuery = `DELETE FROM observations WHERE series_id = $1`

	insertObservationsQuery = `
		INSERT INTO observations (series_id, ts, value)
		VALUES (:series_id, :ts, :value)`

	selectSeriesQuery = `
		SELECT id, study, pathname, units, data_type, processed_at
		FROM series
		WHERE upper(pathname) = upper($1)
		ORDER BY study, units, data_type
		LIMIT 1`

	selectObservationsQuery = `
		SELECT series_id, ts, value
		FROM observations
		WHERE series_id = $1
		  AND ($2::timestamptz IS NULL OR ts >= $2)
		  AND ($3::timestamptz IS NULL OR ts <= $3)
		ORDER BY ts`
)

type seriesRow struct {
	ID          string       `db:"id"`
	Study       string       `db:"study"`
	Pathname    string       `db:"pathname"`
	Units       string       `db:"units"`
	DataType    string       `db:"data_type"`
	ProcessedAt sql.NullTime `db:"processed_at"`
}

type observationRow struct {
	SeriesID string          `db:"series_id"`
	TS       time.Time       `db:"ts"`
	Value    sql.NullFloat64 `db:"value"`
}

// Store implements domain.SeriesReader, domain.SeriesWriter and
// pipeline.BatchLoader.
type Store struct {
	db      *sqlx.DB
	metrics *observability.Metrics
	logger  *slog.Logger
}

// Open connects to the database at dsn and applies the schema.
func Open(ctx context.Context, dsn string, metrics *observability.Metrics, logger *slog.Logger) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := NewStore(db, metrics, logger)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("postgres store ready")
	return s, nil
}

// NewStore wraps an existing connection pool.
func NewStore(db *sqlx.DB, metrics *observability.Metrics, logger *slog.Logger) *Store {
	return &Store{db: db, metrics: metrics, logger: logger}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Read returns the series stored under pathname, compared case-insensitively.
// When several keys share the pathname the first by study, units and data
// type wins.
func (s *Store) Read(ctx context.Context, pathname string, r domain.TimeRange) (domain.Series, error) {
	defer s.observe("read", time.Now())

	var sr seriesRow
	err := s.db.GetContext(ctx, &sr, selectSeriesQuery, pathname)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Series{}, fmt.Errorf("%s: %w", pathname, domain.ErrSeriesNotFound)
	}
	if err != nil {
		return domain.Series{}, fmt.Errorf("select series: %w", err)
	}

	var obs []observationRow
	if err := s.db.SelectContext(ctx, &obs, selectObservationsQuery, sr.ID, nullTime(r.Start), nullTime(r.End)); err != nil {
		return domain.Series{}, fmt.Errorf("select observations: %w", err)
	}
	return fromRows(sr, obs), nil
}

// Write stores one series, replacing any observations previously stored for
// its key.
func (s *Store) Write(ctx context.Context, series domain.Series) error {
	return s.LoadBatch(ctx, []domain.Series{series})
}

// LoadBatch writes the series in a single transaction.
func (s *Store) LoadBatch(ctx context.Context, series []domain.Series) error {
	if len(series) == 0 {
		return nil
	}
	defer s.observe("write", time.Now())

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, one := range series {
		sr, obs := toRows(one)
		if _, err := tx.NamedExecContext(ctx, upsertSeriesQuery, sr); err != nil {
			return fmt.Errorf("upsert series %s: %w", one.Pathname, err)
		}
		if _, err := tx.ExecContext(ctx, deleteObservationsQuery, sr.ID); err != nil {
			return fmt.Errorf("clear observations %s: %w", one.Pathname, err)
		}
		for start := 0; start < len(obs); start += maxInsertRows {
			end := min(start+maxInsertRows, len(obs))
			if _, err := tx.NamedExecContext(ctx, insertObservationsQuery, obs[start:end]); err != nil {
				return fmt.Errorf("insert observations %s: %w", one.Pathname, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("series stored", "count", len(series))
	return nil
}

func (s *Store) observe(operation string, start time.Time) {
	s.metrics.StoreOperationDuration.WithLabelValues("postgres", operation).Observe(time.Since(start).Seconds())
}

func toRows(s domain.Series) (seriesRow, []observationRow) {
	id := s.ID
	if id == "" {
		id = domain.SeriesID(s.Study, s.Pathname, s.Units, s.DataType)
	}
	sr := seriesRow{
		ID:          id,
		Study:       s.Study,
		Pathname:    s.Pathname,
		Units:       s.Units,
		DataType:    s.DataType,
		ProcessedAt: nullTime(s.ProcessedAt),
	}
	obs := make([]observationRow, len(s.Times))
	for i, ts := range s.Times {
		obs[i] = observationRow{
			SeriesID: id,
			TS:       ts.UTC(),
			Value:    sql.NullFloat64{Float64: s.Values[i].Float64, Valid: s.Values[i].Valid},
		}
	}
	return sr, obs
}

func fromRows(sr seriesRow, obs []observationRow) domain.Series {
	s := domain.Series{
		ID:       sr.ID,
		Study:    sr.Study,
		Pathname: sr.Pathname,
		Units:    sr.Units,
		DataType: sr.DataType,
		Times:    make([]time.Time, len(obs)),
		Values:   make([]domain.Value, len(obs)),
	}
	if sr.ProcessedAt.Valid {
		s.ProcessedAt = sr.ProcessedAt.Time.UTC()
	}
	for i, o := range obs {
		s.Times[i] = o.TS.UTC()
		if o.Value.Valid {
			s.Values[i] = domain.FromStored(o.Value.Float64)
		}
	}
	return s
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
