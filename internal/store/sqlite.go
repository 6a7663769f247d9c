package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrInvalidVariant is returned when an event names a variant the
// experiment does not define.
var ErrInvalidVariant = errors.New("invalid variant")

type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS experiments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    feature_flag_key TEXT UNIQUE NOT NULL,
    variants TEXT NOT NULL,
    metrics TEXT,
    start_date INTEGER,
    end_date INTEGER,
    conclusion TEXT NOT NULL DEFAULT '',
    archived INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_experiments_flag ON experiments(feature_flag_key);

CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    experiment_id INTEGER NOT NULL,
    variant_key TEXT NOT NULL,
    event_type TEXT NOT NULL,
    visitor_id TEXT NOT NULL,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    FOREIGN KEY (experiment_id) REFERENCES experiments(id)
);

CREATE INDEX IF NOT EXISTS idx_events_experiment ON events(experiment_id);
CREATE INDEX IF NOT EXISTS idx_events_experiment_type ON events(experiment_id, event_type);
CREATE UNIQUE INDEX IF NOT EXISTS idx_events_dedup ON events(experiment_id, visitor_id, event_type);
`

func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// NewExperiment describes an experiment to create. Variants must contain
// at least two entries; the control arm is expected to use ControlKey.
type NewExperiment struct {
	Name           string
	Description    string
	FeatureFlagKey string
	Variants       []Variant
	Metrics        []Metric
}

func (s *SQLiteStore) CreateExperiment(ctx context.Context, in NewExperiment) (*Experiment, error) {
	if len(in.Variants) < 2 {
		return nil, fmt.Errorf("need at least 2 variants, got %d", len(in.Variants))
	}

	variantsJSON, err := json.Marshal(in.Variants)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal variants: %w", err)
	}

	var metricsJSON []byte
	if len(in.Metrics) > 0 {
		metricsJSON, err = json.Marshal(in.Metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metrics: %w", err)
		}
	}

	now := time.Now().Unix()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO experiments (name, description, feature_flag_key, variants, metrics, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		in.Name, in.Description, in.FeatureFlagKey, string(variantsJSON), nullableString(metricsJSON), now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert experiment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return &Experiment{
		ID:             id,
		Name:           in.Name,
		Description:    in.Description,
		FeatureFlagKey: in.FeatureFlagKey,
		Variants:       in.Variants,
		Metrics:        in.Metrics,
		CreatedAt:      time.Unix(now, 0),
	}, nil
}

const experimentColumns = `id, name, description, feature_flag_key, variants, metrics, start_date, end_date, conclusion, archived, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExperiment(row rowScanner) (*Experiment, error) {
	var exp Experiment
	var variantsJSON string
	var metricsJSON sql.NullString
	var startDate, endDate sql.NullInt64
	var archived int
	var createdAt int64

	if err := row.Scan(&exp.ID, &exp.Name, &exp.Description, &exp.FeatureFlagKey, &variantsJSON, &metricsJSON,
		&startDate, &endDate, &exp.Conclusion, &archived, &createdAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(variantsJSON), &exp.Variants); err != nil {
		return nil, fmt.Errorf("failed to unmarshal variants: %w", err)
	}

	if metricsJSON.Valid && metricsJSON.String != "" {
		if err := json.Unmarshal([]byte(metricsJSON.String), &exp.Metrics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
		}
	}

	if startDate.Valid {
		t := time.Unix(startDate.Int64, 0)
		exp.StartDate = &t
	}
	if endDate.Valid {
		t := time.Unix(endDate.Int64, 0)
		exp.EndDate = &t
	}

	exp.Archived = archived != 0
	exp.CreatedAt = time.Unix(createdAt, 0)

	return &exp, nil
}

func (s *SQLiteStore) GetExperiment(ctx context.Context, id int64) (*Experiment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+experimentColumns+` FROM experiments WHERE id = ?`, id)
	exp, err := scanExperiment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}
	return exp, nil
}

func (s *SQLiteStore) ListExperiments(ctx context.Context) ([]*Experiment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+experimentColumns+` FROM experiments ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	var experiments []*Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		experiments = append(experiments, exp)
	}

	return experiments, rows.Err()
}

// StartExperiment sets the start date. Starting an already started
// experiment is an error.
func (s *SQLiteStore) StartExperiment(ctx context.Context, id int64, at time.Time) error {
	return s.updateLifecycle(ctx, id,
		`UPDATE experiments SET start_date = ? WHERE id = ? AND start_date IS NULL`, at.Unix())
}

// EndExperiment sets the end date and an optional conclusion. The
// experiment must be running.
func (s *SQLiteStore) EndExperiment(ctx context.Context, id int64, at time.Time, conclusion string) error {
	return s.updateLifecycle(ctx, id,
		`UPDATE experiments SET end_date = ?, conclusion = ? WHERE id = ? AND start_date IS NOT NULL AND end_date IS NULL`,
		at.Unix(), conclusion)
}

func (s *SQLiteStore) ArchiveExperiment(ctx context.Context, id int64) error {
	return s.updateLifecycle(ctx, id, `UPDATE experiments SET archived = 1 WHERE id = ?`)
}

func (s *SQLiteStore) updateLifecycle(ctx context.Context, id int64, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, append(args, id)...)
	if err != nil {
		return fmt.Errorf("failed to update experiment: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		exp, err := s.GetExperiment(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("experiment %d is %s", id, exp.Status())
	}

	return nil
}

func (s *SQLiteStore) DeleteExperiment(ctx context.Context, id int64) error {
	// First delete related events
	if _, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE experiment_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM experiments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete experiment: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// RecordEvent stores an exposure or conversion. Repeated events for the
// same visitor and type are ignored.
func (s *SQLiteStore) RecordEvent(ctx context.Context, experimentID int64, variantKey, eventType, visitorID string) error {
	if eventType != EventExposure && eventType != EventConversion {
		return fmt.Errorf("invalid event type %q", eventType)
	}

	exp, err := s.GetExperiment(ctx, experimentID)
	if err != nil {
		return err
	}

	known := false
	for _, v := range exp.Variants {
		if v.Key == variantKey {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("%w: %q (experiment has %s)", ErrInvalidVariant, variantKey, variantKeys(exp.Variants))
	}

	now := time.Now().Unix()

	// Use INSERT OR IGNORE for deduplication via unique index
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO events (experiment_id, variant_key, event_type, visitor_id, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		experimentID, variantKey, eventType, visitorID, now,
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}

	return nil
}

// GetVariantCounts returns distinct exposed and converted visitors per
// variant, in variant key order. Variants without events are omitted.
func (s *SQLiteStore) GetVariantCounts(ctx context.Context, experimentID int64) ([]VariantResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			variant_key,
			COUNT(DISTINCT CASE WHEN event_type = 'exposure' THEN visitor_id END) as participants,
			COUNT(DISTINCT CASE WHEN event_type = 'conversion' THEN visitor_id END) as conversions
		FROM events
		WHERE experiment_id = ?
		GROUP BY variant_key
		ORDER BY variant_key
	`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get variant counts: %w", err)
	}
	defer rows.Close()

	var counts []VariantResult
	for rows.Next() {
		var c VariantResult
		if err := rows.Scan(&c.Key, &c.Participants, &c.Conversions); err != nil {
			return nil, fmt.Errorf("failed to scan counts: %w", err)
		}
		counts = append(counts, c)
	}

	return counts, rows.Err()
}

func (s *SQLiteStore) GetEvents(ctx context.Context, experimentID int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, experiment_id, variant_key, event_type, visitor_id, created_at
		 FROM events WHERE experiment_id = ? ORDER BY created_at DESC, id DESC`,
		experimentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.ExperimentID, &e.VariantKey, &e.EventType, &e.VisitorID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		events = append(events, &e)
	}

	return events, rows.Err()
}

// DB returns the underlying database connection for health checks
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func nullableString(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func variantKeys(variants []Variant) string {
	keys := make([]string, len(variants))
	for i, v := range variants {
		keys[i] = v.Key
	}
	return strings.Join(keys, ", ")
}
