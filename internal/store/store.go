// Package store provides the local SQLite record store for fleet-status
// submissions, the unit roster, and device settings.
//
// The database runs in embedded mode with WAL enabled so the dashboard can
// read while the sync daemon writes.
//
// Workflow:
//  1. A submission is saved with sync_status='pending'
//  2. The outbound queue drains pending records to the remote endpoint
//     and marks each one synced on apparent success
//  3. The inbound reconciler overwrites local copies with remote ones
//     (remote wins by id) and forces them synced
//  4. The dashboard and CLI read the merged set, most recent first
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/frotahub/frotahub/internal/schema"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Setting keys persisted in the settings table.
const (
	SettingEndpointURL  = "endpoint_url"
	SettingRole         = "role"
	settingRosterSource = "roster_source"
)

// Store wraps the SQLite database connection for submissions, roster and
// settings.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist, it is created; call InitSchema before first
// use. The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn: conn,
		path: path,
	}

	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return s, nil
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// Idempotent - safe to call multiple times.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		operational_date TEXT NOT NULL,
		unit_id TEXT NOT NULL,
		vehicle_statuses TEXT NOT NULL,  -- JSON array
		offer_counts TEXT,               -- JSON object
		base_capacity TEXT,              -- JSON object
		incident TEXT NOT NULL,          -- JSON object
		weekly_acceptance_proof TEXT,
		sync_status TEXT NOT NULL DEFAULT 'pending'
	);

	CREATE TABLE IF NOT EXISTS roster_units (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		vehicles TEXT NOT NULL,  -- JSON array
		position INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_submissions_status ON submissions(sync_status);
	CREATE INDEX IF NOT EXISTS idx_submissions_unit ON submissions(unit_id);
	CREATE INDEX IF NOT EXISTS idx_submissions_date ON submissions(operational_date);
	`

	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// SaveSubmission inserts a new submission with sync_status='pending'.
//
// A duplicate id is a storage error; the caller decides whether to retry.
// The submission's SyncStatus field is ignored - locally created records
// always start pending.
func (s *Store) SaveSubmission(ctx context.Context, sub *schema.Submission) error {
	if err := sub.Validate(); err != nil {
		return fmt.Errorf("invalid submission: %w", err)
	}

	cols, err := marshalSubmissionColumns(sub)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO submissions (
		id, timestamp, operational_date, unit_id,
		vehicle_statuses, offer_counts, base_capacity,
		incident, weekly_acceptance_proof, sync_status
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.conn.ExecContext(ctx, query,
		sub.ID,
		sub.Timestamp.UTC().Format(time.RFC3339Nano),
		schema.NormalizeOperationalDate(sub.OperationalDate),
		sub.UnitID,
		cols.vehicleStatuses,
		cols.offerCounts,
		cols.baseCapacity,
		cols.incident,
		sub.WeeklyAcceptanceProof,
		string(schema.StatusPending),
	)
	if err != nil {
		return fmt.Errorf("failed to save submission %s: %w", sub.ID, err)
	}

	return nil
}

// GetAllSubmissions returns every stored submission ordered by timestamp
// descending (most recent first). The full set is always materialized.
func (s *Store) GetAllSubmissions(ctx context.Context) ([]*schema.Submission, error) {
	query := selectSubmissionColumns + `
	FROM submissions
	ORDER BY julianday(timestamp) DESC
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	return scanSubmissions(rows)
}

// GetPendingSubmissions returns submissions with sync_status='pending' in
// insertion order.
func (s *Store) GetPendingSubmissions(ctx context.Context) ([]*schema.Submission, error) {
	query := selectSubmissionColumns + `
	FROM submissions
	WHERE sync_status = ?
	ORDER BY rowid ASC
	`

	rows, err := s.conn.QueryContext(ctx, query, string(schema.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending submissions: %w", err)
	}
	defer rows.Close()

	return scanSubmissions(rows)
}

// GetSubmissionByID retrieves a single submission by id.
// Returns sql.ErrNoRows if the submission is not found.
func (s *Store) GetSubmissionByID(ctx context.Context, id string) (*schema.Submission, error) {
	query := selectSubmissionColumns + `
	FROM submissions
	WHERE id = ?
	`

	rows, err := s.conn.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query submission %s: %w", id, err)
	}
	defer rows.Close()

	subs, err := scanSubmissions(rows)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, sql.ErrNoRows
	}
	return subs[0], nil
}

// MarkSynced transitions a submission from pending to synced.
//
// Idempotent: marking an already-synced or absent id is a silent no-op. Not
// failing on a stale id keeps the sync loop from crashing over it.
func (s *Store) MarkSynced(ctx context.Context, id string) error {
	query := `UPDATE submissions SET sync_status = ? WHERE id = ?`
	_, err := s.conn.ExecContext(ctx, query, string(schema.StatusSynced), id)
	if err != nil {
		return fmt.Errorf("failed to mark submission %s synced: %w", id, err)
	}
	return nil
}

// UpsertFromRemote overwrites the local copy of each remote record entirely
// (by id) and forces sync_status='synced', regardless of the local copy's
// current status.
//
// This is a destructive whole-record merge: any local content for an id that
// also exists remotely is discarded. Records unknown locally are inserted.
func (s *Store) UpsertFromRemote(ctx context.Context, subs []*schema.Submission) error {
	if len(subs) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO submissions (
		id, timestamp, operational_date, unit_id,
		vehicle_statuses, offer_counts, base_capacity,
		incident, weekly_acceptance_proof, sync_status
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		timestamp = excluded.timestamp,
		operational_date = excluded.operational_date,
		unit_id = excluded.unit_id,
		vehicle_statuses = excluded.vehicle_statuses,
		offer_counts = excluded.offer_counts,
		base_capacity = excluded.base_capacity,
		incident = excluded.incident,
		weekly_acceptance_proof = excluded.weekly_acceptance_proof,
		sync_status = excluded.sync_status
	`

	for _, sub := range subs {
		if sub.ID == "" {
			continue // remote rows without an id cannot be merged
		}

		cols, err := marshalSubmissionColumns(sub)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, query,
			sub.ID,
			sub.Timestamp.UTC().Format(time.RFC3339Nano),
			schema.NormalizeOperationalDate(sub.OperationalDate),
			sub.UnitID,
			cols.vehicleStatuses,
			cols.offerCounts,
			cols.baseCapacity,
			cols.incident,
			sub.WeeklyAcceptanceProof,
			string(schema.StatusSynced),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert remote submission %s: %w", sub.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit remote upsert: %w", err)
	}

	return nil
}

// CountByStatus returns the number of submissions per sync status.
func (s *Store) CountByStatus(ctx context.Context) (map[schema.SyncStatus]int, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT sync_status, COUNT(*) FROM submissions GROUP BY sync_status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count submissions: %w", err)
	}
	defer rows.Close()

	counts := make(map[schema.SyncStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[schema.SyncStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}

	return counts, nil
}

// GetRoster returns the active unit roster in stored order together with its
// source tag. An empty store yields an empty roster and SourceDefault.
func (s *Store) GetRoster(ctx context.Context) ([]schema.Unit, schema.RosterSource, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, display_name, vehicles FROM roster_units ORDER BY position ASC`)
	if err != nil {
		return nil, "", fmt.Errorf("failed to query roster: %w", err)
	}
	defer rows.Close()

	var units []schema.Unit
	for rows.Next() {
		var unit schema.Unit
		var vehiclesJSON string

		if err := rows.Scan(&unit.ID, &unit.DisplayName, &vehiclesJSON); err != nil {
			return nil, "", fmt.Errorf("failed to scan roster unit: %w", err)
		}

		if vehiclesJSON != "" && vehiclesJSON != "null" {
			if err := json.Unmarshal([]byte(vehiclesJSON), &unit.Vehicles); err != nil {
				return nil, "", fmt.Errorf("failed to unmarshal vehicles for %s: %w", unit.ID, err)
			}
		} else {
			unit.Vehicles = []schema.Vehicle{}
		}

		units = append(units, unit)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("error iterating roster: %w", err)
	}

	source, err := s.GetSetting(ctx, settingRosterSource)
	if err != nil {
		return nil, "", err
	}
	if source == "" {
		source = string(schema.SourceDefault)
	}

	return units, schema.RosterSource(source), nil
}

// ReplaceRoster replaces the entire unit roster in one transaction and tags
// it with the given source. This is a full replace, not incremental: prior
// units not present in the new list are gone.
func (s *Store) ReplaceRoster(ctx context.Context, units []schema.Unit, source schema.RosterSource) error {
	if err := schema.ValidateRoster(units); err != nil {
		return fmt.Errorf("invalid roster: %w", err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM roster_units`); err != nil {
		return fmt.Errorf("failed to clear roster: %w", err)
	}

	for i, unit := range units {
		vehiclesJSON, err := json.Marshal(unit.Vehicles)
		if err != nil {
			return fmt.Errorf("failed to marshal vehicles for %s: %w", unit.ID, err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO roster_units (id, display_name, vehicles, position) VALUES (?, ?, ?, ?)`,
			unit.ID, unit.DisplayName, string(vehiclesJSON), i)
		if err != nil {
			return fmt.Errorf("failed to insert roster unit %s: %w", unit.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		settingRosterSource, string(source))
	if err != nil {
		return fmt.Errorf("failed to set roster source: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit roster replace: %w", err)
	}

	return nil
}

// EnsureDefaultRoster seeds the built-in roster when the store holds none.
func (s *Store) EnsureDefaultRoster(ctx context.Context) error {
	var count int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM roster_units`).Scan(&count); err != nil {
		return fmt.Errorf("failed to count roster units: %w", err)
	}
	if count > 0 {
		return nil
	}
	return s.ReplaceRoster(ctx, schema.DefaultRoster(), schema.SourceDefault)
}

// GetSetting returns a persisted setting value, or "" when unset.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.conn.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting persists a setting value, overwriting any prior one.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// Reset wipes all local data: submissions, roster and settings.
// Irreversible. This is the destructive escape hatch, not a designed feature.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"submissions", "roster_units", "settings"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reset: %w", err)
	}

	return nil
}

const selectSubmissionColumns = `
	SELECT id, timestamp, operational_date, unit_id,
	       vehicle_statuses, offer_counts, base_capacity,
	       incident, weekly_acceptance_proof, sync_status
`

// submissionColumns holds the JSON-encoded nested fields of a submission.
type submissionColumns struct {
	vehicleStatuses string
	offerCounts     string
	baseCapacity    string
	incident        string
}

func marshalSubmissionColumns(sub *schema.Submission) (*submissionColumns, error) {
	vehicleStatuses, err := json.Marshal(sub.VehicleStatuses)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal vehicle statuses: %w", err)
	}
	offerCounts, err := json.Marshal(sub.OfferCounts)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal offer counts: %w", err)
	}
	baseCapacity, err := json.Marshal(sub.BaseCapacity)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal base capacity: %w", err)
	}
	incident, err := json.Marshal(sub.Incident)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal incident: %w", err)
	}

	return &submissionColumns{
		vehicleStatuses: string(vehicleStatuses),
		offerCounts:     string(offerCounts),
		baseCapacity:    string(baseCapacity),
		incident:        string(incident),
	}, nil
}

// scanSubmissions is a helper function to scan multiple submissions from
// query results.
func scanSubmissions(rows *sql.Rows) ([]*schema.Submission, error) {
	var subs []*schema.Submission

	for rows.Next() {
		var sub schema.Submission
		var timestamp string
		var vehicleStatuses, incident string
		var offerCounts, baseCapacity sql.NullString
		var proof sql.NullString
		var status string

		err := rows.Scan(
			&sub.ID,
			&timestamp,
			&sub.OperationalDate,
			&sub.UnitID,
			&vehicleStatuses,
			&offerCounts,
			&baseCapacity,
			&incident,
			&proof,
			&status,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}

		if t, err := time.Parse(time.RFC3339Nano, timestamp); err == nil {
			sub.Timestamp = t
		} else {
			// Keep the row readable; a zero timestamp sorts it last.
			fmt.Fprintf(os.Stderr, "Warning: bad timestamp %q for submission %s: %v\n",
				timestamp, sub.ID, err)
		}

		if vehicleStatuses != "" && vehicleStatuses != "null" {
			if err := json.Unmarshal([]byte(vehicleStatuses), &sub.VehicleStatuses); err != nil {
				return nil, fmt.Errorf("failed to unmarshal vehicle statuses: %w", err)
			}
		} else {
			sub.VehicleStatuses = []schema.VehicleStatus{}
		}

		if offerCounts.Valid && offerCounts.String != "" && offerCounts.String != "null" {
			if err := json.Unmarshal([]byte(offerCounts.String), &sub.OfferCounts); err != nil {
				return nil, fmt.Errorf("failed to unmarshal offer counts: %w", err)
			}
		}

		if baseCapacity.Valid && baseCapacity.String != "" && baseCapacity.String != "null" {
			if err := json.Unmarshal([]byte(baseCapacity.String), &sub.BaseCapacity); err != nil {
				return nil, fmt.Errorf("failed to unmarshal base capacity: %w", err)
			}
		}

		if incident != "" && incident != "null" {
			if err := json.Unmarshal([]byte(incident), &sub.Incident); err != nil {
				return nil, fmt.Errorf("failed to unmarshal incident: %w", err)
			}
		}

		if proof.Valid {
			sub.WeeklyAcceptanceProof = proof.String
		}
		sub.SyncStatus = schema.SyncStatus(status)

		subs = append(subs, &sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating submissions: %w", err)
	}

	return subs, nil
}
