// Package runstore keeps the station's index of measurement runs in sqlite:
// one row per run with its terminal status, point counts and metadata, plus
// the channel layout for browsing. The data itself lives on disk at the
// run's location; the store answers "what did we measure and where is it".
package runstore

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/sweepstation/internal/dataset"
	"github.com/banshee-data/sweepstation/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Run is one archived measurement run.
type Run struct {
	ID             string     `json:"run_id"`
	Name           string     `json:"name"`
	Location       string     `json:"location"`
	Status         string     `json:"status"`
	Reason         string     `json:"reason,omitempty"`
	PointsDone     int        `json:"points_done"`
	PointsTotal    int        `json:"points_total"`
	DeviceInfo     string     `json:"device_info,omitempty"`
	InstrumentInfo string     `json:"instrument_info,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// ErrNotFound is returned when a run id has no row.
var ErrNotFound = errors.New("run not found")

type Store struct {
	*sql.DB
	path string
}

// Open opens or creates the run index at path and applies pending schema
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db, path: path}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	// Not closing m: that would close the underlying DB connection.
	m.Log = &migrateLogger{}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool { return false }

// BeginRun records a newly armed run and its channel layout, returning the
// assigned run id.
func (s *Store) BeginRun(location string, schema dataset.Schema, started time.Time) (string, error) {
	id := uuid.NewString()
	tx, err := s.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO runs (run_id, name, location, status, points_total, device_info, instrument_info, started_at)
		VALUES (?, ?, ?, 'running', ?, ?, ?, ?)`,
		id, schema.Name, location, schema.Points(), schema.DeviceInfo, schema.InstrumentInfo, started.UTC())
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	for i, c := range schema.Channels {
		_, err = tx.Exec(`
			INSERT INTO run_channels (run_id, position, name, label, unit, is_setpoint)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, i, c.Name, c.Label, c.Unit, c.IsSetpoint)
		if err != nil {
			return "", fmt.Errorf("insert channel %s: %w", c.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// FinishRun records a run's terminal state.
func (s *Store) FinishRun(id string, status dataset.RunStatus, reason string, pointsDone int, finished time.Time) error {
	res, err := s.Exec(`
		UPDATE runs SET status = ?, reason = ?, points_done = ?, finished_at = ?
		WHERE run_id = ?`,
		string(status), reason, pointsDone, finished.UTC(), id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRun returns one run by id.
func (s *Store) GetRun(id string) (Run, error) {
	row := s.QueryRow(`
		SELECT run_id, name, location, status, reason, points_done, points_total,
		       device_info, instrument_info, started_at, finished_at
		FROM runs WHERE run_id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return r, err
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Query(`
		SELECT run_id, name, location, status, reason, points_done, points_total,
		       device_info, instrument_info, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Channels returns a run's channel layout in recorded order.
func (s *Store) Channels(id string) ([]dataset.Channel, error) {
	rows, err := s.Query(`
		SELECT name, label, unit, is_setpoint
		FROM run_channels WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chans []dataset.Channel
	for rows.Next() {
		var c dataset.Channel
		if err := rows.Scan(&c.Name, &c.Label, &c.Unit, &c.IsSetpoint); err != nil {
			return nil, err
		}
		chans = append(chans, c)
	}
	return chans, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (Run, error) {
	var r Run
	var finished sql.NullTime
	err := row.Scan(&r.ID, &r.Name, &r.Location, &r.Status, &r.Reason,
		&r.PointsDone, &r.PointsTotal, &r.DeviceInfo, &r.InstrumentInfo,
		&r.StartedAt, &finished)
	if err != nil {
		return Run{}, err
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return r, nil
}
