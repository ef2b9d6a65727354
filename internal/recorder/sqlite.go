package recorder

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Agrid-Dev/twotank/internal/plant"
)

type Run struct {
	ID         string
	DeviceID   string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string // "running", "completed", "failed"
	Steps      int
}

// SQLite stores every step of one run. Several runs can share a database file.
type SQLite struct {
	db    *sql.DB
	runID string
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    device_id TEXT NOT NULL,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    status TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS steps (
    run_id TEXT NOT NULL REFERENCES runs(id),
    hour INTEGER NOT NULL,
    action TEXT NOT NULL,
    ambient_temperature REAL NOT NULL,
    field_mass_flow REAL NOT NULL,
    field_temperature REAL NOT NULL,
    field_outlet_temperature REAL NOT NULL,
    store_mass_flow REAL NOT NULL,
    duty_mw REAL NOT NULL,
    heater_power_mw REAL NOT NULL,
    loss_mw REAL NOT NULL,
    hot_volume REAL NOT NULL,
    hot_temperature REAL NOT NULL,
    hot_mass REAL NOT NULL,
    cold_volume REAL NOT NULL,
    cold_temperature REAL NOT NULL,
    cold_mass REAL NOT NULL,
    iterations INTEGER NOT NULL,
    PRIMARY KEY (run_id, hour)
);`

// OpenSQLite creates the schema if needed and registers a new running run.
func OpenSQLite(dbPath, runID, deviceID string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// one connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if _, err := db.Exec(
		`INSERT INTO runs (id, device_id, started_at, status) VALUES (?, ?, ?, ?)`,
		runID, deviceID, time.Now().UTC().Format(time.RFC3339Nano), "running",
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("create run %s: %w", runID, err)
	}
	return &SQLite{db: db, runID: runID}, nil
}

func (s *SQLite) Record(rec plant.Record) error {
	_, err := s.db.Exec(
		`INSERT INTO steps (run_id, hour, action, ambient_temperature, field_mass_flow, field_temperature,
    field_outlet_temperature, store_mass_flow, duty_mw, heater_power_mw, loss_mw,
    hot_volume, hot_temperature, hot_mass, cold_volume, cold_temperature, cold_mass, iterations)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.runID, rec.Hour, rec.Action.String(), rec.AmbientTemperature, rec.FieldMassFlow, rec.FieldTemperature,
		rec.FieldOutletTemperature, rec.StoreMassFlow, rec.Duty, rec.HeaterPower, rec.Loss,
		rec.HotVolume, rec.HotTemperature, rec.HotMass, rec.ColdVolume, rec.ColdTemperature, rec.ColdMass, rec.Iterations,
	)
	if err != nil {
		return fmt.Errorf("insert step %d: %w", rec.Hour, err)
	}
	return nil
}

// Finish marks the run as completed, or failed when runErr is not nil.
func (s *SQLite) Finish(runErr error) error {
	status := "completed"
	if runErr != nil {
		status = "failed"
	}
	_, err := s.db.Exec(
		`UPDATE runs SET finished_at = ?, status = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), status, s.runID,
	)
	return err
}

func (s *SQLite) Runs() ([]Run, error) {
	rows, err := s.db.Query(`
SELECT r.id, r.device_id, r.started_at, r.finished_at, r.status, COUNT(st.hour)
FROM runs r LEFT JOIN steps st ON st.run_id = r.id
GROUP BY r.id
ORDER BY r.started_at, r._rowid_`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		var startedAt string
		var finishedAt sql.NullString
		if err := rows.Scan(&r.ID, &r.DeviceID, &startedAt, &finishedAt, &r.Status, &r.Steps); err != nil {
			return nil, err
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, err
		}
		if finishedAt.Valid {
			t, err := time.Parse(time.RFC3339Nano, finishedAt.String)
			if err != nil {
				return nil, err
			}
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Steps returns the recorded steps of runID ordered by hour.
func (s *SQLite) Steps(runID string) ([]plant.Record, error) {
	rows, err := s.db.Query(`
SELECT hour, action, ambient_temperature, field_mass_flow, field_temperature, field_outlet_temperature,
    store_mass_flow, duty_mw, heater_power_mw, loss_mw, hot_volume, hot_temperature, hot_mass,
    cold_volume, cold_temperature, cold_mass, iterations
FROM steps WHERE run_id = ? ORDER BY hour`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs := []plant.Record{}
	for rows.Next() {
		var r plant.Record
		var action string
		if err := rows.Scan(&r.Hour, &action, &r.AmbientTemperature, &r.FieldMassFlow, &r.FieldTemperature,
			&r.FieldOutletTemperature, &r.StoreMassFlow, &r.Duty, &r.HeaterPower, &r.Loss,
			&r.HotVolume, &r.HotTemperature, &r.HotMass, &r.ColdVolume, &r.ColdTemperature, &r.ColdMass,
			&r.Iterations); err != nil {
			return nil, err
		}
		if r.Action, err = plant.ParseMode(action); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func (s *SQLite) RunID() string { return s.runID }

func (s *SQLite) Close() error {
	return s.db.Close()
}
