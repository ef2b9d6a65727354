package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/Agrid-Dev/twotank/cmd/app"
	"github.com/Agrid-Dev/twotank/internal/device"
	"github.com/Agrid-Dev/twotank/internal/plant"
	"github.com/Agrid-Dev/twotank/internal/recorder"
	"github.com/Agrid-Dev/twotank/internal/tes"
)

func buildDevice(cfg app.Config, logger *slog.Logger) (*device.Device, error) {
	params, err := cfg.StorageParams()
	if err != nil {
		return nil, err
	}
	store, err := tes.New(params, logger)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	snap, err := cfg.PlantSnapshot()
	if err != nil {
		return nil, fmt.Errorf("plant: %w", err)
	}
	profile, err := plant.NewProfile(cfg.ProfileParams())
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	p, err := plant.New(snap, store, profile, logger)
	if err != nil {
		return nil, fmt.Errorf("plant: %w", err)
	}
	return device.New(cfg.DeviceID, p), nil
}

// sinks holds the recorders opened for one run.
type sinks struct {
	csv *recorder.CSV
	db  *recorder.SQLite
}

func openSinks(cfg app.RecorderConfig, d *device.Device) (*sinks, error) {
	s := &sinks{}
	if cfg.CSV != "" {
		c, err := recorder.CreateCSV(cfg.CSV)
		if err != nil {
			return nil, err
		}
		s.csv = c
	}
	if cfg.SQLite != "" {
		db, err := recorder.OpenSQLite(cfg.SQLite, d.RunID, d.ID)
		if err != nil {
			return nil, errors.Join(err, s.close(nil))
		}
		s.db = db
	}
	return s, nil
}

// recorder returns nil when no sink is configured.
func (s *sinks) recorder() plant.Recorder {
	var m recorder.Multi
	if s.csv != nil {
		m = append(m, s.csv)
	}
	if s.db != nil {
		m = append(m, s.db)
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// close marks the database run with runErr and releases every sink.
func (s *sinks) close(runErr error) error {
	var errs []error
	if s.db != nil {
		errs = append(errs, s.db.Finish(runErr), s.db.Close())
	}
	if s.csv != nil {
		errs = append(errs, s.csv.Close())
	}
	return errors.Join(errs...)
}
