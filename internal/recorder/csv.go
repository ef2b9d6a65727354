package recorder

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/Agrid-Dev/twotank/internal/plant"
)

var csvHeader = []string{
	"Hour", "Action", "Ambient", "FieldMassFlow", "FieldTemperature", "FieldOutletTemperature",
	"StoreMassFlow", "DutyMW", "HeaterMW", "LossMW",
	"HotVolume", "HotTemperature", "HotMass", "ColdVolume", "ColdTemperature", "ColdMass", "Iterations",
}

// CSV writes one row per step.
type CSV struct {
	w      *csv.Writer
	closer io.Closer
}

// NewCSV writes the header to w immediately.
func NewCSV(w io.Writer) (*CSV, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	return &CSV{w: cw}, nil
}

// CreateCSV truncates or creates the file at path.
func CreateCSV(path string) (*CSV, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create CSV file: %w", err)
	}
	c, err := NewCSV(file)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	c.closer = file
	return c, nil
}

func (c *CSV) Record(rec plant.Record) error {
	row := []string{
		strconv.Itoa(rec.Hour),
		rec.Action.String(),
		formatFloat(rec.AmbientTemperature),
		formatFloat(rec.FieldMassFlow),
		formatFloat(rec.FieldTemperature),
		formatFloat(rec.FieldOutletTemperature),
		formatFloat(rec.StoreMassFlow),
		formatFloat(rec.Duty),
		formatFloat(rec.HeaterPower),
		formatFloat(rec.Loss),
		formatFloat(rec.HotVolume),
		formatFloat(rec.HotTemperature),
		formatFloat(rec.HotMass),
		formatFloat(rec.ColdVolume),
		formatFloat(rec.ColdTemperature),
		formatFloat(rec.ColdMass),
		strconv.Itoa(rec.Iterations),
	}
	if err := c.w.Write(row); err != nil {
		return fmt.Errorf("failed to write CSV record: %w", err)
	}
	return nil
}

// Close flushes buffered rows and closes the file opened by CreateCSV.
func (c *CSV) Close() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return err
	}
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
