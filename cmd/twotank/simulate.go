package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/Agrid-Dev/twotank/internal/plant"
)

var (
	simSteps int
	simMode  string
	simCSV   string
	simDB    string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run an offline hourly simulation and record every step",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if simMode != "" {
			cfg.Plant.Mode = simMode
		}
		if simCSV != "" {
			cfg.Recorder.CSV = simCSV
		}
		if simDB != "" {
			cfg.Recorder.SQLite = simDB
		}
		if simSteps <= 0 {
			return fmt.Errorf("steps must be positive, got %d", simSteps)
		}

		d, err := buildDevice(cfg, logger)
		if err != nil {
			return err
		}
		logger = logger.With("run_id", d.RunID)

		out, err := openSinks(cfg.Recorder, d)
		if err != nil {
			return err
		}
		d.P.SetRecorder(out.recorder())

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer cancel()

		logger.Info("simulation started", "steps", simSteps, "mode", d.P.Get().Mode)
		n, runErr := d.P.Simulate(ctx, simSteps)
		if err := out.close(runErr); err != nil {
			logger.Error("close recorders", "err", err)
		}
		if runErr != nil {
			return fmt.Errorf("simulation stopped after %d of %d steps: %w", n, simSteps, runErr)
		}

		s := d.P.Get()
		logger.Info("simulation finished",
			"steps", n,
			"hot_volume", s.HotVolume,
			"hot_temperature", s.HotTemperature,
			"cold_volume", s.ColdVolume,
			"cold_temperature", s.ColdTemperature,
		)
		fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d steps, hot %.1f m3 at %.2f K, cold %.1f m3 at %.2f K\n",
			d.RunID, n, s.HotVolume, s.HotTemperature, s.ColdVolume, s.ColdTemperature)
		return nil
	},
}

func init() {
	f := simulateCmd.Flags()
	f.IntVarP(&simSteps, "steps", "n", 8760, "number of timesteps to run")
	f.StringVar(&simMode, "mode", plant.ModeAuto.String(), "operating mode, empty keeps the configured one")
	f.StringVar(&simCSV, "csv", "", "write records to this CSV file")
	f.StringVar(&simDB, "db", "", "write records to this SQLite database")
	rootCmd.AddCommand(simulateCmd)
}
