package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpctrl "github.com/Agrid-Dev/twotank/internal/controllers/http"
	modbusctrl "github.com/Agrid-Dev/twotank/internal/controllers/modbus"
	mqttctrl "github.com/Agrid-Dev/twotank/internal/controllers/mqtt"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Step the plant on a wall clock and expose it over the enabled controllers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
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

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return d.P.Run(ctx, cfg.Plant.Interval) })

		cc := cfg.Controllers
		if cc.HTTP.Enabled {
			srv := httpctrl.New(d.P, cc.HTTP.Addr, d.ID)
			logger.Info("http controller listening", "addr", cc.HTTP.Addr)
			g.Go(func() error { return srv.Run(ctx) })
		}
		if cc.MQTT.Enabled {
			mc, err := mqttctrl.New(d.P, mqttctrl.Config{
				DeviceID:        d.ID,
				BrokerURL:       cc.MQTT.BrokerURL,
				ClientID:        cc.MQTT.ClientID,
				BaseTopic:       cc.MQTT.BaseTopic,
				QoS:             cc.MQTT.QoS,
				RetainSnapshot:  cc.MQTT.RetainSnapshot,
				PublishInterval: cc.MQTT.PublishInterval,
				Username:        cc.MQTT.Username,
				Password:        cc.MQTT.Password,
				Logger:          logger,
			})
			if err != nil {
				cancel()
				return errors.Join(err, g.Wait(), out.close(err))
			}
			logger.Info("mqtt controller connecting", "broker", cc.MQTT.BrokerURL)
			g.Go(func() error { return mc.Run(ctx) })
		}
		if cc.MODBUS.Enabled {
			bc, err := modbusctrl.New(d.P, modbusctrl.Config{
				DeviceID:     d.ID,
				Addr:         cc.MODBUS.Addr,
				UnitID:       cc.MODBUS.UnitID,
				SyncInterval: cc.MODBUS.SyncInterval,
				Logger:       logger,
			})
			if err != nil {
				cancel()
				return errors.Join(err, g.Wait(), out.close(err))
			}
			logger.Info("modbus controller listening", "addr", cc.MODBUS.Addr)
			g.Go(func() error { return bc.Run(ctx) })
		}

		err = g.Wait()
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		if cerr := out.close(err); cerr != nil {
			logger.Error("close recorders", "err", cerr)
		}
		if err != nil {
			logger.Error("server exited", "err", err)
			return err
		}
		logger.Info("stopped", "hour", d.P.Get().Hour)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
