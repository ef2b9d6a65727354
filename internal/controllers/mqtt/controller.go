package mqttctrl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Agrid-Dev/twotank/internal/plant"
	"github.com/Agrid-Dev/twotank/internal/ports"
)

type Config struct {
	// Identity
	DeviceID string

	// MQTT connection
	BrokerURL string
	ClientID  string

	// Topics
	BaseTopic string

	// Behavior
	QoS             byte
	RetainSnapshot  bool
	PublishInterval time.Duration

	Username string
	Password string

	// Logger receives rejected commands; nil discards them.
	Logger *slog.Logger
}

type Controller struct {
	svc ports.PlantService
	cfg Config

	client mqtt.Client
}

func New(svc ports.PlantService, cfg Config) (*Controller, error) {
	// ---- defaults ----

	if cfg.BrokerURL == "" {
		cfg.BrokerURL = "tcp://localhost:1883"
	}

	if cfg.DeviceID == "" {
		return nil, errors.New("mqtt: DeviceID is required")
	}
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = "twotank/" + cfg.DeviceID
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "twotank-" + cfg.DeviceID
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = 1 * time.Second
	}
	if cfg.QoS > 1 {
		return nil, errors.New("mqtt: QoS must be 0 or 1")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Controller{
		svc: svc,
		cfg: cfg,
	}, nil
}

func (c *Controller) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(c.cfg.BrokerURL).
		SetClientID(c.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second)

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}

	// Subscribe when connected/reconnected.
	opts.OnConnect = func(cl mqtt.Client) {
		topic := c.topic("set/+")
		token := cl.Subscribe(topic, c.cfg.QoS, c.onMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			c.cfg.Logger.Error("mqtt subscribe failed", "topic", topic, "err", err)
		}
	}

	c.client = mqtt.NewClient(opts)
	tok := c.client.Connect()
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	// Publish loop: publish snapshot on interval, and only when changed.
	ticker := time.NewTicker(c.cfg.PublishInterval)
	defer ticker.Stop()

	last := c.svc.Get()
	c.publishSnapshot()

	for {
		select {
		case <-ctx.Done():
			c.client.Disconnect(250)
			return ctx.Err()

		case <-ticker.C:
			cur := c.svc.Get()
			if !reflect.DeepEqual(cur, last) {
				c.publishSnapshot()
				last = cur
			}
		}
	}
}

func (c *Controller) publishSnapshot() {
	s := c.svc.Get()
	dto := snapshotDTO{
		Enabled:                s.Enabled,
		Mode:                   s.Mode.String(),
		FieldMassFlow:          s.FieldMassFlow,
		FieldTemperature:       s.FieldTemperature,
		AmbientTemperature:     s.AmbientTemperature,
		Timestep:               s.Timestep,
		Hour:                   s.Hour,
		Action:                 s.Action.String(),
		AppliedMassFlow:        s.AppliedMassFlow,
		FieldOutletTemperature: s.FieldOutletTemperature,
		Duty:                   s.Duty,
		HeaterPower:            s.HeaterPower,
		Loss:                   s.Loss,
		HotVolume:              s.HotVolume,
		HotTemperature:         s.HotTemperature,
		ColdVolume:             s.ColdVolume,
		ColdTemperature:        s.ColdTemperature,
	}
	b, err := json.Marshal(dto)
	if err != nil {
		c.cfg.Logger.Error("mqtt snapshot encoding failed", "err", err)
		return
	}
	c.client.Publish(c.topic("snapshot"), c.cfg.QoS, c.cfg.RetainSnapshot, b)
}

func (c *Controller) publishRecord(rec plant.Record) {
	b, err := json.Marshal(recordDTO{
		Hour:                   rec.Hour,
		Action:                 rec.Action.String(),
		FieldMassFlow:          rec.FieldMassFlow,
		FieldOutletTemperature: rec.FieldOutletTemperature,
		Duty:                   rec.Duty,
		HeaterPower:            rec.HeaterPower,
		Loss:                   rec.Loss,
	})
	if err != nil {
		c.cfg.Logger.Error("mqtt record encoding failed", "err", err)
		return
	}
	c.client.Publish(c.topic("record"), c.cfg.QoS, false, b)
}

type snapshotDTO struct {
	Enabled                bool    `json:"enabled"`
	Mode                   string  `json:"mode"`
	FieldMassFlow          float64 `json:"field_mass_flow"`
	FieldTemperature       float64 `json:"field_temperature"`
	AmbientTemperature     float64 `json:"ambient_temperature"`
	Timestep               float64 `json:"timestep"`
	Hour                   int     `json:"hour"`
	Action                 string  `json:"action"`
	AppliedMassFlow        float64 `json:"applied_mass_flow"`
	FieldOutletTemperature float64 `json:"field_outlet_temperature"`
	Duty                   float64 `json:"duty_mw"`
	HeaterPower            float64 `json:"heater_power_mw"`
	Loss                   float64 `json:"loss_mw"`
	HotVolume              float64 `json:"hot_volume"`
	HotTemperature         float64 `json:"hot_temperature"`
	ColdVolume             float64 `json:"cold_volume"`
	ColdTemperature        float64 `json:"cold_temperature"`
}

type recordDTO struct {
	Hour                   int     `json:"hour"`
	Action                 string  `json:"action"`
	FieldMassFlow          float64 `json:"field_mass_flow"`
	FieldOutletTemperature float64 `json:"field_outlet_temperature"`
	Duty                   float64 `json:"duty_mw"`
	HeaterPower            float64 `json:"heater_power_mw"`
	Loss                   float64 `json:"loss_mw"`
}

// Command payload format: {"value": ...}
type valueReq[T any] struct {
	Value *T `json:"value"`
}

func (c *Controller) onMessage(_ mqtt.Client, msg mqtt.Message) {
	// topic format: <base>/set/<field>
	t := msg.Topic()
	prefix := strings.TrimRight(c.cfg.BaseTopic, "/") + "/set/"
	if !strings.HasPrefix(t, prefix) {
		return
	}
	field := strings.TrimPrefix(t, prefix)

	if err := c.dispatch(field, msg.Payload()); err != nil {
		c.cfg.Logger.Warn("mqtt command rejected", "field", field, "err", err)
	}
}

func (c *Controller) dispatch(field string, payload []byte) error {
	switch field {
	case "enabled":
		v, err := decodeValueStrict[bool](payload)
		if err != nil {
			return err
		}
		c.svc.SetEnabled(v)
		return nil

	case "mode":
		s, err := decodeValueStrict[string](payload)
		if err != nil {
			return err
		}
		m, err := plant.ParseMode(s)
		if err != nil {
			return err
		}
		return c.svc.SetMode(m)

	case "field_mass_flow":
		return applyValue(payload, c.svc.SetFieldMassFlow)
	case "field_temperature":
		return applyValue(payload, c.svc.SetFieldTemperature)
	case "ambient_temperature":
		return applyValue(payload, c.svc.SetAmbientTemperature)
	case "timestep":
		return applyValue(payload, c.svc.SetTimestep)

	case "step":
		// {"value": true} advances one timestep; the result goes to <base>/record
		v, err := decodeValueStrict[bool](payload)
		if err != nil || !v {
			return err
		}
		rec, err := c.svc.Step()
		if err != nil {
			return err
		}
		c.publishRecord(rec)
		return nil

	default:
		return fmt.Errorf("unknown field %q", field)
	}
}

func applyValue[T any](payload []byte, apply func(T) error) error {
	v, err := decodeValueStrict[T](payload)
	if err != nil {
		return err
	}
	return apply(v)
}

func (c *Controller) topic(suffix string) string {
	return strings.TrimRight(c.cfg.BaseTopic, "/") + "/" + suffix
}

func decodeValueStrict[T any](b []byte) (T, error) {
	var zero T
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var req valueReq[T]
	if err := dec.Decode(&req); err != nil {
		return zero, err
	}
	if req.Value == nil {
		return zero, errors.New("missing field 'value'")
	}
	return *req.Value, nil
}
