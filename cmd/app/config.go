package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/Agrid-Dev/twotank/internal/htf"
	"github.com/Agrid-Dev/twotank/internal/plant"
	"github.com/Agrid-Dev/twotank/internal/tes"
)

const (
	EnvPrefix    = "TWOTANK_"
	kelvinOffset = 273.15
)

// Temperatures in the configuration are in degrees Celsius; the core works
// in Kelvin.
type Config struct {
	DeviceID    string            `koanf:"device_id" yaml:"device_id"`
	Log         LogConfig         `koanf:"log" yaml:"log"`
	Controllers ControllersConfig `koanf:"controllers" yaml:"controllers"`

	Plant    PlantConfig    `koanf:"plant" yaml:"plant"`
	Profile  ProfileConfig  `koanf:"profile" yaml:"profile"`
	Storage  StorageConfig  `koanf:"storage" yaml:"storage"`
	Recorder RecorderConfig `koanf:"recorder" yaml:"recorder"`
}

type LogConfig struct {
	Level string `koanf:"level" yaml:"level"` // "debug" | "info" | "warn" | "error"
}

type ControllersConfig struct {
	HTTP   HTTPConfig   `koanf:"http" yaml:"http"`
	MQTT   MQTTConfig   `koanf:"mqtt" yaml:"mqtt"`
	MODBUS ModbusConfig `koanf:"modbus" yaml:"modbus"`
}

type HTTPConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Addr    string `koanf:"addr" yaml:"addr"`
}

type MQTTConfig struct {
	Enabled         bool          `koanf:"enabled" yaml:"enabled"`
	BrokerURL       string        `koanf:"broker_url" yaml:"broker_url"`
	ClientID        string        `koanf:"client_id" yaml:"client_id"`
	BaseTopic       string        `koanf:"base_topic" yaml:"base_topic"`
	QoS             byte          `koanf:"qos" yaml:"qos"`
	RetainSnapshot  bool          `koanf:"retain_snapshot" yaml:"retain_snapshot"`
	PublishInterval time.Duration `koanf:"publish_interval" yaml:"publish_interval"`
	Username        string        `koanf:"username" yaml:"username"`
	Password        string        `koanf:"password" yaml:"password"`
}

type ModbusConfig struct {
	Enabled      bool          `koanf:"enabled" yaml:"enabled"`
	Addr         string        `koanf:"addr" yaml:"addr"`
	UnitID       byte          `koanf:"unit_id" yaml:"unit_id"`
	SyncInterval time.Duration `koanf:"sync_interval" yaml:"sync_interval"`
}

type PlantConfig struct {
	Enabled            bool          `koanf:"enabled" yaml:"enabled"`
	Mode               string        `koanf:"mode" yaml:"mode"` // "auto" | "charge" | "discharge" | "idle"
	FieldMassFlow      float64       `koanf:"field_mass_flow" yaml:"field_mass_flow"`
	FieldTemperature   float64       `koanf:"field_temperature" yaml:"field_temperature"`
	AmbientTemperature float64       `koanf:"ambient_temperature" yaml:"ambient_temperature"`
	Timestep           time.Duration `koanf:"timestep" yaml:"timestep"`
	Interval           time.Duration `koanf:"interval" yaml:"interval"` // wall clock time between steps in serve
}

type ProfileConfig struct {
	SunriseHour          int     `koanf:"sunrise_hour" yaml:"sunrise_hour"`
	SunsetHour           int     `koanf:"sunset_hour" yaml:"sunset_hour"`
	DischargeEndHour     int     `koanf:"discharge_end_hour" yaml:"discharge_end_hour"`
	FieldHotTemperature  float64 `koanf:"field_hot_temperature" yaml:"field_hot_temperature"`
	FieldColdTemperature float64 `koanf:"field_cold_temperature" yaml:"field_cold_temperature"`
	PeakFieldMassFlow    float64 `koanf:"peak_field_mass_flow" yaml:"peak_field_mass_flow"`
	DischargeMassFlow    float64 `koanf:"discharge_mass_flow" yaml:"discharge_mass_flow"`
	AmbientMean          float64 `koanf:"ambient_mean" yaml:"ambient_mean"`
	AmbientSwing         float64 `koanf:"ambient_swing" yaml:"ambient_swing"`
}

type FluidConfig struct {
	Name  string      `koanf:"name" yaml:"name"` // library fluid name, or "user_defined"
	Table [][]float64 `koanf:"table" yaml:"table,omitempty"`
}

type TankConfig struct {
	HeaterSetpoint     float64 `koanf:"heater_setpoint" yaml:"heater_setpoint"`
	HeaterMaxPower     float64 `koanf:"heater_max_power" yaml:"heater_max_power"` // [MW]
	InitialTemperature float64 `koanf:"initial_temperature" yaml:"initial_temperature"`
}

type StorageConfig struct {
	Hours         float64     `koanf:"hours" yaml:"hours"`
	FieldFluid    FluidConfig `koanf:"field_fluid" yaml:"field_fluid"`
	StoreFluid    FluidConfig `koanf:"store_fluid" yaml:"store_fluid"`
	HeatExchanger bool        `koanf:"heat_exchanger" yaml:"heat_exchanger"`

	PowerBlockDesign  float64 `koanf:"power_block_design" yaml:"power_block_design"` // [MW] thermal
	SolarMultiple     float64 `koanf:"solar_multiple" yaml:"solar_multiple"`
	HXApproach        float64 `koanf:"hx_approach" yaml:"hx_approach"` // [K]
	FieldInletDesign  float64 `koanf:"field_inlet_design" yaml:"field_inlet_design"`
	FieldOutletDesign float64 `koanf:"field_outlet_design" yaml:"field_outlet_design"`

	TankVolume    float64 `koanf:"tank_volume" yaml:"tank_volume"` // [m3] fluid at one temperature
	TankHeight    float64 `koanf:"tank_height" yaml:"tank_height"`
	TankMinHeight float64 `koanf:"tank_min_height" yaml:"tank_min_height"`
	UTank         float64 `koanf:"u_tank" yaml:"u_tank"` // [W/m2-K]
	TankPairs     float64 `koanf:"tank_pairs" yaml:"tank_pairs"`

	HotTank          TankConfig `koanf:"hot_tank" yaml:"hot_tank"`
	ColdTank         TankConfig `koanf:"cold_tank" yaml:"cold_tank"`
	InitialHotVolume float64    `koanf:"initial_hot_volume" yaml:"initial_hot_volume"` // [m3]
}

type RecorderConfig struct {
	CSV    string `koanf:"csv" yaml:"csv"`       // path, empty disables
	SQLite string `koanf:"sqlite" yaml:"sqlite"` // path, empty disables
}

// Default is a 50 MWt salt storage charged by an oil trough field.
func Default() Config {
	return Config{
		DeviceID: "default",
		Log:      LogConfig{Level: "info"},
		Controllers: ControllersConfig{
			HTTP:   HTTPConfig{Enabled: true, Addr: ":8080"},
			MQTT:   MQTTConfig{PublishInterval: 1 * time.Second},
			MODBUS: ModbusConfig{Addr: "127.0.0.1:1502", UnitID: 1},
		},
		Plant: PlantConfig{
			Enabled:            true,
			Mode:               "auto",
			FieldMassFlow:      300,
			FieldTemperature:   391,
			AmbientTemperature: 25,
			Timestep:           time.Hour,
			Interval:           1 * time.Second,
		},
		Profile: ProfileConfig{
			SunriseHour:          6,
			SunsetHour:           18,
			DischargeEndHour:     23,
			FieldHotTemperature:  391,
			FieldColdTemperature: 293,
			PeakFieldMassFlow:    500,
			DischargeMassFlow:    350,
			AmbientMean:          20,
			AmbientSwing:         8,
		},
		Storage: StorageConfig{
			Hours:             6,
			FieldFluid:        FluidConfig{Name: htf.TherminolVP1.String()},
			StoreFluid:        FluidConfig{Name: htf.NitrateSalt.String()},
			HeatExchanger:     true,
			PowerBlockDesign:  50,
			SolarMultiple:     2,
			HXApproach:        5,
			FieldInletDesign:  293,
			FieldOutletDesign: 391,
			TankVolume:        10000,
			TankHeight:        12,
			TankMinHeight:     1,
			UTank:             0.4,
			TankPairs:         1,
			HotTank:           TankConfig{HeaterSetpoint: 365, HeaterMaxPower: 25, InitialTemperature: 386},
			ColdTank:          TankConfig{HeaterSetpoint: 250, HeaterMaxPower: 25, InitialTemperature: 288},
			InitialHotVolume:  3000,
		},
	}
}

// LoadConfig layers defaults, the file at path (.yaml/.yml/.json) and
// TWOTANK_ environment variables. A missing file leaves the defaults.
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := loadFile(k, path); err != nil {
			return Config{}, err
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return envKeyTransform(strings.TrimPrefix(key, EnvPrefix)), value
		},
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	// PORT is common in containers; an explicit TWOTANK_CONTROLLERS_HTTP_ADDR wins.
	if v := os.Getenv("PORT"); v != "" && os.Getenv(EnvPrefix+"CONTROLLERS_HTTP_ADDR") == "" {
		cfg.Controllers.HTTP.Addr = ":" + v
	}
	if !cfg.Controllers.HTTP.Enabled && !cfg.Controllers.MQTT.Enabled && !cfg.Controllers.MODBUS.Enabled {
		cfg.Controllers.HTTP.Enabled = true
	}
	return cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	var parser koanf.Parser
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return fmt.Errorf("unsupported config extension %q", ext)
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		// Config file missing → use defaults
		return nil
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// envKeyTransform maps an env suffix to a koanf path: the section names are
// split off and the remaining words keep their underscores.
//
//	CONTROLLERS_HTTP_ADDR             -> controllers.http.addr
//	STORAGE_HOT_TANK_HEATER_SETPOINT  -> storage.hot_tank.heater_setpoint
//	PLANT_FIELD_MASS_FLOW             -> plant.field_mass_flow
func envKeyTransform(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	if k == "" {
		return ""
	}
	parts := strings.Split(k, "_")

	switch parts[0] {
	case "controllers":
		if len(parts) < 3 {
			return k
		}
		return "controllers." + parts[1] + "." + strings.Join(parts[2:], "_")

	case "storage":
		if len(parts) < 2 {
			return k
		}
		if len(parts) >= 4 {
			switch sub := parts[1] + "_" + parts[2]; sub {
			case "hot_tank", "cold_tank", "field_fluid", "store_fluid":
				return "storage." + sub + "." + strings.Join(parts[3:], "_")
			}
		}
		return "storage." + strings.Join(parts[1:], "_")

	case "log", "plant", "profile", "recorder":
		if len(parts) < 2 {
			return k
		}
		return parts[0] + "." + strings.Join(parts[1:], "_")
	}
	return k
}

func toKelvin(c float64) float64 { return c + kelvinOffset }

// StorageParams converts the storage section into core parameters.
func (c Config) StorageParams() (tes.Params, error) {
	field, err := c.Storage.FieldFluid.fluidSpec()
	if err != nil {
		return tes.Params{}, fmt.Errorf("storage.field_fluid: %w", err)
	}
	store, err := c.Storage.StoreFluid.fluidSpec()
	if err != nil {
		return tes.Params{}, fmt.Errorf("storage.store_fluid: %w", err)
	}

	s := c.Storage
	return tes.Params{
		StorageHours:       s.Hours,
		FieldFluid:         field,
		StoreFluid:         store,
		IsHX:               s.HeatExchanger,
		PowerBlockDesign:   s.PowerBlockDesign,
		SolarMultiple:      s.SolarMultiple,
		HXApproach:         s.HXApproach,
		TFieldInDes:        toKelvin(s.FieldInletDesign),
		TFieldOutDes:       toKelvin(s.FieldOutletDesign),
		TankVolume:         s.TankVolume,
		TankHeight:         s.TankHeight,
		TankMinHeight:      s.TankMinHeight,
		UTank:              s.UTank,
		TankPairs:          s.TankPairs,
		HotHeaterSetpoint:  toKelvin(s.HotTank.HeaterSetpoint),
		HotHeaterMax:       s.HotTank.HeaterMaxPower,
		ColdHeaterSetpoint: toKelvin(s.ColdTank.HeaterSetpoint),
		ColdHeaterMax:      s.ColdTank.HeaterMaxPower,
		HotVolumeInit:      s.InitialHotVolume,
		THotInit:           toKelvin(s.HotTank.InitialTemperature),
		TColdInit:          toKelvin(s.ColdTank.InitialTemperature),
	}, nil
}

func (f FluidConfig) fluidSpec() (tes.FluidSpec, error) {
	code, err := htf.ParseCode(f.Name)
	if err != nil {
		return tes.FluidSpec{}, err
	}
	return tes.FluidSpec{Code: code, Table: f.Table}, nil
}

// PlantSnapshot is the initial operator state.
func (c Config) PlantSnapshot() (plant.Snapshot, error) {
	mode, err := plant.ParseMode(c.Plant.Mode)
	if err != nil {
		return plant.Snapshot{}, err
	}
	return plant.Snapshot{
		Enabled:            c.Plant.Enabled,
		Mode:               mode,
		FieldMassFlow:      c.Plant.FieldMassFlow,
		FieldTemperature:   toKelvin(c.Plant.FieldTemperature),
		AmbientTemperature: toKelvin(c.Plant.AmbientTemperature),
		Timestep:           c.Plant.Timestep.Seconds(),
	}, nil
}

func (c Config) ProfileParams() plant.ProfileParams {
	p := c.Profile
	return plant.ProfileParams{
		SunriseHour:          p.SunriseHour,
		SunsetHour:           p.SunsetHour,
		DischargeEndHour:     p.DischargeEndHour,
		FieldHotTemperature:  toKelvin(p.FieldHotTemperature),
		FieldColdTemperature: toKelvin(p.FieldColdTemperature),
		PeakFieldMassFlow:    p.PeakFieldMassFlow,
		DischargeMassFlow:    p.DischargeMassFlow,
		AmbientMean:          toKelvin(p.AmbientMean),
		AmbientSwing:         p.AmbientSwing,
	}
}
