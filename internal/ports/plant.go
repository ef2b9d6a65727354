package ports

import "github.com/Agrid-Dev/twotank/internal/plant"

// PlantService is the control-plane port used by controllers (HTTP/MQTT/Modbus).
type PlantService interface {
	Get() plant.Snapshot
	SetEnabled(bool)
	SetMode(plant.Mode) error
	SetFieldMassFlow(float64) error
	SetFieldTemperature(float64) error
	SetAmbientTemperature(float64) error
	SetTimestep(float64) error
	Step() (plant.Record, error)
}
