package testutil

import "github.com/Agrid-Dev/twotank/internal/plant"

// FakePlantService is a reusable fake implementing ports.PlantService.
// Put ONLY what multiple test packages need here.
type FakePlantService struct {
	S plant.Snapshot

	SetEnabledCalled bool
	SetEnabledArg    bool

	SetModeCalled bool
	SetModeArg    plant.Mode
	SetModeErr    error

	SetFieldMassFlowCalled bool
	SetFieldMassFlowArg    float64
	SetFieldMassFlowErr    error

	SetFieldTemperatureCalled bool
	SetFieldTemperatureArg    float64
	SetFieldTemperatureErr    error

	SetAmbientTemperatureCalled bool
	SetAmbientTemperatureArg    float64
	SetAmbientTemperatureErr    error

	SetTimestepCalled bool
	SetTimestepArg    float64
	SetTimestepErr    error

	StepCalls int
	StepErr   error
}

func NewFakePlantService() *FakePlantService {
	return &FakePlantService{
		S: plant.Snapshot{
			Enabled:            true,
			Mode:               plant.ModeAuto,
			FieldMassFlow:      300,
			FieldTemperature:   664.15,
			AmbientTemperature: 298.15,
			Timestep:           3600,
			Action:             plant.ModeIdle,
			HotVolume:          3000,
			HotTemperature:     659.15,
			ColdVolume:         7000,
			ColdTemperature:    561.15,
		},
	}
}

func (f *FakePlantService) Get() plant.Snapshot { return f.S }

func (f *FakePlantService) SetEnabled(b bool) {
	f.SetEnabledCalled = true
	f.SetEnabledArg = b
	f.S.Enabled = b
}

func (f *FakePlantService) SetMode(m plant.Mode) error {
	f.SetModeCalled = true
	f.SetModeArg = m
	if f.SetModeErr != nil {
		return f.SetModeErr
	}
	f.S.Mode = m
	return nil
}

func (f *FakePlantService) SetFieldMassFlow(v float64) error {
	f.SetFieldMassFlowCalled = true
	f.SetFieldMassFlowArg = v
	if f.SetFieldMassFlowErr != nil {
		return f.SetFieldMassFlowErr
	}
	f.S.FieldMassFlow = v
	return nil
}

func (f *FakePlantService) SetFieldTemperature(v float64) error {
	f.SetFieldTemperatureCalled = true
	f.SetFieldTemperatureArg = v
	if f.SetFieldTemperatureErr != nil {
		return f.SetFieldTemperatureErr
	}
	f.S.FieldTemperature = v
	return nil
}

func (f *FakePlantService) SetAmbientTemperature(v float64) error {
	f.SetAmbientTemperatureCalled = true
	f.SetAmbientTemperatureArg = v
	if f.SetAmbientTemperatureErr != nil {
		return f.SetAmbientTemperatureErr
	}
	f.S.AmbientTemperature = v
	return nil
}

func (f *FakePlantService) SetTimestep(v float64) error {
	f.SetTimestepCalled = true
	f.SetTimestepArg = v
	if f.SetTimestepErr != nil {
		return f.SetTimestepErr
	}
	f.S.Timestep = v
	return nil
}

func (f *FakePlantService) Step() (plant.Record, error) {
	f.StepCalls++
	if f.StepErr != nil {
		return plant.Record{}, f.StepErr
	}
	rec := plant.Record{Hour: f.S.Hour, Action: plant.ModeIdle}
	f.S.Hour++
	return rec, nil
}
