package plant

import (
	"fmt"
	"math"
)

// ProfileParams describes a repeating day: the field delivers hot fluid
// between sunrise and sunset with a half-sine flow, the power block then draws
// from storage until DischargeEndHour, and the plant idles otherwise.
type ProfileParams struct {
	SunriseHour      int
	SunsetHour       int
	DischargeEndHour int

	FieldHotTemperature  float64 // [K] field outlet while charging
	FieldColdTemperature float64 // [K] power block return while discharging
	PeakFieldMassFlow    float64 // [kg/s] at solar noon
	DischargeMassFlow    float64 // [kg/s]

	AmbientMean  float64 // [K]
	AmbientSwing float64 // [K] amplitude, warmest mid afternoon
}

func (p *ProfileParams) Validate() error {
	if p.SunriseHour < 0 || p.SunriseHour >= p.SunsetHour || p.SunsetHour > p.DischargeEndHour || p.DischargeEndHour > 24 {
		return fmt.Errorf("%w: hours must satisfy 0 <= sunrise < sunset <= discharge end <= 24", ErrInvalidProfile)
	}
	if !(p.FieldHotTemperature > 0) || !(p.FieldColdTemperature > 0) {
		return fmt.Errorf("%w: %w", ErrInvalidProfile, ErrInvalidTemperature)
	}
	if p.PeakFieldMassFlow < 0 || p.DischargeMassFlow < 0 {
		return fmt.Errorf("%w: %w", ErrInvalidProfile, ErrNegativeMassFlow)
	}
	if !(p.AmbientMean-math.Abs(p.AmbientSwing) > 0) {
		return fmt.Errorf("%w: ambient temperature would drop below absolute zero", ErrInvalidProfile)
	}
	return nil
}

// Conditions are the boundary values the profile imposes for one hour.
type Conditions struct {
	Mode               Mode
	FieldMassFlow      float64 // [kg/s]
	FieldTemperature   float64 // [K]
	AmbientTemperature float64 // [K]
}

type Profile struct {
	params ProfileParams
}

func NewProfile(params ProfileParams) (*Profile, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Profile{params: params}, nil
}

// At evaluates the profile at the middle of the given simulation hour.
func (pr *Profile) At(hour int) Conditions {
	p := pr.params
	h := ((hour % 24) + 24) % 24
	mid := float64(h) + 0.5

	c := Conditions{
		Mode:               ModeIdle,
		AmbientTemperature: p.AmbientMean + p.AmbientSwing*math.Sin(2*math.Pi*(mid-9)/24),
	}
	switch {
	case h >= p.SunriseHour && h < p.SunsetHour:
		day := float64(p.SunsetHour - p.SunriseHour)
		c.Mode = ModeCharge
		c.FieldMassFlow = p.PeakFieldMassFlow * math.Sin(math.Pi*(mid-float64(p.SunriseHour))/day)
		c.FieldTemperature = p.FieldHotTemperature
	case h >= p.SunsetHour && h < p.DischargeEndHour:
		c.Mode = ModeDischarge
		c.FieldMassFlow = p.DischargeMassFlow
		c.FieldTemperature = p.FieldColdTemperature
	}
	return c
}
