package tes

import (
	"fmt"
	"math"

	"github.com/Agrid-Dev/twotank/internal/htf"
)

// minTankMass keeps the integration well defined when a tank is drained.
const minTankMass = 0.001 // [kg]

type TankParams struct {
	VolumeOneTemp  float64 // [m3] fluid volume at one temperature, all tank pairs
	Height         float64 // [m]
	MinHeight      float64 // [m] minimum fluid height
	UPerArea       float64 // [W/m2-K]
	Pairs          float64 // [-]
	HeaterSetpoint float64 // [K]
	HeaterMaxPower float64 // [MW]
}

func (p *TankParams) Validate() error {
	if !(p.VolumeOneTemp > 0) || !(p.Height > 0) || !(p.Pairs > 0) {
		return fmt.Errorf("%w: volume, height and tank pairs must be positive", ErrInvalidTank)
	}
	if p.MinHeight < 0 || p.MinHeight >= p.Height {
		return fmt.Errorf("%w: minimum height %g must be in [0, %g)", ErrInvalidTank, p.MinHeight, p.Height)
	}
	if p.UPerArea < 0 || p.HeaterMaxPower < 0 {
		return fmt.Errorf("%w: conductance and heater power must not be negative", ErrInvalidTank)
	}
	return nil
}

// TankState is one slot of the previous/calculated pair.
type TankState struct {
	Volume      float64 // [m3]
	Temperature float64 // [K]
	Mass        float64 // [kg]
}

// Balance is the outcome of integrating a tank over one timestep.
type Balance struct {
	TAve        float64 // [K] time averaged tank temperature
	HeaterPower float64 // [MW]
	Loss        float64 // [MW]
}

// StorageTank is a single well mixed tank. Previous holds the converged state
// at the start of the timestep and is only written by Converged; every
// EnergyBalance call overwrites Calculated.
type StorageTank struct {
	fluid htf.Fluid

	vTotal    float64 // [m3]
	vInactive float64 // [m3]
	vActive   float64 // [m3]
	ua        float64 // [W/K]
	tHtr      float64 // [K]
	maxQHtr   float64 // [MW]

	prev TankState
	calc TankState
}

func NewStorageTank(fluid htf.Fluid, p TankParams) (*StorageTank, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	vInactive := p.VolumeOneTemp * p.MinHeight / p.Height
	aCS := p.VolumeOneTemp / (p.Height * p.Pairs) // [m2] one tank
	diameter := 2.0 * math.Sqrt(aCS/math.Pi)      // [m]

	nan := math.NaN()
	return &StorageTank{
		fluid:     fluid,
		vTotal:    p.VolumeOneTemp,
		vInactive: vInactive,
		vActive:   p.VolumeOneTemp - vInactive,
		ua:        p.UPerArea * (aCS + math.Pi*diameter*p.Height) * p.Pairs,
		tHtr:      p.HeaterSetpoint,
		maxQHtr:   p.HeaterMaxPower,
		prev:      TankState{Volume: nan, Temperature: nan, Mass: nan},
		calc:      TankState{Volume: nan, Temperature: nan, Mass: nan},
	}, nil
}

// Seed sets the previous state from an initial volume [m3] and temperature [K].
func (t *StorageTank) Seed(volume, temperature float64) {
	t.prev.Volume = volume
	t.prev.Temperature = temperature
	t.prev.Mass = t.MassAtPrevious()
}

// MassAtPrevious returns density(T_prev) * V_prev [kg].
func (t *StorageTank) MassAtPrevious() float64 {
	return t.prev.Volume * t.fluid.Density(t.prev.Temperature)
}

// AvailableMassFlow returns the flow [kg/s] that can be drawn over timestep
// [s] without going below the inactive volume plus fUnavail of the active volume.
func (t *StorageTank) AvailableMassFlow(fUnavail, timestep float64) float64 {
	rho := t.fluid.Density(t.prev.Temperature)
	v := t.prev.Mass / rho
	vAvail := math.Max(v-t.vInactive, 0)
	return math.Max(vAvail-t.vActive*fUnavail, 0) * rho / timestep
}

// EnergyBalance integrates mass and temperature over timestep [s] analytically
// and stores the result as the calculated state.
func (t *StorageTank) EnergyBalance(timestep, mDotIn, mDotOut, tIn, tAmb float64) Balance {
	rho := t.fluid.Density(t.prev.Temperature)
	cp := t.fluid.Cp(t.prev.Temperature) * 1000.0 // [J/kg-K]

	t.calc.Mass = math.Max(minTankMass, t.prev.Mass+timestep*(mDotIn-mDotOut))
	t.calc.Volume = t.calc.Mass / rho

	if mDotIn-mDotOut != 0 {
		return t.flowingBalance(timestep, mDotIn, mDotOut, tIn, tAmb, cp)
	}
	return t.idleBalance(timestep, tAmb, cp)
}

func (t *StorageTank) flowingBalance(timestep, mDotIn, mDotOut, tIn, tAmb, cp float64) Balance {
	a := mDotIn*tIn + t.ua/cp*tAmb
	b := mDotIn + t.ua/cp
	c := mDotIn - mDotOut
	mPrev := t.prev.Mass
	tPrev := t.prev.Temperature

	if b == 0 {
		// insulated tank that is only being drawn from
		return t.adiabaticBalance(timestep, cp)
	}

	// (1 + dt*c/m_prev) is the end/start mass ratio, taken from the floored
	// mass so a tank drained within the step stays finite
	ratio := t.calc.Mass / mPrev
	p := math.Pow(ratio, -b/c)
	pAve := meanPower(ratio, b, c, mPrev, timestep)

	solve := func(a float64) Balance {
		t.calc.Temperature = a/b + (tPrev-a/b)*p
		tAve := a/b + (tPrev-a/b)*pAve
		return Balance{TAve: tAve, Loss: t.ua * (tAve - tAmb) * 1e-6}
	}

	res := solve(a)
	if t.calc.Temperature >= t.tHtr {
		return res
	}

	qHtr := (b*((t.tHtr-tPrev*p)/(1-p)) - a) * cp * 1e-6 // [MW]
	qHtr = math.Min(qHtr, t.maxQHtr)

	res = solve(a + qHtr*1e6/cp)
	res.HeaterPower = qHtr
	return res
}

// meanPower is the time average over [0, dt] of (1 + c*t/m)^(-b/c), where
// ratio is the end value of (1 + c*t/m).
func meanPower(ratio, b, c, m, dt float64) float64 {
	if c == b {
		return m * math.Log(ratio) / (c * dt)
	}
	return m * (math.Pow(ratio, (c-b)/c) - 1) / ((c - b) * dt)
}

func (t *StorageTank) idleBalance(timestep, tAmb, cp float64) Balance {
	mPrev := t.prev.Mass
	tPrev := t.prev.Temperature
	b := t.ua / (cp * mPrev)

	if b == 0 {
		return t.adiabaticBalance(timestep, cp)
	}

	e := math.Exp(-b * timestep)
	solve := func(c float64) Balance {
		t.calc.Temperature = c/b + (tPrev-c/b)*e
		tAve := c/b - (tPrev-c/b)/(b*timestep)*(e-1)
		return Balance{TAve: tAve, Loss: t.ua * (tAve - tAmb) * 1e-6}
	}

	c := b * tAmb
	res := solve(c)
	if t.calc.Temperature >= t.tHtr {
		return res
	}

	qHtr := (b*(t.tHtr-tPrev*e)/(1-e) - c) * cp * mPrev * 1e-6 // [MW]
	qHtr = math.Min(qHtr, t.maxQHtr)

	res = solve(c + qHtr*1e6/(cp*mPrev))
	res.HeaterPower = qHtr
	return res
}

// adiabaticBalance covers a perfectly insulated tank with no inflow, where only the
// heater can change the temperature.
func (t *StorageTank) adiabaticBalance(timestep, cp float64) Balance {
	tPrev := t.prev.Temperature
	t.calc.Temperature = tPrev
	if tPrev >= t.tHtr {
		return Balance{TAve: tPrev}
	}

	mcp := t.prev.Mass * cp
	qHtr := math.Min((t.tHtr-tPrev)*mcp/timestep*1e-6, t.maxQHtr)
	rise := qHtr * 1e6 * timestep / mcp
	t.calc.Temperature = tPrev + rise
	return Balance{TAve: tPrev + 0.5*rise, HeaterPower: qHtr}
}

// Converged promotes the calculated state to previous.
func (t *StorageTank) Converged() {
	t.prev = t.calc
}

func (t *StorageTank) Previous() TankState   { return t.prev }
func (t *StorageTank) Calculated() TankState { return t.calc }
func (t *StorageTank) UA() float64           { return t.ua }
func (t *StorageTank) TotalVolume() float64  { return t.vTotal }
func (t *StorageTank) ActiveVolume() float64 { return t.vActive }
func (t *StorageTank) InactiveVolume() float64 {
	return t.vInactive
}
func (t *StorageTank) Fluid() htf.Fluid { return t.fluid }
