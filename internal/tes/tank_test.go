package tes

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agrid-Dev/twotank/internal/htf"
)

func scenarioTankParams() TankParams {
	return TankParams{
		VolumeOneTemp:  1000,
		Height:         12,
		MinHeight:      1,
		UPerArea:       0.4,
		Pairs:          1,
		HeaterSetpoint: 453.15,
		HeaterMaxPower: 0,
	}
}

func newTestTank(t *testing.T, p TankParams, volume, temperature float64) *StorageTank {
	t.Helper()
	tank, err := NewStorageTank(mustFluid(t, htf.NitrateSalt), p)
	require.NoError(t, err)
	tank.Seed(volume, temperature)
	return tank
}

// integrate solves m(t) dT/dt = mIn*(tIn - T) - UA/cp*(T - tAmb) with RK4 and
// returns the end temperature and the time averaged temperature.
func integrate(tPrev, mPrev, mDotIn, mDotOut, tIn, tAmb, ua, cp, timestep float64, steps int) (float64, float64) {
	h := timestep / float64(steps)
	f := func(time, temp float64) float64 {
		m := mPrev + (mDotIn-mDotOut)*time
		return (mDotIn*(tIn-temp) - ua/cp*(temp-tAmb)) / m
	}
	temp := tPrev
	sum := 0.0
	for i := 0; i < steps; i++ {
		time := float64(i) * h
		k1 := f(time, temp)
		k2 := f(time+h/2, temp+h/2*k1)
		k3 := f(time+h/2, temp+h/2*k2)
		k4 := f(time+h, temp+h*k3)
		next := temp + h/6*(k1+2*k2+2*k3+k4)
		sum += 0.5 * (temp + next) * h
		temp = next
	}
	return temp, sum / timestep
}

func relErr(got, want float64) float64 {
	return math.Abs(got-want) / math.Abs(want)
}

func TestTankGeometry(t *testing.T) {
	tank := newTestTank(t, scenarioTankParams(), 500, 573.15)

	assert.InDelta(t, 1000.0/12.0, tank.InactiveVolume(), 1e-9)
	assert.InDelta(t, 1000.0-1000.0/12.0, tank.ActiveVolume(), 1e-9)
	assert.Equal(t, 1000.0, tank.TotalVolume())

	area := 1000.0 / 12.0
	diameter := 2 * math.Sqrt(area/math.Pi)
	assert.InDelta(t, 0.4*(area+math.Pi*diameter*12), tank.UA(), 1e-9)
}

func TestTankParamsValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*TankParams)
	}{
		{"zero volume", func(p *TankParams) { p.VolumeOneTemp = 0 }},
		{"zero height", func(p *TankParams) { p.Height = 0 }},
		{"no pairs", func(p *TankParams) { p.Pairs = 0 }},
		{"min height above height", func(p *TankParams) { p.MinHeight = 13 }},
		{"negative min height", func(p *TankParams) { p.MinHeight = -1 }},
		{"negative conductance", func(p *TankParams) { p.UPerArea = -0.1 }},
		{"negative heater", func(p *TankParams) { p.HeaterMaxPower = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := scenarioTankParams()
			tt.modify(&p)
			_, err := NewStorageTank(mustFluid(t, htf.NitrateSalt), p)
			require.ErrorIs(t, err, ErrInvalidTank)
			assert.Equal(t, KindConfiguration, KindOf(err))
		})
	}
}

func TestMassAtPrevious(t *testing.T) {
	tank := newTestTank(t, scenarioTankParams(), 500, 573.15)
	salt := mustFluid(t, htf.NitrateSalt)
	assert.InDelta(t, 500*salt.Density(573.15), tank.MassAtPrevious(), 1e-9)
	assert.Equal(t, tank.MassAtPrevious(), tank.Previous().Mass)
}

func TestAvailableMassFlow(t *testing.T) {
	salt := mustFluid(t, htf.NitrateSalt)
	rho := salt.Density(573.15)
	inactive := 1000.0 / 12.0
	active := 1000.0 - inactive

	tests := []struct {
		name     string
		volume   float64
		fUnavail float64
		want     float64
	}{
		{"above inactive", 500, 0, (500 - inactive) * rho / 3600},
		{"with unavailable fraction", 500, 0.1, (500 - inactive - 0.1*active) * rho / 3600},
		{"at inactive", inactive, 0, 0},
		{"below inactive", 10, 0, 0},
		{"fraction larger than what is left", 100, 0.5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tank := newTestTank(t, scenarioTankParams(), tt.volume, 573.15)
			assert.InDelta(t, tt.want, tank.AvailableMassFlow(tt.fUnavail, 3600), 1e-6)
		})
	}
}

func TestIdleTankDecay_Scenario(t *testing.T) {
	const tAmb = 298.15
	tank := newTestTank(t, scenarioTankParams(), 500, 573.15)

	prevT := tank.Previous().Temperature
	for step := 0; step < 200; step++ {
		bal := tank.EnergyBalance(3600, 0, 0, prevT, tAmb)
		calc := tank.Calculated()

		assert.Zero(t, bal.HeaterPower)
		assert.Greater(t, bal.Loss, 0.0)
		assert.InDelta(t, tank.UA()*(bal.TAve-tAmb)*1e-6, bal.Loss, 1e-12)
		assert.Less(t, calc.Temperature, prevT)
		assert.Greater(t, calc.Temperature, tAmb)
		assert.Less(t, bal.TAve, prevT)
		assert.Greater(t, bal.TAve, calc.Temperature)

		tank.Converged()
		prevT = tank.Previous().Temperature
	}
	assert.Less(t, prevT, 573.15)
}

func TestIdleTankMatchesNumericalIntegration(t *testing.T) {
	salt := mustFluid(t, htf.NitrateSalt)
	tests := []struct {
		name   string
		u      float64
		volume float64
		tPrev  float64
		tAmb   float64
		dt     float64
	}{
		{"scenario", 0.4, 500, 573.15, 298.15, 3600},
		{"leaky small tank", 50, 100, 673.15, 283.15, 3600},
		{"very leaky", 400, 150, 573.15, 298.15, 7200},
		{"warm ambient", 5, 800, 563.15, 318.15, 1800},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := scenarioTankParams()
			p.UPerArea = tt.u
			p.HeaterSetpoint = 0
			tank := newTestTank(t, p, tt.volume, tt.tPrev)

			bal := tank.EnergyBalance(tt.dt, 0, 0, tt.tPrev, tt.tAmb)

			cp := salt.Cp(tt.tPrev) * 1000
			wantT, wantAve := integrate(tt.tPrev, tank.Previous().Mass, 0, 0, 0, tt.tAmb, tank.UA(), cp, tt.dt, 20000)
			assert.Less(t, relErr(tank.Calculated().Temperature, wantT), 1e-6)
			assert.Less(t, relErr(bal.TAve, wantAve), 1e-6)
			assert.InDelta(t, tank.UA()*(bal.TAve-tt.tAmb)*1e-6, bal.Loss, 1e-12)
		})
	}
}

func TestFlowingTankMatchesNumericalIntegration(t *testing.T) {
	salt := mustFluid(t, htf.NitrateSalt)
	tests := []struct {
		name    string
		mDotIn  float64
		mDotOut float64
		tIn     float64
	}{
		{"filling", 40, 0, 663.15},
		{"draining", 0, 40, 0},
		{"net filling", 50, 20, 623.15},
		{"net draining", 10, 35, 523.15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := scenarioTankParams()
			p.UPerArea = 20
			p.HeaterSetpoint = 0
			tank := newTestTank(t, p, 400, 573.15)
			mPrev := tank.Previous().Mass

			bal := tank.EnergyBalance(3600, tt.mDotIn, tt.mDotOut, tt.tIn, 298.15)

			cp := salt.Cp(573.15) * 1000
			wantT, wantAve := integrate(573.15, mPrev, tt.mDotIn, tt.mDotOut, tt.tIn, 298.15, tank.UA(), cp, 3600, 20000)
			assert.Less(t, relErr(tank.Calculated().Temperature, wantT), 1e-6)
			assert.Less(t, relErr(bal.TAve, wantAve), 1e-6)
			assert.InDelta(t, mPrev+3600*(tt.mDotIn-tt.mDotOut), tank.Calculated().Mass, 1e-6)
		})
	}
}

func TestMassFloor(t *testing.T) {
	for _, out := range []float64{1e3, 1e4, 1e6} {
		tank := newTestTank(t, scenarioTankParams(), 10, 573.15)
		bal := tank.EnergyBalance(3600, 0, out, 0, 298.15)

		calc := tank.Calculated()
		assert.Equal(t, minTankMass, calc.Mass)
		assert.Greater(t, calc.Volume, 0.0)
		assert.False(t, math.IsNaN(calc.Temperature))
		assert.False(t, math.IsNaN(bal.TAve))
	}
}

func TestHeaterClamp(t *testing.T) {
	tests := []struct {
		name    string
		mDotIn  float64
		mDotOut float64
		tIn     float64
	}{
		{"idle", 0, 0, 453.15},
		{"draining", 0, 20, 0},
		{"filling cold", 20, 0, 433.15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := scenarioTankParams()
			p.UPerArea = 5

			// find the power needed to exactly hold the setpoint
			p.HeaterMaxPower = 1e3
			free := newTestTank(t, p, 500, 453.15)
			need := free.EnergyBalance(3600, tt.mDotIn, tt.mDotOut, tt.tIn, 298.15)
			require.Greater(t, need.HeaterPower, 0.0)
			assert.InDelta(t, 453.15, free.Calculated().Temperature, 1e-6)

			p.HeaterMaxPower = need.HeaterPower / 2
			tank := newTestTank(t, p, 500, 453.15)
			bal := tank.EnergyBalance(3600, tt.mDotIn, tt.mDotOut, tt.tIn, 298.15)

			assert.Equal(t, p.HeaterMaxPower, bal.HeaterPower)
			assert.LessOrEqual(t, tank.Calculated().Temperature, 453.15)
			assert.Greater(t, tank.Calculated().Temperature, free.Calculated().Temperature-10)
		})
	}
}

func TestHeaterZeroCapacity(t *testing.T) {
	tank := newTestTank(t, scenarioTankParams(), 500, 453.15)
	bal := tank.EnergyBalance(3600, 0, 0, 453.15, 298.15)
	assert.Zero(t, bal.HeaterPower)
	assert.Less(t, tank.Calculated().Temperature, 453.15)
}

func TestAdiabaticTank(t *testing.T) {
	p := scenarioTankParams()
	p.UPerArea = 0
	p.HeaterMaxPower = 1e3
	tank := newTestTank(t, p, 500, 443.15)

	bal := tank.EnergyBalance(3600, 0, 0, 443.15, 298.15)
	assert.Zero(t, bal.Loss)
	assert.Greater(t, bal.HeaterPower, 0.0)
	assert.InDelta(t, 453.15, tank.Calculated().Temperature, 1e-9)

	bal = tank.EnergyBalance(3600, 0, 10, 0, 298.15)
	assert.InDelta(t, 453.15, tank.Calculated().Temperature, 1e-9)
	assert.False(t, math.IsNaN(bal.TAve))
}

func TestConvergedRoundTrip(t *testing.T) {
	tank := newTestTank(t, scenarioTankParams(), 500, 573.15)
	before := tank.Previous()

	tank.EnergyBalance(3600, 10, 30, 563.15, 298.15)
	first := tank.Calculated()
	// repeated evaluation inside a timestep must not touch previous
	tank.EnergyBalance(3600, 10, 30, 563.15, 298.15)
	assert.Equal(t, first, tank.Calculated())
	assert.Equal(t, before, tank.Previous())

	tank.Converged()
	assert.Equal(t, first, tank.Previous())

	tank.Converged()
	assert.Equal(t, first, tank.Previous())
}
