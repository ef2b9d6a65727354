package tes

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/Agrid-Dev/twotank/internal/htf"
)

const (
	outletTolerance     = 0.0005 // [-] relative
	maxOutletIterations = 50
)

// FluidSpec selects a library fluid or, with htf.UserDefined, a property table.
type FluidSpec struct {
	Code  htf.Code
	Table [][]float64
}

// Params is the static plant configuration. Temperatures are absolute [K].
type Params struct {
	StorageHours float64 // [h] <= 0 disables storage

	FieldFluid FluidSpec
	StoreFluid FluidSpec
	IsHX       bool // user's claim; reconciled against the fluids

	PowerBlockDesign float64 // [MW] design thermal input to the power block
	SolarMultiple    float64 // [-]
	HXApproach       float64 // [K] hot side temperature approach
	TFieldInDes      float64 // [K] field inlet (cold) design temperature
	TFieldOutDes     float64 // [K] field outlet (hot) design temperature

	TankVolume    float64 // [m3] volume of fluid at one temperature
	TankHeight    float64 // [m]
	TankMinHeight float64 // [m]
	UTank         float64 // [W/m2-K]
	TankPairs     float64 // [-]

	HotHeaterSetpoint  float64 // [K]
	HotHeaterMax       float64 // [MW]
	ColdHeaterSetpoint float64 // [K]
	ColdHeaterMax      float64 // [MW]

	HotVolumeInit float64 // [m3] cold tank gets the rest of TankVolume
	THotInit      float64 // [K]
	TColdInit     float64 // [K]
}

// Estimate is the achievable transfer for the coming timestep.
type Estimate struct {
	Duty          float64 // [MW]
	FieldMassFlow float64 // [kg/s]
	FieldOutletT  float64 // [K]
	StoreMassFlow float64 // [kg/s] available tank-side flow
}

// Outputs reports one charge, discharge or idle evaluation.
type Outputs struct {
	FieldOutletT  float64 // [K] field-side return temperature; 0 when idle
	StoreMassFlow float64 // [kg/s]
	Duty          float64 // [MW] transferred to (charge) or from (discharge) storage
	HeaterPower   float64 // [MW] both tanks
	Loss          float64 // [MW] both tanks
	THotFinal     float64 // [K]
	TColdFinal    float64 // [K]
	Iterations    int
}

// State is the converged state of both tanks.
type State struct {
	Hot  TankState
	Cold TankState
}

// TwoTank composes a hot and a cold tank with an optional field-to-storage
// heat exchanger. Per timestep the driver calls an estimate, then Charge,
// Discharge or Idle as many times as its own iteration needs, then Converged.
type TwoTank struct {
	logger *slog.Logger

	exists bool
	isHX   bool

	field htf.Fluid
	store htf.Fluid
	hx    *HeatExchanger
	hot   *StorageTank
	cold  *StorageTank

	vActiveNet float64 // [m3]

	mDotChMax float64 // [kg/s] NaN until estimated this timestep
	mDotDcMax float64 // [kg/s]
}

// New initializes the store. A nil logger discards notices.
func New(p Params, logger *slog.Logger) (*TwoTank, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &TwoTank{
		logger:    logger,
		mDotChMax: math.NaN(),
		mDotDcMax: math.NaN(),
	}
	if !(p.StorageHours > 0) {
		return s, nil
	}
	s.exists = true

	var err error
	if s.field, err = htf.Resolve(p.FieldFluid.Code, p.FieldFluid.Table); err != nil {
		return nil, fmt.Errorf("field HTF: %w", err)
	}
	if s.store, err = htf.Resolve(p.StoreFluid.Code, p.StoreFluid.Table); err != nil {
		return nil, fmt.Errorf("storage HTF: %w", err)
	}

	s.isHX = s.reconcileHX(p.IsHX)

	if s.isHX {
		// sized so the field can always send everything to storage, even at low solar multiples
		duty := p.PowerBlockDesign * 1e6 * math.Max(1, p.SolarMultiple) // [W]
		s.hx, err = NewHeatExchanger(s.field, s.store, duty, p.HXApproach, p.TFieldOutDes, p.TFieldInDes)
		if err != nil {
			return nil, err
		}
	}

	if p.HotVolumeInit < 0 || p.HotVolumeInit > p.TankVolume {
		return nil, fmt.Errorf("%w: initial hot volume %g outside [0, %g]", ErrInvalidInitialState, p.HotVolumeInit, p.TankVolume)
	}
	if !(p.THotInit > 0) || !(p.TColdInit > 0) {
		return nil, fmt.Errorf("%w: initial temperatures must be positive absolute values", ErrInvalidInitialState)
	}

	tank := TankParams{
		VolumeOneTemp: p.TankVolume,
		Height:        p.TankHeight,
		MinHeight:     p.TankMinHeight,
		UPerArea:      p.UTank,
		Pairs:         p.TankPairs,
	}
	hot, cold := tank, tank
	hot.HeaterSetpoint, hot.HeaterMaxPower = p.HotHeaterSetpoint, p.HotHeaterMax
	cold.HeaterSetpoint, cold.HeaterMaxPower = p.ColdHeaterSetpoint, p.ColdHeaterMax

	if s.hot, err = NewStorageTank(s.store, hot); err != nil {
		return nil, fmt.Errorf("hot tank: %w", err)
	}
	if s.cold, err = NewStorageTank(s.store, cold); err != nil {
		return nil, fmt.Errorf("cold tank: %w", err)
	}
	s.hot.Seed(p.HotVolumeInit, p.THotInit)
	s.cold.Seed(p.TankVolume-p.HotVolumeInit, p.TColdInit)

	s.vActiveNet = p.TankVolume * (1 - 2*p.TankMinHeight/p.TankHeight)
	return s, nil
}

// reconcileHX decides whether a heat exchanger is physically needed and
// reports when the configuration claimed otherwise. The computed answer wins.
func (s *TwoTank) reconcileHX(claimed bool) bool {
	needed := !s.field.Equal(s.store)
	if claimed != needed {
		if needed {
			s.logger.Warn("field and storage fluids are different but no field-to-storage heat exchanger was specified; modelling with a heat exchanger",
				"field_fluid", s.field.Code(), "storage_fluid", s.store.Code())
		} else {
			s.logger.Warn("field and storage fluids are identical but a field-to-storage heat exchanger was specified; modelling without a heat exchanger",
				"fluid", s.field.Code())
		}
	}
	return needed
}

func (s *TwoTank) Exists() bool           { return s.exists }
func (s *TwoTank) HasHeatExchanger() bool { return s.isHX }

// HeatExchanger is nil when the store runs without one.
func (s *TwoTank) HeatExchanger() *HeatExchanger { return s.hx }

// ActiveVolume is the net active volume of both tanks [m3].
func (s *TwoTank) ActiveVolume() float64 { return s.vActiveNet }

// MaxChargeMassFlow is the tank-side cap recorded by the last
// ChargeAvailEstimate, NaN once Converged has run.
func (s *TwoTank) MaxChargeMassFlow() float64    { return s.mDotChMax }
func (s *TwoTank) MaxDischargeMassFlow() float64 { return s.mDotDcMax }

func (s *TwoTank) State() State {
	if !s.exists {
		return State{}
	}
	return State{Hot: s.hot.Previous(), Cold: s.cold.Previous()}
}

// ChargeAvailEstimate reports how much of the field flow at tHotField [K] the
// cold tank can absorb over timestep [s].
func (s *TwoTank) ChargeAvailEstimate(tHotField, timestep float64) (Estimate, error) {
	if !s.exists {
		return Estimate{}, nil
	}
	const fUnavail = 0.0 // storage is assumed fully chargeable

	mDot := s.cold.AvailableMassFlow(fUnavail, timestep)
	tCold := s.cold.Previous().Temperature
	s.mDotChMax = mDot

	est := Estimate{StoreMassFlow: mDot, FieldOutletT: tCold}
	if mDot == 0 {
		return est, nil
	}

	if s.isHX {
		res, err := s.hx.Performance(false, true, tHotField, mDot, tCold)
		if err != nil {
			return Estimate{}, fmt.Errorf("charge estimate: %w", err)
		}
		est.Duty = res.Duty
		est.FieldMassFlow = res.MassFlow
		est.FieldOutletT = res.THotOut
		return est, nil
	}

	cp := s.store.Cp(0.5*(tCold+tHotField)) * 1000.0
	est.Duty = mDot * cp * (tHotField - tCold) * 1e-6
	est.FieldMassFlow = mDot
	return est, nil
}

// DischargeAvailEstimate reports how much flow the hot tank can deliver over
// timestep [s] to a field-side stream returning at tColdField [K].
func (s *TwoTank) DischargeAvailEstimate(tColdField, timestep float64) (Estimate, error) {
	if !s.exists {
		return Estimate{}, nil
	}
	const fUnavail = 0.0 // storage is assumed fully dischargeable

	mDot := s.hot.AvailableMassFlow(fUnavail, timestep)
	tHot := s.hot.Previous().Temperature
	s.mDotDcMax = mDot

	est := Estimate{StoreMassFlow: mDot, FieldOutletT: tHot}
	if mDot == 0 {
		return est, nil
	}

	if s.isHX {
		res, err := s.hx.Performance(true, true, tHot, mDot, tColdField)
		if err != nil {
			return Estimate{}, fmt.Errorf("discharge estimate: %w", err)
		}
		est.Duty = res.Duty
		est.FieldMassFlow = res.MassFlow
		est.FieldOutletT = res.TColdOut
		return est, nil
	}

	cp := s.store.Cp(0.5*(tColdField+tHot)) * 1000.0
	est.Duty = mDot * cp * (tHot - tColdField) * 1e-6
	est.FieldMassFlow = mDot
	return est, nil
}

// Charge sends mDotField [kg/s] of field fluid at tFieldHotIn [K] into storage
// for timestep [s] and returns the field return temperature with the tank results.
func (s *TwoTank) Charge(timestep, tAmb, mDotField, tFieldHotIn float64) (Outputs, error) {
	if !s.exists {
		return Outputs{FieldOutletT: tFieldHotIn}, nil
	}
	if mDotField <= 0 {
		return s.Idle(timestep, tAmb), nil
	}

	if !s.isHX {
		cold := s.cold.EnergyBalance(timestep, 0, mDotField, 0, tAmb)
		hot := s.hot.EnergyBalance(timestep, mDotField, 0, tFieldHotIn, tAmb)
		cp := s.store.Cp(0.5*(cold.TAve+tFieldHotIn)) * 1000.0
		return s.outputs(hot, cold, Outputs{
			FieldOutletT:  cold.TAve,
			StoreMassFlow: mDotField,
			Duty:          mDotField * cp * (tFieldHotIn - cold.TAve) * 1e-6,
		}), nil
	}

	// the cold tank feeds the exchanger; its average outlet temperature sets
	// the exchanger cold inlet, which in turn sets the tank draw
	var hx HXResult
	var cold Balance
	tColdOut, iter, err := solveOutletTemperature(s.cold.Previous().Temperature, func(tGuess float64) (float64, error) {
		var err error
		hx, err = s.hx.Performance(true, false, tFieldHotIn, mDotField, tGuess)
		if err != nil {
			return 0, err
		}
		cold = s.cold.EnergyBalance(timestep, 0, hx.MassFlow, 0, tAmb)
		return cold.TAve, nil
	})
	if err != nil {
		return Outputs{}, fmt.Errorf("charge: %w", err)
	}
	s.logger.Debug("charge outlet temperature converged", "t_cold_out", tColdOut, "iterations", iter)

	hot := s.hot.EnergyBalance(timestep, hx.MassFlow, 0, hx.TColdOut, tAmb)
	return s.outputs(hot, cold, Outputs{
		FieldOutletT:  hx.THotOut,
		StoreMassFlow: hx.MassFlow,
		Duty:          hx.Duty,
		Iterations:    iter,
	}), nil
}

// Discharge draws from the hot tank to heat mDotField [kg/s] of field-side
// fluid entering at tFieldColdIn [K] and returns its outlet temperature with
// the tank results.
func (s *TwoTank) Discharge(timestep, tAmb, mDotField, tFieldColdIn float64) (Outputs, error) {
	if !s.exists {
		return Outputs{FieldOutletT: tFieldColdIn}, nil
	}
	if mDotField <= 0 {
		return s.Idle(timestep, tAmb), nil
	}

	if !s.isHX {
		hot := s.hot.EnergyBalance(timestep, 0, mDotField, 0, tAmb)
		cold := s.cold.EnergyBalance(timestep, mDotField, 0, tFieldColdIn, tAmb)
		cp := s.store.Cp(0.5*(hot.TAve+tFieldColdIn)) * 1000.0
		return s.outputs(hot, cold, Outputs{
			FieldOutletT:  hot.TAve,
			StoreMassFlow: mDotField,
			Duty:          mDotField * cp * (hot.TAve - tFieldColdIn) * 1e-6,
		}), nil
	}

	var hx HXResult
	var hot Balance
	tHotOut, iter, err := solveOutletTemperature(s.hot.Previous().Temperature, func(tGuess float64) (float64, error) {
		var err error
		hx, err = s.hx.Performance(false, false, tGuess, mDotField, tFieldColdIn)
		if err != nil {
			return 0, err
		}
		hot = s.hot.EnergyBalance(timestep, 0, hx.MassFlow, 0, tAmb)
		return hot.TAve, nil
	})
	if err != nil {
		return Outputs{}, fmt.Errorf("discharge: %w", err)
	}
	s.logger.Debug("discharge outlet temperature converged", "t_hot_out", tHotOut, "iterations", iter)

	cold := s.cold.EnergyBalance(timestep, hx.MassFlow, 0, hx.THotOut, tAmb)
	return s.outputs(hot, cold, Outputs{
		FieldOutletT:  hx.TColdOut,
		StoreMassFlow: hx.MassFlow,
		Duty:          hx.Duty,
		Iterations:    iter,
	}), nil
}

// Idle integrates both tanks with no flow over timestep [s].
func (s *TwoTank) Idle(timestep, tAmb float64) Outputs {
	if !s.exists {
		return Outputs{}
	}
	hot := s.hot.EnergyBalance(timestep, 0, 0, s.hot.Previous().Temperature, tAmb)
	cold := s.cold.EnergyBalance(timestep, 0, 0, s.cold.Previous().Temperature, tAmb)
	return s.outputs(hot, cold, Outputs{})
}

func (s *TwoTank) outputs(hot, cold Balance, o Outputs) Outputs {
	o.HeaterPower = hot.HeaterPower + cold.HeaterPower
	o.Loss = hot.Loss + cold.Loss
	o.THotFinal = s.hot.Calculated().Temperature
	o.TColdFinal = s.cold.Calculated().Temperature
	return o
}

// Converged commits both tanks and forgets this timestep's flow caps.
func (s *TwoTank) Converged() {
	if s.exists {
		s.cold.Converged()
		s.hot.Converged()
	}
	s.mDotChMax = math.NaN()
	s.mDotDcMax = math.NaN()
}

// solveOutletTemperature finds T such that eval(T) == T within outletTolerance,
// where eval returns the supplying tank's average temperature when its outlet
// is assumed to be T. Fixed point steps are taken while they stay inside the
// bracket; otherwise the bracket is bisected.
func solveOutletTemperature(guess float64, eval func(float64) (float64, error)) (float64, int, error) {
	t := guess
	var lower, upper float64
	hasLower, hasUpper := false, false

	for iter := 1; iter <= maxOutletIterations; iter++ {
		tAve, err := eval(t)
		if err != nil {
			return t, iter, err
		}
		diff := (tAve - t) / t
		if math.Abs(diff) <= outletTolerance {
			return t, iter, nil
		}

		if diff > 0 {
			lower, hasLower = t, true
		} else {
			upper, hasUpper = t, true
		}

		next := tAve
		if hasLower && hasUpper && (next <= lower || next >= upper) {
			next = 0.5 * (lower + upper)
		}
		t = next
	}
	return t, maxOutletIterations, fmt.Errorf("%w after %d iterations", ErrNotConverged, maxOutletIterations)
}
