package tes

import (
	"fmt"
	"math"

	"github.com/Agrid-Dev/twotank/internal/htf"
)

// HeatExchanger is a counter-flow liquid/liquid exchanger between the field
// fluid and the storage fluid. Design values are fixed by NewHeatExchanger.
type HeatExchanger struct {
	field htf.Fluid
	store htf.Fluid

	mDotDesAve float64 // [kg/s]
	effDes     float64 // [-]
	uaDes      float64 // [W/K]
}

// HXDesign is the read-only design point.
type HXDesign struct {
	MassFlowAverage float64 // [kg/s]
	Effectiveness   float64 // [-]
	UA              float64 // [W/K]
}

// HXResult is one off-design evaluation.
type HXResult struct {
	Effectiveness float64 // [-]
	THotOut       float64 // [K]
	TColdOut      float64 // [K]
	Duty          float64 // [MW]
	MassFlow      float64 // [kg/s] flow solved on the side that was not given
}

// NewHeatExchanger sizes the exchanger from a design duty [W], the temperature
// approach dtDes [K] and the hot-side design inlet/outlet temperatures [K].
func NewHeatExchanger(field, store htf.Fluid, duty, dtDes, tHotInDes, tHotOutDes float64) (*HeatExchanger, error) {
	tAve := 0.5 * (tHotInDes + tHotOutDes)
	cHot := field.Cp(tAve) * 1000.0  // [J/kg-K]
	cCold := store.Cp(tAve) * 1000.0 // [J/kg-K] evaluated at the hot side average, close enough for sizing

	tColdOut := tHotInDes - dtDes
	tColdIn := tHotOutDes - dtDes

	mDotHot := duty / (cHot * (tHotInDes - tHotOutDes))
	mDotCold := duty / (cCold * (tColdOut - tColdIn))

	cDotHot := mDotHot * cHot
	cDotCold := mDotCold * cCold
	cDotMax := math.Max(cDotHot, cDotCold)
	cDotMin := math.Min(cDotHot, cDotCold)

	if !(cDotMin > 0) {
		return nil, fmt.Errorf("%w (capacity rates %g and %g W/K)", ErrCapacityRatio, cDotHot, cDotCold)
	}
	cr := cDotMin / cDotMax
	if cr < 0 || cr > 1 {
		return nil, fmt.Errorf("%w (cr=%g)", ErrCapacityRatio, cr)
	}

	qMax := cDotMin * (tHotInDes - tColdIn)
	eff := duty / qMax
	if !(eff > 0 && eff <= 1) {
		return nil, fmt.Errorf("%w (eff=%g)", ErrDesignEffectiveness, eff)
	}

	return &HeatExchanger{
		field:      field,
		store:      store,
		mDotDesAve: 0.5 * (mDotHot + mDotCold),
		effDes:     eff,
		uaDes:      counterFlowNTU(eff, cr) * cDotMin,
	}, nil
}

// balancedCR treats capacity ratios this close to 1 as balanced; the
// unbalanced relation is 0/0 there.
const balancedCR = 1e-9

func counterFlowNTU(eff, cr float64) float64 {
	if cr < 1-balancedCR {
		return math.Log((1-eff*cr)/(1-eff)) / (1 - cr)
	}
	return eff / (1 - eff)
}

func (hx *HeatExchanger) Design() HXDesign {
	return HXDesign{
		MassFlowAverage: hx.mDotDesAve,
		Effectiveness:   hx.effDes,
		UA:              hx.uaDes,
	}
}

// Performance evaluates the exchanger with UA fixed at design and scaled for
// flow. hotSideKnown says whether mDotKnown is the hot stream; storageSideKnown
// says whether the known stream is the storage fluid. The other stream's flow
// is chosen so both capacity rates match.
func (hx *HeatExchanger) Performance(hotSideKnown, storageSideKnown bool, tHotIn, mDotKnown, tColdIn float64) (HXResult, error) {
	tAve := 0.5 * (tHotIn + tColdIn)
	cField := hx.field.Cp(tAve) * 1000.0 // [J/kg-K]
	cStore := hx.store.Cp(tAve) * 1000.0 // [J/kg-K]

	// the known side is the storage side iff storageSideKnown
	cKnown, cOther := cField, cStore
	if storageSideKnown {
		cKnown, cOther = cStore, cField
	}

	cDot := mDotKnown * cKnown // [W/K]
	mDotSolved := cDot / cOther

	var mDotHot, mDotCold float64
	if hotSideKnown {
		mDotHot, mDotCold = mDotKnown, mDotSolved
	} else {
		mDotHot, mDotCold = mDotSolved, mDotKnown
	}

	mDotOD := 0.5 * (mDotHot + mDotCold)
	ua := hx.uaDes * math.Pow(mDotOD/hx.mDotDesAve, 0.8)

	ntu := ua / cDot
	eff := ntu / (1 + ntu)
	if math.IsInf(ntu, 1) {
		eff = 1
	}
	if !(eff > 0 && eff <= 1) {
		return HXResult{}, fmt.Errorf("%w (eff=%g, m_dot=%g kg/s)", ErrOffDesign, eff, mDotKnown)
	}

	q := eff * cDot * (tHotIn - tColdIn) // [W]
	return HXResult{
		Effectiveness: eff,
		THotOut:       tHotIn - q/cDot,
		TColdOut:      tColdIn + q/cDot,
		Duty:          q * 1e-6,
		MassFlow:      mDotSolved,
	}, nil
}
