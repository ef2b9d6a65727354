package htf

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/interp"
)

const kelvinOffset = 273.15

// Table columns of a user defined fluid.
const (
	ColTemperature        = iota // [C]
	ColCp                        // [kJ/kg-K]
	ColDensity                   // [kg/m3]
	ColViscosity                 // [Pa-s]
	ColKinematicViscosity        // [m2/s]
	ColConductivity              // [W/m-K]
	ColEnthalpy                  // [J/kg]
	tableColumns
)

const minTableRows = 3

// Fluid is an immutable property descriptor. The zero value is not usable;
// build one with New, NewUserDefined or Resolve.
type Fluid struct {
	code    Code
	cp      func(tC float64) float64
	density func(tC float64) float64
	table   [][]float64
}

// New resolves a library fluid.
func New(code Code) (Fluid, error) {
	c, ok := library[code]
	if !ok {
		return Fluid{}, fmt.Errorf("%w: %d", ErrUnknownFluid, int(code))
	}
	return Fluid{code: code, cp: c.cp, density: c.density}, nil
}

// NewUserDefined builds a fluid from a property table, one row per temperature.
func NewUserDefined(table [][]float64) (Fluid, error) {
	if len(table) < minTableRows || !allRowsHave(table, tableColumns) {
		return Fluid{}, fmt.Errorf("%w: the table must contain at least %d rows and exactly %d columns, got %d row(s) and %d column(s)",
			ErrMalformedTable, minTableRows, tableColumns, len(table), columns(table))
	}

	ts := column(table, ColTemperature)
	var cp, rho interp.PiecewiseLinear
	if err := cp.Fit(ts, column(table, ColCp)); err != nil {
		return Fluid{}, fmt.Errorf("%w: temperatures must be strictly increasing: %v", ErrMalformedTable, err)
	}
	if err := rho.Fit(ts, column(table, ColDensity)); err != nil {
		return Fluid{}, fmt.Errorf("%w: temperatures must be strictly increasing: %v", ErrMalformedTable, err)
	}

	owned := make([][]float64, len(table))
	for i, row := range table {
		owned[i] = slices.Clone(row)
	}
	return Fluid{
		code:    UserDefined,
		cp:      cp.Predict,
		density: rho.Predict,
		table:   owned,
	}, nil
}

// Resolve picks the library correlation for code, or builds a user defined
// fluid from table when code is UserDefined.
func Resolve(code Code, table [][]float64) (Fluid, error) {
	if code == UserDefined {
		return NewUserDefined(table)
	}
	return New(code)
}

func (f Fluid) Code() Code { return f.code }

// Cp returns the specific heat [kJ/kg-K] at tK [K].
func (f Fluid) Cp(tK float64) float64 {
	return f.cp(tK - kelvinOffset)
}

// Density returns the density [kg/m3] at tK [K].
func (f Fluid) Density(tK float64) float64 {
	return f.density(tK - kelvinOffset)
}

// Equal reports whether both descriptors describe the same substance.
func (f Fluid) Equal(o Fluid) bool {
	if f.code != o.code {
		return false
	}
	if f.code != UserDefined {
		return true
	}
	return slices.EqualFunc(f.table, o.table, func(a, b []float64) bool {
		return slices.Equal(a, b)
	})
}

func allRowsHave(table [][]float64, n int) bool {
	for _, row := range table {
		if len(row) != n {
			return false
		}
	}
	return true
}

func columns(table [][]float64) int {
	if len(table) == 0 {
		return 0
	}
	return len(table[0])
}

func column(table [][]float64, c int) []float64 {
	out := make([]float64, len(table))
	for i, row := range table {
		out[i] = row[c]
	}
	return out
}
