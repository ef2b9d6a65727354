package plant

import "errors"

var (
	ErrInvalidMode        = errors.New("invalid mode")
	ErrInvalidTimestep    = errors.New("timestep must be strictly positive")
	ErrNegativeMassFlow   = errors.New("field mass flow must not be negative")
	ErrInvalidTemperature = errors.New("temperatures must be strictly positive absolute values")
	ErrInvalidProfile     = errors.New("invalid diurnal profile")
)

var ErrNoProfile = errors.New("auto mode requires a diurnal profile")
