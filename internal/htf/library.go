package htf

type correlation struct {
	cp      func(tC float64) float64 // [kJ/kg-K]
	density func(tC float64) float64 // [kg/m3]
}

// Liquid-phase correlations, temperatures in C.
var library = map[Code]correlation{
	Water: {
		cp: func(float64) float64 { return 4.181 },
		density: func(t float64) float64 {
			return 1000.0 * (1 - (t+288.9414)/(508929.2*(t+68.12963))*(t-3.9863)*(t-3.9863))
		},
	},
	NitrateSalt: {
		cp:      func(t float64) float64 { return (1443.0 + 0.172*t) / 1000.0 },
		density: func(t float64) float64 { return 2090.0 - 0.636*t },
	},
	HitecXL: {
		cp:      func(t float64) float64 { return (1536.0 - 0.2624*t - 0.0001139*t*t) / 1000.0 },
		density: func(t float64) float64 { return 2240.0 - 0.8266*t },
	},
	TherminolVP1: {
		cp:      func(t float64) float64 { return 1.509 + 0.002496*t + 0.0000007888*t*t },
		density: func(t float64) float64 { return 1074.0 - 0.6367*t - 0.0007762*t*t },
	},
	Hitec: {
		cp:      func(float64) float64 { return 1.56 },
		density: func(t float64) float64 { return 2080.0 - 0.733*t },
	},
	DowthermQ: {
		cp:      func(t float64) float64 { return 1.52 + 0.00281914*t },
		density: func(t float64) float64 { return 980.787 - 0.757332*t },
	},
	Therminol66: {
		cp:      func(t float64) float64 { return 1.496 + 0.003599*t },
		density: func(t float64) float64 { return 1020.62 - 0.614254*t - 0.000321*t*t },
	},
}
