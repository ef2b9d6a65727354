package tes

import (
	"errors"

	"github.com/Agrid-Dev/twotank/internal/htf"
)

// Kind classifies failures so a driver can tell bad plant input apart from a
// solver running outside its valid envelope.
type Kind int

const (
	KindNone Kind = iota
	KindConfiguration
	KindPhysical
	KindConvergence
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindPhysical:
		return "physical"
	case KindConvergence:
		return "convergence"
	default:
		return "none"
	}
}

var (
	ErrConfiguration = errors.New("configuration error")
	ErrPhysical      = errors.New("physical validity violation")
	ErrConvergence   = errors.New("solver did not converge")
)

var (
	ErrCapacityRatio       = kindError(ErrConfiguration, "heat exchanger design calculations failed: capacity ratio outside [0,1]")
	ErrDesignEffectiveness = kindError(ErrConfiguration, "heat exchanger design calculations failed: design effectiveness outside (0,1]")
	ErrInvalidTank         = kindError(ErrConfiguration, "invalid tank geometry")
	ErrInvalidInitialState = kindError(ErrConfiguration, "invalid initial tank state")
	ErrOffDesign           = kindError(ErrPhysical, "off design heat exchanger failed: effectiveness outside (0,1]")
	ErrNotConverged        = kindError(ErrConvergence, "outlet temperature iteration did not converge")
)

type wrapped struct {
	kind error
	msg  string
}

func kindError(kind error, msg string) error { return &wrapped{kind: kind, msg: msg} }

func (w *wrapped) Error() string { return w.msg }
func (w *wrapped) Unwrap() error { return w.kind }

// KindOf reports which class err belongs to. Fluid resolution failures count
// as configuration errors.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrConfiguration),
		errors.Is(err, htf.ErrUnknownFluid),
		errors.Is(err, htf.ErrMalformedTable):
		return KindConfiguration
	case errors.Is(err, ErrPhysical):
		return KindPhysical
	case errors.Is(err, ErrConvergence):
		return KindConvergence
	default:
		return KindNone
	}
}
