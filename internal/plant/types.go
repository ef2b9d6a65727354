package plant

import (
	"fmt"
	"strings"
)

// Mode is an integer enum. Charge, Discharge and Idle double as the action
// actually taken by a step.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeAuto
	ModeCharge
	ModeDischarge
	ModeIdle
)

func (m Mode) Valid() bool {
	return m == ModeAuto || m == ModeCharge || m == ModeDischarge || m == ModeIdle
}

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeCharge:
		return "charge"
	case ModeDischarge:
		return "discharge"
	case ModeIdle:
		return "idle"
	default:
		return "unknown"
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto":
		return ModeAuto, nil
	case "charge":
		return ModeCharge, nil
	case "discharge":
		return ModeDischarge, nil
	case "idle":
		return ModeIdle, nil
	default:
		return ModeUnknown, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}
