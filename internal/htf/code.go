package htf

import (
	"fmt"
	"strings"
)

// Code identifies a heat transfer fluid. Values follow the usual CSP fluid
// numbering so that plant files written for other tools keep their meaning.
type Code int

const (
	Unknown      Code = 0
	Water        Code = 3
	NitrateSalt  Code = 18
	HitecXL      Code = 20
	TherminolVP1 Code = 21
	Hitec        Code = 22
	DowthermQ    Code = 23
	Therminol66  Code = 29
	UserDefined  Code = 50
)

var codeNames = map[Code]string{
	Water:        "water",
	NitrateSalt:  "nitrate_salt",
	HitecXL:      "hitec_xl",
	TherminolVP1: "therminol_vp1",
	Hitec:        "hitec",
	DowthermQ:    "dowtherm_q",
	Therminol66:  "therminol_66",
	UserDefined:  "user_defined",
}

func (c Code) Valid() bool {
	_, ok := codeNames[c]
	return ok
}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return "unknown"
}

// ParseCode accepts the fluid name as used in configuration files.
func ParseCode(s string) (Code, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for c, n := range codeNames {
		if n == s {
			return c, nil
		}
	}
	return Unknown, fmt.Errorf("%w: %q", ErrUnknownFluid, s)
}
