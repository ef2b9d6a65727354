package htf

import "errors"

var (
	ErrUnknownFluid   = errors.New("fluid code is not recognized")
	ErrMalformedTable = errors.New("malformed user defined fluid table")
)
