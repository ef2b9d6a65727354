package recorder

import (
	"errors"

	"github.com/Agrid-Dev/twotank/internal/plant"
)

// Multi fans every record out to all recorders and joins their errors.
type Multi []plant.Recorder

func (m Multi) Record(rec plant.Record) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
