package device

import (
	"github.com/google/uuid"

	"github.com/Agrid-Dev/twotank/internal/plant"
)

// Device binds a plant to its configured identity. RunID is fresh for every
// process so recorded runs of the same device stay apart.
type Device struct {
	ID    string
	RunID string
	P     *plant.Plant
}

func New(id string, p *plant.Plant) *Device {
	return &Device{ID: id, RunID: uuid.NewString(), P: p}
}
