package plant

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/Agrid-Dev/twotank/internal/tes"
)

// Storage is the part of tes.TwoTank the plant drives.
type Storage interface {
	Exists() bool
	ChargeAvailEstimate(tHotField, timestep float64) (tes.Estimate, error)
	DischargeAvailEstimate(tColdField, timestep float64) (tes.Estimate, error)
	Charge(timestep, tAmb, mDotField, tFieldHotIn float64) (tes.Outputs, error)
	Discharge(timestep, tAmb, mDotField, tFieldColdIn float64) (tes.Outputs, error)
	Idle(timestep, tAmb float64) tes.Outputs
	Converged()
	State() tes.State
}

// Recorder receives every committed step.
type Recorder interface {
	Record(Record) error
}

// Snapshot holds the operator inputs followed by the outcome of the last step.
type Snapshot struct {
	Enabled            bool
	Mode               Mode
	FieldMassFlow      float64 // [kg/s] requested, ignored in auto
	FieldTemperature   float64 // [K] field outlet when charging, return when discharging
	AmbientTemperature float64 // [K]
	Timestep           float64 // [s]

	Hour                   int
	Action                 Mode
	AppliedMassFlow        float64 // [kg/s] after clamping to the available flow
	FieldOutletTemperature float64 // [K]
	Duty                   float64 // [MW]
	HeaterPower            float64 // [MW]
	Loss                   float64 // [MW]
	HotVolume              float64 // [m3]
	HotTemperature         float64 // [K]
	ColdVolume             float64 // [m3]
	ColdTemperature        float64 // [K]
}

// Record is one committed timestep.
type Record struct {
	Hour                   int
	Action                 Mode
	AmbientTemperature     float64 // [K]
	FieldMassFlow          float64 // [kg/s] applied
	FieldTemperature       float64 // [K]
	FieldOutletTemperature float64 // [K]
	StoreMassFlow          float64 // [kg/s]
	Duty                   float64 // [MW]
	HeaterPower            float64 // [MW]
	Loss                   float64 // [MW]
	HotVolume              float64 // [m3]
	HotTemperature         float64 // [K]
	HotMass                float64 // [kg]
	ColdVolume             float64 // [m3]
	ColdTemperature        float64 // [K]
	ColdMass               float64 // [kg]
	Iterations             int
}

// Plant is the external time-stepping driver around a two-tank store. Each
// Step runs estimate, then charge, discharge or idle, then commit.
type Plant struct {
	mu sync.RWMutex
	s  Snapshot

	stepMu   sync.Mutex
	store    Storage
	profile  *Profile
	recorder Recorder
	logger   *slog.Logger
}

// New validates the initial snapshot. profile may be nil when auto mode is
// never used; a nil logger discards output.
func New(initial Snapshot, store Storage, profile *Profile, logger *slog.Logger) (*Plant, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &Plant{store: store, profile: profile, logger: logger}
	if err := p.validateSnapshot(initial); err != nil {
		return nil, err
	}
	p.s = initial
	p.s.Action = ModeIdle
	p.refreshTanks(store.State())
	return p, nil
}

func (p *Plant) validateSnapshot(s Snapshot) error {
	if !s.Mode.Valid() {
		return ErrInvalidMode
	}
	if s.Mode == ModeAuto && p.profile == nil {
		return ErrNoProfile
	}
	if !(s.Timestep > 0) {
		return ErrInvalidTimestep
	}
	if s.FieldMassFlow < 0 {
		return ErrNegativeMassFlow
	}
	if !(s.FieldTemperature > 0) || !(s.AmbientTemperature > 0) {
		return ErrInvalidTemperature
	}
	return nil
}

// SetRecorder attaches r to every following step.
func (p *Plant) SetRecorder(r Recorder) {
	p.stepMu.Lock()
	defer p.stepMu.Unlock()
	p.recorder = r
}

func (p *Plant) Get() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.s
}

func (p *Plant) SetEnabled(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.s.Enabled = on
}

func (p *Plant) SetMode(m Mode) error {
	if !m.Valid() {
		return ErrInvalidMode
	}
	if m == ModeAuto && p.profile == nil {
		return ErrNoProfile
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.s.Mode = m
	return nil
}

func (p *Plant) SetFieldMassFlow(v float64) error {
	if v < 0 || math.IsNaN(v) {
		return ErrNegativeMassFlow
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.s.FieldMassFlow = v
	return nil
}

func (p *Plant) SetFieldTemperature(v float64) error {
	if !(v > 0) {
		return ErrInvalidTemperature
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.s.FieldTemperature = v
	return nil
}

func (p *Plant) SetAmbientTemperature(v float64) error {
	if !(v > 0) {
		return ErrInvalidTemperature
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.s.AmbientTemperature = v
	return nil
}

func (p *Plant) SetTimestep(v float64) error {
	if !(v > 0) {
		return ErrInvalidTimestep
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.s.Timestep = v
	return nil
}

func (p *Plant) conditions(s Snapshot) Conditions {
	if s.Mode == ModeAuto {
		return p.profile.At(s.Hour)
	}
	return Conditions{
		Mode:               s.Mode,
		FieldMassFlow:      s.FieldMassFlow,
		FieldTemperature:   s.FieldTemperature,
		AmbientTemperature: s.AmbientTemperature,
	}
}

// Step advances the store by one timestep. On error nothing is committed and
// the same hour can be retried.
func (p *Plant) Step() (Record, error) {
	p.stepMu.Lock()
	defer p.stepMu.Unlock()

	in := p.Get()
	c := p.conditions(in)

	rec, err := p.solve(c, in.Timestep)
	if err != nil {
		p.logger.Error("step failed", "hour", in.Hour, "mode", c.Mode.String(), "kind", tes.KindOf(err).String(), "err", err)
		return Record{}, fmt.Errorf("step hour %d: %w", in.Hour, err)
	}
	p.store.Converged()

	st := p.store.State()
	rec.Hour = in.Hour
	rec.HotVolume, rec.HotTemperature, rec.HotMass = st.Hot.Volume, st.Hot.Temperature, st.Hot.Mass
	rec.ColdVolume, rec.ColdTemperature, rec.ColdMass = st.Cold.Volume, st.Cold.Temperature, st.Cold.Mass

	p.mu.Lock()
	p.s.Hour = in.Hour + 1
	p.s.Action = rec.Action
	p.s.AppliedMassFlow = rec.FieldMassFlow
	p.s.FieldOutletTemperature = rec.FieldOutletTemperature
	p.s.Duty = rec.Duty
	p.s.HeaterPower = rec.HeaterPower
	p.s.Loss = rec.Loss
	if in.Mode == ModeAuto {
		p.s.AmbientTemperature = c.AmbientTemperature
	}
	p.refreshTanks(st)
	p.mu.Unlock()

	p.logger.Debug("step committed", "hour", rec.Hour, "action", rec.Action.String(), "duty_mw", rec.Duty, "iterations", rec.Iterations)

	if p.recorder != nil {
		if err := p.recorder.Record(rec); err != nil {
			p.logger.Error("recording step failed", "hour", rec.Hour, "err", err)
			return rec, fmt.Errorf("record hour %d: %w", rec.Hour, err)
		}
	}
	return rec, nil
}

// solve runs the estimate and the final charge, discharge or idle evaluation.
// The requested field flow is clamped to the flow the estimate reports.
func (p *Plant) solve(c Conditions, dt float64) (Record, error) {
	rec := Record{
		Action:             c.Mode,
		AmbientTemperature: c.AmbientTemperature,
		FieldTemperature:   c.FieldTemperature,
	}

	mDot := c.FieldMassFlow
	var (
		out tes.Outputs
		est tes.Estimate
		err error
	)
	switch c.Mode {
	case ModeCharge:
		if est, err = p.store.ChargeAvailEstimate(c.FieldTemperature, dt); err != nil {
			return Record{}, err
		}
		if mDot = math.Min(mDot, est.FieldMassFlow); mDot > 0 {
			out, err = p.store.Charge(dt, c.AmbientTemperature, mDot, c.FieldTemperature)
		}
	case ModeDischarge:
		if est, err = p.store.DischargeAvailEstimate(c.FieldTemperature, dt); err != nil {
			return Record{}, err
		}
		if mDot = math.Min(mDot, est.FieldMassFlow); mDot > 0 {
			out, err = p.store.Discharge(dt, c.AmbientTemperature, mDot, c.FieldTemperature)
		}
	default:
		mDot = 0
	}
	if err != nil {
		return Record{}, err
	}

	if !(mDot > 0) {
		rec.Action = ModeIdle
		mDot = 0
		out = p.store.Idle(dt, c.AmbientTemperature)
	}

	rec.FieldMassFlow = mDot
	rec.FieldOutletTemperature = out.FieldOutletT
	rec.StoreMassFlow = out.StoreMassFlow
	rec.Duty = out.Duty
	rec.HeaterPower = out.HeaterPower
	rec.Loss = out.Loss
	rec.Iterations = out.Iterations
	return rec, nil
}

func (p *Plant) refreshTanks(st tes.State) {
	p.s.HotVolume, p.s.HotTemperature = st.Hot.Volume, st.Hot.Temperature
	p.s.ColdVolume, p.s.ColdTemperature = st.Cold.Volume, st.Cold.Temperature
}

// Simulate runs steps back to back and returns how many were committed.
func (p *Plant) Simulate(ctx context.Context, steps int) (int, error) {
	for i := range steps {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if _, err := p.Step(); err != nil {
			return i, err
		}
	}
	return steps, nil
}

// Run steps the plant on every tick while it is enabled.
func (p *Plant) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !p.Get().Enabled {
				continue
			}
			// failures are logged by Step; the next tick retries the same hour
			_, _ = p.Step()
		}
	}
}
