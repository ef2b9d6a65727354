package httpctrl

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Agrid-Dev/twotank/internal/plant"
	"github.com/Agrid-Dev/twotank/internal/ports"
	"github.com/Agrid-Dev/twotank/internal/tes"
)

type Server struct {
	svc      ports.PlantService
	srv      *http.Server
	deviceID string
}

// New returns a runnable server.
func New(svc ports.PlantService, addr string, deviceID string) *Server {
	mux := http.NewServeMux()
	s := &Server{svc: svc, deviceID: deviceID}

	// Read
	mux.HandleFunc("GET /v1", s.handleGet)

	// Write: one endpoint per input
	mux.HandleFunc("POST /v1/enabled", s.handlePostEnabled)
	mux.HandleFunc("POST /v1/mode", s.handlePostMode)
	mux.HandleFunc("POST /v1/field_mass_flow", s.handlePostFieldMassFlow)
	mux.HandleFunc("POST /v1/field_temperature", s.handlePostFieldTemperature)
	mux.HandleFunc("POST /v1/ambient_temperature", s.handlePostAmbientTemperature)
	mux.HandleFunc("POST /v1/timestep", s.handlePostTimestep)

	// Advance one timestep out of band of the ticker
	mux.HandleFunc("POST /v1/step", s.handlePostStep)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// ---- DTOs ----

type snapshotDTO struct {
	DeviceID               string  `json:"device_id"`
	Enabled                bool    `json:"enabled"`
	Mode                   string  `json:"mode"`
	FieldMassFlow          float64 `json:"field_mass_flow"`
	FieldTemperature       float64 `json:"field_temperature"`
	AmbientTemperature     float64 `json:"ambient_temperature"`
	Timestep               float64 `json:"timestep"`
	Hour                   int     `json:"hour"`
	Action                 string  `json:"action"`
	AppliedMassFlow        float64 `json:"applied_mass_flow"`
	FieldOutletTemperature float64 `json:"field_outlet_temperature"`
	Duty                   float64 `json:"duty_mw"`
	HeaterPower            float64 `json:"heater_power_mw"`
	Loss                   float64 `json:"loss_mw"`
	HotVolume              float64 `json:"hot_volume"`
	HotTemperature         float64 `json:"hot_temperature"`
	ColdVolume             float64 `json:"cold_volume"`
	ColdTemperature        float64 `json:"cold_temperature"`
}

func toDTO(s plant.Snapshot) snapshotDTO {
	return snapshotDTO{
		Enabled:                s.Enabled,
		Mode:                   s.Mode.String(),
		FieldMassFlow:          s.FieldMassFlow,
		FieldTemperature:       s.FieldTemperature,
		AmbientTemperature:     s.AmbientTemperature,
		Timestep:               s.Timestep,
		Hour:                   s.Hour,
		Action:                 s.Action.String(),
		AppliedMassFlow:        s.AppliedMassFlow,
		FieldOutletTemperature: s.FieldOutletTemperature,
		Duty:                   s.Duty,
		HeaterPower:            s.HeaterPower,
		Loss:                   s.Loss,
		HotVolume:              s.HotVolume,
		HotTemperature:         s.HotTemperature,
		ColdVolume:             s.ColdVolume,
		ColdTemperature:        s.ColdTemperature,
	}
}

type recordDTO struct {
	Hour                   int     `json:"hour"`
	Action                 string  `json:"action"`
	FieldMassFlow          float64 `json:"field_mass_flow"`
	FieldOutletTemperature float64 `json:"field_outlet_temperature"`
	StoreMassFlow          float64 `json:"store_mass_flow"`
	Duty                   float64 `json:"duty_mw"`
	HeaterPower            float64 `json:"heater_power_mw"`
	Loss                   float64 `json:"loss_mw"`
	Iterations             int     `json:"iterations"`
}

// ---- Handlers ----

func (s *Server) handleGet(w http.ResponseWriter, _ *http.Request) {
	s.respondSnapshot(w)
}

func (s *Server) handlePostEnabled(w http.ResponseWriter, r *http.Request) {
	postValue(s, w, r, func(v bool) error {
		s.svc.SetEnabled(v)
		return nil
	})
}

func (s *Server) handlePostMode(w http.ResponseWriter, r *http.Request) {
	// body: {"value": "discharge"}
	postValue(s, w, r, func(v string) error {
		m, err := plant.ParseMode(v)
		if err != nil {
			return err
		}
		return s.svc.SetMode(m)
	})
}

func (s *Server) handlePostFieldMassFlow(w http.ResponseWriter, r *http.Request) {
	postValue(s, w, r, s.svc.SetFieldMassFlow)
}

func (s *Server) handlePostFieldTemperature(w http.ResponseWriter, r *http.Request) {
	postValue(s, w, r, s.svc.SetFieldTemperature)
}

func (s *Server) handlePostAmbientTemperature(w http.ResponseWriter, r *http.Request) {
	postValue(s, w, r, s.svc.SetAmbientTemperature)
}

func (s *Server) handlePostTimestep(w http.ResponseWriter, r *http.Request) {
	postValue(s, w, r, s.svc.SetTimestep)
}

func (s *Server) handlePostStep(w http.ResponseWriter, _ *http.Request) {
	rec, err := s.svc.Step()
	if err != nil {
		code := http.StatusInternalServerError
		if tes.KindOf(err) != tes.KindNone {
			code = http.StatusUnprocessableEntity
		}
		writeErr(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recordDTO{
		Hour:                   rec.Hour,
		Action:                 rec.Action.String(),
		FieldMassFlow:          rec.FieldMassFlow,
		FieldOutletTemperature: rec.FieldOutletTemperature,
		StoreMassFlow:          rec.StoreMassFlow,
		Duty:                   rec.Duty,
		HeaterPower:            rec.HeaterPower,
		Loss:                   rec.Loss,
		Iterations:             rec.Iterations,
	})
}

// ---- generic helpers ----
func (s *Server) respondSnapshot(w http.ResponseWriter) {
	dto := toDTO(s.svc.Get())
	dto.DeviceID = s.deviceID
	writeJSON(w, http.StatusOK, dto)
}

func postValue[T any](s *Server, w http.ResponseWriter, r *http.Request, apply func(T) error) {
	dec := json.NewDecoder(r.Body)
	var req struct {
		Value *T `json:"value"`
	}
	if err := dec.Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Value == nil {
		writeErr(w, http.StatusBadRequest, "missing field 'value'")
		return
	}

	if err := apply(*req.Value); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	s.respondSnapshot(w)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
