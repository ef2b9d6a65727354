package modbusctrl

import (
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/goburrow/modbus"

	"github.com/Agrid-Dev/twotank/internal/plant"
)

// fake service for tests
type spyPlantService struct {
	mu sync.Mutex
	s  plant.Snapshot

	// record calls
	setEnabledCalls       []bool
	setModeCalls          []plant.Mode
	setFieldMassFlowCalls []float64
	setFieldTempCalls     []float64
	setAmbientCalls       []float64
	setTimestepCalls      []float64
	stepCalls             int
}

func (f *spyPlantService) Get() plant.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s
}
func (f *spyPlantService) SetEnabled(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.s.Enabled = v
	f.setEnabledCalls = append(f.setEnabledCalls, v)
}
func (f *spyPlantService) SetMode(m plant.Mode) error {
	if !m.Valid() {
		return plant.ErrInvalidMode
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.s.Mode = m
	f.setModeCalls = append(f.setModeCalls, m)
	return nil
}
func (f *spyPlantService) SetFieldMassFlow(v float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.s.FieldMassFlow = v
	f.setFieldMassFlowCalls = append(f.setFieldMassFlowCalls, v)
	return nil
}
func (f *spyPlantService) SetFieldTemperature(v float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.s.FieldTemperature = v
	f.setFieldTempCalls = append(f.setFieldTempCalls, v)
	return nil
}
func (f *spyPlantService) SetAmbientTemperature(v float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.s.AmbientTemperature = v
	f.setAmbientCalls = append(f.setAmbientCalls, v)
	return nil
}
func (f *spyPlantService) SetTimestep(v float64) error {
	if v <= 0 {
		return plant.ErrInvalidTimestep
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.s.Timestep = v
	f.setTimestepCalls = append(f.setTimestepCalls, v)
	return nil
}
func (f *spyPlantService) Step() (plant.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stepCalls++
	rec := plant.Record{Hour: f.s.Hour, Action: plant.ModeIdle}
	f.s.Hour++
	return rec, nil
}

func findFreeTCPAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("free port: %v", err)
	}
	a := l.Addr().String()
	_ = l.Close()
	return a
}

const SyncInterval = 50 * time.Millisecond

func startController(t *testing.T, fs *spyPlantService) modbus.Client {
	t.Helper()
	addr := findFreeTCPAddr(t)

	ctrl, err := New(fs, Config{
		DeviceID:     "dev",
		Addr:         addr,
		UnitID:       1,
		SyncInterval: SyncInterval,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := t.Context()
	go func() {
		_ = ctrl.Run(ctx)
	}()

	time.Sleep(SyncInterval)

	handler := modbus.NewTCPClientHandler(addr)
	if err := handler.Connect(); err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = handler.Close() })
	return modbus.NewClient(handler)
}

func newSpy() *spyPlantService {
	return &spyPlantService{s: plant.Snapshot{
		Enabled:                true,
		Mode:                   plant.ModeCharge,
		FieldMassFlow:          312.5,
		FieldTemperature:       664.15,
		AmbientTemperature:     298.15,
		Timestep:               3600,
		Hour:                   70001,
		Action:                 plant.ModeCharge,
		Duty:                   48.731,
		HeaterPower:            0,
		Loss:                   0.42,
		FieldOutletTemperature: 566.9,
		HotVolume:              4321.4,
		HotTemperature:         659.02,
		ColdVolume:             5702.2,
		ColdTemperature:        561.1,
	}}
}

func TestNewRequiresUnitID(t *testing.T) {
	if _, err := New(newSpy(), Config{}); err == nil {
		t.Fatal("expected error without unit id")
	}
	c, err := New(newSpy(), Config{UnitID: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.cfg.Addr != "127.0.0.1:1502" {
		t.Fatalf("expected default addr, got %q", c.cfg.Addr)
	}
}

func TestScaledRoundTrip(t *testing.T) {
	tests := []struct {
		v     float64
		scale int
		want  float64
	}{
		{664.13, TemperatureScale, 664.1},
		{312.5, MassFlowScale, 312.5},
		{0.42, PowerScale, 0.42},
		{-3, TemperatureScale, 0},
		{1e9, 1, 65535},
	}
	for _, tt := range tests {
		if got := decodeScaled(encodeScaled(tt.v, tt.scale), tt.scale); got != tt.want {
			t.Errorf("round trip of %v at scale %d = %v, want %v", tt.v, tt.scale, got, tt.want)
		}
	}
}

func TestModbusControllerHandlers(t *testing.T) {
	fs := newSpy()
	client := startController(t, fs)

	// Read holding registers 0..4
	res, err := client.ReadHoldingRegisters(0, hrCount)
	if err != nil {
		t.Fatalf("read holding: %v", err)
	}
	if len(res) != 2*hrCount {
		t.Fatalf("expected %d bytes got %d", 2*hrCount, len(res))
	}
	get := func(b []byte, i int) uint16 { return binary.BigEndian.Uint16(b[i*2 : i*2+2]) }
	if get(res, hrMode) != uint16(plant.ModeCharge) {
		t.Fatalf("mode mismatch")
	}
	if get(res, hrFieldMassFlow) != 3125 {
		t.Fatalf("field mass flow mismatch: %d", get(res, hrFieldMassFlow))
	}
	if get(res, hrFieldTemperature) != encodeScaled(664.15, TemperatureScale) {
		t.Fatalf("field temperature mismatch")
	}
	if get(res, hrTimestep) != 3600 {
		t.Fatalf("timestep mismatch: %d", get(res, hrTimestep))
	}

	// Input registers
	in, err := client.ReadInputRegisters(0, irCount)
	if err != nil {
		t.Fatalf("read input: %v", err)
	}
	hour := uint32(get(in, irHourHigh))<<16 | uint32(get(in, irHourLow))
	if hour != 70001 {
		t.Fatalf("hour mismatch: %d", hour)
	}
	if get(in, irDuty) != 4873 || get(in, irLoss) != 42 {
		t.Fatalf("power registers mismatch: duty=%d loss=%d", get(in, irDuty), get(in, irLoss))
	}
	if get(in, irHotVolume) != 4321 || get(in, irColdTemperature) != 5611 {
		t.Fatalf("tank registers mismatch")
	}

	// Out of range read
	if _, err := client.ReadInputRegisters(5, irCount); err == nil {
		t.Fatal("expected illegal address")
	}

	// Write field temperature register
	if _, err := client.WriteSingleRegister(hrFieldTemperature, 6500); err != nil {
		t.Fatalf("write register: %v", err)
	}
	time.Sleep(SyncInterval)
	fs.mu.Lock()
	if len(fs.setFieldTempCalls) == 0 || fs.setFieldTempCalls[len(fs.setFieldTempCalls)-1] != 650 {
		fs.mu.Unlock()
		t.Fatalf("SetFieldTemperature not called")
	}
	fs.mu.Unlock()

	// Invalid mode is rejected
	if _, err := client.WriteSingleRegister(hrMode, 99); err == nil {
		t.Fatal("expected illegal value for unknown mode")
	}

	// Write coil 0 disabled
	if _, err := client.WriteSingleCoil(coilEnabled, 0x0000); err != nil {
		t.Fatalf("write coil: %v", err)
	}
	time.Sleep(SyncInterval)
	fs.mu.Lock()
	if len(fs.setEnabledCalls) == 0 || fs.setEnabledCalls[len(fs.setEnabledCalls)-1] != false {
		fs.mu.Unlock()
		t.Fatalf("setEnabled not called")
	}
	fs.mu.Unlock()

	coils, err := client.ReadCoils(coilEnabled, 1)
	if err != nil {
		t.Fatalf("read coils: %v", err)
	}
	if len(coils) != 1 || coils[0]&0x01 != 0 {
		t.Fatalf("expected enabled coil off, got %v", coils)
	}
}

func TestModbusStepCoil(t *testing.T) {
	fs := newSpy()
	client := startController(t, fs)

	if _, err := client.WriteSingleCoil(coilStep, 0xFF00); err != nil {
		t.Fatalf("write step coil: %v", err)
	}
	if _, err := client.WriteSingleCoil(coilStep, 0x0000); err != nil {
		t.Fatalf("write step coil off: %v", err)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.stepCalls != 1 {
		t.Fatalf("expected one step, got %d", fs.stepCalls)
	}
}

func TestModbusWriteMultipleRegisters(t *testing.T) {
	fs := newSpy()
	client := startController(t, fs)

	values := make([]byte, 6)
	binary.BigEndian.PutUint16(values[0:2], 2000) // 200 kg/s
	binary.BigEndian.PutUint16(values[2:4], 5662) // 566.2 K
	binary.BigEndian.PutUint16(values[4:6], 2900) // 290 K
	if _, err := client.WriteMultipleRegisters(hrFieldMassFlow, 3, values); err != nil {
		t.Fatalf("write multiple: %v", err)
	}

	s := fs.Get()
	if s.FieldMassFlow != 200 || s.FieldTemperature != 566.2 || s.AmbientTemperature != 290 {
		t.Fatalf("unexpected snapshot after write: %+v", s)
	}

	zero := []byte{0, 0}
	if _, err := client.WriteMultipleRegisters(hrTimestep, 1, zero); err == nil {
		t.Fatal("expected zero timestep to be rejected")
	}
}
