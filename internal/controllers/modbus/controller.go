package modbusctrl

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	mbserver "github.com/tbrandon/mbserver"

	"github.com/Agrid-Dev/twotank/internal/plant"
	"github.com/Agrid-Dev/twotank/internal/ports"
)

// Register map:
//
//	coils    0 enabled (rw), 1 step trigger (write 0xFF00)
//	holding  0 mode, 1 field mass flow, 2 field temperature, 3 ambient temperature, 4 timestep [s]
//	input    0-1 hour (uint32), 2 last action, 3 duty, 4 heater power, 5 loss,
//	         6 field outlet temperature, 7 hot volume [m3], 8 hot temperature,
//	         9 cold volume [m3], 10 cold temperature
const (
	coilEnabled = 0
	coilStep    = 1
	coilCount   = 2

	hrMode               = 0
	hrFieldMassFlow      = 1
	hrFieldTemperature   = 2
	hrAmbientTemperature = 3
	hrTimestep           = 4
	hrCount              = 5

	irHourHigh        = 0
	irHourLow         = 1
	irAction          = 2
	irDuty            = 3
	irHeaterPower     = 4
	irLoss            = 5
	irFieldOutletT    = 6
	irHotVolume       = 7
	irHotTemperature  = 8
	irColdVolume      = 9
	irColdTemperature = 10
	irCount           = 11
)

// Fixed point scales; registers are unsigned.
const (
	TemperatureScale = 10  // [K]
	MassFlowScale    = 10  // [kg/s]
	PowerScale       = 100 // [MW]
)

// Config for the Modbus controller.
type Config struct {
	DeviceID string
	Addr     string
	UnitID   byte // UnitID (Modbus slave/unit ID). Use an integer 1..247.
	// SyncInterval retained in config to preserve API but unused when reads are handled by custom handlers.
	SyncInterval time.Duration
	Logger       *slog.Logger
}

type Controller struct {
	svc ports.PlantService
	cfg Config

	serv *mbserver.Server
}

func New(svc ports.PlantService, cfg Config) (*Controller, error) {
	if cfg.UnitID == 0 {
		return nil, errors.New("modbus: UnitID is required (non-zero)")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:1502"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Controller{svc: svc, cfg: cfg}, nil
}

// Run starts the Modbus server and registers handlers that apply writes immediately and
// provide reads directly from the plant service. It blocks until ctx is canceled.
func (c *Controller) Run(ctx context.Context) error {
	serv := mbserver.NewServer()
	c.serv = serv

	// Register handlers BEFORE starting the TCP listener to avoid races inside mbserver
	// between handler registration and the server's goroutines.
	serv.RegisterFunctionHandler(1, c.readCoils)
	serv.RegisterFunctionHandler(3, func(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		return c.readRegisters(frame.GetData(), hrCount, holdingRegister)
	})
	serv.RegisterFunctionHandler(4, func(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		return c.readRegisters(frame.GetData(), irCount, inputRegister)
	})
	serv.RegisterFunctionHandler(5, c.writeSingleCoil)
	serv.RegisterFunctionHandler(6, c.writeSingleRegister)
	serv.RegisterFunctionHandler(16, c.writeMultipleRegisters)

	// Now start listening after all handlers are registered.
	if err := serv.ListenTCP(c.cfg.Addr); err != nil {
		return fmt.Errorf("mbserver listen tcp %s: %w", c.cfg.Addr, err)
	}

	// Block until ctx.Done()
	<-ctx.Done()
	serv.Close()
	return ctx.Err()
}

// Read Coils (function 1)
func (c *Controller) readCoils(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	start := int(binary.BigEndian.Uint16(data[0:2]))
	qty := int(binary.BigEndian.Uint16(data[2:4]))
	if qty == 0 || qty > 2000 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	if start+qty > coilCount {
		return []byte{}, &mbserver.IllegalDataAddress
	}
	// the step coil always reads back as off
	var bits byte
	if start == coilEnabled && c.svc.Get().Enabled {
		bits = 0x01
	}
	return []byte{1, bits}, &mbserver.Success
}

// Write Single Coil (function 5)
func (c *Controller) writeSingleCoil(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	addr := binary.BigEndian.Uint16(data[0:2])
	value := binary.BigEndian.Uint16(data[2:4])

	var on bool
	switch value {
	case 0x0000:
		on = false
	case 0xFF00:
		on = true
	default:
		return []byte{}, &mbserver.IllegalDataValue
	}

	switch addr {
	case coilEnabled:
		c.svc.SetEnabled(on)
	case coilStep:
		if on {
			if _, err := c.svc.Step(); err != nil {
				c.cfg.Logger.Warn("modbus step failed", "err", err)
				return []byte{}, &mbserver.SlaveDeviceFailure
			}
		}
	default:
		return []byte{}, &mbserver.IllegalDataAddress
	}

	// echo request (address + value)
	resp := make([]byte, 4)
	copy(resp, data[0:4])
	return resp, &mbserver.Success
}

// Write Single Register (function 6)
func (c *Controller) writeSingleRegister(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	addr := binary.BigEndian.Uint16(data[0:2])
	value := binary.BigEndian.Uint16(data[2:4])

	if exc := c.writeHolding(int(addr), value); exc != nil {
		return []byte{}, exc
	}

	resp := make([]byte, 4)
	copy(resp, data[0:4])
	return resp, &mbserver.Success
}

// Write Multiple Registers (function 16)
func (c *Controller) writeMultipleRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	d := frame.GetData()
	if len(d) < 5 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	start := binary.BigEndian.Uint16(d[0:2])
	quantity := binary.BigEndian.Uint16(d[2:4])
	byteCount := int(d[4])
	if byteCount != int(quantity)*2 || len(d) < 5+byteCount {
		return []byte{}, &mbserver.IllegalDataValue
	}
	for i := 0; i < int(quantity); i++ {
		val := binary.BigEndian.Uint16(d[5+i*2 : 5+i*2+2])
		if exc := c.writeHolding(int(start)+i, val); exc != nil {
			return []byte{}, exc
		}
	}

	resp := make([]byte, 4)
	binary.BigEndian.PutUint16(resp[0:2], start)
	binary.BigEndian.PutUint16(resp[2:4], quantity)
	return resp, &mbserver.Success
}

func (c *Controller) writeHolding(addr int, value uint16) *mbserver.Exception {
	var err error
	switch addr {
	case hrMode:
		err = c.svc.SetMode(plant.Mode(value))
	case hrFieldMassFlow:
		err = c.svc.SetFieldMassFlow(decodeScaled(value, MassFlowScale))
	case hrFieldTemperature:
		err = c.svc.SetFieldTemperature(decodeScaled(value, TemperatureScale))
	case hrAmbientTemperature:
		err = c.svc.SetAmbientTemperature(decodeScaled(value, TemperatureScale))
	case hrTimestep:
		err = c.svc.SetTimestep(float64(value))
	default:
		return &mbserver.IllegalDataAddress
	}
	if err != nil {
		c.cfg.Logger.Warn("modbus write rejected", "register", addr, "value", value, "err", err)
		return &mbserver.IllegalDataValue
	}
	return nil
}

func holdingRegister(addr int, s plant.Snapshot) uint16 {
	switch addr {
	case hrMode:
		return uint16(s.Mode)
	case hrFieldMassFlow:
		return encodeScaled(s.FieldMassFlow, MassFlowScale)
	case hrFieldTemperature:
		return encodeScaled(s.FieldTemperature, TemperatureScale)
	case hrAmbientTemperature:
		return encodeScaled(s.AmbientTemperature, TemperatureScale)
	default: // hrTimestep
		return encodeScaled(s.Timestep, 1)
	}
}

func inputRegister(addr int, s plant.Snapshot) uint16 {
	switch addr {
	case irHourHigh:
		return uint16(uint32(s.Hour) >> 16)
	case irHourLow:
		return uint16(uint32(s.Hour))
	case irAction:
		return uint16(s.Action)
	case irDuty:
		return encodeScaled(s.Duty, PowerScale)
	case irHeaterPower:
		return encodeScaled(s.HeaterPower, PowerScale)
	case irLoss:
		return encodeScaled(s.Loss, PowerScale)
	case irFieldOutletT:
		return encodeScaled(s.FieldOutletTemperature, TemperatureScale)
	case irHotVolume:
		return encodeScaled(s.HotVolume, 1)
	case irHotTemperature:
		return encodeScaled(s.HotTemperature, TemperatureScale)
	case irColdVolume:
		return encodeScaled(s.ColdVolume, 1)
	default: // irColdTemperature
		return encodeScaled(s.ColdTemperature, TemperatureScale)
	}
}

// readRegisters serves function 3 and 4 requests for a contiguous block of
// count registers read from one snapshot.
func (c *Controller) readRegisters(data []byte, count int, get func(int, plant.Snapshot) uint16) ([]byte, *mbserver.Exception) {
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	start := int(binary.BigEndian.Uint16(data[0:2]))
	qty := int(binary.BigEndian.Uint16(data[2:4]))
	if qty == 0 || qty > 125 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	if start+qty > count {
		return []byte{}, &mbserver.IllegalDataAddress
	}

	snap := c.svc.Get()
	byteCount := qty * 2
	resp := make([]byte, 1+byteCount)
	resp[0] = byte(byteCount)
	for i := range qty {
		binary.BigEndian.PutUint16(resp[1+i*2:1+i*2+2], get(start+i, snap))
	}
	return resp, &mbserver.Success
}

func encodeScaled(v float64, scale int) uint16 {
	if math.IsNaN(v) {
		return 0
	}
	r := math.Round(v * float64(scale))
	return uint16(math.Min(math.Max(r, 0), math.MaxUint16))
}

func decodeScaled(u uint16, scale int) float64 {
	return float64(u) / float64(scale)
}
