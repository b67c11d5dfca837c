//go:build !linux

package hardware

import (
	"reflow-oven-go/pkg/errs"
	"reflow-oven-go/pkg/log"
)

// RealConfig overrides the board wiring. Unused off Linux.
type RealConfig struct {
	GPIOChip   string
	RelayPins  [NumRelays]int
	SPIDevices [NumThermocouples]string
	PWMChip    string
}

// DefaultRealConfig returns zero wiring off Linux.
func DefaultRealConfig() RealConfig { return RealConfig{} }

// Real is unavailable off Linux; use the Fake.
type Real struct{}

// NewReal always fails off Linux.
func NewReal(cfg RealConfig, logger *log.Logger) (*Real, error) {
	return nil, errs.New(errs.KindIoFailed, "oven hardware requires linux gpio/spi support")
}

func (r *Real) ReadThermocouple(channel int) float64  { return ThermocoupleErrorValue }
func (r *Real) SetRelay(index int, on bool) error     { return errs.New(errs.KindIoFailed, "no hardware") }
func (r *Real) RelayState(index int) bool             { return false }
func (r *Real) RelayBitmask() uint8                   { return 0 }
func (r *Real) SetServoAngle(deg float64) error       { return errs.New(errs.KindIoFailed, "no hardware") }
func (r *Real) ServoAngle() float64                   { return 0 }
func (r *Real) Close() error                          { return nil }
