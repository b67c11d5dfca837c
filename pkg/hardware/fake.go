package hardware

import (
	"sync"

	"reflow-oven-go/pkg/errs"
)

// Fake is a test double implementing IO with scriptable thermocouple
// values and recorded relay/servo commands.
type Fake struct {
	mu sync.Mutex

	temps  [NumThermocouples]float64
	relays [NumRelays]bool
	servo  float64

	// RelayLog records every SetRelay call in order.
	RelayLog []RelayCommand

	// ServoLog records every SetServoAngle call in order.
	ServoLog []float64

	// RelayError, if set, is returned by SetRelay.
	RelayError error

	// ServoError, if set, is returned by SetServoAngle.
	ServoError error

	closed bool
}

// RelayCommand is one recorded SetRelay invocation.
type RelayCommand struct {
	Index int
	On    bool
}

// NewFake creates a Fake with all thermocouples reporting the given
// initial temperature.
func NewFake(initialTemp float64) *Fake {
	f := &Fake{}
	for i := range f.temps {
		f.temps[i] = initialTemp
	}
	return f
}

// SetTemperature scripts one thermocouple channel. Out-of-range channels
// are ignored.
func (f *Fake) SetTemperature(channel int, temp float64) {
	if channel < 0 || channel >= NumThermocouples {
		return
	}
	f.mu.Lock()
	f.temps[channel] = temp
	f.mu.Unlock()
}

// SetAllTemperatures scripts every channel at once.
func (f *Fake) SetAllTemperatures(temp float64) {
	f.mu.Lock()
	for i := range f.temps {
		f.temps[i] = temp
	}
	f.mu.Unlock()
}

// FailChannel makes one channel return the error sentinel.
func (f *Fake) FailChannel(channel int) {
	f.SetTemperature(channel, ThermocoupleErrorValue)
}

// ReadThermocouple returns the scripted value for the channel.
func (f *Fake) ReadThermocouple(channel int) float64 {
	if channel < 0 || channel >= NumThermocouples {
		return ThermocoupleErrorValue
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.temps[channel]
}

// SetRelay records and applies a relay command.
func (f *Fake) SetRelay(index int, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RelayError != nil {
		return f.RelayError
	}
	if index < 0 || index >= NumRelays {
		return errs.New(errs.KindInvalidArgument, "relay index %d out of range", index)
	}
	f.relays[index] = on
	f.RelayLog = append(f.RelayLog, RelayCommand{Index: index, On: on})
	return nil
}

// RelayState returns the last commanded state of one relay.
func (f *Fake) RelayState(index int) bool {
	if index < 0 || index >= NumRelays {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.relays[index]
}

// RelayBitmask returns all relay states packed by index.
func (f *Fake) RelayBitmask() uint8 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var mask uint8
	for i, on := range f.relays {
		if on {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

// SetServoAngle records and applies a servo command.
func (f *Fake) SetServoAngle(deg float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ServoError != nil {
		return f.ServoError
	}
	if deg < ServoMinAngle {
		deg = ServoMinAngle
	} else if deg > ServoMaxAngle {
		deg = ServoMaxAngle
	}
	f.servo = deg
	f.ServoLog = append(f.ServoLog, deg)
	return nil
}

// ServoAngle returns the last commanded servo angle.
func (f *Fake) ServoAngle() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.servo
}

// ResetLogs clears the recorded command logs.
func (f *Fake) ResetLogs() {
	f.mu.Lock()
	f.RelayLog = nil
	f.ServoLog = nil
	f.mu.Unlock()
}

// Close marks the fake closed.
func (f *Fake) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
