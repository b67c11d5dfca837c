// Package hardware abstracts the oven's I/O: thermocouple reads over SPI,
// relay switching through the Linux GPIO character device, and the vent
// servo. The real implementation is Linux-only; a fake allows testing
// without hardware.
package hardware

// Hardware limits. The relay and thermocouple counts match the stock
// controller board.
const (
	// NumRelays is the number of switchable relay outputs.
	NumRelays = 6

	// NumThermocouples is the number of thermocouple input channels.
	NumThermocouples = 4

	// ThermocoupleErrorValue is the sentinel returned for a failed read
	// (open circuit, short, or bus error).
	ThermocoupleErrorValue = -3000.0

	// ServoMinAngle and ServoMaxAngle bound the vent servo travel.
	ServoMinAngle = 0.0
	ServoMaxAngle = 180.0
)

// IO is the synchronous hardware surface consumed by the control core.
// All methods are idempotent.
type IO interface {
	// ReadThermocouple reads one channel in degrees C, or
	// ThermocoupleErrorValue when the read fails.
	ReadThermocouple(channel int) float64

	// SetRelay switches one relay output.
	SetRelay(index int, on bool) error

	// RelayState returns the last commanded state of one relay.
	RelayState(index int) bool

	// RelayBitmask returns all relay states packed little-endian by index.
	RelayBitmask() uint8

	// SetServoAngle drives the vent servo to an angle in
	// [ServoMinAngle, ServoMaxAngle].
	SetServoAngle(deg float64) error

	// ServoAngle returns the last commanded servo angle.
	ServoAngle() float64

	// Close releases hardware resources.
	Close() error
}
