//go:build linux

package hardware

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/warthog618/go-gpiocdev"
	"periph.io/x/conn/v3/driver/driverreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"

	"reflow-oven-go/pkg/errs"
	"reflow-oven-go/pkg/log"
)

// Default board wiring. Relay outputs on the GPIO character device, one
// SPI device node per MAX31855 thermocouple amplifier, and the vent servo
// on a sysfs PWM channel (50 Hz, 1-2 ms pulse).
var (
	DefaultRelayPins = [NumRelays]int{9, 10, 11, 12, 13, 14}

	DefaultSPIDevices = [NumThermocouples]string{
		"/dev/spidev0.0", "/dev/spidev0.1", "/dev/spidev0.2", "/dev/spidev0.3",
	}
)

const (
	defaultGPIOChip = "gpiochip0"
	defaultPWMChip  = "/sys/class/pwm/pwmchip0"
	pwmChannel      = 0

	spiClockHz = 4 * physic.MegaHertz

	servoPeriodNs   = 20_000_000 // 50 Hz
	servoMinPulseNs = 1_000_000
	servoMaxPulseNs = 2_000_000
)

// RealConfig overrides the default board wiring.
type RealConfig struct {
	GPIOChip   string
	RelayPins  [NumRelays]int
	SPIDevices [NumThermocouples]string
	PWMChip    string
}

// DefaultRealConfig returns the stock board wiring.
func DefaultRealConfig() RealConfig {
	return RealConfig{
		GPIOChip:   defaultGPIOChip,
		RelayPins:  DefaultRelayPins,
		SPIDevices: DefaultSPIDevices,
		PWMChip:    defaultPWMChip,
	}
}

// Real drives the oven hardware: gpiocdev relay lines, MAX31855
// thermocouple amplifiers over SPI, and a sysfs PWM servo.
type Real struct {
	mu sync.Mutex

	logger *log.Logger

	chip       *gpiocdev.Chip
	relayLines [NumRelays]*gpiocdev.Line
	relayState [NumRelays]bool

	spiPorts [NumThermocouples]spi.PortCloser
	spiConns [NumThermocouples]spi.Conn

	pwmDir     string
	servoAngle float64
}

// NewReal opens the oven hardware with the given wiring.
func NewReal(cfg RealConfig, logger *log.Logger) (*Real, error) {
	r := &Real{logger: logger}

	// Register the platform SPI drivers. Some platforms have nothing to
	// register; that is not fatal.
	if _, err := driverreg.Init(); err != nil {
		logger.WithError(err).Warn("periph driver init incomplete")
	}

	chip, err := gpiocdev.NewChip(cfg.GPIOChip)
	if err != nil {
		return nil, errs.Wrap(errs.KindIoFailed, err, "open gpio chip %s", cfg.GPIOChip)
	}
	r.chip = chip

	for i, pin := range cfg.RelayPins {
		line, err := chip.RequestLine(pin, gpiocdev.AsOutput(0))
		if err != nil {
			r.Close()
			return nil, errs.Wrap(errs.KindIoFailed, err, "request relay pin %d", pin)
		}
		r.relayLines[i] = line
	}

	for i, dev := range cfg.SPIDevices {
		port, err := spireg.Open(dev)
		if err != nil {
			r.Close()
			return nil, errs.Wrap(errs.KindIoFailed, err, "open spi device %s", dev)
		}
		conn, err := port.Connect(spiClockHz, spi.Mode0, 8)
		if err != nil {
			port.Close()
			r.Close()
			return nil, errs.Wrap(errs.KindIoFailed, err, "connect spi device %s", dev)
		}
		r.spiPorts[i] = port
		r.spiConns[i] = conn
	}

	r.pwmDir = filepath.Join(cfg.PWMChip, fmt.Sprintf("pwm%d", pwmChannel))
	if err := r.setupServo(cfg.PWMChip); err != nil {
		r.Close()
		return nil, err
	}

	logger.Info("hardware opened: %d relays, %d thermocouples, servo on %s",
		NumRelays, NumThermocouples, r.pwmDir)
	return r, nil
}

func (r *Real) setupServo(chipDir string) error {
	// Export the channel if the kernel has not done so already.
	if _, err := os.Stat(r.pwmDir); os.IsNotExist(err) {
		exportPath := filepath.Join(chipDir, "export")
		if err := os.WriteFile(exportPath, []byte(fmt.Sprintf("%d", pwmChannel)), 0644); err != nil {
			return errs.Wrap(errs.KindIoFailed, err, "export pwm channel")
		}
	}

	if err := r.writePWM("period", servoPeriodNs); err != nil {
		return err
	}
	if err := r.writePWM("duty_cycle", servoMinPulseNs); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(r.pwmDir, "enable"), []byte("1"), 0644); err != nil {
		return errs.Wrap(errs.KindIoFailed, err, "enable servo pwm")
	}
	return nil
}

func (r *Real) writePWM(attr string, value int) error {
	path := filepath.Join(r.pwmDir, attr)
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d", value)), 0644); err != nil {
		return errs.Wrap(errs.KindIoFailed, err, "write %s", path)
	}
	return nil
}

// ReadThermocouple reads one MAX31855 frame and decodes the hot-junction
// temperature. Fault frames and bus errors return the sentinel.
func (r *Real) ReadThermocouple(channel int) float64 {
	if channel < 0 || channel >= NumThermocouples {
		return ThermocoupleErrorValue
	}

	r.mu.Lock()
	conn := r.spiConns[channel]
	r.mu.Unlock()
	if conn == nil {
		return ThermocoupleErrorValue
	}

	write := make([]byte, 4)
	read := make([]byte, 4)
	if err := conn.Tx(write, read); err != nil {
		r.logger.WithError(err).Warn("thermocouple %d read failed", channel)
		return ThermocoupleErrorValue
	}

	frame := uint32(read[0])<<24 | uint32(read[1])<<16 | uint32(read[2])<<8 | uint32(read[3])

	// D16 is the fault summary bit; D2..D0 identify the fault.
	if frame&0x00010000 != 0 {
		return ThermocoupleErrorValue
	}

	// Hot junction: bits 31..18, signed, 0.25 C per LSB.
	raw := int32(frame) >> 18
	return float64(raw) * 0.25
}

// SetRelay switches one relay output.
func (r *Real) SetRelay(index int, on bool) error {
	if index < 0 || index >= NumRelays {
		return errs.New(errs.KindInvalidArgument, "relay index %d out of range", index)
	}

	r.mu.Lock()
	line := r.relayLines[index]
	r.mu.Unlock()
	if line == nil {
		return errs.New(errs.KindIoFailed, "relay %d not available", index)
	}

	value := 0
	if on {
		value = 1
	}
	if err := line.SetValue(value); err != nil {
		return errs.Wrap(errs.KindIoFailed, err, "set relay %d", index)
	}

	r.mu.Lock()
	r.relayState[index] = on
	r.mu.Unlock()
	return nil
}

// RelayState returns the last commanded state of one relay.
func (r *Real) RelayState(index int) bool {
	if index < 0 || index >= NumRelays {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.relayState[index]
}

// RelayBitmask returns all relay states packed by index.
func (r *Real) RelayBitmask() uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var mask uint8
	for i, on := range r.relayState {
		if on {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

// SetServoAngle drives the vent servo.
func (r *Real) SetServoAngle(deg float64) error {
	deg = math.Max(ServoMinAngle, math.Min(ServoMaxAngle, deg))

	span := float64(servoMaxPulseNs - servoMinPulseNs)
	pulse := servoMinPulseNs + int(span*deg/(ServoMaxAngle-ServoMinAngle))
	if err := r.writePWM("duty_cycle", pulse); err != nil {
		return err
	}

	r.mu.Lock()
	r.servoAngle = deg
	r.mu.Unlock()
	return nil
}

// ServoAngle returns the last commanded servo angle.
func (r *Real) ServoAngle() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.servoAngle
}

// Close releases all hardware resources. Relays are driven off first.
func (r *Real) Close() error {
	var firstErr error

	for i, line := range r.relayLines {
		if line == nil {
			continue
		}
		line.SetValue(0)
		if err := line.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close relay %d: %w", i, err)
		}
		r.relayLines[i] = nil
	}

	for i, port := range r.spiPorts {
		if port == nil {
			continue
		}
		if err := port.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close spi %d: %w", i, err)
		}
		r.spiPorts[i] = nil
		r.spiConns[i] = nil
	}

	if r.pwmDir != "" {
		os.WriteFile(filepath.Join(r.pwmDir, "enable"), []byte("0"), 0644)
	}

	if r.chip != nil {
		if err := r.chip.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close gpio chip: %w", err)
		}
		r.chip = nil
	}

	return firstErr
}
