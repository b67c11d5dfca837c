package hardware

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	"reflow-oven-go/pkg/log"
)

func testLogger() *log.Logger {
	l := log.New("test")
	l.SetWriter(io.Discard)
	return l
}

func TestFakeThermocouples(t *testing.T) {
	f := NewFake(22.5)

	assert.Equal(t, 22.5, f.ReadThermocouple(0))

	f.SetTemperature(1, 200)
	assert.Equal(t, 200.0, f.ReadThermocouple(1))

	f.FailChannel(1)
	assert.Equal(t, ThermocoupleErrorValue, f.ReadThermocouple(1))

	assert.Equal(t, ThermocoupleErrorValue, f.ReadThermocouple(-1))
	assert.Equal(t, ThermocoupleErrorValue, f.ReadThermocouple(NumThermocouples))
}

func TestFakeRelays(t *testing.T) {
	f := NewFake(25)

	assert.NoError(t, f.SetRelay(0, true))
	assert.NoError(t, f.SetRelay(2, true))
	assert.True(t, f.RelayState(0))
	assert.False(t, f.RelayState(1))
	assert.Equal(t, uint8(0b101), f.RelayBitmask())

	assert.NoError(t, f.SetRelay(0, false))
	assert.Equal(t, uint8(0b100), f.RelayBitmask())

	assert.Error(t, f.SetRelay(NumRelays, true))
	assert.Len(t, f.RelayLog, 3)
}

func TestFakeServoClampsAngle(t *testing.T) {
	f := NewFake(25)

	assert.NoError(t, f.SetServoAngle(90))
	assert.Equal(t, 90.0, f.ServoAngle())

	assert.NoError(t, f.SetServoAngle(500))
	assert.Equal(t, ServoMaxAngle, f.ServoAngle())

	assert.NoError(t, f.SetServoAngle(-10))
	assert.Equal(t, ServoMinAngle, f.ServoAngle())
}
