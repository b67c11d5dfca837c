package hardware

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"reflow-oven-go/pkg/log"
)

// DefaultReadInterval is the thermocouple refresh period. It is slightly
// faster than the controller tick so every tick sees a fresh snapshot.
const DefaultReadInterval = 220 * time.Millisecond

// SensorBank runs the background thermocouple reader. A single goroutine
// writes the latest values into an atomic snapshot; any number of readers
// take the snapshot without locking. Stale reads are acceptable because the
// controller tick period exceeds the refresh interval.
type SensorBank struct {
	io       IO
	interval time.Duration
	logger   *log.Logger

	snapshot atomic.Value // [NumThermocouples]float64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSensorBank creates a bank over the given hardware. Values start at the
// error sentinel until the first refresh.
func NewSensorBank(io IO, interval time.Duration, logger *log.Logger) *SensorBank {
	if interval <= 0 {
		interval = DefaultReadInterval
	}
	b := &SensorBank{
		io:       io,
		interval: interval,
		logger:   logger,
	}
	var initial [NumThermocouples]float64
	for i := range initial {
		initial[i] = ThermocoupleErrorValue
	}
	b.snapshot.Store(initial)
	return b
}

// Start launches the reader task. Subsequent calls are no-ops until Stop.
func (b *SensorBank) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	done := make(chan struct{})
	b.done = done

	go b.readLoop(ctx, done)
}

// Stop terminates the reader task and waits for it to exit.
func (b *SensorBank) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	done := b.done
	b.cancel = nil
	b.done = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (b *SensorBank) readLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.refresh()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.refresh()
		}
	}
}

// refresh reads every channel and publishes a new snapshot. This is the
// only writer.
func (b *SensorBank) refresh() {
	var values [NumThermocouples]float64
	for ch := 0; ch < NumThermocouples; ch++ {
		values[ch] = b.io.ReadThermocouple(ch)
	}
	b.snapshot.Store(values)
}

// RefreshNow forces an immediate synchronous read. Used at startup so the
// first controller tick does not see sentinel values, and by tests.
func (b *SensorBank) RefreshNow() {
	b.refresh()
}

// Temperatures returns the latest snapshot of all channels.
func (b *SensorBank) Temperatures() [NumThermocouples]float64 {
	return b.snapshot.Load().([NumThermocouples]float64)
}

// Temperature returns the latest value of one channel, or the error
// sentinel for an out-of-range channel.
func (b *SensorBank) Temperature(channel int) float64 {
	if channel < 0 || channel >= NumThermocouples {
		return ThermocoupleErrorValue
	}
	return b.Temperatures()[channel]
}
