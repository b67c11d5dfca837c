package telemetry

import (
	"sync"

	"reflow-oven-go/pkg/datalog"
)

// FakePublisher records published messages for tests.
type FakePublisher struct {
	mu sync.Mutex

	DataPoints []datalog.DataPoint
	Statuses   []StatusPayload
	Systems    []SystemEvent

	// PublishError, if set, is returned by every publish.
	PublishError error

	Closed bool
}

// NewFakePublisher creates an empty fake.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

func (f *FakePublisher) PublishDataPoint(point datalog.DataPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.DataPoints = append(f.DataPoints, point)
	return nil
}

func (f *FakePublisher) PublishStatus(status StatusPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Statuses = append(f.Statuses, status)
	return nil
}

func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Systems = append(f.Systems, event)
	return nil
}

func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// DataPointCount returns the number of recorded datapoints.
func (f *FakePublisher) DataPointCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.DataPoints)
}

var _ Publisher = (*FakePublisher)(nil)
