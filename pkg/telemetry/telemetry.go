// Package telemetry publishes controller telemetry over MQTT with an
// abstraction for testing. The real publisher connects to a broker; the
// fake records messages in memory.
package telemetry

import (
	"encoding/json"
	"time"

	"reflow-oven-go/pkg/datalog"
	"reflow-oven-go/pkg/profile"
)

// MQTT topics.
const (
	TopicDataPoint = "reflow/oven/datapoint"
	TopicStatus    = "reflow/oven/status"
	TopicSystem    = "reflow/oven/system"
)

// Publisher publishes telemetry to a broker. Publish failures must not
// crash the control loop; callers log and continue.
type Publisher interface {
	// PublishDataPoint sends one telemetry record.
	PublishDataPoint(point datalog.DataPoint) error

	// PublishStatus sends a controller + profile status snapshot.
	PublishStatus(status StatusPayload) error

	// PublishSystem sends a lifecycle event (startup, shutdown, alarm).
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// StatusPayload is the status snapshot published on TopicStatus.
type StatusPayload struct {
	Timestamp    string         `json:"timestamp"`
	State        string         `json:"state"`
	Running      bool           `json:"running"`
	Alarming     bool           `json:"alarming"`
	Setpoint     float64        `json:"setpoint"`
	ProcessValue float64        `json:"pv"`
	PIDOutput    float64        `json:"pid_output"`
	Profile      profile.Status `json:"profile"`
}

// SystemEvent is a lifecycle event published on TopicSystem.
type SystemEvent struct {
	Timestamp time.Time
	Event     string // e.g. "STARTUP", "SHUTDOWN", "ALARM"
	Reason    string
	Retained  bool
}

type systemPayload struct {
	System systemPayloadInner `json:"system"`
}

type systemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	payload := systemPayload{
		System: systemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
