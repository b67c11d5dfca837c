package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"reflow-oven-go/pkg/datalog"
)

// RealPublisher publishes to an actual MQTT broker.
type RealPublisher struct {
	client paho.Client
}

// NewRealPublisher connects to the given broker (e.g. "tcp://host:1883").
func NewRealPublisher(broker, clientID string) (*RealPublisher, error) {
	if clientID == "" {
		clientID = "reflow-oven"
	}
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return &RealPublisher{client: client}, nil
}

func (p *RealPublisher) publish(topic string, payload []byte, retained bool) error {
	// QoS 0: losing a sample beats blocking the tick path.
	token := p.client.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout on %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// PublishDataPoint sends one telemetry record.
func (p *RealPublisher) PublishDataPoint(point datalog.DataPoint) error {
	payload, err := json.Marshal(point)
	if err != nil {
		return fmt.Errorf("format datapoint: %w", err)
	}
	return p.publish(TopicDataPoint, payload, false)
}

// PublishStatus sends a status snapshot, retained so late subscribers see
// the current state.
func (p *RealPublisher) PublishStatus(status StatusPayload) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("format status: %w", err)
	}
	return p.publish(TopicStatus, payload, true)
}

// PublishSystem sends a lifecycle event.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system event: %w", err)
	}
	return p.publish(TopicSystem, payload, event.Retained)
}

// Close disconnects from the broker, allowing in-flight messages 250 ms to
// drain.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}

var _ Publisher = (*RealPublisher)(nil)
