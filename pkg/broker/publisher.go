package broker

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/afladry360/telemetry/internal/errors"
)

// Publisher sends payloads to a single topic.
type Publisher struct {
	client  mqtt.Client
	topic   string
	qos     byte
	timeout time.Duration
}

func NewPublisher(client mqtt.Client, topic string, qos byte) *Publisher {
	return &Publisher{client: client, topic: topic, qos: qos, timeout: 5 * time.Second}
}

func (p *Publisher) Topic() string { return p.topic }

// Publish sends raw bytes and waits for the broker acknowledgement.
func (p *Publisher) Publish(payload []byte) error {
	tok := p.client.Publish(p.topic, p.qos, false, payload)
	if !tok.WaitTimeout(p.timeout) {
		return errors.NewTransportError(fmt.Sprintf("publish to %s timed out", p.topic), nil)
	}
	if err := tok.Error(); err != nil {
		return errors.NewTransportError(fmt.Sprintf("publish to %s", p.topic), err)
	}
	return nil
}

// PublishJSON marshals v and publishes it.
func (p *Publisher) PublishJSON(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", p.topic, err)
	}
	return p.Publish(b)
}
