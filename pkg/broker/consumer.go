package broker

import (
	"context"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/afladry360/telemetry/internal/logging"
)

// Handler processes one inbound message. Errors are logged by the consumer.
type Handler func(topic string, msg mqtt.Message) error

type Subscription struct {
	Topic string
	QoS   byte
}

// MultiConsumer subscribes one handler to several topics and keeps the
// subscriptions alive across reconnects.
type MultiConsumer struct {
	client  mqtt.Client
	subs    []Subscription
	handler Handler
	log     logging.Logger
	timeout time.Duration

	mu     sync.Mutex
	active bool
}

func NewMultiConsumer(client mqtt.Client, subs []Subscription, handler Handler, log logging.Logger) *MultiConsumer {
	return &MultiConsumer{
		client:  client,
		subs:    subs,
		handler: handler,
		log:     log,
		timeout: 10 * time.Second,
	}
}

// ConsumeMessage subscribes to every topic and blocks until ctx is done, then
// unsubscribes. It returns the number of topics that failed to subscribe.
func (m *MultiConsumer) ConsumeMessage(ctx context.Context) int {
	m.mu.Lock()
	m.active = true
	m.mu.Unlock()

	failed := m.subscribeAll()

	<-ctx.Done()

	m.mu.Lock()
	m.active = false
	m.mu.Unlock()

	topics := make([]string, 0, len(m.subs))
	for _, s := range m.subs {
		topics = append(topics, s.Topic)
	}
	if m.client.IsConnectionOpen() {
		tok := m.client.Unsubscribe(topics...)
		if !tok.WaitTimeout(m.timeout) {
			m.log.Warnf("[Broker] unsubscribe from %v timed out", topics)
		} else if err := tok.Error(); err != nil {
			m.log.Warnf("[Broker] unsubscribe from %v: %v", topics, err)
		}
	}
	return failed
}

// Resubscribe re-issues the subscriptions after a reconnect. A no-op unless
// ConsumeMessage is running.
func (m *MultiConsumer) Resubscribe() {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if !active {
		return
	}
	m.log.Infof("[Broker] resubscribing to %d topics", len(m.subs))
	m.subscribeAll()
}

func (m *MultiConsumer) subscribeAll() int {
	failed := 0
	for _, s := range m.subs {
		topic := s.Topic
		tok := m.client.Subscribe(topic, s.QoS, func(_ mqtt.Client, msg mqtt.Message) {
			h := m.handler
			if h == nil {
				m.log.Warnf("[Broker] no handler set for topic %s", topic)
				return
			}
			if err := h(msg.Topic(), msg); err != nil {
				m.log.Warnf("[Broker] handling message on %s: %v", topic, err)
			}
		})
		if !tok.WaitTimeout(m.timeout) {
			m.log.Errorf("[Broker] subscribe to %s timed out", topic)
			failed++
			continue
		}
		if err := tok.Error(); err != nil {
			m.log.Errorf("[Broker] subscribe to %s: %v", topic, err)
			failed++
			continue
		}
		m.log.Infof("[Broker] subscribed to %s (qos %d)", topic, s.QoS)
	}
	return failed
}
