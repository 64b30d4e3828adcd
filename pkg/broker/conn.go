// Package broker wraps the paho MQTT client: connection with retries and
// automatic reconnect, topic consumers, publishers and a bounded inbox that
// moves message handling off paho's callback goroutines.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/afladry360/telemetry/internal/errors"
	"github.com/afladry360/telemetry/internal/logging"
)

type Config struct {
	Broker   string // e.g. tcp://test.mosquitto.org:1883
	Username string
	Password string
	ClientID string

	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	ConnectRetries int
	RetryInterval  time.Duration // first backoff step between connect attempts
	MaxReconnect   time.Duration
}

func (c *Config) withDefaults() {
	if c.ClientID == "" {
		c.ClientID = "telemetry-" + uuid.NewString()[:8]
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 30 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ConnectRetries <= 0 {
		c.ConnectRetries = 5
	}
	if c.MaxReconnect <= 0 {
		c.MaxReconnect = time.Minute
	}
}

// newClient is swapped in tests.
var newClient = mqtt.NewClient

// Conn is a connected MQTT client. Hooks registered with OnConnect run after
// every successful (re)connect, which is where consumers resubscribe.
type Conn struct {
	client mqtt.Client
	cfg    Config
	log    logging.Logger

	mu    sync.Mutex
	hooks []func()
}

// NewConn dials the broker, retrying the first connection with exponential
// backoff. After that paho reconnects on its own.
func NewConn(ctx context.Context, cfg Config, log logging.Logger) (*Conn, error) {
	cfg.withDefaults()
	c := &Conn{cfg: cfg, log: log}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(cfg.MaxReconnect)
	opts.SetOnConnectHandler(func(mqtt.Client) { c.connected() })
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warnf("[Broker] connection to %s lost: %v", cfg.Broker, err)
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		log.Warnf("[Broker] reconnecting to %s", cfg.Broker)
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	if cfg.RetryInterval > 0 {
		bo.InitialInterval = cfg.RetryInterval
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(cfg.ConnectRetries-1)), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		client := newClient(opts)
		tok := client.Connect()
		if !tok.WaitTimeout(cfg.ConnectTimeout) {
			log.Warnf("[Broker] connect attempt %d to %s timed out", attempt, cfg.Broker)
			return fmt.Errorf("connect timeout after %s", cfg.ConnectTimeout)
		}
		if err := tok.Error(); err != nil {
			log.Warnf("[Broker] connect attempt %d to %s failed: %v", attempt, cfg.Broker, err)
			return err
		}
		c.client = client
		return nil
	}, policy)
	if err != nil {
		return nil, errors.NewTransportError(
			fmt.Sprintf("could not connect to %s after %d attempts", cfg.Broker, attempt), err)
	}

	log.Infof("[Broker] connected to %s as %s", cfg.Broker, cfg.ClientID)
	return c, nil
}

func (c *Conn) connected() {
	c.mu.Lock()
	hooks := append([]func(){}, c.hooks...)
	c.mu.Unlock()
	for _, h := range hooks {
		h()
	}
}

// OnConnect registers fn to run after each reconnect.
func (c *Conn) OnConnect(fn func()) {
	c.mu.Lock()
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}

func (c *Conn) Client() mqtt.Client { return c.client }

// IsConnected reports whether the connection is currently usable.
func (c *Conn) IsConnected() bool {
	return c != nil && c.client != nil && c.client.IsConnectionOpen()
}

// Close disconnects, giving in-flight work quiesce to finish.
func (c *Conn) Close(quiesce time.Duration) {
	if c == nil || c.client == nil {
		return
	}
	if c.client.IsConnected() {
		c.client.Disconnect(uint(quiesce.Milliseconds()))
		c.log.Infof("[Broker] disconnected from %s", c.cfg.Broker)
	}
}
