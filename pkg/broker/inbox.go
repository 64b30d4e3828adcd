package broker

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/afladry360/telemetry/internal/logging"
)

var (
	ErrInboxFull   = stderrors.New("inbox full")
	ErrInboxClosed = stderrors.New("inbox closed")
)

// Delivery is an inbound message copied out of paho.
type Delivery struct {
	Topic     string
	Payload   []byte
	Duplicate bool
	Received  time.Time
}

type InboxConfig struct {
	Size    int
	Handle  func(ctx context.Context, d Delivery)
	OnDrop  func(d Delivery, reason error)
	Logger  logging.Logger
	NowFunc func() time.Time
}

// Inbox is a bounded queue drained by a single worker. Offer never blocks, so
// paho's router and keep-alive keep running while a slow handler works; when
// the queue is full the message is dropped.
type Inbox struct {
	cfg InboxConfig
	ch  chan Delivery

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
	done   chan struct{}
}

func NewInbox(cfg InboxConfig) *Inbox {
	if cfg.Size <= 0 {
		cfg.Size = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop{}
	}
	if cfg.NowFunc == nil {
		cfg.NowFunc = time.Now
	}
	return &Inbox{cfg: cfg, ch: make(chan Delivery, cfg.Size), done: make(chan struct{})}
}

// Start launches the worker. Handlers receive a context that is not cancelled
// by Close, so an in-flight write can finish.
func (i *Inbox) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	i.mu.Lock()
	i.cancel = cancel
	i.mu.Unlock()

	work := context.WithoutCancel(ctx)
	go func() {
		defer close(i.done)
		for {
			select {
			case <-ctx.Done():
				i.discard()
				return
			case d := <-i.ch:
				if ctx.Err() != nil {
					i.drop(d, ErrInboxClosed)
					i.discard()
					return
				}
				i.cfg.Handle(work, d)
			}
		}
	}()
}

// Offer adapts an mqtt.Message and enqueues it. It has the consumer Handler
// signature.
func (i *Inbox) Offer(topic string, msg mqtt.Message) error {
	payload := append([]byte(nil), msg.Payload()...)
	return i.Enqueue(Delivery{
		Topic:     topic,
		Payload:   payload,
		Duplicate: msg.Duplicate(),
		Received:  i.cfg.NowFunc(),
	})
}

func (i *Inbox) Enqueue(d Delivery) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		i.drop(d, ErrInboxClosed)
		return ErrInboxClosed
	}
	select {
	case i.ch <- d:
		return nil
	default:
		i.drop(d, ErrInboxFull)
		return ErrInboxFull
	}
}

// Len returns the number of queued messages.
func (i *Inbox) Len() int { return len(i.ch) }

// Close stops accepting messages, waits for the in-flight one and discards
// whatever is still queued.
func (i *Inbox) Close() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		<-i.done
		return
	}
	i.closed = true
	cancel := i.cancel
	i.mu.Unlock()

	if cancel == nil {
		close(i.done)
		return
	}
	cancel()
	<-i.done
}

func (i *Inbox) discard() {
	for {
		select {
		case d := <-i.ch:
			i.drop(d, ErrInboxClosed)
		default:
			return
		}
	}
}

func (i *Inbox) drop(d Delivery, reason error) {
	if reason == ErrInboxFull {
		i.cfg.Logger.Warnf("[Broker] inbox full (%d), dropping message on %s", cap(i.ch), d.Topic)
	}
	if i.cfg.OnDrop != nil {
		i.cfg.OnDrop(d, reason)
	}
}
