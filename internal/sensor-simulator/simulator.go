package sensor_simulator

import (
	"context"
	"time"

	"github.com/afladry360/telemetry/internal/logging"
)

// Publisher is satisfied by *broker.Publisher.
type Publisher interface {
	Topic() string
	Publish(payload []byte) error
	PublishJSON(v interface{}) error
}

type Options struct {
	DeviceID  string
	Interval  time.Duration
	Heartbeat time.Duration // 0 disables heartbeats
	// MalformedEvery sends a broken payload instead of every Nth reading; 0
	// disables it.
	MalformedEvery int
	Logger         logging.Logger
}

type SensorSimulator struct {
	opts      Options
	generator *DataGenerator
	sensor    Publisher
	status    Publisher
	started   time.Time
	sent      int
}

func NewSensorSimulator(sensor, status Publisher, gen *DataGenerator, opts Options) *SensorSimulator {
	if opts.Logger == nil {
		opts.Logger = logging.Nop{}
	}
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	return &SensorSimulator{opts: opts, generator: gen, sensor: sensor, status: status}
}

// Start publishes readings (and heartbeats) until ctx is done.
func (s *SensorSimulator) Start(ctx context.Context) {
	s.started = time.Now()
	readings := time.NewTicker(s.opts.Interval)
	defer readings.Stop()

	var beats <-chan time.Time
	if s.opts.Heartbeat > 0 && s.status != nil {
		t := time.NewTicker(s.opts.Heartbeat)
		defer t.Stop()
		beats = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-readings.C:
			if err := s.PublishReading(now); err != nil {
				s.opts.Logger.Warnf("[Simulator] publish error: %v", err)
			}
		case now := <-beats:
			if err := s.PublishHeartbeat(now); err != nil {
				s.opts.Logger.Warnf("[Simulator] heartbeat error: %v", err)
			}
		}
	}
}

// PublishReading sends one sensor message, or a malformed one when due.
func (s *SensorSimulator) PublishReading(now time.Time) error {
	s.sent++
	if n := s.opts.MalformedEvery; n > 0 && s.sent%n == 0 {
		s.opts.Logger.Infof("[Simulator] sending malformed payload on %s", s.sensor.Topic())
		return s.sensor.Publish(s.generator.Malformed(s.opts.DeviceID))
	}
	p := s.generator.Next(s.opts.DeviceID, now)
	s.opts.Logger.Infof("[Simulator] pub %s temp=%.1f rh=%.1f", p.DeviceID, p.Temperature, p.Humidity)
	return s.sensor.PublishJSON(p)
}

func (s *SensorSimulator) PublishHeartbeat(now time.Time) error {
	if s.status == nil {
		return nil
	}
	if s.started.IsZero() {
		s.started = now
	}
	return s.status.PublishJSON(s.generator.Heartbeat(s.opts.DeviceID, now.Sub(s.started)))
}
