// Package ingest is the message pipeline behind the broker subscription:
// decode, classify, normalize, persist.
package ingest

import (
	"context"
	"time"

	"github.com/afladry360/telemetry/internal/errors"
	"github.com/afladry360/telemetry/internal/logging"
	"github.com/afladry360/telemetry/internal/metrics"
	"github.com/afladry360/telemetry/internal/model"
	"github.com/afladry360/telemetry/pkg/broker"
	"github.com/afladry360/telemetry/pkg/dedup"
)

// Inserter is the part of the store the pipeline writes to.
type Inserter interface {
	Insert(ctx context.Context, r model.SensorReading) (model.SensorReading, error)
}

// Mirror receives every stored reading. Implementations must not block.
type Mirror interface {
	Record(r model.SensorReading)
}

type Options struct {
	Topics        Topics
	Store         Inserter
	Mirror        Mirror
	Dedup         *dedup.Deduper
	Metrics       *metrics.Metrics
	Logger        logging.Logger
	Clock         Clock
	InsertTimeout time.Duration
}

type Service struct {
	topics        Topics
	store         Inserter
	mirror        Mirror
	dedup         *dedup.Deduper
	metrics       *metrics.Metrics
	log           logging.Logger
	normalizer    *Normalizer
	status        *StatusHandler
	insertTimeout time.Duration
}

func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = logging.Nop{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.InsertTimeout <= 0 {
		opts.InsertTimeout = 10 * time.Second
	}
	return &Service{
		topics:        opts.Topics,
		store:         opts.Store,
		mirror:        opts.Mirror,
		dedup:         opts.Dedup,
		metrics:       opts.Metrics,
		log:           opts.Logger,
		normalizer:    NewNormalizer(opts.Clock),
		status:        NewStatusHandler(opts.Logger, opts.Metrics, opts.Clock),
		insertTimeout: opts.InsertTimeout,
	}
}

// Subscriptions lists the topics the service consumes at the given QoS.
func (s *Service) Subscriptions(qos byte) []broker.Subscription {
	return []broker.Subscription{
		{Topic: s.topics.Sensor, QoS: qos},
		{Topic: s.topics.Status, QoS: qos},
	}
}

// Deliver is the inbox handler. Failures are already logged by Handle.
func (s *Service) Deliver(ctx context.Context, d broker.Delivery) {
	_ = s.Handle(ctx, d)
}

// Handle runs one message through the pipeline. The returned error is for
// callers that want it; nothing here is fatal to the subscription.
func (s *Service) Handle(ctx context.Context, d broker.Delivery) error {
	kind := s.topics.Classify(d.Topic)
	s.metrics.MessagesReceived.WithLabelValues(kind.String()).Inc()

	body, err := decodeBody(d.Payload)
	if err != nil {
		s.metrics.DecodeFailures.Inc()
		s.log.Warnf("[Ingest] dropping message on %s: %v", d.Topic, err)
		return err
	}

	switch kind {
	case TopicSensor:
		if s.isRedelivery(d) {
			s.metrics.Duplicates.Inc()
			s.log.Infof("[Ingest] skipping redelivered message on %s", d.Topic)
			return nil
		}
		_, err := s.handleSensor(ctx, body)
		return err
	case TopicStatus:
		s.status.Handle(body)
		return nil
	case TopicUnknown:
		s.log.Infof("[Ingest] ignoring message on unknown topic %s", d.Topic)
		return nil
	default:
		s.log.Errorf("[Ingest] unhandled topic kind %v for %s", kind, d.Topic)
		return nil
	}
}

// isRedelivery records every sensor payload and reports a repeat only when
// the broker flagged the message as a duplicate, so identical readings that
// a device legitimately sends twice are still stored.
func (s *Service) isRedelivery(d broker.Delivery) bool {
	if s.dedup == nil {
		return false
	}
	first := s.dedup.ShouldProcess(dedup.Key(d.Topic, d.Payload))
	return d.Duplicate && !first
}

func (s *Service) handleSensor(ctx context.Context, body map[string]interface{}) (model.SensorReading, error) {
	reading, emcErr := s.normalizer.Normalize(body)
	if emcErr != nil {
		s.metrics.EMCErrors.Inc()
		s.log.Warnf("[Ingest] moisture not computed for %s: %v", reading.DeviceID, emcErr)
	}

	ctx, cancel := context.WithTimeout(ctx, s.insertTimeout)
	defer cancel()

	start := time.Now()
	stored, err := s.store.Insert(ctx, reading)
	s.metrics.InsertLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		kind := string(errors.KindOf(err))
		if kind == "" {
			kind = "other"
		}
		s.metrics.StoreErrors.WithLabelValues(kind).Inc()
		s.log.Errorf("[Ingest] insert failed for %+v: %v", describe(reading), err)
		return model.SensorReading{}, err
	}

	s.metrics.ReadingsStored.Inc()
	s.log.Infof("[Ingest] stored reading %d for %s", stored.ID, stored.DeviceID)
	if s.mirror != nil {
		s.mirror.Record(stored)
	}
	return stored, nil
}

// describe flattens a reading for log lines.
func describe(r model.SensorReading) map[string]interface{} {
	out := map[string]interface{}{
		"deviceId":       r.DeviceID,
		"timestamp":      r.Timestamp,
		"spectral_valid": r.SpectralValid,
	}
	for k, v := range map[string]*string{
		"temperature":      r.Temperature,
		"humidity":         r.Humidity,
		"moisture_content": r.MoistureContent,
	} {
		if v != nil {
			out[k] = *v
		}
	}
	if r.Spectrum != nil {
		out["spectrum"] = *r.Spectrum
	}
	return out
}
