// Package mirror copies stored readings into InfluxDB for dashboards that
// want time-series queries. It is optional and never blocks ingestion.
package mirror

import (
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/afladry360/telemetry/internal/logging"
	"github.com/afladry360/telemetry/internal/model"
)

// Writer wraps the async WriteAPI and remembers when the last write failed,
// for the health endpoints.
type Writer struct {
	api         api.WriteAPI
	measurement string
	log         logging.Logger
	now         func() time.Time

	mu      sync.RWMutex
	lastErr time.Time
	errMsg  string
	written int64
}

func NewWriter(w api.WriteAPI, measurement string, log logging.Logger) *Writer {
	if measurement == "" {
		measurement = "grain_telemetry"
	}
	ww := &Writer{
		api:         w,
		measurement: measurement,
		log:         log,
		now:         time.Now,
		lastErr:     time.Now().Add(-24 * time.Hour),
	}
	go func() {
		for err := range w.Errors() {
			if err == nil {
				continue
			}
			ww.mu.Lock()
			ww.lastErr = ww.now()
			ww.errMsg = err.Error()
			ww.mu.Unlock()
			log.Warnf("[Mirror] influx write error: %v", err)
		}
	}()
	return ww
}

// Record queues r for writing.
func (w *Writer) Record(r model.SensorReading) {
	if w == nil {
		return
	}
	w.api.WritePoint(ReadingToPoint(w.measurement, r, w.now()))
	w.mu.Lock()
	w.written++
	w.mu.Unlock()
}

// LastErrorAge is how long ago the last write failed.
func (w *Writer) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return w.now().Sub(t)
}

// LastError returns the message of the last write failure, if any.
func (w *Writer) LastError() string {
	if w == nil {
		return ""
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.errMsg
}

// Written counts points queued since start.
func (w *Writer) Written() int64 {
	if w == nil {
		return 0
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.written
}

// Flush forces buffered points out.
func (w *Writer) Flush() {
	if w == nil {
		return
	}
	w.api.Flush()
}
