package ingest

import (
	"strconv"

	"github.com/afladry360/telemetry/internal/logging"
	"github.com/afladry360/telemetry/internal/metrics"
	"github.com/afladry360/telemetry/internal/model"
)

// StatusHandler is an observability sink for status and heartbeat messages.
// It logs and updates gauges; nothing is persisted.
type StatusHandler struct {
	log     logging.Logger
	metrics *metrics.Metrics
	clock   Clock
}

func NewStatusHandler(log logging.Logger, m *metrics.Metrics, clock Clock) *StatusHandler {
	if clock == nil {
		clock = SystemClock()
	}
	return &StatusHandler{log: log, metrics: m, clock: clock}
}

// Handle reads the status fields out of body and reports them.
func (h *StatusHandler) Handle(body map[string]interface{}) model.StatusMessage {
	msg := parseStatus(body)

	device := msg.Device
	if device == "" {
		device = "unknown"
	}
	h.log.Infof("[Status] device=%s status=%s rssi=%s", device, orDash(msg.StatusOrType()), orDash(msg.Signal()))
	if msg.IsHeartbeat() {
		h.log.Infof("[Status] heartbeat device=%s uptime=%sms free_heap=%sB", device, orDash(msg.Uptime), orDash(msg.FreeHeap))
	}

	if h.metrics != nil {
		h.metrics.DeviceLastSeen.WithLabelValues(device).Set(float64(h.clock.Now().Unix()))
		if rssi, err := strconv.ParseFloat(msg.Signal(), 64); err == nil {
			h.metrics.DeviceRSSI.WithLabelValues(device).Set(rssi)
		}
	}
	return msg
}

func parseStatus(body map[string]interface{}) model.StatusMessage {
	field := func(key string) string {
		s, _ := textOf(body[key])
		return s
	}
	return model.StatusMessage{
		Device:   field("device"),
		Status:   field("status"),
		Type:     field("type"),
		WifiRSSI: field("wifi_rssi"),
		RSSI:     field("rssi"),
		Uptime:   field("uptime"),
		FreeHeap: field("free_heap"),
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
