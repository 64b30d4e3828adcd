// Package metrics holds the Prometheus collectors for ingestion and
// reconciliation. Collectors live on their own registry so tests can build
// as many instances as they like.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "telemetry"

type Metrics struct {
	Registry *prometheus.Registry

	MessagesReceived *prometheus.CounterVec // by kind: sensor, status, unknown
	DecodeFailures   prometheus.Counter
	Duplicates       prometheus.Counter
	InboxDropped     *prometheus.CounterVec // by reason
	ReadingsStored   prometheus.Counter
	StoreErrors      *prometheus.CounterVec // by error kind
	EMCErrors        prometheus.Counter
	InsertLatency    prometheus.Histogram

	DeviceRSSI     *prometheus.GaugeVec
	DeviceLastSeen *prometheus.GaugeVec

	ReconcileRuns           *prometheus.CounterVec // by result
	ReconcileForwarded      prometheus.Counter
	ReconcileDeviceFailures prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_received_total",
			Help: "Inbound broker messages by topic kind.",
		}, []string{"kind"}),
		DecodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "decode_failures_total",
			Help: "Messages dropped because the payload was not a JSON object.",
		}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "duplicate_messages_total",
			Help: "QoS 1 redeliveries skipped.",
		}),
		InboxDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "inbox_dropped_total",
			Help: "Messages dropped before processing.",
		}, []string{"reason"}),
		ReadingsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "readings_stored_total",
			Help: "Sensor readings persisted.",
		}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "store_errors_total",
			Help: "Failed inserts by error kind.",
		}, []string{"kind"}),
		EMCErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "emc_errors_total",
			Help: "Readings stored without moisture because the EMC model was undefined.",
		}),
		InsertLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "insert_duration_seconds",
			Help:    "Time spent persisting one reading.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		DeviceRSSI: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "device_wifi_rssi_dbm",
			Help: "Last reported WiFi signal strength.",
		}, []string{"device"}),
		DeviceLastSeen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "device_last_seen_timestamp_seconds",
			Help: "Unix time of the last status message.",
		}, []string{"device"}),
		ReconcileRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconcile_runs_total",
			Help: "Reconciliation runs by result.",
		}, []string{"result"}),
		ReconcileForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconcile_forwarded_total",
			Help: "Readings appended to the ledger.",
		}),
		ReconcileDeviceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconcile_device_failures_total",
			Help: "Devices skipped during reconciliation because of an error.",
		}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.MessagesReceived, m.DecodeFailures, m.Duplicates, m.InboxDropped,
		m.ReadingsStored, m.StoreErrors, m.EMCErrors, m.InsertLatency,
		m.DeviceRSSI, m.DeviceLastSeen,
		m.ReconcileRuns, m.ReconcileForwarded, m.ReconcileDeviceFailures,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
