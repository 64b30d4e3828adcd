// Package api is the HTTP boundary used by the dashboard: reading listing,
// the reconcile trigger, health checks and metrics.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/schema"

	"github.com/afladry360/telemetry/internal/logging"
	"github.com/afladry360/telemetry/internal/metrics"
	"github.com/afladry360/telemetry/internal/model"
	"github.com/afladry360/telemetry/internal/services/reconcile"
)

// Readings is the query side of the store.
type Readings interface {
	QueryAll(ctx context.Context) ([]model.SensorReading, error)
	QueryByDevice(ctx context.Context, deviceID string) ([]model.SensorReading, error)
	Ping(ctx context.Context) error
}

type Reconciler interface {
	ReconcileAll(ctx context.Context) (reconcile.Report, error)
}

// Connectivity is satisfied by *broker.Conn.
type Connectivity interface {
	IsConnected() bool
}

// WriteHealth is satisfied by *mirror.Writer.
type WriteHealth interface {
	LastErrorAge() time.Duration
}

type Options struct {
	Store       Readings
	Reconciler  Reconciler
	Broker      Connectivity
	Mirror      WriteHealth // nil when mirroring is off
	Metrics     *metrics.Metrics
	Logger      logging.Logger
	Prefix      string
	FrontendURL string
	// MirrorErrorWindow is how long a mirror write error keeps the service
	// degraded / not ready.
	MirrorErrorWindow time.Duration
	QueryTimeout      time.Duration
}

type server struct {
	store      Readings
	reconciler Reconciler
	broker     Connectivity
	mirror     WriteHealth
	log        logging.Logger
	decoder    *schema.Decoder
	errWindow  time.Duration
	timeout    time.Duration
}

// NewRouter builds the full handler, CORS and panic recovery included.
func NewRouter(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = logging.Nop{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.MirrorErrorWindow <= 0 {
		opts.MirrorErrorWindow = 30 * time.Second
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 10 * time.Second
	}

	dec := schema.NewDecoder()
	dec.IgnoreUnknownKeys(true)

	s := &server{
		store:      opts.Store,
		reconciler: opts.Reconciler,
		broker:     opts.Broker,
		mirror:     opts.Mirror,
		log:        opts.Logger,
		decoder:    dec,
		errWindow:  opts.MirrorErrorWindow,
		timeout:    opts.QueryTimeout,
	}

	r := mux.NewRouter()
	r.Handle("/healthz", http.HandlerFunc(s.health)).Methods(http.MethodGet)
	r.Handle("/readyz", http.HandlerFunc(s.ready)).Methods(http.MethodGet)
	r.Handle("/metrics", opts.Metrics.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix(opts.Prefix).Subrouter()
	v1.HandleFunc("/all-data", s.allData).Methods(http.MethodGet)
	v1.HandleFunc("/upload-to-blockchain", s.uploadToLedger).Methods(http.MethodPut)

	var h http.Handler = r
	if opts.FrontendURL != "" {
		h = handlers.CORS(
			handlers.AllowedOrigins([]string{opts.FrontendURL}),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPut, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		)(h)
	}
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{opts.Logger}),
	)(h)
}

type recoveryLogger struct{ log logging.Logger }

func (l recoveryLogger) Println(v ...interface{}) {
	l.log.Errorf("[API] panic: %s", fmt.Sprint(v...))
}
