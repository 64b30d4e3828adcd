package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/spf13/cobra"
	nuts "github.com/vaudience/go-nuts"

	"github.com/afladry360/telemetry/internal/config"
	"github.com/afladry360/telemetry/internal/logging"
	"github.com/afladry360/telemetry/internal/metrics"
	"github.com/afladry360/telemetry/internal/services/api"
	"github.com/afladry360/telemetry/internal/services/ingest"
	"github.com/afladry360/telemetry/internal/services/mirror"
	"github.com/afladry360/telemetry/internal/services/reconcile"
	"github.com/afladry360/telemetry/internal/store"
	"github.com/afladry360/telemetry/pkg/broker"
	"github.com/afladry360/telemetry/pkg/dedup"
)

const dedupCapacity = 20000

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion pipeline and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg, logging.Default())
	},
}

func serve(ctx context.Context, cfg *config.Config, log logging.Logger) error {
	log.Infof("[Main] starting telemetry v%s", nuts.GetVersion())
	m := metrics.New()

	// === Store ===
	st, err := store.Open(ctx, cfg.StoreConfig(), log)
	if err != nil {
		return err
	}
	defer st.Close()

	// === Mirror (optional) ===
	var (
		mir    ingest.Mirror
		health api.WriteHealth
		writer *mirror.Writer
	)
	if cfg.MirrorEnabled() {
		influx := influxdb2.NewClientWithOptions(cfg.Influx.URL, cfg.Influx.Token, influxdb2.DefaultOptions())
		defer influx.Close()
		writer = mirror.NewWriter(influx.WriteAPI(cfg.Influx.Org, cfg.Influx.Bucket), cfg.Influx.Measurement, log)
		mir, health = writer, writer
		log.Infof("[Main] mirroring readings to %s/%s", cfg.Influx.URL, cfg.Influx.Bucket)
	}

	// === Ingestion ===
	svc := ingest.NewService(ingest.Options{
		Topics:  ingest.Topics{Sensor: cfg.MQTT.SensorTopic, Status: cfg.MQTT.StatusTopic},
		Store:   st,
		Mirror:  mir,
		Dedup:   dedup.New(cfg.MQTT.DedupTTL, dedupCapacity),
		Metrics: m,
		Logger:  log,
	})
	inbox := broker.NewInbox(broker.InboxConfig{
		Size:   cfg.MQTT.InboxSize,
		Handle: svc.Deliver,
		OnDrop: func(_ broker.Delivery, reason error) {
			m.InboxDropped.WithLabelValues(dropReason(reason)).Inc()
		},
		Logger: log,
	})
	inbox.Start(context.Background())

	// === MQTT ===
	conn, err := broker.NewConn(ctx, cfg.BrokerConfig(), log)
	if err != nil {
		inbox.Close()
		return err
	}
	consumer := broker.NewMultiConsumer(conn.Client(), svc.Subscriptions(byte(cfg.MQTT.QoS)), inbox.Offer, log)
	conn.OnConnect(consumer.Resubscribe)

	consumeCtx, stopConsuming := context.WithCancel(context.Background())
	consumeDone := make(chan struct{})
	go func() {
		defer close(consumeDone)
		if failed := consumer.ConsumeMessage(consumeCtx); failed > 0 {
			log.Warnf("[Main] %d subscriptions failed during the session", failed)
		}
	}()

	// === Reconciliation ===
	ropts := cfg.ReconcileOptions()
	ropts.Store, ropts.Ledger, ropts.Logger, ropts.Metrics = st, newLedger(cfg, log), log, m
	engine := reconcile.NewEngine(ropts)
	go reconcile.NewScheduler(engine, cfg.Reconcile.Interval, log).Start(ctx)

	// === HTTP ===
	hs := &http.Server{
		Addr: cfg.Addr(),
		Handler: api.NewRouter(api.Options{
			Store:       st,
			Reconciler:  engine,
			Broker:      conn,
			Mirror:      health,
			Metrics:     m,
			Logger:      log,
			Prefix:      cfg.Server.APIPrefix,
			FrontendURL: cfg.Server.FrontendURL,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	httpErr := make(chan error, 1)
	go func() {
		log.Infof("[Main] HTTP listening on %s", hs.Addr)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	// === Wait for signal ===
	var runErr error
	select {
	case <-ctx.Done():
		log.Infof("[Main] shutting down...")
	case runErr = <-httpErr:
		log.Errorf("[Main] http server error: %v", runErr)
	}

	shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := drain(shCtx, func() { stopIntake(stopConsuming, consumeDone, inbox) }, hs); err != nil {
		log.Warnf("[Main] http shutdown: %v", err)
	}

	conn.Close(250 * time.Millisecond)
	writer.Flush()

	log.Infof("[Main] stopped")
	return runErr
}

// stopIntake unsubscribes, waits for the consumer to return and closes the
// inbox: the in-flight message finishes, anything queued or arriving later
// is dropped.
func stopIntake(stopConsuming context.CancelFunc, consumeDone <-chan struct{}, inbox *broker.Inbox) {
	stopConsuming()
	<-consumeDone
	inbox.Close()
}

// drain stops message intake before the HTTP server, whose shutdown may wait
// on a long reconcile request; nothing is stored once shutdown has begun.
func drain(ctx context.Context, intake func(), hs *http.Server) error {
	intake()
	return hs.Shutdown(ctx)
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, broker.ErrInboxFull):
		return "full"
	case errors.Is(err, broker.ErrInboxClosed):
		return "closed"
	default:
		return "other"
	}
}
