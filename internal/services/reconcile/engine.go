// Package reconcile forwards locally stored readings that the external
// ledger has not archived yet, one batch per device.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/afladry360/telemetry/internal/ledger"
	"github.com/afladry360/telemetry/internal/logging"
	"github.com/afladry360/telemetry/internal/metrics"
	"github.com/afladry360/telemetry/internal/model"
)

// Reader is the part of the store reconciliation reads from.
type Reader interface {
	QueryAll(ctx context.Context) ([]model.SensorReading, error)
}

// DeviceGroups maps each device to its readings in store order. Order lists
// the devices as first seen.
type DeviceGroups struct {
	Order    []string
	Readings map[string][]model.SensorReading
}

// GroupByDevice builds the per-run device mapping.
func GroupByDevice(records []model.SensorReading) DeviceGroups {
	g := DeviceGroups{Readings: map[string][]model.SensorReading{}}
	for _, r := range records {
		if _, ok := g.Readings[r.DeviceID]; !ok {
			g.Order = append(g.Order, r.DeviceID)
		}
		g.Readings[r.DeviceID] = append(g.Readings[r.DeviceID], r)
	}
	return g
}

// Delta returns the readings whose IDs are not among archived, keeping order.
func Delta(local []model.SensorReading, archived []model.ArchivedChunk) []model.SensorReading {
	have := make(map[int64]struct{}, len(archived))
	for _, c := range archived {
		have[c.ID] = struct{}{}
	}
	var out []model.SensorReading
	for _, r := range local {
		if _, ok := have[r.ID]; !ok {
			out = append(out, r)
		}
	}
	return out
}

type DeviceResult struct {
	DeviceID  string `json:"deviceId"`
	Local     int    `json:"local"`
	Archived  int    `json:"archived"`
	Forwarded int    `json:"forwarded"`
	Error     string `json:"error,omitempty"`
}

type Report struct {
	Devices    int            `json:"devices"`
	Forwarded  int            `json:"forwarded"`
	Failed     int            `json:"failed"`
	Results    []DeviceResult `json:"results"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
}

type Options struct {
	Store         Reader
	Ledger        ledger.Ledger
	Logger        logging.Logger
	Metrics       *metrics.Metrics
	Concurrency   int
	DeviceTimeout time.Duration
}

type Engine struct {
	store         Reader
	ledger        ledger.Ledger
	log           logging.Logger
	metrics       *metrics.Metrics
	concurrency   int
	deviceTimeout time.Duration

	// one run at a time, so overlapping triggers cannot forward the same delta twice
	mu sync.Mutex
}

func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logging.Nop{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Engine{
		store:         opts.Store,
		ledger:        opts.Ledger,
		log:           opts.Logger,
		metrics:       opts.Metrics,
		concurrency:   opts.Concurrency,
		deviceTimeout: opts.DeviceTimeout,
	}
}

// ReconcileAll forwards each device's unarchived readings to the ledger.
// It fails only when the local records cannot be read; a device whose fetch
// or append fails is logged, reported and skipped.
func (e *Engine) ReconcileAll(ctx context.Context) (Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	report := Report{StartedAt: time.Now().UTC()}
	records, err := e.store.QueryAll(ctx)
	if err != nil {
		e.metrics.ReconcileRuns.WithLabelValues("failed").Inc()
		e.log.Errorf("[Reconcile] reading local records: %v", err)
		return report, fmt.Errorf("read local records: %w", err)
	}

	groups := GroupByDevice(records)
	results := make([]DeviceResult, len(groups.Order))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, device := range groups.Order {
		i, device := i, device
		g.Go(func() error {
			results[i] = e.reconcileDevice(ctx, device, groups.Readings[device])
			return nil
		})
	}
	_ = g.Wait()

	report.Results = results
	report.Devices = len(results)
	for _, r := range results {
		report.Forwarded += r.Forwarded
		if r.Error != "" {
			report.Failed++
		}
	}
	report.FinishedAt = time.Now().UTC()

	result := "ok"
	if report.Failed > 0 {
		result = "partial"
	}
	e.metrics.ReconcileRuns.WithLabelValues(result).Inc()
	e.log.Infof("[Reconcile] run finished: %d devices, %d forwarded, %d failed",
		report.Devices, report.Forwarded, report.Failed)
	return report, nil
}

func (e *Engine) reconcileDevice(ctx context.Context, device string, local []model.SensorReading) DeviceResult {
	res := DeviceResult{DeviceID: device, Local: len(local)}
	if e.deviceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.deviceTimeout)
		defer cancel()
	}

	archived, err := e.ledger.FetchArchived(ctx, device)
	if err != nil {
		return e.failed(res, "fetch archived", err)
	}
	res.Archived = len(archived)

	delta := Delta(local, archived)
	if len(delta) == 0 {
		e.log.Infof("[Reconcile] %s: nothing new (%d archived)", device, res.Archived)
		return res
	}

	chunks := make([]model.ArchivedChunk, 0, len(delta))
	for _, r := range delta {
		chunks = append(chunks, model.ChunkFromReading(r))
	}
	if err := e.ledger.AppendBatch(ctx, device, chunks); err != nil {
		return e.failed(res, fmt.Sprintf("append %d records", len(chunks)), err)
	}

	res.Forwarded = len(chunks)
	e.metrics.ReconcileForwarded.Add(float64(len(chunks)))
	e.log.Infof("[Reconcile] %s: forwarded %d records", device, len(chunks))
	return res
}

func (e *Engine) failed(res DeviceResult, step string, err error) DeviceResult {
	res.Error = fmt.Sprintf("%s: %v", step, err)
	e.metrics.ReconcileDeviceFailures.Inc()
	e.log.Errorf("[Reconcile] %s: %s failed: %v", res.DeviceID, step, err)
	return res
}
