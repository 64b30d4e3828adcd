package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/afladry360/telemetry/internal/errors"
	"github.com/afladry360/telemetry/internal/logging"
	"github.com/afladry360/telemetry/internal/metrics"
	"github.com/afladry360/telemetry/internal/model"
	"github.com/afladry360/telemetry/internal/services/reconcile"
)

type fakeStore struct {
	records  []model.SensorReading
	err      error
	pingErr  error
	byDevice string
	panics   bool
}

func (f *fakeStore) QueryAll(context.Context) ([]model.SensorReading, error) {
	if f.panics {
		panic("boom")
	}
	return f.records, f.err
}

func (f *fakeStore) QueryByDevice(_ context.Context, id string) ([]model.SensorReading, error) {
	f.byDevice = id
	var out []model.SensorReading
	for _, r := range f.records {
		if r.DeviceID == id {
			out = append(out, r)
		}
	}
	return out, f.err
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

type fakeReconciler struct {
	report reconcile.Report
	err    error
	calls  int
}

func (f *fakeReconciler) ReconcileAll(context.Context) (reconcile.Report, error) {
	f.calls++
	return f.report, f.err
}

type fakeBroker bool

func (b fakeBroker) IsConnected() bool { return bool(b) }

type fakeMirror time.Duration

func (m fakeMirror) LastErrorAge() time.Duration { return time.Duration(m) }

func newTestRouter(st *fakeStore, rec *fakeReconciler, connected bool) http.Handler {
	return NewRouter(Options{
		Store:       st,
		Reconciler:  rec,
		Broker:      fakeBroker(connected),
		Metrics:     metrics.New(),
		Logger:      logging.Nop{},
		Prefix:      "/api/v1",
		FrontendURL: "http://localhost:5173",
	})
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAllData(t *testing.T) {
	spec := model.Spectrum{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	st := &fakeStore{records: []model.SensorReading{
		{ID: 1, DeviceID: "a", Timestamp: "2024-01-15T10:30:00.000Z", Spectrum: &spec},
		{ID: 2, DeviceID: "b", Timestamp: "2024-01-15T10:31:00.000Z"},
	}}
	h := newTestRouter(st, &fakeReconciler{}, true)

	t.Run("all", func(t *testing.T) {
		rr := do(t, h, http.MethodGet, "/api/v1/all-data")
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d", rr.Code)
		}
		var got []map[string]interface{}
		if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
			t.Fatalf("body: %v", err)
		}
		if len(got) != 2 || got[0]["ch10"] != float64(11) || got[1]["ch0"] != nil {
			t.Errorf("body = %s", rr.Body.String())
		}
	})

	t.Run("by device", func(t *testing.T) {
		rr := do(t, h, http.MethodGet, "/api/v1/all-data?deviceId=b&other=1")
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d", rr.Code)
		}
		if st.byDevice != "b" {
			t.Errorf("QueryByDevice called with %q", st.byDevice)
		}
		var got []map[string]interface{}
		_ = json.Unmarshal(rr.Body.Bytes(), &got)
		if len(got) != 1 || got[0]["id"] != float64(2) {
			t.Errorf("body = %s", rr.Body.String())
		}
	})

	t.Run("unknown device is an empty array", func(t *testing.T) {
		rr := do(t, h, http.MethodGet, "/api/v1/all-data?deviceId=zz")
		if strings.TrimSpace(rr.Body.String()) != "[]" {
			t.Errorf("body = %s, want []", rr.Body.String())
		}
	})
}

func TestAllData_StoreError(t *testing.T) {
	st := &fakeStore{err: errors.NewConnectivityError("db down", nil)}
	rr := do(t, newTestRouter(st, &fakeReconciler{}, true), http.MethodGet, "/api/v1/all-data")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 for an unreachable store", rr.Code)
	}
	var got errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("body: %v", err)
	}
	if got.Success || got.Error == "" || !strings.HasPrefix(got.RequestID, "req") {
		t.Errorf("envelope = %+v", got)
	}
}

func TestUploadToLedger(t *testing.T) {
	t.Run("success with partial failures", func(t *testing.T) {
		rec := &fakeReconciler{report: reconcile.Report{Devices: 2, Forwarded: 3, Failed: 1}}
		rr := do(t, newTestRouter(&fakeStore{}, rec, true), http.MethodPut, "/api/v1/upload-to-blockchain")
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d", rr.Code)
		}
		var got uploadResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
			t.Fatalf("body: %v", err)
		}
		if !got.Success || got.Report.Forwarded != 3 || got.Report.Failed != 1 {
			t.Errorf("envelope = %+v", got)
		}
	})

	t.Run("store read failure", func(t *testing.T) {
		rec := &fakeReconciler{err: fmt.Errorf("read local records: %w", errors.NewConnectivityError("db down", nil))}
		rr := do(t, newTestRouter(&fakeStore{}, rec, true), http.MethodPut, "/api/v1/upload-to-blockchain")
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rr.Code)
		}
		var got errorResponse
		_ = json.Unmarshal(rr.Body.Bytes(), &got)
		if got.Success || got.Error == "" {
			t.Errorf("envelope = %+v", got)
		}
	})

	t.Run("post is not routed", func(t *testing.T) {
		rec := &fakeReconciler{}
		rr := do(t, newTestRouter(&fakeStore{}, rec, true), http.MethodPost, "/api/v1/upload-to-blockchain")
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", rr.Code)
		}
		if rec.calls != 0 {
			t.Errorf("reconciler called %d times", rec.calls)
		}
	})
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name      string
		connected bool
		pingErr   error
		mirror    WriteHealth
		want      string
		ready     int
	}{
		{"all ok", true, nil, nil, "ok", http.StatusOK},
		{"mirror ok", true, nil, fakeMirror(time.Hour), "ok", http.StatusOK},
		{"recent mirror error", true, nil, fakeMirror(time.Second), "degraded", http.StatusServiceUnavailable},
		{"broker down", false, nil, nil, "degraded", http.StatusServiceUnavailable},
		{"everything down", false, errors.NewConnectivityError("db", nil), nil, "down", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(Options{
				Store:      &fakeStore{pingErr: tt.pingErr},
				Reconciler: &fakeReconciler{},
				Broker:     fakeBroker(tt.connected),
				Mirror:     tt.mirror,
				Prefix:     "/api/v1",
			})
			rr := do(t, h, http.MethodGet, "/healthz")
			var st healthStatus
			if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
				t.Fatalf("body: %v", err)
			}
			if st.Status != tt.want {
				t.Errorf("status = %q, want %q", st.Status, tt.want)
			}
			if rr := do(t, h, http.MethodGet, "/readyz"); rr.Code != tt.ready {
				t.Errorf("/readyz = %d, want %d", rr.Code, tt.ready)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.ReadingsStored.Inc()
	h := NewRouter(Options{Store: &fakeStore{}, Reconciler: &fakeReconciler{}, Metrics: m, Prefix: "/api/v1"})
	rr := do(t, h, http.MethodGet, "/metrics")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "telemetry_") {
		t.Errorf("/metrics = %d %s", rr.Code, rr.Body.String())
	}
}

func TestCORS(t *testing.T) {
	h := newTestRouter(&fakeStore{}, &fakeReconciler{}, true)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/all-data", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/all-data", nil)
	req.Header.Set("Origin", "http://evil.example")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q for a foreign origin", got)
	}
}

func TestRecoversFromPanic(t *testing.T) {
	rec := &logging.Recorder{}
	h := NewRouter(Options{Store: &fakeStore{panics: true}, Reconciler: &fakeReconciler{}, Logger: rec, Prefix: "/api/v1"})
	rr := do(t, h, http.MethodGet, "/api/v1/all-data")
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
	if _, _, errs := rec.Count(); errs == 0 {
		t.Error("panic was not logged")
	}
}

func TestErrorStatusFollowsKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"connectivity", errors.NewConnectivityError("db down", nil), http.StatusServiceUnavailable},
		{"validation", errors.NewValidationError("bad", nil), http.StatusBadRequest},
		{"wrapped validation", fmt.Errorf("query: %w", errors.NewValidationError("bad", nil)), http.StatusBadRequest},
		{"untyped", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, newTestRouter(&fakeStore{err: tt.err}, &fakeReconciler{}, true), http.MethodGet, "/api/v1/all-data")
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}
