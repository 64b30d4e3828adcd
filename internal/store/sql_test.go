package store

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/afladry360/telemetry/internal/errors"
	"github.com/afladry360/telemetry/internal/logging"
	"github.com/afladry360/telemetry/internal/model"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open(context.Background(), Config{
		Driver:      DriverSQLite,
		DSN:         ":memory:",
		AutoMigrate: true,
	}, logging.Nop{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func reading(device string, withSpectrum bool) model.SensorReading {
	r := model.SensorReading{
		DeviceID:        device,
		Timestamp:       "2024-01-15T10:30:00.000Z",
		Temperature:     model.StringPtr("31.5"),
		Humidity:        model.StringPtr("60"),
		MoistureContent: model.StringPtr("0.178390"),
		SpectralValid:   withSpectrum,
	}
	if withSpectrum {
		r.Spectrum = &model.Spectrum{100, 200, 300, 0, -5, 6, 7, 8, 9, 10, 2147483647}
	}
	return r
}

func TestInsert_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := reading("dryer-1", true)
	stored, err := s.Insert(ctx, in)
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if stored.ID <= 0 {
		t.Fatalf("Insert() ID = %d, want positive", stored.ID)
	}

	got, err := s.QueryByDevice(ctx, "dryer-1")
	if err != nil {
		t.Fatalf("QueryByDevice() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("QueryByDevice() returned %d rows, want 1", len(got))
	}
	want := in
	want.ID = stored.ID
	if !reflect.DeepEqual(got[0], want) {
		t.Errorf("QueryByDevice()[0] = %+v, want %+v", got[0], want)
	}
}

func TestInsert_NullFieldsStayNull(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := model.SensorReading{DeviceID: "dryer-2", Timestamp: "2024-01-15T10:30:00.000Z"}
	if _, err := s.Insert(ctx, in); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	got, err := s.QueryAll(ctx)
	if err != nil {
		t.Fatalf("QueryAll() error = %v", err)
	}
	r := got[0]
	if r.Temperature != nil || r.Humidity != nil || r.MoistureContent != nil {
		t.Errorf("nullable text fields = %v %v %v, want all nil", r.Temperature, r.Humidity, r.MoistureContent)
	}
	if r.Spectrum != nil {
		t.Errorf("Spectrum = %v, want nil", r.Spectrum)
	}
	if r.SpectralValid {
		t.Error("SpectralValid = true, want false")
	}
}

func TestQueryAll_InsertionOrderAndUniqueIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	devices := []string{"b", "a", "b", "c", "a"}
	for _, d := range devices {
		if _, err := s.Insert(ctx, reading(d, false)); err != nil {
			t.Fatalf("Insert(%s) error = %v", d, err)
		}
	}

	all, err := s.QueryAll(ctx)
	if err != nil {
		t.Fatalf("QueryAll() error = %v", err)
	}
	if len(all) != len(devices) {
		t.Fatalf("QueryAll() returned %d rows, want %d", len(all), len(devices))
	}
	seen := map[int64]bool{}
	for i, r := range all {
		if r.DeviceID != devices[i] {
			t.Errorf("row %d device = %s, want %s", i, r.DeviceID, devices[i])
		}
		if seen[r.ID] {
			t.Errorf("duplicate id %d", r.ID)
		}
		seen[r.ID] = true
		if i > 0 && r.ID <= all[i-1].ID {
			t.Errorf("ids not increasing: %d after %d", r.ID, all[i-1].ID)
		}
	}

	onlyA, err := s.QueryByDevice(ctx, "a")
	if err != nil {
		t.Fatalf("QueryByDevice() error = %v", err)
	}
	if len(onlyA) != 2 || onlyA[0].DeviceID != "a" || onlyA[1].DeviceID != "a" {
		t.Errorf("QueryByDevice(a) = %+v, want two rows for a", onlyA)
	}

	none, err := s.QueryByDevice(ctx, "missing")
	if err != nil {
		t.Fatalf("QueryByDevice() error = %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("QueryByDevice(missing) = %v, want empty slice", none)
	}
}

func TestInsert_Validation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	long := strings.Repeat("9", 256)
	tests := []struct {
		name string
		mut  func(*model.SensorReading)
	}{
		{"temperature too wide", func(r *model.SensorReading) { r.Temperature = &long }},
		{"device id too wide", func(r *model.SensorReading) { r.DeviceID = long }},
		{"missing device id", func(r *model.SensorReading) { r.DeviceID = "" }},
		{"missing timestamp", func(r *model.SensorReading) { r.Timestamp = "" }},
		{"channel above int32", func(r *model.SensorReading) { r.Spectrum[3] = 1 << 40 }},
		{"channel below int32", func(r *model.SensorReading) { r.Spectrum[0] = -(1 << 40) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := reading("dryer-1", true)
			tt.mut(&r)
			_, err := s.Insert(ctx, r)
			if !errors.IsValidation(err) {
				t.Errorf("Insert() error = %v, want validation error", err)
			}
		})
	}

	all, err := s.QueryAll(ctx)
	if err != nil {
		t.Fatalf("QueryAll() error = %v", err)
	}
	if len(all) != 0 {
		t.Errorf("QueryAll() returned %d rows after rejected inserts, want 0", len(all))
	}

	exact := strings.Repeat("é", 255)
	r := reading("dryer-1", false)
	r.Humidity = &exact
	if _, err := s.Insert(ctx, r); err != nil {
		t.Errorf("Insert() at width limit error = %v", err)
	}
}

func TestInsert_PartialChannelsRejectedBySchema(t *testing.T) {
	s := newTestStore(t)
	_, err := s.DB().ExecContext(context.Background(),
		`INSERT INTO sensor_data (device_id, "timestamp", ch0) VALUES ('x', 't', 1)`)
	if err == nil {
		t.Fatal("partial channel insert succeeded, want CHECK violation")
	}
	if !errors.IsValidation(classify("insert", err)) {
		t.Errorf("classify() kind = %q, want validation", errors.KindOf(classify("insert", err)))
	}
}

func TestClosedStore_Connectivity(t *testing.T) {
	s := newTestStore(t)
	s.Close()

	_, err := s.Insert(context.Background(), reading("dryer-1", false))
	if !errors.IsConnectivity(err) {
		t.Errorf("Insert() on closed store error = %v, want connectivity error", err)
	}
	if err := s.Ping(context.Background()); !errors.IsConnectivity(err) {
		t.Errorf("Ping() error = %v, want connectivity error", err)
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "mysql"}, logging.Nop{}); err == nil {
		t.Error("Open() error = nil, want error for unsupported driver")
	}
}
