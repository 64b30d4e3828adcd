package mirror

import (
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/afladry360/telemetry/internal/model"
)

// ReadingToPoint maps a stored reading to an InfluxDB point tagged by device.
// Text fields that do not parse as numbers are left out. The device
// timestamp is used when it parses, otherwise fallback.
func ReadingToPoint(measurement string, r model.SensorReading, fallback time.Time) *write.Point {
	tags := map[string]string{"device_id": r.DeviceID}

	fields := map[string]interface{}{
		"record_id":      r.ID,
		"spectral_valid": r.SpectralValid,
	}
	for name, v := range map[string]*string{
		"temperature":      r.Temperature,
		"humidity":         r.Humidity,
		"moisture_content": r.MoistureContent,
	} {
		if v == nil {
			continue
		}
		if f, err := strconv.ParseFloat(*v, 64); err == nil {
			fields[name] = f
		}
	}
	if r.Spectrum != nil {
		for i, c := range r.Spectrum {
			fields[fmt.Sprintf("ch%d", i)] = c
		}
	}

	ts := fallback
	if t, err := time.Parse(time.RFC3339Nano, r.Timestamp); err == nil {
		ts = t
	}
	return influxdb2.NewPoint(measurement, tags, fields, ts)
}
