package entities

import (
	"encoding/json"
	"fmt"
)

// ChannelCount is the number of bands reported by the multi-band light sensor.
const ChannelCount = 11

// Spectrum holds one intensity value per band. A reading either carries a full
// Spectrum or none at all.
type Spectrum [ChannelCount]int64

// SensorReading is the canonical persisted record of one sensor_data message.
// Nullable columns are pointers; ID is assigned by the store.
type SensorReading struct {
	ID              int64     `json:"id"`
	DeviceID        string    `json:"deviceId"`
	Timestamp       string    `json:"timestamp"`
	Temperature     *string   `json:"temperature"`
	Humidity        *string   `json:"humidity"`
	MoistureContent *string   `json:"moisture_content"`
	SpectralValid   bool      `json:"spectral_valid"`
	Spectrum        *Spectrum `json:"-"`
}

// MarshalJSON flattens the spectrum into ch0..ch10, null when absent, which is
// the shape the dashboard reads.
func (r SensorReading) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"id":               r.ID,
		"deviceId":         r.DeviceID,
		"timestamp":        r.Timestamp,
		"temperature":      r.Temperature,
		"humidity":         r.Humidity,
		"moisture_content": r.MoistureContent,
		"spectral_valid":   r.SpectralValid,
	}
	for i := 0; i < ChannelCount; i++ {
		key := fmt.Sprintf("ch%d", i)
		if r.Spectrum == nil {
			out[key] = nil
			continue
		}
		out[key] = r.Spectrum[i]
	}
	return json.Marshal(out)
}

// StringPtr is a small helper for building nullable text fields.
func StringPtr(s string) *string { return &s }
