package ingest

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/afladry360/telemetry/internal/emc"
	"github.com/afladry360/telemetry/internal/model"
)

const (
	// FallbackDeviceID is stored when a message does not name its device.
	FallbackDeviceID = "AflaDry360_ESP8266"
	// TimestampLayout is ISO-8601 UTC with milliseconds.
	TimestampLayout = "2006-01-02T15:04:05.000Z"
)

// Clock abstracts wall time so tests can pin receipt timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the real wall clock.
func SystemClock() Clock { return systemClock{} }

// Normalizer turns an untrusted sensor_data body into a canonical reading.
// It does no I/O.
type Normalizer struct {
	clock Clock
}

func NewNormalizer(clock Clock) *Normalizer {
	if clock == nil {
		clock = SystemClock()
	}
	return &Normalizer{clock: clock}
}

// Normalize always returns a usable reading. A non-nil error means the EMC
// model was undefined for the message's humidity and temperature; the
// reading then has no moisture content but is otherwise complete.
func (n *Normalizer) Normalize(body map[string]interface{}) (model.SensorReading, error) {
	r := model.SensorReading{
		DeviceID:      FallbackDeviceID,
		SpectralValid: boolOf(body["spectral_valid"]),
		Spectrum:      spectrumOf(body["spectral_data"]),
	}
	if id, ok := textOf(body["deviceId"]); ok {
		r.DeviceID = id
	}
	if ts, ok := textOf(body["timestamp"]); ok {
		r.Timestamp = ts
	} else {
		r.Timestamp = n.clock.Now().UTC().Format(TimestampLayout)
	}

	temp, tempOK := numberOf(body["temperature"])
	hum, humOK := numberOf(body["humidity"])
	if tempOK {
		r.Temperature = model.StringPtr(temp.text)
	}
	if humOK {
		r.Humidity = model.StringPtr(hum.text)
	}
	if !tempOK || !humOK {
		return r, nil
	}

	res, err := emc.Compute(hum.value, temp.value)
	if err != nil {
		return r, err
	}
	r.MoistureContent = model.StringPtr(strconv.FormatFloat(res.MoistureContent, 'f', -1, 64))
	return r, nil
}

type decimal struct {
	text  string
	value float64
}

// numberOf accepts JSON numbers and numeric strings. The stored text is the
// literal the device sent.
func numberOf(v interface{}) (decimal, bool) {
	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case string:
		s = strings.TrimSpace(t)
	default:
		return decimal{}, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal{}, false
	}
	return decimal{text: s, value: f}, true
}

// textOf returns a non-empty identifier from a string or number.
func textOf(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	}
	return "", false
}

func boolOf(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case float64:
		return t != 0
	}
	return false
}

// spectrumOf fills all channels from an array of at least ChannelCount
// entries, or returns nil. Entries that do not parse become 0.
func spectrumOf(v interface{}) *model.Spectrum {
	arr, ok := v.([]interface{})
	if !ok || len(arr) < model.ChannelCount {
		return nil
	}
	var s model.Spectrum
	for i := range s {
		s[i] = channelOf(arr[i])
	}
	return &s
}

func channelOf(v interface{}) int64 {
	switch t := v.(type) {
	case json.Number:
		if n, err := strconv.ParseInt(t.String(), 10, 64); err == nil {
			return n
		}
		f, err := t.Float64()
		if err != nil {
			return 0
		}
		return truncate(f)
	case float64:
		return truncate(t)
	case string:
		return leadingInt(t)
	}
	return 0
}

func truncate(f float64) int64 {
	if math.IsNaN(f) || f >= math.MaxInt64 || f <= math.MinInt64 {
		return 0
	}
	return int64(f)
}

// leadingInt parses an optional sign followed by digits at the start of s,
// ignoring anything after them: "42abc" is 42, "abc" is 0.
func leadingInt(s string) int64 {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0
	}
	return n
}
