package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/afladry360/telemetry/internal/errors"
)

// TopicKind says which handler a topic routes to.
type TopicKind int

const (
	TopicUnknown TopicKind = iota
	TopicSensor
	TopicStatus
)

func (k TopicKind) String() string {
	switch k {
	case TopicSensor:
		return "sensor"
	case TopicStatus:
		return "status"
	case TopicUnknown:
		return "unknown"
	}
	return fmt.Sprintf("TopicKind(%d)", int(k))
}

// Topics are the configured subscription names.
type Topics struct {
	Sensor string
	Status string
}

// Classify matches topic exactly against the configured names.
func (t Topics) Classify(topic string) TopicKind {
	switch topic {
	case t.Sensor:
		return TopicSensor
	case t.Status:
		return TopicStatus
	default:
		return TopicUnknown
	}
}

// decodeBody parses a payload as a single JSON object. Numbers are kept as
// json.Number so device literals survive untouched.
func decodeBody(payload []byte) (map[string]interface{}, error) {
	if !utf8.Valid(payload) {
		return nil, errors.NewDecodeError("payload is not valid UTF-8", nil)
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, errors.NewDecodeError("invalid json", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.NewDecodeError("trailing data after json value", nil)
	}
	body, ok := v.(map[string]interface{})
	if !ok {
		return nil, errors.NewDecodeError(fmt.Sprintf("expected a json object, got %T", v), nil)
	}
	return body, nil
}
