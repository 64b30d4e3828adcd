package sensor_simulator

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/afladry360/telemetry/internal/model"
)

// ====== Tunables ======
const (
	// dryer air warms towards targetTempC and dries towards targetRH
	targetTempC = 55.0
	targetRH    = 35.0

	// fraction of the remaining gap closed per minute
	approachPerMin = 0.04

	startTempC = 28.0
	startRH    = 80.0

	// spectral baseline per band, scaled by a slowly drifting factor
	spectralBase = 400
)

// SensorPayload is what a node publishes on the sensor topic.
type SensorPayload struct {
	DeviceID      string  `json:"deviceId"`
	Timestamp     string  `json:"timestamp"`
	Temperature   float64 `json:"temperature"`
	Humidity      float64 `json:"humidity"`
	SpectralValid bool    `json:"spectral_valid"`
	SpectralData  []int64 `json:"spectral_data"`
}

// HeartbeatPayload is the periodic liveness message on the status topic.
type HeartbeatPayload struct {
	Device   string `json:"device"`
	Type     string `json:"type"`
	Uptime   int64  `json:"uptime"`
	FreeHeap int64  `json:"free_heap"`
	WifiRSSI int    `json:"wifi_rssi"`
}

// DataGenerator keeps the simulated dryer state and advances it over time.
type DataGenerator struct {
	mu       sync.Mutex
	rnd      *rand.Rand
	seeded   bool
	last     time.Time
	tempC    float64
	rh       float64
	spectral float64
}

// NewDataGenerator creates a generator; equal seeds give equal sequences.
func NewDataGenerator(seed int64) *DataGenerator {
	return &DataGenerator{
		rnd:      rand.New(rand.NewSource(seed)),
		tempC:    startTempC,
		rh:       startRH,
		spectral: 1,
	}
}

// Next advances the state to now and returns a reading for deviceID.
func (g *DataGenerator) Next(deviceID string, now time.Time) SensorPayload {
	g.mu.Lock()
	defer g.mu.Unlock()

	now = now.UTC()
	if !g.seeded {
		g.last = now
		g.seeded = true
	}
	dtMin := now.Sub(g.last).Minutes()
	if dtMin < 0 {
		dtMin = 0
	}
	g.last = now

	step := 1 - math.Pow(1-approachPerMin, dtMin)
	g.tempC += (targetTempC-g.tempC)*step + g.rnd.NormFloat64()*0.3
	g.rh += (targetRH-g.rh)*step + g.rnd.NormFloat64()*0.5
	g.rh = clamp(g.rh, 0, 100)
	g.spectral = clamp(g.spectral+g.rnd.NormFloat64()*0.02, 0.5, 1.5)

	spec := make([]int64, model.ChannelCount)
	for i := range spec {
		v := float64(spectralBase+40*i)*g.spectral + g.rnd.NormFloat64()*5
		spec[i] = int64(math.Max(0, math.Round(v)))
	}

	return SensorPayload{
		DeviceID:      deviceID,
		Timestamp:     now.Format("2006-01-02T15:04:05.000Z"),
		Temperature:   round1(g.tempC),
		Humidity:      round1(g.rh),
		SpectralValid: g.rnd.Float64() > 0.05,
		SpectralData:  spec,
	}
}

// Heartbeat builds a liveness message for deviceID.
func (g *DataGenerator) Heartbeat(deviceID string, uptime time.Duration) HeartbeatPayload {
	g.mu.Lock()
	defer g.mu.Unlock()
	return HeartbeatPayload{
		Device:   deviceID,
		Type:     model.HeartbeatType,
		Uptime:   int64(uptime.Seconds()),
		FreeHeap: 30000 + g.rnd.Int63n(8000),
		WifiRSSI: -50 - g.rnd.Intn(30),
	}
}

// Malformed returns one of a few broken payloads a flaky node might send.
func (g *DataGenerator) Malformed(deviceID string) []byte {
	g.mu.Lock()
	n := g.rnd.Intn(3)
	g.mu.Unlock()

	switch n {
	case 0:
		return []byte(`{"deviceId":"` + deviceID + `","temperature":31.`)
	case 1:
		return []byte{0xff, 0xfe, 0x00, 0x7b}
	default:
		return []byte(`not json at all`)
	}
}

// ===== Helpers =====

func round1(x float64) float64 { return math.Round(x*10) / 10 }

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
