package messages

// HeartbeatType is the status message discriminator for periodic liveness pings.
const HeartbeatType = "heartbeat"

// StatusMessage is what nodes publish on the status topic. Firmware revisions
// disagree on field names, hence the Status/Type and WifiRSSI/RSSI pairs.
// Numeric diagnostics are kept as their literal text.
type StatusMessage struct {
	Device   string `json:"device"`
	Status   string `json:"status,omitempty"`
	Type     string `json:"type,omitempty"`
	WifiRSSI string `json:"wifi_rssi,omitempty"`
	RSSI     string `json:"rssi,omitempty"`
	Uptime   string `json:"uptime,omitempty"`
	FreeHeap string `json:"free_heap,omitempty"`
}

// IsHeartbeat reports whether the message is a heartbeat.
func (m StatusMessage) IsHeartbeat() bool { return m.Type == HeartbeatType }

// StatusOrType returns status, falling back to type.
func (m StatusMessage) StatusOrType() string {
	if m.Status != "" {
		return m.Status
	}
	return m.Type
}

// Signal returns wifi_rssi, falling back to rssi.
func (m StatusMessage) Signal() string {
	if m.WifiRSSI != "" {
		return m.WifiRSSI
	}
	return m.RSSI
}
