package api

import (
	"context"
	"net/http"
	"time"
)

type healthStatus struct {
	Status          string  `json:"status"`
	MQTTConnected   bool    `json:"mqtt_connected"`
	StoreOK         bool    `json:"store_ok"`
	MirrorEnabled   bool    `json:"mirror_enabled"`
	LastWriteErrorS float64 `json:"last_write_error_age_sec,omitempty"`
}

func (s *server) check(ctx context.Context) healthStatus {
	st := healthStatus{
		MQTTConnected: s.broker != nil && s.broker.IsConnected(),
		MirrorEnabled: s.mirror != nil,
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	st.StoreOK = s.store != nil && s.store.Ping(pingCtx) == nil
	if s.mirror != nil {
		st.LastWriteErrorS = s.mirror.LastErrorAge().Seconds()
	}
	return st
}

func (s *server) mirrorHealthy() bool {
	return s.mirror == nil || s.mirror.LastErrorAge() > s.errWindow
}

// /healthz: ok when every dependency is fine, degraded when some are, down
// when neither the broker nor the store is reachable.
func (s *server) health(w http.ResponseWriter, r *http.Request) {
	st := s.check(r.Context())
	switch {
	case st.MQTTConnected && st.StoreOK && s.mirrorHealthy():
		st.Status = "ok"
	case st.MQTTConnected || st.StoreOK:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}
	respondWithJSON(w, http.StatusOK, st)
}

// /readyz: 200 only when every dependency is ok.
func (s *server) ready(w http.ResponseWriter, r *http.Request) {
	st := s.check(r.Context())
	ready := st.MQTTConnected && st.StoreOK && s.mirrorHealthy()
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	respondWithJSON(w, code, struct {
		Ready bool `json:"ready"`
	}{ready})
}
