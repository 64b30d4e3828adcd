package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	nuts "github.com/vaudience/go-nuts"

	"github.com/afladry360/telemetry/internal/errors"
	"github.com/afladry360/telemetry/internal/model"
	"github.com/afladry360/telemetry/internal/services/reconcile"
)

type allDataQuery struct {
	DeviceID string `schema:"deviceId"`
}

type uploadResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Report  reconcile.Report `json:"report"`
}

type errorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	RequestID string `json:"requestId"`
}

// GET /all-data[?deviceId=...]
func (s *server) allData(w http.ResponseWriter, r *http.Request) {
	requestID := nuts.NID("req", 12)

	var q allDataQuery
	if err := s.decoder.Decode(&q, r.URL.Query()); err != nil {
		s.respondWithError(w, requestID, "invalid query", errors.NewValidationError("decode query", err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	var (
		list []model.SensorReading
		err  error
	)
	if q.DeviceID != "" {
		list, err = s.store.QueryByDevice(ctx, q.DeviceID)
	} else {
		list, err = s.store.QueryAll(ctx)
	}
	if err != nil {
		s.respondWithError(w, requestID, "error sending data", err)
		return
	}
	if list == nil {
		list = []model.SensorReading{}
	}
	respondWithJSON(w, http.StatusOK, list)
}

// PUT /upload-to-blockchain runs one reconciliation. Per-device failures are
// reported inside a success envelope; only a failed local read is an error.
func (s *server) uploadToLedger(w http.ResponseWriter, r *http.Request) {
	requestID := nuts.NID("req", 12)

	report, err := s.reconciler.ReconcileAll(r.Context())
	if err != nil {
		s.respondWithError(w, requestID, "error uploading to ledger", err)
		return
	}

	msg := "all devices reconciled"
	if report.Failed > 0 {
		msg = "reconciled with per-device failures"
	}
	s.log.Infof("[API] %s: upload finished, %d forwarded, %d device failures", requestID, report.Forwarded, report.Failed)
	respondWithJSON(w, http.StatusOK, uploadResponse{Success: true, Message: msg, Report: report})
}

func (s *server) respondWithError(w http.ResponseWriter, requestID, msg string, err error) {
	code := http.StatusInternalServerError
	var typed *errors.Error
	if stderrors.As(err, &typed) {
		code = typed.HTTPStatus()
	}
	s.log.Errorf("[API] %s: %s: %v", requestID, msg, err)
	respondWithJSON(w, code, errorResponse{Error: msg, RequestID: requestID})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
