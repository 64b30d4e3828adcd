package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/afladry360/telemetry/internal/errors"
	"github.com/afladry360/telemetry/internal/logging"
	"github.com/afladry360/telemetry/internal/model"
)

type HTTPConfig struct {
	BaseURL         string
	Token           string
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerOpenFor  time.Duration
	FetchRetries    uint64
	RetryInterval   time.Duration
}

// HTTPLedger reaches the archive over JSON/HTTP:
//
//	GET  {base}/devices/{id}/chunks  -> []ArchivedChunk
//	POST {base}/devices/{id}/chunks  <- []ArchivedChunk
//
// All calls go through one circuit breaker so a dead archive fails fast for
// the remaining devices of a reconcile run.
type HTTPLedger struct {
	cfg     HTTPConfig
	base    string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     logging.Logger
}

func NewHTTPLedger(cfg HTTPConfig, log logging.Logger) *HTTPLedger {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 3
	}
	if cfg.BreakerOpenFor <= 0 {
		cfg.BreakerOpenFor = 30 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 200 * time.Millisecond
	}
	failures := cfg.BreakerFailures
	return &HTTPLedger{
		cfg:    cfg,
		base:   strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		client: &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "ledger",
			MaxRequests: 1,
			Timeout:     cfg.BreakerOpenFor,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= failures
			},
			IsSuccessful: func(err error) bool {
				// a rejected batch says nothing about the archive's health
				return err == nil || errors.IsValidation(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warnf("[Ledger] breaker %s: %s -> %s", name, from, to)
			},
		}),
		log: log,
	}
}

func (l *HTTPLedger) chunksURL(deviceID string) string {
	return l.base + "/devices/" + url.PathEscape(deviceID) + "/chunks"
}

func (l *HTTPLedger) FetchArchived(ctx context.Context, deviceID string) ([]model.ArchivedChunk, error) {
	var out []model.ArchivedChunk
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.cfg.RetryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, l.cfg.FetchRetries), ctx)

	err := backoff.Retry(func() error {
		chunks, err := l.fetchOnce(ctx, deviceID)
		if err != nil {
			if !errors.IsConnectivity(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = chunks
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.ArchivedChunk{}
	}
	return out, nil
}

func (l *HTTPLedger) fetchOnce(ctx context.Context, deviceID string) ([]model.ArchivedChunk, error) {
	res, err := l.breaker.Execute(func() (interface{}, error) {
		body, err := l.do(ctx, http.MethodGet, l.chunksURL(deviceID), nil)
		if err != nil {
			return nil, err
		}
		var chunks []model.ArchivedChunk
		if err := json.Unmarshal(body, &chunks); err != nil {
			return nil, errors.NewDecodeError("ledger returned malformed chunks", err)
		}
		return chunks, nil
	})
	if err != nil {
		return nil, breakerErr(err)
	}
	chunks, _ := res.([]model.ArchivedChunk)
	return chunks, nil
}

func (l *HTTPLedger) AppendBatch(ctx context.Context, deviceID string, chunks []model.ArchivedChunk) error {
	payload, err := json.Marshal(chunks)
	if err != nil {
		return fmt.Errorf("encode batch for %s: %w", deviceID, err)
	}
	_, err = l.breaker.Execute(func() (interface{}, error) {
		_, err := l.do(ctx, http.MethodPost, l.chunksURL(deviceID), payload)
		return nil, err
	})
	if err != nil {
		return breakerErr(err)
	}
	return nil
}

func (l *HTTPLedger) do(ctx context.Context, method, target string, body []byte) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, target, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if l.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+l.cfg.Token)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, errors.NewConnectivityError(fmt.Sprintf("ledger %s request failed", method), err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, errors.NewConnectivityError("ledger response truncated", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusNotFound && method == http.MethodGet:
		// nothing archived yet for this device
		return []byte("[]"), nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return nil, errors.NewValidationError(
			fmt.Sprintf("ledger rejected %s with %d: %s", method, resp.StatusCode, snippet(data)), nil)
	default:
		return nil, errors.NewConnectivityError(
			fmt.Sprintf("ledger %s returned %d", method, resp.StatusCode), nil)
	}
}

func breakerErr(err error) error {
	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.NewConnectivityError("ledger unavailable", err)
	}
	return err
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
