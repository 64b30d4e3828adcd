package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/afladry360/telemetry/internal/config"
	"github.com/afladry360/telemetry/internal/ledger"
	"github.com/afladry360/telemetry/internal/logging"
	"github.com/afladry360/telemetry/pkg/broker"
)

func TestDropReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{broker.ErrInboxFull, "full"},
		{fmt.Errorf("wrapped: %w", broker.ErrInboxClosed), "closed"},
		{fmt.Errorf("something else"), "other"},
	}
	for _, tt := range tests {
		if got := dropReason(tt.err); got != tt.want {
			t.Errorf("dropReason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestNewLedger(t *testing.T) {
	mem := newLedger(&config.Config{Ledger: config.LedgerConfig{Type: config.LedgerMemory}}, logging.Nop{})
	if _, ok := mem.(*ledger.MemoryLedger); !ok {
		t.Errorf("newLedger(memory) = %T", mem)
	}
	h := newLedger(&config.Config{Ledger: config.LedgerConfig{Type: config.LedgerHTTP, URL: "http://ledger.local"}}, logging.Nop{})
	if _, ok := h.(*ledger.HTTPLedger); !ok {
		t.Errorf("newLedger(http) = %T", h)
	}
}

func TestCommandTree(t *testing.T) {
	want := map[string]bool{"serve": false, "reconcile": false, "migrate": false, "version": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestLedgerFetchRetriesFromConfig(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	t.Setenv("LEDGER_URL", srv.URL)
	t.Setenv("LEDGER_RETRY_INTERVAL", "1ms")
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	got, err := newLedger(cfg, logging.Nop{}).FetchArchived(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("FetchArchived() error = %v, want the transient 503 retried", err)
	}
	if len(got) != 0 || atomic.LoadInt32(&calls) != 2 {
		t.Errorf("FetchArchived() = %v after %d calls, want empty after 2", got, calls)
	}
}

func TestStopIntake(t *testing.T) {
	var handled int32
	inbox := broker.NewInbox(broker.InboxConfig{
		Size:   4,
		Handle: func(context.Context, broker.Delivery) { atomic.AddInt32(&handled, 1) },
	})
	inbox.Start(context.Background())

	consumeCtx, stopConsuming := context.WithCancel(context.Background())
	consumeDone := make(chan struct{})
	go func() {
		<-consumeCtx.Done()
		close(consumeDone)
	}()

	stopIntake(stopConsuming, consumeDone, inbox)

	select {
	case <-consumeDone:
	default:
		t.Fatal("stopIntake() returned before the consumer stopped")
	}
	if err := inbox.Enqueue(broker.Delivery{Topic: "AflaDry360/sensor_data"}); err != broker.ErrInboxClosed {
		t.Errorf("Enqueue() after stopIntake error = %v, want ErrInboxClosed", err)
	}
	if n := atomic.LoadInt32(&handled); n != 0 {
		t.Errorf("handled %d messages after intake stopped", n)
	}
}

func TestDrain_StopsIntakeBeforeHTTP(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	hs := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
	})}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	go func() { _ = hs.Serve(ln) }()

	reqDone := make(chan struct{})
	go func() {
		defer close(reqDone)
		resp, err := http.Get("http://" + ln.Addr().String() + "/api/v1/upload-to-blockchain")
		if err == nil {
			resp.Body.Close()
		}
	}()
	<-entered

	intakeStopped := make(chan struct{})
	drained := make(chan error, 1)
	go func() {
		drained <- drain(context.Background(), func() { close(intakeStopped) }, hs)
	}()

	select {
	case <-intakeStopped:
	case <-time.After(2 * time.Second):
		t.Fatal("intake not stopped while an HTTP request was still running")
	}
	select {
	case err := <-drained:
		t.Fatalf("drain() returned %v before the in-flight request finished", err)
	default:
	}

	close(release)
	if err := <-drained; err != nil {
		t.Errorf("drain() error = %v", err)
	}
	<-reqDone
}
