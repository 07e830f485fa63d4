package metrics

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	// Must not panic.
	m.ObserveRequest("Setup", OutcomeOK)
	m.ObserveGeneration(time.Second)
	m.SetSessions(1, 2)
	m.SetBackendUp(true)
}

func TestObserve(t *testing.T) {
	m := New()

	m.ObserveRequest("Setup", OutcomeOK)
	m.ObserveRequest("Setup", OutcomeOK)
	m.ObserveRequest("Exit", OutcomeError)
	m.SetSessions(3, 16)
	m.SetBackendUp(true)

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("Setup", OutcomeOK)); got != 2 {
		t.Errorf("Setup ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("Exit", OutcomeError)); got != 1 {
		t.Errorf("Exit error = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SessionsActive); got != 3 {
		t.Errorf("sessions active = %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsCapacity); got != 16 {
		t.Errorf("sessions capacity = %v", got)
	}
	if got := testutil.ToFloat64(m.BackendUp); got != 1 {
		t.Errorf("backend up = %v", got)
	}

	m.SetBackendUp(false)
	if got := testutil.ToFloat64(m.BackendUp); got != 0 {
		t.Errorf("backend up after down = %v", got)
	}
}

func TestServe(t *testing.T) {
	m := New()
	m.ObserveGeneration(2 * time.Second)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- m.serve(ctx, ln, slog.New(slog.NewTextHandler(io.Discard, nil))) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if !strings.Contains(string(body), "hermitd_generation_duration_seconds_count 1") {
		t.Errorf("exposition missing histogram:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("exposition missing runtime collector")
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
