package network

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type recorder struct {
	mu     sync.Mutex
	events []bool
}

func (r *recorder) listen(_ context.Context, online bool) {
	r.mu.Lock()
	r.events = append(r.events, online)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.events...)
}

func TestMonitorNotifiesOnTransitionsOnly(t *testing.T) {
	m := NewMonitor(true)
	rec := &recorder{}
	m.OnChange(rec.listen)
	ctx := context.Background()

	m.Observe(ctx, true)
	m.Observe(ctx, false)
	m.Observe(ctx, false)
	m.Observe(ctx, true)

	got := rec.snapshot()
	if len(got) != 2 || got[0] != false || got[1] != true {
		t.Fatalf("events = %v, want [false true]", got)
	}
}

func TestMonitorSetIsSilent(t *testing.T) {
	m := NewMonitor(false)
	rec := &recorder{}
	m.OnChange(rec.listen)

	if !m.Set(true) {
		t.Fatalf("Set(true) expected change")
	}
	if m.Set(true) {
		t.Fatalf("Set(true) again expected no change")
	}
	if !m.Online() || len(rec.snapshot()) != 0 {
		t.Fatalf("Online() = %v, events = %v", m.Online(), rec.snapshot())
	}
}

type failingTransport struct{}

func (failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("dial tcp: no route to host")
}

func TestTransportReportsOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := NewMonitor(true)
	down := NewTransport(failingTransport{}, m)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	if _, err := down.RoundTrip(req); err == nil {
		t.Fatalf("RoundTrip() expected error")
	}
	if m.Online() {
		t.Fatalf("Online() = true after transport failure")
	}

	up := NewTransport(srv.Client().Transport, m)
	resp, err := up.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip() error = %v", err)
	}
	_ = resp.Body.Close()
	if !m.Online() {
		t.Fatalf("Online() = false after successful response")
	}
}

func TestTransportIgnoresCancelledRequests(t *testing.T) {
	m := NewMonitor(true)
	tr := NewTransport(failingTransport{}, m)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://app.test/", nil)

	_, _ = tr.RoundTrip(req)
	if !m.Online() {
		t.Fatalf("cancelled request must not flip connectivity")
	}
}

func TestProberProbe(t *testing.T) {
	status := http.StatusOK
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("probe method = %s", r.Method)
		}
		mu.Lock()
		defer mu.Unlock()
		w.WriteHeader(status)
	}))
	defer srv.Close()

	m := NewMonitor(false)
	p := NewProber(srv.Client(), srv.URL, 0, m)
	ctx := context.Background()

	if !p.Probe(ctx) || !m.Online() {
		t.Fatalf("Probe() with 200 should be online")
	}

	mu.Lock()
	status = http.StatusServiceUnavailable
	mu.Unlock()
	if p.Probe(ctx) || m.Online() {
		t.Fatalf("Probe() with 503 should be offline")
	}
}

func TestProberRunRequiresURL(t *testing.T) {
	p := NewProber(nil, "", 0, NewMonitor(true))
	if err := p.Run(context.Background()); err == nil {
		t.Fatalf("Run() expected error without url")
	}
}
