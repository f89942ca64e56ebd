package network

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"stashworker/internal/bootstrap/logging"
	"stashworker/internal/ports"
)

// Monitor tracks whether the network is believed reachable.
type Monitor struct {
	online atomic.Bool

	mu        sync.RWMutex
	listeners []func(ctx context.Context, online bool)
}

var _ ports.ConnectivityState = (*Monitor)(nil)

func NewMonitor(initial bool) *Monitor {
	m := &Monitor{}
	m.online.Store(initial)
	return m
}

func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Set records the state without notifying listeners.
func (m *Monitor) Set(online bool) bool {
	return m.online.Swap(online) != online
}

// Observe records the state and, on a transition, calls every listener in
// registration order on the calling goroutine.
func (m *Monitor) Observe(ctx context.Context, online bool) {
	if !m.Set(online) {
		return
	}
	logging.Info(logging.WithComponent(ctx, "network.monitor"), "connectivity changed", slog.Bool("online", online))

	m.mu.RLock()
	listeners := append([]func(context.Context, bool){}, m.listeners...)
	m.mu.RUnlock()
	for _, fn := range listeners {
		fn(ctx, online)
	}
}

// OnChange registers fn for connectivity transitions.
func (m *Monitor) OnChange(fn func(ctx context.Context, online bool)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}
