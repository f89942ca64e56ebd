package network

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"stashworker/internal/bootstrap/logging"
	"stashworker/internal/errs"
)

// Prober polls a URL and reports reachability to a Monitor. Any HTTP answer
// below 500 counts as online.
type Prober struct {
	client   *http.Client
	url      string
	interval time.Duration
	monitor  *Monitor
}

func NewProber(client *http.Client, url string, interval time.Duration, monitor *Monitor) *Prober {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Prober{client: client, url: url, interval: interval, monitor: monitor}
}

// Probe performs one check and records the outcome.
func (p *Prober) Probe(ctx context.Context) bool {
	online := p.reachable(ctx)
	if ctx.Err() == nil {
		p.monitor.Observe(ctx, online)
	}
	return online
}

func (p *Prober) reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		logging.Debug(ctx, "probe failed", slog.String("url", p.url), slog.Any("err", errs.Loggable(err)))
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Run probes immediately and then every interval until ctx ends.
func (p *Prober) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if p.url == "" {
		return errors.New("probe url is required")
	}
	logCtx := logging.WithComponent(ctx, "network.prober")
	logging.Info(logCtx, "connectivity prober started", slog.String("url", p.url), slog.Duration("interval", p.interval))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		p.Probe(logCtx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
