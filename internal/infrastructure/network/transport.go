package network

import (
	"context"
	"errors"
	"net/http"
)

// Transport is the network fetch path. Every outcome is reported to the
// Monitor: a transport error means offline, any response means online.
// Cancelled requests are not reported.
type Transport struct {
	base    http.RoundTripper
	monitor *Monitor
}

var _ http.RoundTripper = (*Transport)(nil)

func NewTransport(base http.RoundTripper, monitor *Monitor) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{base: base, monitor: monitor}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if t.monitor == nil {
		return resp, err
	}
	ctx := req.Context()
	if err != nil {
		if ctx.Err() == nil && !errors.Is(err, context.Canceled) {
			t.monitor.Observe(context.WithoutCancel(ctx), false)
		}
		return nil, err
	}
	t.monitor.Observe(context.WithoutCancel(ctx), true)
	return resp, nil
}
