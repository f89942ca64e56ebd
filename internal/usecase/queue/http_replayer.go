package queue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"stashworker/internal/domain/offline"
	"stashworker/internal/errs"
	"stashworker/internal/ports"
)

// IdempotencyKeyHeader carries the action id on every replay so the server
// can discard duplicates.
const IdempotencyKeyHeader = "Idempotency-Key"

type endpoint struct {
	method string
	path   string
}

var endpoints = map[offline.ActionType]endpoint{
	offline.ActionContribution:   {method: http.MethodPost, path: "/api/contributions"},
	offline.ActionBasketCreation: {method: http.MethodPost, path: "/api/baskets"},
	offline.ActionProfileUpdate:  {method: http.MethodPut, path: "/api/profile"},
}

// HTTPReplayer sends queued actions to the remote API. Any 2xx answer is a
// success.
type HTTPReplayer struct {
	client *http.Client
	base   *url.URL
}

var _ ports.ActionReplayer = (*HTTPReplayer)(nil)

func NewHTTPReplayer(base *url.URL, client *http.Client) *HTTPReplayer {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPReplayer{client: client, base: base}
}

func (r *HTTPReplayer) Replay(ctx context.Context, action offline.QueuedAction) error {
	ep, ok := endpoints[action.Type]
	if !ok {
		return fmt.Errorf("%w: %q", offline.ErrInvalidActionType, action.Type)
	}
	target := r.base.ResolveReference(&url.URL{Path: ep.path})

	req, err := http.NewRequestWithContext(ctx, ep.method, target.String(), bytes.NewReader(action.Payload))
	if err != nil {
		return errs.Wrap(err, "build replay request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyKeyHeader, action.ID)

	resp, err := r.client.Do(req)
	if err != nil {
		return errs.WithKind(errs.Wrapf(err, "%s %s", ep.method, ep.path), errs.KindNetwork)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: status %d", ep.method, ep.path, resp.StatusCode)
	}
	return nil
}
