package strategy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"stashworker/internal/bootstrap/logging"
	"stashworker/internal/domain/offline"
	"stashworker/internal/errs"
	"stashworker/internal/ports"
)

// Deps are the collaborators every strategy shares.
type Deps struct {
	// Fetch performs the real network request.
	Fetch http.RoundTripper
	Now   func() time.Time
	// Background runs fn detached from the request. Calls with the same key
	// while one is running may be coalesced.
	Background func(key string, fn func(ctx context.Context))
}

func (d Deps) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

func (d Deps) background(ctx context.Context, key string, fn func(ctx context.Context)) {
	if d.Background != nil {
		d.Background(key, fn)
		return
	}
	go fn(context.WithoutCancel(ctx))
}

func (d Deps) fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	transport := d.Fetch
	if transport == nil {
		transport = http.DefaultTransport
	}
	out := req.Clone(ctx)
	out.RequestURI = ""
	resp, err := transport.RoundTrip(out)
	if err != nil {
		return nil, errs.WithKind(errs.Wrapf(err, "fetch %s", req.URL.Redacted()), errs.KindNetwork)
	}
	return resp, nil
}

// CacheKey is the URL a request is stored under.
func CacheKey(req *http.Request) string {
	u := *req.URL
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

func lookup(ctx context.Context, cache ports.ResponseCache, key string) (ports.StoredResponse, bool) {
	if cache == nil {
		return ports.StoredResponse{}, false
	}
	stored, found, err := cache.Match(ctx, key)
	if err != nil {
		logging.Warn(ctx, "cache read failed", slog.String("cache", cache.Name()), slog.String("url", key), slog.Any("err", errs.Loggable(err)))
		return ports.StoredResponse{}, false
	}
	return stored, found
}

// store writes a 200 response into cache and returns a response carrying
// the same bytes. Other statuses pass through untouched. Cache write
// failures are logged and do not affect the returned response.
func store(ctx context.Context, d Deps, cache ports.ResponseCache, req *http.Request, resp *http.Response, stampDate bool) (*http.Response, error) {
	if resp.StatusCode != http.StatusOK || cache == nil {
		return resp, nil
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, errs.WithKind(errs.Wrap(err, "read response body"), errs.KindNetwork)
	}

	header := resp.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if stampDate {
		offline.StampCacheDate(header, d.now())
	}

	key := CacheKey(req)
	if err := cache.Put(ctx, ports.StoredResponse{
		URL:      key,
		Status:   resp.StatusCode,
		Header:   header,
		Body:     body,
		StoredAt: d.now(),
	}); err != nil {
		logging.Warn(ctx, "cache write failed", slog.String("cache", cache.Name()), slog.String("url", key), slog.Any("err", errs.Loggable(err)))
	}

	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp, nil
}

func fromStored(req *http.Request, stored ports.StoredResponse) *http.Response {
	return newResponse(req, stored.Status, stored.Header.Clone(), stored.Body)
}

func newResponse(req *http.Request, status int, header http.Header, body []byte) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Length", strconv.Itoa(len(body)))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func textResponse(req *http.Request, status int, msg string) *http.Response {
	header := http.Header{}
	header.Set("Content-Type", "text/plain; charset=utf-8")
	return newResponse(req, status, header, []byte(msg))
}

// refresh fetches req again and stores a 200 answer. Failures are logged
// at debug and otherwise ignored.
func refresh(d Deps, cache ports.ResponseCache, req *http.Request, stampDate bool) func(ctx context.Context) {
	return func(ctx context.Context) {
		logCtx := logging.WithAttrs(ctx, slog.String("url", CacheKey(req)))
		resp, err := d.fetch(ctx, req)
		if err != nil {
			logging.Debug(logCtx, "background refresh failed", slog.Any("err", errs.Loggable(err)))
			return
		}
		out, err := store(ctx, d, cache, req, resp, stampDate)
		if err != nil {
			logging.Debug(logCtx, "background refresh failed", slog.Any("err", errs.Loggable(err)))
			return
		}
		_, _ = io.Copy(io.Discard, out.Body)
		_ = out.Body.Close()
	}
}
