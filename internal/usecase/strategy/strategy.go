package strategy

import (
	"context"
	"log/slog"
	"net/http"

	"stashworker/internal/bootstrap/logging"
	"stashworker/internal/domain/offline"
	"stashworker/internal/errs"
	"stashworker/internal/ports"
)

const placeholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="200" height="200" viewBox="0 0 200 200">` +
	`<rect width="200" height="200" fill="#f0f0f0"/>` +
	`<text x="100" y="100" font-family="sans-serif" font-size="14" fill="#999" text-anchor="middle" dominant-baseline="middle">Image unavailable offline</text>` +
	`</svg>`

const offlineAPIBody = `{"success":true,"offline":true,"message":"Offline - showing cached data","data":[]}`

// Image serves images cache-first with a seven day lifetime. A copy older
// than a day is returned and refreshed once in the background; an expired
// copy is only used when the network fails. Precached copies in the
// optional precache caches are served as-is when cache has none.
func Image(ctx context.Context, d Deps, cache ports.ResponseCache, req *http.Request, precache ...ports.ResponseCache) *http.Response {
	logCtx := logging.WithAttrs(ctx, slog.String("strategy", "image"))
	key := CacheKey(req)

	stored, found := lookup(logCtx, cache, key)
	if !found {
		for _, pc := range precache {
			if pre, ok := lookup(logCtx, pc, key); ok {
				return fromStored(req, pre)
			}
		}
	}
	if found {
		age := offline.ResponseAge(stored.Header, d.now())
		if age < offline.ImageMaxAge {
			if age >= offline.ImageRefreshAfter {
				d.background(ctx, key, refresh(d, cache, req, true))
			}
			return fromStored(req, stored)
		}
	}

	resp, err := d.fetch(ctx, req)
	if err == nil {
		out, storeErr := store(logCtx, d, cache, req, resp, true)
		if storeErr == nil {
			if !found || out.StatusCode == http.StatusOK {
				return out
			}
			closeBody(out)
		} else {
			err = storeErr
		}
	}
	if err != nil {
		logging.Debug(logCtx, "image fetch failed", slog.String("url", key), slog.Any("err", errs.Loggable(err)))
	}

	if found {
		return fromStored(req, stored)
	}
	header := http.Header{}
	header.Set("Content-Type", "image/svg+xml")
	return newResponse(req, http.StatusNotFound, header, []byte(placeholderSVG))
}

// API always prefers the cached answer and revalidates it in the background.
// Without a cached answer a network failure yields a synthetic offline
// payload with status 200.
func API(ctx context.Context, d Deps, cache ports.ResponseCache, req *http.Request) *http.Response {
	logCtx := logging.WithAttrs(ctx, slog.String("strategy", "api"))
	key := CacheKey(req)

	if stored, found := lookup(logCtx, cache, key); found {
		d.background(ctx, key, refresh(d, cache, req, false))
		return fromStored(req, stored)
	}

	resp, err := d.fetch(ctx, req)
	if err == nil {
		if resp, err = store(logCtx, d, cache, req, resp, false); err == nil {
			return resp
		}
	}
	logging.Debug(logCtx, "api fetch failed, serving offline payload", slog.String("url", key), slog.Any("err", errs.Loggable(err)))

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("X-Offline", "1")
	return newResponse(req, http.StatusOK, header, []byte(offlineAPIBody))
}

// Static is cache-first without expiry.
func Static(ctx context.Context, d Deps, cache ports.ResponseCache, req *http.Request) *http.Response {
	return cacheFirst(logging.WithAttrs(ctx, slog.String("strategy", "static")), d, cache, nil, req, func() *http.Response {
		return textResponse(req, http.StatusNotFound, "Offline - resource unavailable")
	})
}

// Navigation is cache-first over the dynamic and then the static cache, and
// falls back to the precached offline page. Fetched pages go to dynamic.
func Navigation(ctx context.Context, d Deps, dynamic, static ports.ResponseCache, req *http.Request) *http.Response {
	logCtx := logging.WithAttrs(ctx, slog.String("strategy", "navigation"))
	return cacheFirst(logCtx, d, dynamic, static, req, func() *http.Response {
		if stored, found := lookup(logCtx, static, OfflinePageKey(req)); found {
			resp := fromStored(req, stored)
			resp.StatusCode = http.StatusOK
			resp.Status = "200 OK"
			return resp
		}
		return textResponse(req, http.StatusServiceUnavailable, "Offline")
	})
}

// Default is cache-first with a 404 fallback. A precached copy in static is
// also served; fetched responses go to cache.
func Default(ctx context.Context, d Deps, cache, static ports.ResponseCache, req *http.Request) *http.Response {
	return cacheFirst(logging.WithAttrs(ctx, slog.String("strategy", "default")), d, cache, static, req, func() *http.Response {
		return textResponse(req, http.StatusNotFound, "Offline - resource unavailable")
	})
}

// OfflinePageKey is the cache key of the offline page on req's origin.
func OfflinePageKey(req *http.Request) string {
	u := *req.URL
	u.Path = offline.OfflinePagePath
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// cacheFirst answers from cache, then from also, then from the network,
// storing network answers in cache.
func cacheFirst(ctx context.Context, d Deps, cache, also ports.ResponseCache, req *http.Request, fallback func() *http.Response) *http.Response {
	key := CacheKey(req)
	if stored, found := lookup(ctx, cache, key); found {
		return fromStored(req, stored)
	}
	if stored, found := lookup(ctx, also, key); found {
		return fromStored(req, stored)
	}

	resp, err := d.fetch(ctx, req)
	if err == nil {
		if resp, err = store(ctx, d, cache, req, resp, false); err == nil {
			return resp
		}
	}
	logging.Debug(ctx, "fetch failed, serving fallback", slog.String("url", key), slog.Any("err", errs.Loggable(err)))
	return fallback()
}

func closeBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
}
