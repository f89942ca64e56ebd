package worker

import (
	"context"
	"net/http"
	"path"
	"strings"

	"stashworker/internal/ports"
	"stashworker/internal/usecase/strategy"
)

const (
	RouteImage      = "image"
	RouteAPI        = "api"
	RouteAsset      = "asset"
	RouteNavigation = "navigation"
	RouteDefault    = "default"
)

// Caches are the response caches of the active generation.
type Caches struct {
	Static  ports.ResponseCache
	Dynamic ports.ResponseCache
	Images  ports.ResponseCache
}

// Route pairs a request predicate with the strategy that serves it. Routes
// are evaluated in order; the first match wins.
type Route struct {
	Name   string
	Match  func(req *http.Request) bool
	Handle func(ctx context.Context, d strategy.Deps, caches Caches, req *http.Request) *http.Response
}

var imageExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {}, ".svg": {}, ".ico": {}, ".avif": {},
}

var assetExtensions = map[string]struct{}{
	".js": {}, ".mjs": {}, ".css": {},
}

// DefaultRoutes is image, api, asset, navigation, then the catch-all.
func DefaultRoutes(apiPrefixes []string) []Route {
	prefixes := make([]string, 0, len(apiPrefixes))
	for _, p := range apiPrefixes {
		if p = strings.TrimSpace(p); p != "" {
			prefixes = append(prefixes, p)
		}
	}
	if len(prefixes) == 0 {
		prefixes = []string{"/api/"}
	}

	return []Route{
		{
			Name:  RouteImage,
			Match: isImageRequest,
			Handle: func(ctx context.Context, d strategy.Deps, c Caches, req *http.Request) *http.Response {
				return strategy.Image(ctx, d, c.Images, req, c.Static)
			},
		},
		{
			Name: RouteAPI,
			Match: func(req *http.Request) bool {
				for _, p := range prefixes {
					if strings.HasPrefix(req.URL.Path, p) {
						return true
					}
				}
				return false
			},
			Handle: func(ctx context.Context, d strategy.Deps, c Caches, req *http.Request) *http.Response {
				return strategy.API(ctx, d, c.Dynamic, req)
			},
		},
		{
			Name:  RouteAsset,
			Match: isAssetRequest,
			Handle: func(ctx context.Context, d strategy.Deps, c Caches, req *http.Request) *http.Response {
				return strategy.Static(ctx, d, c.Static, req)
			},
		},
		{
			Name:  RouteNavigation,
			Match: isNavigationRequest,
			Handle: func(ctx context.Context, d strategy.Deps, c Caches, req *http.Request) *http.Response {
				return strategy.Navigation(ctx, d, c.Dynamic, c.Static, req)
			},
		},
		{
			Name:  RouteDefault,
			Match: func(*http.Request) bool { return true },
			Handle: func(ctx context.Context, d strategy.Deps, c Caches, req *http.Request) *http.Response {
				return strategy.Default(ctx, d, c.Dynamic, c.Static, req)
			},
		},
	}
}

func match(routes []Route, req *http.Request) (Route, bool) {
	for _, r := range routes {
		if r.Match != nil && r.Match(req) {
			return r, true
		}
	}
	return Route{}, false
}

func isImageRequest(req *http.Request) bool {
	if strings.EqualFold(req.Header.Get("Sec-Fetch-Dest"), "image") {
		return true
	}
	_, ok := imageExtensions[extension(req)]
	return ok
}

func isAssetRequest(req *http.Request) bool {
	switch strings.ToLower(req.Header.Get("Sec-Fetch-Dest")) {
	case "script", "style":
		return true
	}
	_, ok := assetExtensions[extension(req)]
	return ok
}

func isNavigationRequest(req *http.Request) bool {
	if strings.EqualFold(req.Header.Get("Sec-Fetch-Mode"), "navigate") {
		return true
	}
	if strings.EqualFold(req.Header.Get("Sec-Fetch-Dest"), "document") {
		return true
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}

func extension(req *http.Request) string {
	return strings.ToLower(path.Ext(req.URL.Path))
}
