package ports

import (
	"context"
	"errors"
	"net/http"
	"time"
)

var ErrCacheNotFound = errors.New("response cache not found")

// StoredResponse is a response body and metadata as kept in a named cache.
type StoredResponse struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// ResponseCache is one named generation of cached responses keyed by URL.
type ResponseCache interface {
	Name() string
	Match(ctx context.Context, url string) (StoredResponse, bool, error)
	Put(ctx context.Context, resp StoredResponse) error
	Delete(ctx context.Context, url string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
}

// CacheStorage manages the set of named response caches.
type CacheStorage interface {
	Open(ctx context.Context, name string) (ResponseCache, error)
	Has(ctx context.Context, name string) (bool, error)
	Delete(ctx context.Context, name string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
}
