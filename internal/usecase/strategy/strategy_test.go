package strategy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stashworker/internal/domain/offline"
	"stashworker/internal/ports"
)

type memCache struct {
	name string
	mu   sync.Mutex
	rows map[string]ports.StoredResponse
}

func newMemCache(name string) *memCache {
	return &memCache{name: name, rows: make(map[string]ports.StoredResponse)}
}

func (c *memCache) Name() string { return c.name }

func (c *memCache) Match(_ context.Context, url string) (ports.StoredResponse, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	row, ok := c.rows[url]
	return row, ok, nil
}

func (c *memCache) Put(_ context.Context, resp ports.StoredResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows[resp.URL] = resp
	return nil
}

func (c *memCache) Delete(_ context.Context, url string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rows[url]
	delete(c.rows, url)
	return ok, nil
}

func (c *memCache) Keys(context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.rows))
	for k := range c.rows {
		keys = append(keys, k)
	}
	return keys, nil
}

// fakeNetwork answers with a fixed status and body, or fails when offline.
type fakeNetwork struct {
	offline atomic.Bool
	calls   atomic.Int64
	status  int
	body    string
}

func (n *fakeNetwork) RoundTrip(req *http.Request) (*http.Response, error) {
	n.calls.Add(1)
	if n.offline.Load() {
		return nil, errors.New("dial tcp: network is unreachable")
	}
	status := n.status
	if status == 0 {
		status = http.StatusOK
	}
	rec := httptest.NewRecorder()
	rec.Header().Set("Content-Type", "text/plain")
	rec.WriteHeader(status)
	_, _ = rec.WriteString(n.body)
	resp := rec.Result()
	resp.Request = req
	return resp, nil
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(raw)
}

func newRequest(target string) *http.Request {
	return httptest.NewRequest(http.MethodGet, target, nil)
}

func syncDeps(net http.RoundTripper, now time.Time, background *atomic.Int64) Deps {
	return Deps{
		Fetch: net,
		Now:   func() time.Time { return now },
		Background: func(_ string, fn func(context.Context)) {
			if background != nil {
				background.Add(1)
			}
			fn(context.Background())
		},
	}
}

func TestAPIOfflineWithoutCacheServesOfflinePayload(t *testing.T) {
	net := &fakeNetwork{}
	net.offline.Store(true)
	d := syncDeps(net, time.Now(), nil)

	resp := API(context.Background(), d, newMemCache("dynamic-v1"), newRequest("http://app.test/api/baskets"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Offline") != "1" {
		t.Fatalf("X-Offline = %q", resp.Header.Get("X-Offline"))
	}
	if got := readBody(t, resp); got != offlineAPIBody {
		t.Fatalf("body = %s", got)
	}
}

func TestAPIRoundTripThroughCacheWhenOffline(t *testing.T) {
	net := &fakeNetwork{body: `{"data":[1,2]}`}
	cache := newMemCache("dynamic-v1")
	var background atomic.Int64
	d := syncDeps(net, time.Now(), &background)
	ctx := context.Background()

	first := API(ctx, d, cache, newRequest("http://app.test/api/baskets?page=1"))
	if got := readBody(t, first); got != `{"data":[1,2]}` {
		t.Fatalf("online body = %s", got)
	}

	net.offline.Store(true)
	second := API(ctx, d, cache, newRequest("http://app.test/api/baskets?page=1"))
	if second.Header.Get("X-Offline") != "" {
		t.Fatalf("cached answer should not be the offline payload")
	}
	if got := readBody(t, second); got != `{"data":[1,2]}` {
		t.Fatalf("offline body = %s", got)
	}
	if background.Load() != 1 {
		t.Fatalf("background revalidations = %d, want 1", background.Load())
	}
}

func TestAPIRevalidationUpdatesCache(t *testing.T) {
	net := &fakeNetwork{body: "v1"}
	cache := newMemCache("dynamic-v1")
	d := syncDeps(net, time.Now(), nil)
	ctx := context.Background()

	readBody(t, API(ctx, d, cache, newRequest("http://app.test/api/me")))
	net.body = "v2"
	if got := readBody(t, API(ctx, d, cache, newRequest("http://app.test/api/me"))); got != "v1" {
		t.Fatalf("cached body = %s, want v1", got)
	}
	if got := readBody(t, API(ctx, d, cache, newRequest("http://app.test/api/me"))); got != "v2" {
		t.Fatalf("revalidated body = %s, want v2", got)
	}
}

func TestOnlyOKResponsesAreStored(t *testing.T) {
	net := &fakeNetwork{status: http.StatusInternalServerError, body: "boom"}
	cache := newMemCache("dynamic-v1")
	d := syncDeps(net, time.Now(), nil)

	resp := Default(context.Background(), d, cache, nil, newRequest("http://app.test/data.bin"))
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	readBody(t, resp)
	if keys, _ := cache.Keys(context.Background()); len(keys) != 0 {
		t.Fatalf("cache keys = %v, want none", keys)
	}
}

func seedImage(cache *memCache, url string, storedAt time.Time, body string) {
	header := http.Header{}
	header.Set("Content-Type", "image/png")
	offline.StampCacheDate(header, storedAt)
	_ = cache.Put(context.Background(), ports.StoredResponse{URL: url, Status: 200, Header: header, Body: []byte(body), StoredAt: storedAt})
}

func TestImageYoungerThanADayIsServedWithoutNetwork(t *testing.T) {
	stored := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	net := &fakeNetwork{body: "new"}
	cache := newMemCache("images-v1")
	seedImage(cache, "http://app.test/cover.png", stored, "old")

	var background atomic.Int64
	d := syncDeps(net, stored.Add(2*time.Hour), &background)
	if got := readBody(t, Image(context.Background(), d, cache, newRequest("http://app.test/cover.png"))); got != "old" {
		t.Fatalf("body = %s", got)
	}
	if net.calls.Load() != 0 || background.Load() != 0 {
		t.Fatalf("network calls = %d, background = %d", net.calls.Load(), background.Load())
	}
}

func TestImageTwoDaysOldRefreshesOnceInBackground(t *testing.T) {
	stored := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	net := &fakeNetwork{body: "new"}
	cache := newMemCache("images-v1")
	seedImage(cache, "http://app.test/cover.png", stored, "old")

	now := stored.Add(48 * time.Hour)
	refresher := NewRefresher(context.Background())
	d := Deps{Fetch: net, Now: func() time.Time { return now }, Background: refresher.Go}

	resp := Image(context.Background(), d, cache, newRequest("http://app.test/cover.png"))
	if got := readBody(t, resp); got != "old" {
		t.Fatalf("body = %s, want cached copy", got)
	}
	refresher.Idle()

	if net.calls.Load() != 1 {
		t.Fatalf("network calls = %d, want 1", net.calls.Load())
	}
	row, _, _ := cache.Match(context.Background(), "http://app.test/cover.png")
	if string(row.Body) != "new" {
		t.Fatalf("cached body after refresh = %s", row.Body)
	}
	if age := offline.ResponseAge(row.Header, now); age != 0 {
		t.Fatalf("refreshed copy age = %s, want 0", age)
	}
}

func TestImageEightDaysOldFetchesInForeground(t *testing.T) {
	stored := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	net := &fakeNetwork{body: "new"}
	cache := newMemCache("images-v1")
	seedImage(cache, "http://app.test/cover.png", stored, "old")

	var background atomic.Int64
	d := syncDeps(net, stored.Add(8*24*time.Hour), &background)
	if got := readBody(t, Image(context.Background(), d, cache, newRequest("http://app.test/cover.png"))); got != "new" {
		t.Fatalf("body = %s, want network copy", got)
	}
	if net.calls.Load() != 1 || background.Load() != 0 {
		t.Fatalf("network calls = %d, background = %d", net.calls.Load(), background.Load())
	}
}

func TestImageExpiredFallsBackToStaleWhenOffline(t *testing.T) {
	stored := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	net := &fakeNetwork{}
	net.offline.Store(true)
	cache := newMemCache("images-v1")
	seedImage(cache, "http://app.test/cover.png", stored, "old")

	d := syncDeps(net, stored.Add(8*24*time.Hour), nil)
	if got := readBody(t, Image(context.Background(), d, cache, newRequest("http://app.test/cover.png"))); got != "old" {
		t.Fatalf("body = %s, want stale copy", got)
	}
}

func TestImagePlaceholderWhenNothingCached(t *testing.T) {
	net := &fakeNetwork{}
	net.offline.Store(true)
	d := syncDeps(net, time.Now(), nil)

	resp := Image(context.Background(), d, newMemCache("images-v1"), newRequest("http://app.test/avatar.webp"))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Content-Type") != "image/svg+xml" {
		t.Fatalf("content-type = %q", resp.Header.Get("Content-Type"))
	}
	if body := readBody(t, resp); !strings.Contains(body, "Image unavailable offline") {
		t.Fatalf("body = %s", body)
	}
}

func TestImageStoresCacheDate(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	cache := newMemCache("images-v1")
	d := syncDeps(&fakeNetwork{body: "png"}, now, nil)

	readBody(t, Image(context.Background(), d, cache, newRequest("http://app.test/a.png")))
	row, found, _ := cache.Match(context.Background(), "http://app.test/a.png")
	if !found {
		t.Fatalf("image not cached")
	}
	if row.Header.Get(offline.CacheDateHeader) != now.Format(time.RFC3339Nano) {
		t.Fatalf("%s = %q", offline.CacheDateHeader, row.Header.Get(offline.CacheDateHeader))
	}
}

func TestNavigationOfflineServesOfflinePage(t *testing.T) {
	net := &fakeNetwork{}
	net.offline.Store(true)
	static := newMemCache("static-v1")
	_ = static.Put(context.Background(), ports.StoredResponse{
		URL:    "http://app.test/offline.html",
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/html"}},
		Body:   []byte("<h1>You are offline</h1>"),
	})
	d := syncDeps(net, time.Now(), nil)

	resp := Navigation(context.Background(), d, newMemCache("dynamic-v1"), static, newRequest("http://app.test/baskets/42?tab=history"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := readBody(t, resp); got != "<h1>You are offline</h1>" {
		t.Fatalf("body = %s", got)
	}
}

func TestNavigationWithoutOfflinePageIs503(t *testing.T) {
	net := &fakeNetwork{}
	net.offline.Store(true)
	d := syncDeps(net, time.Now(), nil)

	resp := Navigation(context.Background(), d, newMemCache("dynamic-v1"), newMemCache("static-v1"), newRequest("http://app.test/"))
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestStaticCacheFirst(t *testing.T) {
	net := &fakeNetwork{body: "body{}"}
	cache := newMemCache("static-v1")
	d := syncDeps(net, time.Now(), nil)
	ctx := context.Background()

	readBody(t, Static(ctx, d, cache, newRequest("http://app.test/app.css")))
	readBody(t, Static(ctx, d, cache, newRequest("http://app.test/app.css")))
	if net.calls.Load() != 1 {
		t.Fatalf("network calls = %d, want 1", net.calls.Load())
	}

	net.offline.Store(true)
	if resp := Static(ctx, d, cache, newRequest("http://app.test/missing.js")); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestRefresherCoalescesSameKey(t *testing.T) {
	refresher := NewRefresher(context.Background())
	release := make(chan struct{})
	started := make(chan struct{})
	var runs atomic.Int64

	refresher.Go("k", func(context.Context) {
		runs.Add(1)
		close(started)
		<-release
	})
	<-started
	refresher.Go("k", func(context.Context) { runs.Add(1) })
	time.Sleep(20 * time.Millisecond)
	close(release)

	if err := refresher.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if runs.Load() != 1 {
		t.Fatalf("runs = %d, want 1", runs.Load())
	}

	refresher.Go("k", func(context.Context) { runs.Add(1) })
	if runs.Load() != 1 {
		t.Fatalf("Go() after Wait should be ignored")
	}
}
