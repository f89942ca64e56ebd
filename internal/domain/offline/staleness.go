package offline

import (
	"net/http"
	"time"
)

// CacheDateHeader carries the time a strategy stored a response.
const CacheDateHeader = "Sw-Cache-Date"

const (
	DefaultRetention    = 7 * 24 * time.Hour
	ImageMaxAge         = 7 * 24 * time.Hour
	ImageRefreshAfter   = 24 * time.Hour
	LargeImageThreshold = int64(1 << 20)
)

// OfflinePagePath must be present in every precache manifest.
const OfflinePagePath = "/offline.html"

// ResponseAge reports how old a cached response is according to its
// CacheDateHeader. A missing or unparsable header is age zero.
func ResponseAge(h http.Header, now time.Time) time.Duration {
	raw := h.Get(CacheDateHeader)
	if raw == "" {
		return 0
	}
	stored, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return 0
	}
	age := now.Sub(stored)
	if age < 0 {
		return 0
	}
	return age
}

func StampCacheDate(h http.Header, now time.Time) {
	h.Set(CacheDateHeader, now.UTC().Format(time.RFC3339Nano))
}
