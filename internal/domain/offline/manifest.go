package offline

import (
	"fmt"
	"net/url"
	"strings"
)

// Manifest is the ordered list of same-origin URLs precached at install.
type Manifest struct {
	Version string   `json:"version" yaml:"version" toml:"version"`
	URLs    []string `json:"urls" yaml:"urls" toml:"urls"`
}

// DefaultManifest is the app shell precached when no manifest file is set.
func DefaultManifest() Manifest {
	return Manifest{URLs: []string{
		"/",
		OfflinePagePath,
		"/manifest.json",
		"/icons/icon-192.png",
		"/icons/icon-512.png",
	}}
}

// Resolve turns every entry into an absolute URL on origin. Duplicates are
// dropped, keeping the first occurrence. The offline page is mandatory.
func (m Manifest) Resolve(origin *url.URL) ([]*url.URL, error) {
	if origin == nil {
		return nil, fmt.Errorf("origin is required")
	}
	if len(m.URLs) == 0 {
		return nil, ErrManifestEmpty
	}

	seen := make(map[string]struct{}, len(m.URLs))
	out := make([]*url.URL, 0, len(m.URLs))
	hasOfflinePage := false
	for _, raw := range m.URLs {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		ref, err := url.Parse(trimmed)
		if err != nil {
			return nil, fmt.Errorf("manifest entry %q: %w", raw, err)
		}
		abs := origin.ResolveReference(ref)
		if !SameOrigin(abs, origin) {
			return nil, fmt.Errorf("%w: %s", ErrCrossOriginManifest, trimmed)
		}
		abs.Fragment = ""
		key := abs.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if abs.Path == OfflinePagePath {
			hasOfflinePage = true
		}
		out = append(out, abs)
	}
	if len(out) == 0 {
		return nil, ErrManifestEmpty
	}
	if !hasOfflinePage {
		return nil, ErrOfflinePageMissing
	}
	return out, nil
}

// SameOrigin compares scheme and host case-insensitively.
func SameOrigin(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}

const (
	staticCachePrefix  = "static-"
	dynamicCachePrefix = "dynamic-"
	imagesCachePrefix  = "images-"
)

func StaticCacheName(version string) string  { return staticCachePrefix + version }
func DynamicCacheName(version string) string { return dynamicCachePrefix + version }
func ImagesCacheName(version string) string  { return imagesCachePrefix + version }

// CacheAllowList is the set of cache names owned by version.
func CacheAllowList(version string) []string {
	return []string{StaticCacheName(version), DynamicCacheName(version), ImagesCacheName(version)}
}
