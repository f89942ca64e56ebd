package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"stashworker/internal/domain/offline"
	"stashworker/internal/errs"
)

var ErrUnsupportedFormat = errors.New("unsupported manifest format")

// Load reads a precache manifest file. An empty path yields the built-in
// app shell manifest.
func Load(path string) (offline.Manifest, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return offline.DefaultManifest(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return offline.Manifest{}, errs.Wrapf(err, "read manifest %s", path)
	}
	m, err := Parse(raw, filepath.Ext(path))
	if err != nil {
		return offline.Manifest{}, errs.Wrapf(err, "parse manifest %s", path)
	}
	return m, nil
}

// Parse decodes raw by extension: .json (array or object), .yaml, .yml or
// .toml. Blank entries are dropped.
func Parse(raw []byte, ext string) (offline.Manifest, error) {
	var m offline.Manifest
	switch strings.ToLower(strings.TrimSpace(ext)) {
	case ".json":
		trimmed := strings.TrimSpace(string(raw))
		if strings.HasPrefix(trimmed, "[") {
			if err := json.Unmarshal(raw, &m.URLs); err != nil {
				return offline.Manifest{}, err
			}
		} else if err := json.Unmarshal(raw, &m); err != nil {
			return offline.Manifest{}, err
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &m); err != nil {
			return offline.Manifest{}, err
		}
	case ".toml":
		if err := toml.Unmarshal(raw, &m); err != nil {
			return offline.Manifest{}, err
		}
	default:
		return offline.Manifest{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	urls := m.URLs[:0]
	for _, u := range m.URLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	m.URLs = urls
	m.Version = strings.TrimSpace(m.Version)
	if len(m.URLs) == 0 {
		return offline.Manifest{}, offline.ErrManifestEmpty
	}
	return m, nil
}
