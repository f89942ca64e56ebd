package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stashworker/internal/errs"
	"stashworker/internal/infrastructure/persistence/sqlite/model"
	"stashworker/internal/ports"
)

// CacheStorage keeps named response caches in SQLite. A cache exists while
// its cache_generations row exists.
type CacheStorage struct {
	db      *gorm.DB
	nowFunc func() time.Time
}

var _ ports.CacheStorage = (*CacheStorage)(nil)

func NewCacheStorage(db *gorm.DB) *CacheStorage {
	return &CacheStorage{db: db, nowFunc: time.Now}
}

func (s *CacheStorage) dbFromContext(ctx context.Context) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err, "check context")
	}

	tx := ports.TxFromContext(ctx)
	if tx == nil {
		return s.db.WithContext(ctx), nil
	}

	gormTx, ok := tx.(*gorm.DB)
	if !ok || gormTx == nil {
		return nil, fmt.Errorf("invalid tx in context: %T", tx)
	}
	return gormTx.WithContext(ctx), nil
}

// Open returns the named cache, creating it when missing.
func (s *CacheStorage) Open(ctx context.Context, name string) (ports.ResponseCache, error) {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("cache name is required")
	}

	row := model.CacheGeneration{Name: name, CreatedAt: s.nowFunc().UTC().UnixMilli()}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return nil, storageErr(err, "open cache "+name)
	}
	return &responseCache{storage: s, name: name}, nil
}

func (s *CacheStorage) Has(ctx context.Context, name string) (bool, error) {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return false, err
	}
	return generationExists(db, strings.TrimSpace(name))
}

// Delete drops the named cache and every response in it. It reports whether
// the cache existed.
func (s *CacheStorage) Delete(ctx context.Context, name string) (bool, error) {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return false, err
	}
	name = strings.TrimSpace(name)

	var existed bool
	err = db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("name = ?", name).Delete(&model.CacheGeneration{})
		if res.Error != nil {
			return errs.Wrap(res.Error, "delete cache generation")
		}
		existed = res.RowsAffected > 0
		if err := tx.Where("cache_name = ?", name).Delete(&model.CachedResponse{}).Error; err != nil {
			return errs.Wrap(err, "delete cached responses")
		}
		return nil
	})
	if err != nil {
		return false, storageErr(err, "delete cache "+name)
	}
	return existed, nil
}

func (s *CacheStorage) Keys(ctx context.Context) ([]string, error) {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	if err := db.Model(&model.CacheGeneration{}).Order("created_at asc, name asc").Pluck("name", &names).Error; err != nil {
		return nil, storageErr(err, "list caches")
	}
	return names, nil
}

type responseCache struct {
	storage *CacheStorage
	name    string
}

func (c *responseCache) Name() string {
	return c.name
}

func (c *responseCache) Match(ctx context.Context, url string) (ports.StoredResponse, bool, error) {
	db, err := c.storage.dbFromContext(ctx)
	if err != nil {
		return ports.StoredResponse{}, false, err
	}

	var row model.CachedResponse
	err = db.Where("cache_name = ? AND url = ?", c.name, url).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.StoredResponse{}, false, nil
		}
		return ports.StoredResponse{}, false, storageErr(err, "match cached response")
	}

	header := http.Header{}
	if row.Header != "" {
		if err := json.Unmarshal([]byte(row.Header), &header); err != nil {
			return ports.StoredResponse{}, false, errs.Wrapf(err, "decode header for %s", url)
		}
	}
	return ports.StoredResponse{
		URL:      row.URL,
		Status:   row.Status,
		Header:   header,
		Body:     row.Body,
		StoredAt: time.UnixMilli(row.StoredAt).UTC(),
	}, true, nil
}

// Put stores resp under its URL, replacing any earlier entry. Writing to a
// cache that was deleted after Open fails with ports.ErrCacheNotFound.
func (c *responseCache) Put(ctx context.Context, resp ports.StoredResponse) error {
	db, err := c.storage.dbFromContext(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(resp.URL) == "" {
		return errors.New("response url is required")
	}

	header := resp.Header
	if header == nil {
		header = http.Header{}
	}
	rawHeader, err := json.Marshal(header)
	if err != nil {
		return errs.Wrap(err, "encode header")
	}
	storedAt := resp.StoredAt
	if storedAt.IsZero() {
		storedAt = c.storage.nowFunc()
	}

	return db.Transaction(func(tx *gorm.DB) error {
		exists, err := generationExists(tx, c.name)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s", ports.ErrCacheNotFound, c.name)
		}

		row := model.CachedResponse{
			CacheName: c.name,
			URL:       resp.URL,
			Status:    resp.Status,
			Header:    string(rawHeader),
			Body:      resp.Body,
			StoredAt:  storedAt.UTC().UnixMilli(),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cache_name"}, {Name: "url"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "header", "body", "stored_at"}),
		}).Create(&row).Error; err != nil {
			return storageErr(err, "upsert cached response")
		}
		return nil
	})
}

func (c *responseCache) Delete(ctx context.Context, url string) (bool, error) {
	db, err := c.storage.dbFromContext(ctx)
	if err != nil {
		return false, err
	}
	res := db.Where("cache_name = ? AND url = ?", c.name, url).Delete(&model.CachedResponse{})
	if res.Error != nil {
		return false, storageErr(res.Error, "delete cached response")
	}
	return res.RowsAffected > 0, nil
}

func (c *responseCache) Keys(ctx context.Context) ([]string, error) {
	db, err := c.storage.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var urls []string
	if err := db.Model(&model.CachedResponse{}).
		Where("cache_name = ?", c.name).
		Order("stored_at asc, url asc").
		Pluck("url", &urls).Error; err != nil {
		return nil, storageErr(err, "list cached urls")
	}
	return urls, nil
}

func generationExists(db *gorm.DB, name string) (bool, error) {
	if name == "" {
		return false, nil
	}
	var count int64
	if err := db.Model(&model.CacheGeneration{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return false, storageErr(err, "query cache generation")
	}
	return count > 0, nil
}
