package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stashworker/internal/bootstrap/logging"
	"stashworker/internal/domain/offline"
	"stashworker/internal/errs"
	"stashworker/internal/infrastructure/persistence/sqlite/migrations"
	"stashworker/internal/infrastructure/persistence/sqlite/model"
	"stashworker/internal/ports"
)

// ObjectStore is the durable object store backed by SQLite.
type ObjectStore struct {
	db                 *gorm.DB
	imageSizeThreshold int64
	nowFunc            func() time.Time
}

var _ ports.ObjectStore = (*ObjectStore)(nil)

type ObjectStoreOption func(*ObjectStore)

// WithImageSizeThreshold sets the size above which stale images are
// reclaimed first during cleanup.
func WithImageSizeThreshold(size int64) ObjectStoreOption {
	return func(s *ObjectStore) {
		if size > 0 {
			s.imageSizeThreshold = size
		}
	}
}

func WithClock(now func() time.Time) ObjectStoreOption {
	return func(s *ObjectStore) {
		if now != nil {
			s.nowFunc = now
		}
	}
}

func NewObjectStore(db *gorm.DB, opts ...ObjectStoreOption) *ObjectStore {
	s := &ObjectStore{
		db:                 db,
		imageSizeThreshold: offline.LargeImageThreshold,
		nowFunc:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init opens the store at the latest schema version, running any pending
// migrations.
func (s *ObjectStore) Init(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if _, err := migrations.Apply(ctx, s.db, migrations.All); err != nil {
		return storageErr(err, "init object store")
	}
	return nil
}

func (s *ObjectStore) dbFromContext(ctx context.Context) (*gorm.DB, error) {
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

func (s *ObjectStore) SaveBasket(ctx context.Context, basket offline.Basket) (offline.Basket, error) {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return offline.Basket{}, err
	}
	basket.ID = strings.TrimSpace(basket.ID)
	if basket.ID == "" {
		return offline.Basket{}, offline.ErrIDRequired
	}

	basket.LastModified = s.nowFunc().UTC()
	raw, err := json.Marshal(basket)
	if err != nil {
		return offline.Basket{}, errs.Wrap(err, "marshal basket")
	}

	row := model.Basket{
		ID:           basket.ID,
		OwnerID:      basket.OwnerID,
		Data:         string(raw),
		LastModified: basket.LastModified.UnixMilli(),
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"owner_id", "data", "last_modified"}),
	}).Create(&row).Error; err != nil {
		return offline.Basket{}, storageErr(err, "upsert basket")
	}
	return basket, nil
}

func (s *ObjectStore) GetBasket(ctx context.Context, id string) (offline.Basket, bool, error) {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return offline.Basket{}, false, err
	}

	var row model.Basket
	found, err := takeByKey(db, "id", id, &row)
	if err != nil || !found {
		return offline.Basket{}, false, storageErr(err, "query basket")
	}
	basket, err := decodeBasket(row)
	if err != nil {
		return offline.Basket{}, false, err
	}
	return basket, true, nil
}

func (s *ObjectStore) AllBaskets(ctx context.Context) ([]offline.Basket, error) {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.Basket
	if err := db.Order("id asc").Find(&rows).Error; err != nil {
		return nil, storageErr(err, "query baskets")
	}
	items := make([]offline.Basket, 0, len(rows))
	for _, row := range rows {
		basket, err := decodeBasket(row)
		if err != nil {
			return nil, err
		}
		items = append(items, basket)
	}
	return items, nil
}

func (s *ObjectStore) DeleteBasket(ctx context.Context, id string) error {
	return s.deleteByKey(ctx, &model.Basket{}, "id", id)
}

func (s *ObjectStore) SaveImage(ctx context.Context, image offline.ImageBlob) (offline.ImageBlob, error) {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return offline.ImageBlob{}, err
	}
	image.ID = strings.TrimSpace(image.ID)
	if image.ID == "" {
		return offline.ImageBlob{}, offline.ErrIDRequired
	}

	image.LastModified = s.nowFunc().UTC()
	image.Size = int64(len(image.Data))

	row := model.Image{
		ID:           image.ID,
		ContentType:  image.ContentType,
		Data:         image.Data,
		Size:         image.Size,
		LastModified: image.LastModified.UnixMilli(),
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"content_type", "data", "size", "last_modified"}),
	}).Create(&row).Error; err != nil {
		return offline.ImageBlob{}, storageErr(err, "upsert image")
	}
	return image, nil
}

func (s *ObjectStore) GetImage(ctx context.Context, id string) (offline.ImageBlob, bool, error) {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return offline.ImageBlob{}, false, err
	}

	var row model.Image
	found, err := takeByKey(db, "id", id, &row)
	if err != nil || !found {
		return offline.ImageBlob{}, false, storageErr(err, "query image")
	}
	return mapImage(row), true, nil
}

func (s *ObjectStore) AllImages(ctx context.Context) ([]offline.ImageBlob, error) {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.Image
	if err := db.Order("id asc").Find(&rows).Error; err != nil {
		return nil, storageErr(err, "query images")
	}
	items := make([]offline.ImageBlob, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapImage(row))
	}
	return items, nil
}

func (s *ObjectStore) DeleteImage(ctx context.Context, id string) error {
	return s.deleteByKey(ctx, &model.Image{}, "id", id)
}

func (s *ObjectStore) SavePreference(ctx context.Context, pref offline.Preference) (offline.Preference, error) {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return offline.Preference{}, err
	}
	pref.Key = strings.TrimSpace(pref.Key)
	if pref.Key == "" {
		return offline.Preference{}, offline.ErrIDRequired
	}
	if len(pref.Value) == 0 {
		pref.Value = json.RawMessage("null")
	}
	if !json.Valid(pref.Value) {
		return offline.Preference{}, fmt.Errorf("preference %q value is not valid json", pref.Key)
	}

	pref.LastModified = s.nowFunc().UTC()
	row := model.UserPreference{
		Key:          pref.Key,
		Value:        string(pref.Value),
		LastModified: pref.LastModified.UnixMilli(),
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "last_modified"}),
	}).Create(&row).Error; err != nil {
		return offline.Preference{}, storageErr(err, "upsert preference")
	}
	return pref, nil
}

func (s *ObjectStore) GetPreference(ctx context.Context, key string) (offline.Preference, bool, error) {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return offline.Preference{}, false, err
	}

	var row model.UserPreference
	found, err := takeByKey(db, "key", key, &row)
	if err != nil || !found {
		return offline.Preference{}, false, storageErr(err, "query preference")
	}
	return mapPreference(row), true, nil
}

func (s *ObjectStore) AllPreferences(ctx context.Context) ([]offline.Preference, error) {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.UserPreference
	if err := db.Order("key asc").Find(&rows).Error; err != nil {
		return nil, storageErr(err, "query preferences")
	}
	items := make([]offline.Preference, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapPreference(row))
	}
	return items, nil
}

func (s *ObjectStore) DeletePreference(ctx context.Context, key string) error {
	return s.deleteByKey(ctx, &model.UserPreference{}, "key", key)
}

// CleanupOldData removes entities not modified within maxAge. Large stale
// images are reclaimed before the small ones. The pending_actions
// collection is never swept.
func (s *ObjectStore) CleanupOldData(ctx context.Context, maxAge time.Duration) (ports.CleanupReport, error) {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return ports.CleanupReport{}, err
	}
	if maxAge <= 0 {
		maxAge = offline.DefaultRetention
	}

	cutoff := s.nowFunc().Add(-maxAge).UTC().UnixMilli()
	var report ports.CleanupReport

	err = db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("last_modified < ?", cutoff).Delete(&model.Basket{})
		if res.Error != nil {
			return errs.Wrap(res.Error, "delete stale baskets")
		}
		report.Baskets = res.RowsAffected

		res = tx.Where("size > ? AND last_modified < ?", s.imageSizeThreshold, cutoff).Delete(&model.Image{})
		if res.Error != nil {
			return errs.Wrap(res.Error, "delete large stale images")
		}
		report.LargeImages = res.RowsAffected

		res = tx.Where("last_modified < ?", cutoff).Delete(&model.Image{})
		if res.Error != nil {
			return errs.Wrap(res.Error, "delete stale images")
		}
		report.Images = res.RowsAffected

		res = tx.Where("last_modified < ?", cutoff).Delete(&model.UserPreference{})
		if res.Error != nil {
			return errs.Wrap(res.Error, "delete stale preferences")
		}
		report.Preferences = res.RowsAffected
		return nil
	})
	if err != nil {
		return ports.CleanupReport{}, storageErr(err, "cleanup old data")
	}

	logging.Info(logging.WithComponent(ctx, "persistence.object_store"), "cleanup finished",
		slog.Duration("max_age", maxAge),
		slog.Int64("baskets", report.Baskets),
		slog.Int64("images", report.Images),
		slog.Int64("large_images", report.LargeImages),
		slog.Int64("preferences", report.Preferences),
	)
	return report, nil
}

func (s *ObjectStore) deleteByKey(ctx context.Context, row any, column, key string) error {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return offline.ErrIDRequired
	}
	if err := db.Where(column+" = ?", key).Delete(row).Error; err != nil {
		return storageErr(err, "delete "+column+" "+key)
	}
	return nil
}

// takeByKey reports found=false for a blank key; nothing can be stored
// under one.
func takeByKey(db *gorm.DB, column, key string, dest any) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, nil
	}
	if err := db.Where(column+" = ?", key).Take(dest).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func decodeBasket(row model.Basket) (offline.Basket, error) {
	var basket offline.Basket
	if err := json.Unmarshal([]byte(row.Data), &basket); err != nil {
		return offline.Basket{}, errs.Wrapf(err, "decode basket %s", row.ID)
	}
	basket.ID = row.ID
	basket.LastModified = time.UnixMilli(row.LastModified).UTC()
	return basket, nil
}

func mapImage(row model.Image) offline.ImageBlob {
	return offline.ImageBlob{
		ID:           row.ID,
		ContentType:  row.ContentType,
		Data:         row.Data,
		Size:         row.Size,
		LastModified: time.UnixMilli(row.LastModified).UTC(),
	}
}

func mapPreference(row model.UserPreference) offline.Preference {
	return offline.Preference{
		Key:          row.Key,
		Value:        json.RawMessage(row.Value),
		LastModified: time.UnixMilli(row.LastModified).UTC(),
	}
}

func storageErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, offline.ErrIDRequired) {
		return err
	}
	return errs.WithKind(errs.Wrap(err, msg), errs.KindStorage)
}
