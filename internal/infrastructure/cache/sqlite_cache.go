package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stashworker/internal/errs"
	"stashworker/internal/infrastructure/persistence/sqlite/model"
	"stashworker/internal/ports"
)

// SQLiteCache is a string key-value store over the pending_actions
// collection. The ttl argument of Set is ignored; keys live until deleted.
type SQLiteCache struct {
	db *gorm.DB
}

var _ ports.Cache = (*SQLiteCache)(nil)

func NewSQLiteCache(db *gorm.DB) *SQLiteCache {
	return &SQLiteCache{db: db}
}

func (c *SQLiteCache) Get(ctx context.Context, key string) (string, bool, error) {
	db, trimmedKey, err := c.prepare(ctx, key)
	if err != nil {
		return "", false, err
	}

	var row model.PendingAction
	if err := db.Where("key = ?", trimmedKey).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, errs.WithKind(errs.Wrap(err, "query pending action key"), errs.KindStorage)
	}

	return row.Value, true, nil
}

func (c *SQLiteCache) Set(ctx context.Context, key string, value string, _ time.Duration) error {
	db, trimmedKey, err := c.prepare(ctx, key)
	if err != nil {
		return err
	}

	row := model.PendingAction{
		Key:       trimmedKey,
		Value:     value,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}

	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"value":      row.Value,
			"updated_at": row.UpdatedAt,
		}),
	}).Create(&row).Error; err != nil {
		return errs.WithKind(errs.Wrap(err, "upsert pending action key"), errs.KindStorage)
	}

	return nil
}

func (c *SQLiteCache) Delete(ctx context.Context, key string) error {
	db, trimmedKey, err := c.prepare(ctx, key)
	if err != nil {
		return err
	}

	if err := db.Where("key = ?", trimmedKey).Delete(&model.PendingAction{}).Error; err != nil {
		return errs.WithKind(errs.Wrap(err, "delete pending action key"), errs.KindStorage)
	}
	return nil
}

func (c *SQLiteCache) prepare(ctx context.Context, key string) (*gorm.DB, string, error) {
	if ctx == nil {
		return nil, "", errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, "", errs.Wrap(err, "check context")
	}

	trimmedKey := strings.TrimSpace(key)
	if trimmedKey == "" {
		return nil, "", errors.New("key is required")
	}

	tx := ports.TxFromContext(ctx)
	if tx == nil {
		return c.db.WithContext(ctx), trimmedKey, nil
	}
	gormTx, ok := tx.(*gorm.DB)
	if !ok || gormTx == nil {
		return nil, "", fmt.Errorf("invalid tx in context: %T", tx)
	}
	return gormTx.WithContext(ctx), trimmedKey, nil
}
