package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"gorm.io/gorm"

	"stashworker/internal/bootstrap/logging"
	"stashworker/internal/errs"
	"stashworker/internal/infrastructure/persistence/sqlite/model"
)

// Migration upgrades the schema to Version. Up must only add tables or
// indexes that are missing; existing data is never touched.
type Migration struct {
	Version int
	Name    string
	Up      func(tx *gorm.DB) error
}

// All is the ordered schema history of the durable store.
var All = []Migration{
	{
		Version: 1,
		Name:    "create_core_collections",
		Up: func(tx *gorm.DB) error {
			return createMissing(tx, &model.Basket{}, &model.Image{}, &model.PendingAction{})
		},
	},
	{
		Version: 2,
		Name:    "add_user_preferences_and_last_modified_indexes",
		Up: func(tx *gorm.DB) error {
			if err := createMissing(tx, &model.UserPreference{}); err != nil {
				return err
			}
			for _, stmt := range []string{
				"CREATE INDEX IF NOT EXISTS idx_baskets_last_modified ON baskets(last_modified)",
				"CREATE INDEX IF NOT EXISTS idx_images_last_modified ON images(last_modified)",
				"CREATE INDEX IF NOT EXISTS idx_images_size ON images(size)",
				"CREATE INDEX IF NOT EXISTS idx_user_preferences_last_modified ON user_preferences(last_modified)",
			} {
				if err := tx.Exec(stmt).Error; err != nil {
					return err
				}
			}
			return nil
		},
	},
	{
		Version: 3,
		Name:    "create_response_caches",
		Up: func(tx *gorm.DB) error {
			if err := createMissing(tx, &model.CacheGeneration{}, &model.CachedResponse{}); err != nil {
				return err
			}
			return tx.Exec("CREATE INDEX IF NOT EXISTS idx_cached_responses_cache_name ON cached_responses(cache_name)").Error
		},
	},
	{
		Version: 4,
		Name:    "index_baskets_owner",
		Up: func(tx *gorm.DB) error {
			return tx.Exec("CREATE INDEX IF NOT EXISTS idx_baskets_owner_id ON baskets(owner_id)").Error
		},
	},
}

// Latest returns the highest version in list.
func Latest(list []Migration) int {
	latest := 0
	for _, m := range list {
		if m.Version > latest {
			latest = m.Version
		}
	}
	return latest
}

// Apply runs every migration in list whose version is not yet recorded, in
// version order, each in its own transaction. It returns the versions applied.
func Apply(ctx context.Context, db *gorm.DB, list []Migration) ([]int, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if db == nil {
		return nil, errors.New("db is required")
	}

	logCtx := logging.WithComponent(ctx, "persistence.migrations")

	ordered := make([]Migration, len(list))
	copy(ordered, list)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Version < ordered[j].Version })
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Version == ordered[i-1].Version {
			return nil, fmt.Errorf("duplicate migration version %d", ordered[i].Version)
		}
	}

	if err := db.WithContext(ctx).AutoMigrate(&model.SchemaVersion{}); err != nil {
		return nil, errs.Wrap(err, "ensure schema_versions")
	}

	current, err := CurrentVersion(ctx, db)
	if err != nil {
		return nil, err
	}

	var applied []int
	for _, m := range ordered {
		if m.Version <= current {
			continue
		}
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			return tx.Create(&model.SchemaVersion{
				Version:   m.Version,
				Name:      m.Name,
				AppliedAt: time.Now().UTC().UnixMilli(),
			}).Error
		})
		if err != nil {
			return applied, errs.Wrapf(err, "apply migration %d %s", m.Version, m.Name)
		}
		applied = append(applied, m.Version)
		logging.Info(logCtx, "migration applied", slog.Int("version", m.Version), slog.String("name", m.Name))
	}

	return applied, nil
}

// CurrentVersion returns the highest applied version, 0 for a fresh store.
func CurrentVersion(ctx context.Context, db *gorm.DB) (int, error) {
	var version sql.NullInt64
	if err := db.WithContext(ctx).Model(&model.SchemaVersion{}).Select("MAX(version)").Row().Scan(&version); err != nil {
		return 0, errs.Wrap(err, "read schema version")
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}

func createMissing(tx *gorm.DB, models ...any) error {
	m := tx.Migrator()
	for _, item := range models {
		if m.HasTable(item) {
			continue
		}
		if err := m.CreateTable(item); err != nil {
			return err
		}
	}
	return nil
}
