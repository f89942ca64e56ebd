package bootstrap

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"

	"stashworker/internal/bootstrap/config"
	"stashworker/internal/bootstrap/database"
	"stashworker/internal/bootstrap/logging"
	"stashworker/internal/errs"
	"stashworker/internal/infrastructure/persistence/sqlite/migrations"
)

type App struct {
	Config config.Config
	DB     *gorm.DB
}

func New(ctx context.Context, configFile string) (*App, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithComponent(ctx, "bootstrap.app")
	logging.Info(logCtx, "loading application config", slog.String("config_file", configFile))

	cfg, err := config.Load(logCtx, configFile)
	if err != nil {
		return nil, errs.Wrap(err, "load config")
	}

	db, err := database.Open(logCtx, cfg.Database)
	if err != nil {
		return nil, errs.Wrap(err, "open database")
	}

	logging.Info(logCtx, "application bootstrap completed", slog.String("database_driver", cfg.Database.Driver))

	return &App{
		Config: cfg,
		DB:     db,
	}, nil
}

// InitSchema applies pending migrations and returns the versions applied
// together with the resulting schema version.
func (a *App) InitSchema(ctx context.Context) ([]int, int, error) {
	if ctx == nil {
		return nil, 0, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithComponent(ctx, "bootstrap.app")
	logging.Info(logCtx, "start schema migration")

	applied, err := migrations.Apply(ctx, a.DB, migrations.All)
	if err != nil {
		return nil, 0, errs.Wrap(err, "apply migrations")
	}
	version, err := migrations.CurrentVersion(ctx, a.DB)
	if err != nil {
		return applied, 0, errs.Wrap(err, "read schema version")
	}

	logging.Info(logCtx, "schema migration completed",
		slog.Any("applied", applied),
		slog.Int("version", version),
	)
	return applied, version, nil
}

func (a *App) Close(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	sqlDB, err := a.DB.DB()
	if err != nil {
		return errs.Wrap(err, "get sql db")
	}

	if err := sqlDB.Close(); err != nil {
		return errs.Wrap(err, "close sql db")
	}

	logging.Info(logging.WithComponent(ctx, "bootstrap.app"), "database connection closed")
	return nil
}
