package bootstrap

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"stashworker/internal/bootstrap/config"
	"stashworker/internal/bootstrap/database"
	"stashworker/internal/bootstrap/logging"
	"stashworker/internal/bootstrap/telemetry"
	"stashworker/internal/errs"
	cacheinfra "stashworker/internal/infrastructure/cache"
	"stashworker/internal/infrastructure/clients"
	"stashworker/internal/infrastructure/manifest"
	"stashworker/internal/infrastructure/network"
	sqliterepo "stashworker/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "stashworker/internal/infrastructure/persistence/sqlite/uow"
	"stashworker/internal/ports"
	"stashworker/internal/retry"
	"stashworker/internal/usecase/queue"
	"stashworker/internal/usecase/syncglue"
	"stashworker/internal/usecase/worker"
)

var Module = fx.Options(
	fx.Provide(provideConfig),
	fx.Provide(provideDatabase),
	fx.Provide(provideApp),
	fx.Provide(
		fx.Annotate(
			sqliteuow.NewUnitOfWork,
			fx.As(new(ports.UnitOfWork)),
		),
	),
	fx.Provide(
		fx.Annotate(
			cacheinfra.NewSQLiteCache,
			fx.As(new(ports.Cache)),
		),
	),
	fx.Provide(sqliterepo.NewCacheStorage),
	fx.Provide(provideObjectStore),
	fx.Provide(provideMemoryStore),
	fx.Provide(provideMonitor),
	fx.Provide(provideNetwork),
	fx.Provide(clients.NewHub),
	fx.Provide(provideWorker),
	fx.Provide(provideQueue),
	fx.Provide(provideGlue),
	fx.Invoke(registerTelemetry),
)

type configParams struct {
	fx.In

	Ctx        context.Context
	ConfigFile string `name:"configFile"`
}

func provideConfig(p configParams) (config.Config, error) {
	ctx := logging.WithComponent(p.Ctx, "bootstrap.fx")
	return config.Load(ctx, p.ConfigFile)
}

// provideDatabase opens the database and brings its schema up to date, so
// every command sees the current tables.
func provideDatabase(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	logCtx := logging.WithComponent(ctx, "bootstrap.fx")

	db, err := database.Open(logCtx, cfg.Database)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})

	app := &App{Config: cfg, DB: db}
	if _, _, err := app.InitSchema(logCtx); err != nil {
		return nil, err
	}
	return db, nil
}

func provideApp(cfg config.Config, db *gorm.DB) *App {
	return &App{
		Config: cfg,
		DB:     db,
	}
}

func provideObjectStore(db *gorm.DB, cfg config.Config) *sqliterepo.ObjectStore {
	return sqliterepo.NewObjectStore(db, sqliterepo.WithImageSizeThreshold(cfg.Storage.ImageSizeThreshold))
}

func provideMemoryStore(lc fx.Lifecycle, ctx context.Context, durable *sqliterepo.ObjectStore) *cacheinfra.MemoryStore {
	store := cacheinfra.NewMemoryStore(durable)
	lc.Append(fx.Hook{
		OnStop: func(stopCtx context.Context) error {
			if err := store.Flush(stopCtx); err != nil {
				logging.Warn(logging.WithComponent(ctx, "bootstrap.fx"), "flush memory store failed", slog.Any("err", errs.Loggable(err)))
			}
			return nil
		},
	})
	return store
}

func provideMonitor() *network.Monitor {
	return network.NewMonitor(true)
}

// provideNetwork is the transport used for every real request. It feeds
// request outcomes into the connectivity monitor.
func provideNetwork(monitor *network.Monitor) http.RoundTripper {
	return network.NewTransport(http.DefaultTransport, monitor)
}

func provideWorker(lc fx.Lifecycle, cfg config.Config, storage *sqliterepo.CacheStorage, uow ports.UnitOfWork, hub *clients.Hub, netw http.RoundTripper) (*worker.Worker, error) {
	origin, err := url.Parse(cfg.Worker.Origin)
	if err != nil {
		return nil, errs.Wrap(err, "parse worker origin")
	}
	m, err := manifest.Load(cfg.Worker.ManifestFile)
	if err != nil {
		return nil, err
	}
	version := cfg.Worker.Version
	if m.Version != "" {
		version = m.Version
	}

	w, err := worker.New(worker.Options{
		Origin:      origin,
		Version:     version,
		Manifest:    m,
		APIPrefixes: cfg.Worker.APIPrefixes,
		Network:     netw,
	}, storage, uow, hub)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: w.Shutdown,
	})
	return w, nil
}

// provideQueue replays through the worker so mutations take the same
// network path as page requests.
func provideQueue(lc fx.Lifecycle, cfg config.Config, kv ports.Cache, monitor *network.Monitor, w *worker.Worker) (*queue.Queue, error) {
	origin, err := url.Parse(cfg.Worker.Origin)
	if err != nil {
		return nil, errs.Wrap(err, "parse worker origin")
	}
	replayer := queue.NewHTTPReplayer(origin, &http.Client{Transport: w})
	q := queue.New(kv, replayer, monitor, queue.Options{MaxRetries: cfg.Queue.MaxRetries})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			_, err := q.Load(ctx)
			return err
		},
	})
	return q, nil
}

func provideGlue(cfg config.Config, q *queue.Queue, monitor *network.Monitor, hub *clients.Hub) *syncglue.Glue {
	policy := retry.Policy{
		MaxAttempts: cfg.Queue.RetryAttempts,
		Base:        cfg.Queue.RetryBase,
		Max:         cfg.Queue.RetryMax,
	}
	glue := syncglue.New(q, monitor, hub, hub, policy)
	hub.OnClick(glue.OnNotificationClick)
	return glue
}

func registerTelemetry(lc fx.Lifecycle, ctx context.Context, cfg config.Config) error {
	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry, cfg.App.Name)
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStop: func(stopCtx context.Context) error {
			return shutdown(stopCtx)
		},
	})
	return nil
}
