package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"stashworker/internal/bootstrap"
	"stashworker/internal/bootstrap/logging"
	"stashworker/internal/errs"
	"stashworker/internal/infrastructure/cache"
	"stashworker/internal/infrastructure/clients"
	"stashworker/internal/infrastructure/network"
	sqliterepo "stashworker/internal/infrastructure/persistence/sqlite/repository"
	"stashworker/internal/usecase/queue"
	"stashworker/internal/usecase/syncglue"
	"stashworker/internal/usecase/worker"
)

// runtime is everything a command may need from the fx graph.
type runtime struct {
	fx.In

	App     *bootstrap.App
	Worker  *worker.Worker
	Queue   *queue.Queue
	Glue    *syncglue.Glue
	Memory  *cache.MemoryStore
	Caches  *sqliterepo.CacheStorage
	Monitor *network.Monitor
	Hub     *clients.Hub
}

func withApp(run func(cmd *cobra.Command, rt runtime) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := logging.WithAttrs(
			cmd.Context(),
			slog.String("command", cmd.CommandPath()),
			slog.String("config_file", cfgFile),
		)

		var rt runtime
		fxApp := fx.New(
			bootstrap.Module,
			fx.NopLogger,
			fx.Provide(func() context.Context { return ctx }),
			fx.Provide(
				fx.Annotate(
					func() string { return cfgFile },
					fx.ResultTags(`name:"configFile"`),
				),
			),
			fx.Invoke(func(r runtime) { rt = r }),
		)

		startCtx, cancelStart := context.WithTimeout(ctx, 10*time.Second)
		defer cancelStart()
		if err := fxApp.Start(startCtx); err != nil {
			logging.Error(ctx, "bootstrap application failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "start fx application")
		}

		defer func() {
			stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelStop()
			if err := fxApp.Stop(stopCtx); err != nil {
				logging.Error(ctx, "fx application stop failed", slog.Any("err", errs.Loggable(err)))
			}
		}()

		cfg := rt.App.Config
		logger := logging.New(cmd.ErrOrStderr(), cfg.Log.Format, cfg.Log.Level)
		cmd.SetContext(logging.WithLogger(cmd.Context(), logger))

		if err := run(cmd, rt); err != nil {
			return errs.Wrap(err, "run command")
		}
		return nil
	}
}
