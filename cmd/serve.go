package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"stashworker/internal/bootstrap/logging"
	"stashworker/internal/errs"
	"stashworker/internal/infrastructure/httpserver"
	"stashworker/internal/infrastructure/manifest"
	"stashworker/internal/infrastructure/messaging"
	"stashworker/internal/infrastructure/network"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the caching proxy, control surface and background loops",
	RunE: withApp(func(cmd *cobra.Command, rt runtime) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		logCtx := logging.WithComponent(ctx, "cmd.serve")
		cfg := rt.App.Config

		if cfg.Storage.WarmOnStart {
			if err := rt.Memory.Warm(ctx); err != nil {
				logging.Warn(logCtx, "warm memory layer failed", slog.Any("err", errs.Loggable(err)))
			}
		}

		if err := startWorker(ctx, rt); err != nil {
			logging.Warn(logCtx, "worker not active, requests pass through", slog.Any("err", errs.Loggable(err)))
		}

		rt.Monitor.OnChange(func(ctx context.Context, online bool) {
			if online {
				go func() {
					if _, err := rt.Glue.OnReconnect(context.WithoutCancel(ctx)); err != nil {
						logging.Warn(logCtx, "reconnect flush failed", slog.Any("err", errs.Loggable(err)))
					}
				}()
				return
			}
			rt.Glue.OnOffline(ctx)
		})

		origin, err := url.Parse(cfg.Worker.Origin)
		if err != nil {
			return errs.Wrap(err, "parse worker origin")
		}
		handler, err := httpserver.New(httpserver.Options{
			Origin:  origin,
			Worker:  rt.Worker,
			Caches:  rt.Caches,
			Queue:   rt.Queue,
			Events:  rt.Glue,
			Memory:  rt.Memory,
			Clients: rt.Hub,
			Online:  rt.Monitor.Online,
		})
		if err != nil {
			return err
		}
		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logging.Info(logCtx, "listening", slog.String("addr", cfg.Server.Addr), slog.String("origin", cfg.Worker.Origin))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errs.Wrap(err, "listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		if cfg.Storage.CleanupInterval > 0 {
			g.Go(func() error {
				return rt.Memory.RunCleanup(gctx, cfg.Storage.CleanupInterval, cfg.Storage.Retention)
			})
		}

		if cfg.Network.ProbeURL != "" {
			prober := network.NewProber(&http.Client{Timeout: 5 * time.Second}, cfg.Network.ProbeURL, cfg.Network.ProbeInterval, rt.Monitor)
			g.Go(func() error {
				return prober.Run(gctx)
			})
		}

		if cfg.Worker.WatchManifest && cfg.Worker.ManifestFile != "" {
			watcher := manifest.NewWatcher(cfg.Worker.ManifestFile, rt.Worker, func() string {
				return rt.Worker.Status().Version
			})
			g.Go(func() error {
				return watcher.Run(gctx)
			})
		}

		if cfg.NATS.URL != "" {
			conn, err := messaging.Connect(cfg.NATS.URL, cfg.App.Name)
			if err != nil {
				logging.Warn(logCtx, "nats unavailable, push signals disabled", slog.Any("err", errs.Loggable(err)))
			} else {
				defer conn.Close()
				sub := messaging.NewSubscriber(conn, cfg.NATS.SubjectPrefix, rt.Glue)
				if err := sub.Start(gctx); err != nil {
					return err
				}
				defer sub.Close()
			}
		}

		if err := g.Wait(); err != nil {
			return err
		}
		logging.Info(logCtx, "serve stopped")
		return nil
	}),
}

// startWorker installs and activates the configured version. When the
// origin is unreachable it falls back to the generation already on disk.
func startWorker(ctx context.Context, rt runtime) error {
	installErr := rt.Worker.Install(ctx)
	if installErr == nil {
		return rt.Worker.Activate(ctx)
	}
	if err := rt.Worker.Resume(ctx); err != nil {
		return errors.Join(installErr, err)
	}
	logging.Info(logging.WithComponent(ctx, "cmd.serve"), "resumed installed generation", slog.String("version", rt.Worker.Status().Version))
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
