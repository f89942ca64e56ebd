package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"stashworker/internal/bootstrap/logging"
	"stashworker/internal/errs"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Network   NetworkConfig   `mapstructure:"network"`
	Server    ServerConfig    `mapstructure:"server"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type WorkerConfig struct {
	// Version names the current cache generation, e.g. "v1" -> static-v1.
	Version       string   `mapstructure:"version"`
	Origin        string   `mapstructure:"origin"`
	ManifestFile  string   `mapstructure:"manifest_file"`
	APIPrefixes   []string `mapstructure:"api_prefixes"`
	WatchManifest bool     `mapstructure:"watch_manifest"`
}

type StorageConfig struct {
	Retention          time.Duration `mapstructure:"retention"`
	ImageSizeThreshold int64         `mapstructure:"image_size_threshold"`
	CleanupInterval    time.Duration `mapstructure:"cleanup_interval"`
	WarmOnStart        bool          `mapstructure:"warm_on_start"`
}

type QueueConfig struct {
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryBase     time.Duration `mapstructure:"retry_base"`
	RetryMax      time.Duration `mapstructure:"retry_max"`
}

type NetworkConfig struct {
	ProbeURL      string        `mapstructure:"probe_url"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func Load(ctx context.Context, configFile string) (Config, error) {
	if ctx == nil {
		return Config{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return Config{}, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithComponent(ctx, "bootstrap.config")

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("STASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || isMissingFile(err) {
			logging.Warn(logCtx, "config file not found, fallback to defaults and env")
		} else {
			return Config{}, errs.Wrap(err, "read config")
		}
	} else {
		logging.Info(logCtx, "using config file", slog.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errs.Wrap(err, "unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	logging.Info(
		logCtx,
		"config loaded",
		slog.String("app", cfg.App.Name),
		slog.String("env", cfg.App.Env),
		slog.String("worker_version", cfg.Worker.Version),
		slog.String("origin", cfg.Worker.Origin),
	)

	return cfg, nil
}

// Validate checks the invariants the rest of the program relies on.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("database.dsn is required")
	}
	if strings.TrimSpace(c.Worker.Version) == "" {
		return errors.New("worker.version is required")
	}
	origin, err := url.Parse(c.Worker.Origin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return fmt.Errorf("worker.origin must be an absolute URL, got %q", c.Worker.Origin)
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("queue.max_retries must be >= 0, got %d", c.Queue.MaxRetries)
	}
	if c.Storage.Retention <= 0 {
		return fmt.Errorf("storage.retention must be positive, got %s", c.Storage.Retention)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "stashworker")
	v.SetDefault("app.env", "local")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", ".stash/state.sqlite")

	v.SetDefault("worker.version", "v1")
	v.SetDefault("worker.origin", "http://localhost:3000")
	v.SetDefault("worker.manifest_file", "")
	v.SetDefault("worker.api_prefixes", []string{"/api/"})
	v.SetDefault("worker.watch_manifest", false)

	v.SetDefault("storage.retention", 7*24*time.Hour)
	v.SetDefault("storage.image_size_threshold", int64(1<<20))
	v.SetDefault("storage.cleanup_interval", time.Hour)
	v.SetDefault("storage.warm_on_start", true)

	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.retry_attempts", 5)
	v.SetDefault("queue.retry_base", time.Second)
	v.SetDefault("queue.retry_max", time.Minute)

	v.SetDefault("network.probe_url", "")
	v.SetDefault("network.probe_interval", 30*time.Second)

	v.SetDefault("server.addr", ":8089")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "stash")

	v.SetDefault("telemetry.otlp_endpoint", "")
}

func isMissingFile(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "no such file")
}
