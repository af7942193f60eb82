package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/api"
	"taskboard/auth"
	"taskboard/config"
	"taskboard/domain"
	"taskboard/storage"
	"taskboard/telemetry"
)

type store interface {
	api.Storage
	api.EventSink
	GetTask(ctx context.Context, id string) (domain.Task, error)
}

func main() {
	var cfg config.API
	if err := config.ParseEnv(&cfg); err != nil {
		log.Fatal(err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var otelCfg telemetry.Config
	if err := config.ParseEnv(&otelCfg); err != nil {
		log.Fatal(err)
	}
	shutdownTracing, err := telemetry.Setup(ctx, "task-api", otelCfg)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}

	logger := log.StandardLogger()

	var base store
	switch cfg.StorageMode {
	case config.StorageTable:
		s, err := storage.New(cfg.ConnString, cfg.TasksTable, cfg.EventsQueue)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		base = s
	default:
		base = storage.NewMemory()
	}

	var st api.Storage = base
	var deduper api.Deduper
	if cfg.RedisConn != "" {
		opts, err := config.RedisOptions(cfg.RedisConn)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rc := redis.NewClient(opts)
		defer rc.Close()
		st = storage.NewCache(base, rc, cfg.CacheTTL)
		deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
	}

	var exporter *api.EventExporter
	if cfg.StorageMode == config.StorageTable && cfg.EventsQueue != "" {
		exporter = api.NewEventExporter(base, logger, api.ExporterConfig{
			Workers: cfg.ExportWorkers,
			Buffer:  cfg.ExportBuffer,
		})
		defer exporter.Stop()
	}

	authn, err := auth.FromConfig(cfg.Auth)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowHeaders: []string{
			echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization,
			echo.HeaderContentEncoding, domain.HeaderIdempotencyKey, domain.HeaderClientID,
		},
	}))
	api.Register(e, st, authn, deduper, exporter, logger)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()
	log.WithFields(log.Fields{"port": cfg.Port, "storage": cfg.StorageMode}).Info("task api started")

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.WithError(err).Warn("tracing shutdown")
	}
}
