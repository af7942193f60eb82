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

	"taskboard/auth"
	"taskboard/config"
	"taskboard/domain"
	"taskboard/storage"
	"taskboard/stream"
	"taskboard/telemetry"
)

func main() {
	var cfg config.Stream
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
	shutdownTracing, err := telemetry.Setup(ctx, "stream-service", otelCfg)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}

	logger := log.StandardLogger()
	hub := stream.NewHub(cfg.QueueSize, logger)

	var relay stream.Publisher
	if cfg.RedisConn != "" {
		opts, err := config.RedisOptions(cfg.RedisConn)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rc := redis.NewClient(opts)
		defer rc.Close()
		rr := stream.NewRedisRelay(rc, hub, logger, cfg.Channel, cfg.VersionsKey)
		go rr.Run(ctx)
		relay = rr
	} else {
		relay = stream.NewLocalRelay(hub)
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
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, domain.HeaderClientID},
	}))
	opts := stream.Options{Heartbeat: cfg.Heartbeat}
	if cfg.ConnString != "" {
		store, err := storage.New(cfg.ConnString, cfg.TasksTable, "")
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		opts.Records = store
	} else {
		log.Warn("STORAGE_CONNECTION_STRING not set; published events are not checked against the task table")
	}
	stream.Register(e, hub, relay, authn, logger, opts)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()
	log.WithFields(log.Fields{"port": cfg.Port, "shared": cfg.RedisConn != ""}).Info("stream service started")

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
