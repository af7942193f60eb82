package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/config"
	"taskboard/storage"
	"taskboard/stream"
)

func main() {
	var cfg config.Forwarder
	if err := config.ParseEnv(&cfg); err != nil {
		log.Fatal(err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("event forwarder starting")

	queue, err := storage.NewEventQueue(cfg.ConnString, cfg.EventsQueue)
	if err != nil {
		log.Fatalf("queue client: %v", err)
	}
	opts, err := config.RedisOptions(cfg.RedisConn)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	rc := redis.NewClient(opts)
	defer rc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := log.StandardLogger()
	// no local subscribers; the hub only satisfies the relay
	relay := stream.NewRedisRelay(rc, stream.NewHub(1, logger), logger, cfg.Channel, cfg.VersionsKey)
	stream.NewForwarder(queue, relay, logger, cfg.IdleWait).Run(ctx)
	log.Info("event forwarder stopped")
}
