package main

import (
	"context"

	log "github.com/sirupsen/logrus"

	"taskboard/config"
	"taskboard/storage"
)

func main() {
	var cfg config.StorageInit
	if err := config.ParseEnv(&cfg); err != nil {
		log.Fatal(err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	ctx := context.Background()
	if err := storage.Provision(ctx, cfg.ConnString, []string{cfg.TasksTable}, []string{cfg.EventsQueue}); err != nil {
		log.Fatalf("provision: %v", err)
	}
	log.Info("storage init complete")
}
