package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/client"
	"taskboard/config"
	"taskboard/domain"
)

type loadConfig struct {
	StreamURL   string        `env:"STREAM_URL" envDefault:"http://localhost:9000"`
	Connections int           `env:"SSE_CONNECTIONS" envDefault:"200"`
	Duration    time.Duration `env:"DURATION" envDefault:"2m"`
	Token       string        `env:"TEST_BEARER"`
	MaxFailure  float64       `env:"MAX_RECONNECT_RATE" envDefault:"0.01"`
}

type result struct {
	Connections int
	Connects    uint64
	Events      uint64
}

// ReconnectRate is the share of connects beyond the first per connection.
func (r result) ReconnectRate() float64 {
	if r.Connects == 0 {
		return 1
	}
	extra := float64(r.Connects) - float64(r.Connections)
	if extra < 0 {
		extra = 0
	}
	return extra / float64(r.Connects)
}

// run holds cfg.Connections channels open for cfg.Duration and counts what
// arrives.
func run(ctx context.Context, cfg loadConfig, logger *log.Logger) result {
	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	var connects, events atomic.Uint64
	channels := make([]*client.Channel, 0, cfg.Connections)
	for i := 0; i < cfg.Connections; i++ {
		ch := client.NewChannel(client.ChannelConfig{
			BaseURL:  cfg.StreamURL,
			Token:    cfg.Token,
			ClientID: fmt.Sprintf("sse-load-%d", i),
			Logger:   logger,
		}, func(domain.Event) { events.Add(1) })
		ch.OnConnect(func(context.Context) { connects.Add(1) })
		if err := ch.Open(ctx); err != nil {
			logger.WithError(err).Error("open channel")
			continue
		}
		channels = append(channels, ch)
	}

	<-ctx.Done()
	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func(ch *client.Channel) {
			defer wg.Done()
			ch.Close()
		}(ch)
	}
	wg.Wait()
	return result{Connections: cfg.Connections, Connects: connects.Load(), Events: events.Load()}
}

func main() {
	var cfg loadConfig
	if err := config.ParseEnv(&cfg); err != nil {
		log.Fatal(err)
	}
	logger := log.New()
	logger.SetLevel(log.ErrorLevel)

	res := run(context.Background(), cfg, logger)
	fmt.Printf("connections=%d duration=%s connects=%d events_received=%d reconnect_rate=%.4f\n",
		res.Connections, cfg.Duration, res.Connects, res.Events, res.ReconnectRate())
	if res.Events == 0 || res.ReconnectRate() > cfg.MaxFailure {
		os.Exit(1)
	}
}
