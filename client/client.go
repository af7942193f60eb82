// Package client keeps a live, optimistic copy of the task board: a
// Registry written only by the Engine, a Session for user actions, and a
// Channel carrying confirmed changes between clients.
package client

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

type Config struct {
	APIURL    string
	StreamURL string
	Token     string
	ClientID  string
	Timeout   time.Duration
	Logger    *log.Logger
	Notifier  Notifier
}

// Client wires the registry, engine, session and channel of one board member.
type Client struct {
	Registry *Registry
	Engine   *Engine
	Session  *Session
	Channel  *Channel

	logger *log.Logger
}

func New(cfg Config) *Client {
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.StandardLogger()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = LogNotifier{Logger: cfg.Logger}
	}

	registry := NewRegistry()
	var engine *Engine
	channel := NewChannel(ChannelConfig{
		BaseURL:        cfg.StreamURL,
		Token:          cfg.Token,
		ClientID:       cfg.ClientID,
		PublishTimeout: cfg.Timeout,
		Logger:         cfg.Logger,
		Notifier:       cfg.Notifier,
	}, func(ev domain.Event) {
		engine.ApplyRemote(ev)
	})
	engine = NewEngine(registry, EngineOptions{
		ClientID: cfg.ClientID,
		Emitter:  channel,
		Notifier: cfg.Notifier,
	})
	api := NewMutationClient(MutationClientConfig{
		BaseURL:  cfg.APIURL,
		Token:    cfg.Token,
		ClientID: cfg.ClientID,
		Timeout:  cfg.Timeout,
	})
	return &Client{
		Registry: registry,
		Engine:   engine,
		Session:  NewSession(engine, api, cfg.Notifier, cfg.Logger),
		Channel:  channel,
		logger:   cfg.Logger,
	}
}

// Start opens the channel. The registry is reseeded from the Mutation API on
// every (re)connect, after the subscription is live, so nothing broadcast in
// between is missed.
func (c *Client) Start(ctx context.Context) error {
	c.Channel.OnConnect(func(ctx context.Context) {
		if err := c.Session.Seed(ctx); err != nil && ctx.Err() == nil {
			c.logger.WithError(err).Warn("reseed failed")
		}
	})
	return c.Channel.Open(ctx)
}

func (c *Client) Stop() {
	c.Channel.Close()
}
