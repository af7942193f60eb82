package client

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

var ErrChannelOpen = errors.New("channel already open")

type ChannelConfig struct {
	BaseURL        string
	Token          string
	ClientID       string
	HTTPClient     *http.Client
	PublishTimeout time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *log.Logger
	Notifier       Notifier
}

// Channel is the client side of the broadcast channel: an SSE subscription
// with reconnect, plus Publish for announcing confirmed mutations. It is
// owned by whoever opens it and must be closed by the same owner.
type Channel struct {
	cfg       ChannelConfig
	logger    *log.Logger
	stream    *http.Client
	publisher *http.Client
	onEvent   func(domain.Event)

	mu        sync.Mutex
	onConnect func(ctx context.Context)
	cancel    context.CancelFunc
	done      chan struct{}

	vmu      sync.Mutex
	versions map[string]int64

	publishing sync.WaitGroup
}

func NewChannel(cfg ChannelConfig, onEvent func(domain.Event)) *Channel {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultRequestTimeout
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.StandardLogger()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NotifierFunc(func(Notice) {})
	}
	if onEvent == nil {
		onEvent = func(domain.Event) {}
	}
	stream := cfg.HTTPClient
	if stream == nil {
		stream = &http.Client{}
	}
	return &Channel{
		cfg:       cfg,
		logger:    cfg.Logger,
		stream:    stream,
		publisher: &http.Client{Timeout: cfg.PublishTimeout, Transport: stream.Transport},
		onEvent:   onEvent,
		versions:  make(map[string]int64),
	}
}

// OnConnect registers fn to run, on its own goroutine, after every successful
// (re)connection. Set it before Open.
func (c *Channel) OnConnect(fn func(ctx context.Context)) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// Open starts the subscription loop. It returns immediately.
func (c *Channel) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return ErrChannelOpen
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(runCtx, c.done)
	return nil
}

// Close stops the subscription and waits for in-flight publishes.
func (c *Channel) Close() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	c.publishing.Wait()
}

func (c *Channel) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	for {
		connected, err := c.subscribe(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			b.Reset()
		}
		wait := b.NextBackOff()
		c.logger.WithError(err).WithField("retry_in", wait).Warn("stream disconnected")
		if errors.Is(err, ErrUnauthorized) {
			c.cfg.Notifier.Notify(Notice{Kind: NoticeUnauthorized, Message: "live updates need a valid session", Err: err})
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// subscribe holds one stream connection until it ends. connected reports
// whether the server accepted it.
func (c *Channel) subscribe(ctx context.Context) (connected bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.cfg.BaseURL, "/")+"/stream", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	resp, err := c.stream.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return false, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("stream: unexpected status %d", resp.StatusCode)
	}

	c.mu.Lock()
	onConnect := c.onConnect
	c.mu.Unlock()
	if onConnect != nil {
		go onConnect(ctx)
	}

	return true, c.read(resp.Body)
}

func (c *Channel) read(body io.Reader) error {
	r := bufio.NewReader(body)
	var kind string
	var data bytes.Buffer
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if data.Len() > 0 {
				c.dispatch(kind, data.Bytes())
			}
			kind = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		default:
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				kind = value
			case "data":
				if data.Len() > 0 {
					data.WriteByte('\n')
				}
				data.WriteString(value)
			}
		}
	}
}

func (c *Channel) dispatch(kind string, data []byte) {
	ev, err := domain.DecodeEvent(data)
	if err != nil {
		c.logger.WithError(err).Warn("discarding malformed stream event")
		return
	}
	if kind != "" && kind != string(ev.Kind) {
		c.logger.WithFields(log.Fields{"frame": kind, "payload": ev.Kind}).Warn("discarding stream event with mismatched kind")
		return
	}
	if !c.admit(ev) {
		c.logger.WithFields(log.Fields{"task_id": ev.ID(), "version": ev.Version}).Debug("discarding out-of-order stream event")
		return
	}
	c.onEvent(ev)
}

// admit enforces per-id delivery in version order.
func (c *Channel) admit(ev domain.Event) bool {
	c.vmu.Lock()
	defer c.vmu.Unlock()
	id := ev.ID()
	if ev.Version <= c.versions[id] {
		return false
	}
	c.versions[id] = ev.Version
	return true
}

// Publish announces ev to every other member of the channel.
func (c *Channel) Publish(ctx context.Context, ev domain.Event) error {
	payload, err := ev.Encode()
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/events", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.publisher.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("publish: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Emit publishes ev in the background. Failures are logged and surfaced as a
// channel notice; the local registry is already correct.
func (c *Channel) Emit(ev domain.Event) {
	c.publishing.Add(1)
	go func() {
		defer c.publishing.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PublishTimeout)
		defer cancel()
		if err := c.Publish(ctx, ev); err != nil {
			c.logger.WithError(err).WithField("task_id", ev.ID()).Warn("broadcast failed")
			c.cfg.Notifier.Notify(Notice{Kind: NoticeChannel, TaskID: ev.ID(), Message: "other clients may not see this change until they refresh", Err: err})
		}
	}()
}

func (c *Channel) authorize(req *http.Request) {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	if c.cfg.ClientID != "" {
		req.Header.Set(domain.HeaderClientID, c.cfg.ClientID)
	}
}
