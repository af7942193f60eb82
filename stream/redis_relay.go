package stream

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

const (
	DefaultChannel     = "taskboard:events"
	DefaultVersionsKey = "taskboard:event-versions"
)

// Versions are nanosecond stamps beyond float precision, so they are compared
// as canonical decimal strings rather than Lua numbers.
var admitScript = redis.NewScript(`
local function newer(a, b)
  if #a ~= #b then return #a > #b end
  return a > b
end
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if cur and not newer(ARGV[2], cur) then
  return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('PUBLISH', ARGV[4], ARGV[3])
return 1
`)

// RedisRelay admits events with an atomic check-and-publish script and fans
// them out through Redis pub/sub, so every stream instance delivers the same
// admitted sequence.
type RedisRelay struct {
	client      *redis.Client
	hub         *Hub
	logger      *log.Logger
	channel     string
	versionsKey string
}

func NewRedisRelay(client *redis.Client, hub *Hub, logger *log.Logger, channel, versionsKey string) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	if versionsKey == "" {
		versionsKey = DefaultVersionsKey
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RedisRelay{client: client, hub: hub, logger: logger, channel: channel, versionsKey: versionsKey}
}

func (r *RedisRelay) Publish(ctx context.Context, ev domain.Event) (bool, error) {
	if err := ev.Validate(); err != nil {
		return false, err
	}
	if err := checkVersion(ev, time.Now()); err != nil {
		return false, err
	}
	payload, err := ev.Encode()
	if err != nil {
		return false, err
	}
	admitted, err := admitScript.Run(ctx, r.client, []string{r.versionsKey},
		ev.ID(), strconv.FormatInt(ev.Version, 10), string(payload), r.channel).Int()
	if err != nil {
		return false, err
	}
	return admitted == 1, nil
}

// Run delivers admitted events from pub/sub to the local hub until ctx is
// cancelled, resubscribing when the subscription drops.
func (r *RedisRelay) Run(ctx context.Context) {
	for {
		sub := r.client.Subscribe(ctx, r.channel)
		r.consume(ctx, sub.Channel())
		if err := sub.Close(); err != nil {
			r.logger.WithError(err).Debug("close pubsub")
		}
		if ctx.Err() != nil {
			return
		}
		r.logger.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (r *RedisRelay) consume(ctx context.Context, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			ev, err := domain.DecodeEvent([]byte(msg.Payload))
			if err != nil {
				r.logger.Errorf("unable to parse event: %v", err)
				continue
			}
			r.hub.Broadcast(ev)
		}
	}
}
