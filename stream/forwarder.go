package stream

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
	"taskboard/storage"
)

const (
	defaultIdleWait     = time.Second
	defaultMaxDequeues  = 5
	forwardPublishLimit = 10 * time.Second
)

// Queue is the export queue as the forwarder consumes it.
type Queue interface {
	Dequeue(ctx context.Context) (*storage.QueuedMessage, error)
	Delete(ctx context.Context, m *storage.QueuedMessage) error
}

// Forwarder drains the Mutation API's export queue onto the broadcast
// channel, so a confirmed mutation is announced even when its originating
// client goes away before publishing. The relay's version guard makes a
// second announcement of the same version a no-op.
type Forwarder struct {
	queue       Queue
	relay       Publisher
	logger      *log.Logger
	idle        time.Duration
	maxDequeues int64
}

func NewForwarder(queue Queue, relay Publisher, logger *log.Logger, idle time.Duration) *Forwarder {
	if idle <= 0 {
		idle = defaultIdleWait
	}
	return &Forwarder{queue: queue, relay: relay, logger: logger, idle: idle, maxDequeues: defaultMaxDequeues}
}

// Run forwards until ctx is done.
func (f *Forwarder) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if !f.step(ctx) {
			select {
			case <-ctx.Done():
			case <-time.After(f.idle):
			}
		}
	}
}

// step handles at most one message and reports whether one was found.
func (f *Forwarder) step(ctx context.Context) bool {
	msg, err := f.queue.Dequeue(ctx)
	if err != nil {
		if ctx.Err() == nil {
			f.logger.WithError(err).Warn("dequeue failed")
		}
		return false
	}
	if msg == nil {
		return false
	}
	entry := f.logger.WithField("message_id", msg.ID)

	ev, err := domain.DecodeEvent([]byte(msg.Body))
	if err != nil {
		entry.WithError(err).Error("unable to parse queued event; discarding")
		f.delete(ctx, msg)
		return true
	}

	pctx, cancel := context.WithTimeout(ctx, forwardPublishLimit)
	admitted, err := f.relay.Publish(pctx, ev)
	cancel()
	if err != nil {
		if errors.Is(err, ErrVersionAhead) || msg.Dequeue >= f.maxDequeues {
			entry.WithError(err).WithField("task_id", ev.ID()).Error("forward failed repeatedly; discarding")
			f.delete(ctx, msg)
			return true
		}
		// left in the queue; it becomes visible again after the timeout
		entry.WithError(err).WithField("task_id", ev.ID()).Warn("forward failed")
		return true
	}
	entry.WithFields(log.Fields{"task_id": ev.ID(), "version": ev.Version, "admitted": admitted}).Debug("event forwarded")
	f.delete(ctx, msg)
	return true
}

func (f *Forwarder) delete(ctx context.Context, msg *storage.QueuedMessage) {
	if err := f.queue.Delete(ctx, msg); err != nil {
		f.logger.WithError(err).WithField("message_id", msg.ID).Warn("delete queued event failed")
	}
}
