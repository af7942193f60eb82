package stream

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

const defaultQueueSize = 256

// Subscriber is one connected stream client. Events arrive in the order the
// hub broadcast them; Dropped is closed when the client fell too far behind.
type Subscriber struct {
	events  chan domain.Event
	dropped chan struct{}
	once    sync.Once
}

func (s *Subscriber) Events() <-chan domain.Event { return s.events }

func (s *Subscriber) Dropped() <-chan struct{} { return s.dropped }

func (s *Subscriber) drop() {
	s.once.Do(func() { close(s.dropped) })
}

// Hub fans admitted events out to every connected subscriber.
type Hub struct {
	logger    *log.Logger
	queueSize int

	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

func NewHub(queueSize int, logger *log.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Hub{logger: logger, queueSize: queueSize, subs: make(map[*Subscriber]struct{})}
}

func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{
		events:  make(chan domain.Event, h.queueSize),
		dropped: make(chan struct{}),
	}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

// Broadcast queues ev on every subscriber. A subscriber whose queue is full is
// removed and marked dropped instead of silently missing the event.
func (h *Hub) Broadcast(ev domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.events <- ev:
		default:
			delete(h.subs, s)
			s.drop()
			h.logger.WithField("task_id", ev.ID()).Warn("stream subscriber overflowed; disconnecting")
		}
	}
}

// Len reports the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
