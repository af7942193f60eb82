package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"taskboard/domain"
)

// maxVersionLead bounds how far ahead of this host's clock an event version
// may be. Versions are nanosecond stamps from the task store; one far in the
// future would shadow every real update of that task.
const maxVersionLead = 5 * time.Minute

var ErrVersionAhead = errors.New("event version ahead of clock")

// checkVersion rejects events stamped past now plus maxVersionLead.
func checkVersion(ev domain.Event, now time.Time) error {
	if limit := now.Add(maxVersionLead).UnixNano(); ev.Version > limit {
		return fmt.Errorf("%w: task %s version %d", ErrVersionAhead, ev.ID(), ev.Version)
	}
	return nil
}

// Publisher admits confirmed events onto the channel. Publish reports false
// when an event with the same or a newer version was already admitted for the
// task, so per-task delivery order always follows persistence order.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) (bool, error)
}

// LocalRelay is the single-instance Publisher.
type LocalRelay struct {
	hub *Hub

	mu       sync.Mutex
	versions map[string]int64
}

func NewLocalRelay(hub *Hub) *LocalRelay {
	return &LocalRelay{hub: hub, versions: make(map[string]int64)}
}

func (r *LocalRelay) Publish(_ context.Context, ev domain.Event) (bool, error) {
	if err := ev.Validate(); err != nil {
		return false, err
	}
	if err := checkVersion(ev, time.Now()); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id := ev.ID()
	if ev.Version <= r.versions[id] {
		return false, nil
	}
	r.versions[id] = ev.Version
	r.hub.Broadcast(ev)
	return true, nil
}
