package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"taskboard/domain"
	"taskboard/storage"
)

type fakeQueue struct {
	mu       sync.Mutex
	pending  []*storage.QueuedMessage
	deleted  []string
	dequeErr error
}

func (q *fakeQueue) Dequeue(context.Context) (*storage.QueuedMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.dequeErr != nil {
		return nil, q.dequeErr
	}
	if len(q.pending) == 0 {
		return nil, nil
	}
	m := q.pending[0]
	q.pending = q.pending[1:]
	return m, nil
}

func (q *fakeQueue) Delete(_ context.Context, m *storage.QueuedMessage) error {
	q.mu.Lock()
	q.deleted = append(q.deleted, m.ID)
	q.mu.Unlock()
	return nil
}

func (q *fakeQueue) Deleted() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.deleted...)
}

func queued(t *testing.T, id string, ev domain.Event, dequeues int64) *storage.QueuedMessage {
	t.Helper()
	body, err := ev.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return &storage.QueuedMessage{ID: id, Receipt: "r-" + id, Body: string(body), Dequeue: dequeues}
}

func TestForwarderPublishesAndDeletes(t *testing.T) {
	logger, _ := test.NewNullLogger()
	ev := domain.NewUpdatedEvent(testTask("t1", domain.StatusDone, 4), "client-a")
	q := &fakeQueue{pending: []*storage.QueuedMessage{queued(t, "m1", ev, 1)}}
	pub := &fakePublisher{admitted: true}
	f := NewForwarder(q, pub, logger, 0)

	if !f.step(context.Background()) {
		t.Fatal("expected a message to be handled")
	}
	if len(pub.got) != 1 || pub.got[0].Originator != "client-a" || pub.got[0].Version != 4 {
		t.Fatalf("unexpected published events: %+v", pub.got)
	}
	if got := q.Deleted(); len(got) != 1 || got[0] != "m1" {
		t.Fatalf("expected m1 deleted, got %v", got)
	}
	if f.step(context.Background()) {
		t.Fatal("empty queue must report no work")
	}
}

func TestForwarderDeletesStaleAdmissions(t *testing.T) {
	logger, _ := test.NewNullLogger()
	ev := domain.NewDeletedEvent("t1", 4, "client-a")
	q := &fakeQueue{pending: []*storage.QueuedMessage{queued(t, "m1", ev, 1)}}
	f := NewForwarder(q, &fakePublisher{admitted: false}, logger, 0)

	f.step(context.Background())
	if len(q.Deleted()) != 1 {
		t.Fatal("an already announced event is done with")
	}
}

func TestForwarderDiscardsUndecodable(t *testing.T) {
	logger, hook := test.NewNullLogger()
	q := &fakeQueue{pending: []*storage.QueuedMessage{{ID: "bad", Body: "{not json"}}}
	pub := &fakePublisher{admitted: true}
	f := NewForwarder(q, pub, logger, 0)

	f.step(context.Background())
	if len(pub.got) != 0 {
		t.Fatal("nothing should be published")
	}
	if len(q.Deleted()) != 1 {
		t.Fatal("poison message must be removed")
	}
	if e := hook.LastEntry(); e == nil || e.Level != logrus.ErrorLevel {
		t.Fatalf("expected error log, got %+v", e)
	}
}

func TestForwarderRetriesThenGivesUp(t *testing.T) {
	logger, _ := test.NewNullLogger()
	ev := domain.NewDeletedEvent("t1", 4, "")
	q := &fakeQueue{pending: []*storage.QueuedMessage{
		queued(t, "fresh", ev, 1),
		queued(t, "worn", ev, defaultMaxDequeues),
	}}
	f := NewForwarder(q, &fakePublisher{err: errors.New("redis down")}, logger, 0)

	f.step(context.Background())
	if len(q.Deleted()) != 0 {
		t.Fatal("a failed forward stays queued for redelivery")
	}
	f.step(context.Background())
	if got := q.Deleted(); len(got) != 1 || got[0] != "worn" {
		t.Fatalf("expected worn message discarded, got %v", got)
	}
}

func TestForwarderRunStopsWithContext(t *testing.T) {
	logger, _ := test.NewNullLogger()
	q := &fakeQueue{dequeErr: errors.New("unreachable")}
	f := NewForwarder(q, &fakePublisher{}, logger, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forwarder did not stop")
	}
}

func TestForwarderDiscardsVersionsAheadOfClock(t *testing.T) {
	logger, _ := test.NewNullLogger()
	ev := domain.NewDeletedEvent("t1", 4, "")
	q := &fakeQueue{pending: []*storage.QueuedMessage{queued(t, "m1", ev, 1)}}
	f := NewForwarder(q, &fakePublisher{err: fmt.Errorf("%w: t1", ErrVersionAhead)}, logger, 0)

	f.step(context.Background())
	if got := q.Deleted(); len(got) != 1 || got[0] != "m1" {
		t.Fatalf("expected message discarded on first delivery, got %v", got)
	}
}
