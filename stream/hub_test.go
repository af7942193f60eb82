package stream

import (
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"taskboard/domain"
)

func TestHubBroadcastPreservesOrderPerSubscriber(t *testing.T) {
	logger, _ := test.NewNullLogger()
	hub := NewHub(8, logger)
	a := hub.Subscribe()
	b := hub.Subscribe()

	for v := int64(1); v <= 3; v++ {
		hub.Broadcast(domain.NewDeletedEvent("t1", v, ""))
	}

	for _, sub := range []*Subscriber{a, b} {
		for want := int64(1); want <= 3; want++ {
			ev := <-sub.Events()
			if ev.Version != want {
				t.Fatalf("expected version %d, got %d", want, ev.Version)
			}
		}
	}
}

func TestHubDropsOverflowingSubscriber(t *testing.T) {
	logger, hook := test.NewNullLogger()
	hub := NewHub(1, logger)
	slow := hub.Subscribe()
	fast := hub.Subscribe()

	hub.Broadcast(domain.NewDeletedEvent("t1", 1, ""))
	<-fast.Events()
	hub.Broadcast(domain.NewDeletedEvent("t1", 2, ""))

	select {
	case <-slow.Dropped():
	default:
		t.Fatal("expected slow subscriber to be dropped")
	}
	select {
	case <-fast.Dropped():
		t.Fatal("subscriber with room must not be dropped")
	default:
	}
	if hub.Len() != 1 {
		t.Fatalf("expected 1 remaining subscriber, got %d", hub.Len())
	}
	if entry := hook.LastEntry(); entry == nil || entry.Message != "stream subscriber overflowed; disconnecting" {
		t.Fatalf("expected overflow warning, got %#v", entry)
	}

	// further broadcasts skip the dropped subscriber without panicking
	hub.Broadcast(domain.NewDeletedEvent("t1", 3, ""))
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub(1, nil)
	s := hub.Subscribe()
	hub.Unsubscribe(s)
	hub.Broadcast(domain.NewDeletedEvent("t1", 1, ""))
	select {
	case <-s.Events():
		t.Fatal("received event after unsubscribe")
	default:
	}
}
