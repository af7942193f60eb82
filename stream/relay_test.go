package stream

import (
	"context"
	"errors"
	"math"
	"strconv"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"taskboard/domain"
)

func testTask(id string, status domain.Status, version int64) domain.Task {
	return domain.Task{
		ID:           id,
		Title:        "Draft roadmap",
		Description:  "d",
		Status:       status,
		Priority:     domain.PriorityMedium,
		AssignedUser: "a@x.com",
		Version:      version,
	}
}

func TestLocalRelayAdmitsOnlyNewerVersions(t *testing.T) {
	hub := NewHub(8, nil)
	sub := hub.Subscribe()
	relay := NewLocalRelay(hub)
	ctx := context.Background()

	steps := []struct {
		ev   domain.Event
		want bool
	}{
		{domain.NewCreatedEvent(testTask("t1", domain.StatusToDo, 10), ""), true},
		{domain.NewUpdatedEvent(testTask("t1", domain.StatusDone, 30), ""), true},
		{domain.NewUpdatedEvent(testTask("t1", domain.StatusInProgress, 20), ""), false},
		{domain.NewUpdatedEvent(testTask("t1", domain.StatusInProgress, 30), ""), false},
		{domain.NewCreatedEvent(testTask("t2", domain.StatusToDo, 5), ""), true},
		{domain.NewDeletedEvent("t1", 40, ""), true},
	}
	for i, s := range steps {
		got, err := relay.Publish(ctx, s.ev)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got != s.want {
			t.Fatalf("step %d: admitted=%v want %v", i, got, s.want)
		}
	}

	var versions []int64
	for len(versions) < 4 {
		versions = append(versions, (<-sub.Events()).Version)
	}
	want := []int64{10, 30, 5, 40}
	for i := range want {
		if versions[i] != want[i] {
			t.Fatalf("unexpected delivery order %v", versions)
		}
	}
}

func TestLocalRelayRejectsInvalidEvent(t *testing.T) {
	relay := NewLocalRelay(NewHub(1, nil))
	if _, err := relay.Publish(context.Background(), domain.Event{Kind: "taskRenamed", TaskID: "t1", Version: 1}); err == nil {
		t.Fatal("expected validation error")
	}
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return mr, rc
}

func waitForSubscriber(t *testing.T, mr *miniredis.Miniredis, channel string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for mr.PubSubNumSub(channel)[channel] == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no subscriber on %s", channel)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRedisRelayGuardsVersionsAndFansOut(t *testing.T) {
	mr, rc := setupRedis(t)
	logger, _ := test.NewNullLogger()

	// two stream instances sharing one redis
	hubA, hubB := NewHub(8, logger), NewHub(8, logger)
	relayA := NewRedisRelay(rc, hubA, logger, "", "")
	relayB := NewRedisRelay(rc, hubB, logger, "", "")
	subA, subB := hubA.Subscribe(), hubB.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relayA.Run(ctx)
	go relayB.Run(ctx)
	deadline := time.Now().Add(2 * time.Second)
	for mr.PubSubNumSub(DefaultChannel)[DefaultChannel] < 2 {
		if time.Now().After(deadline) {
			t.Fatal("relays never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	base := time.Now().UnixNano()
	newer := domain.NewUpdatedEvent(testTask("t1", domain.StatusInProgress, base+2), "client-b")
	older := domain.NewUpdatedEvent(testTask("t1", domain.StatusDone, base+1), "client-a")

	admitted, err := relayA.Publish(ctx, newer)
	if err != nil || !admitted {
		t.Fatalf("expected newer event admitted, got %v %v", admitted, err)
	}
	admitted, err = relayB.Publish(ctx, older)
	if err != nil {
		t.Fatalf("publish older: %v", err)
	}
	if admitted {
		t.Fatal("older version must not be admitted after a newer one")
	}
	if got := mr.HGet(DefaultVersionsKey, "t1"); got != strconv.FormatInt(base+2, 10) {
		t.Fatalf("unexpected stored version %q", got)
	}

	for name, sub := range map[string]*Subscriber{"a": subA, "b": subB} {
		select {
		case ev := <-sub.Events():
			if ev.Version != base+2 || ev.Task.Status != domain.StatusInProgress || ev.Originator != "client-b" {
				t.Fatalf("instance %s got unexpected event %+v", name, ev)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("instance %s received nothing", name)
		}
		select {
		case ev := <-sub.Events():
			t.Fatalf("instance %s received stale event %+v", name, ev)
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestRedisRelayComparesLargeVersionsExactly(t *testing.T) {
	_, rc := setupRedis(t)
	relay := NewRedisRelay(rc, NewHub(8, nil), nil, "", "")
	ctx := context.Background()

	// adjacent nanosecond stamps collapse to one float64 value
	v := int64(1_700_000_000_000_000_001)
	if ok, err := relay.Publish(ctx, domain.NewDeletedEvent("t1", v, "")); err != nil || !ok {
		t.Fatalf("first publish: %v %v", ok, err)
	}
	if ok, err := relay.Publish(ctx, domain.NewDeletedEvent("t1", v+1, "")); err != nil || !ok {
		t.Fatalf("expected v+1 admitted: %v %v", ok, err)
	}
	if ok, err := relay.Publish(ctx, domain.NewDeletedEvent("t1", v, "")); err != nil || ok {
		t.Fatalf("expected v rejected: %v %v", ok, err)
	}
}

func TestRedisRelaySkipsUndecodableMessages(t *testing.T) {
	mr, rc := setupRedis(t)
	logger, hook := test.NewNullLogger()
	hub := NewHub(8, logger)
	sub := hub.Subscribe()
	relay := NewRedisRelay(rc, hub, logger, "", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.Run(ctx)
	waitForSubscriber(t, mr, DefaultChannel)

	mr.Publish(DefaultChannel, `{"kind":"bogus"}`)
	if ok, err := relay.Publish(ctx, domain.NewDeletedEvent("t9", 3, "")); err != nil || !ok {
		t.Fatalf("publish: %v %v", ok, err)
	}

	select {
	case ev := <-sub.Events():
		if ev.TaskID != "t9" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid event never delivered")
	}
	var logged bool
	for _, e := range hook.AllEntries() {
		if e.Level.String() == "error" {
			logged = true
		}
	}
	if !logged {
		t.Fatal("expected undecodable message to be logged")
	}
}

func TestRelaysRejectVersionsAheadOfClock(t *testing.T) {
	_, rc := setupRedis(t)
	relays := map[string]Publisher{
		"local": NewLocalRelay(NewHub(4, nil)),
		"redis": NewRedisRelay(rc, NewHub(4, nil), nil, "", ""),
	}
	for name, relay := range relays {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			forged := domain.NewUpdatedEvent(testTask("t1", domain.StatusDone, math.MaxInt64), "")
			if ok, err := relay.Publish(ctx, forged); !errors.Is(err, ErrVersionAhead) || ok {
				t.Fatalf("expected forged version rejected, got %v %v", ok, err)
			}
			current := domain.NewUpdatedEvent(testTask("t1", domain.StatusToDo, time.Now().UnixNano()), "")
			if ok, err := relay.Publish(ctx, current); err != nil || !ok {
				t.Fatalf("expected real update admitted, got %v %v", ok, err)
			}
		})
	}
}
