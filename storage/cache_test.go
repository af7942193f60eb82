package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"taskboard/domain"
)

type stubBackend struct {
	fetchTasksFn func(ctx context.Context) ([]domain.Task, error)
	createFn     func(ctx context.Context, d domain.Draft, createdBy string) (domain.Task, error)
	updateFn     func(ctx context.Context, id string, p domain.Patch) (domain.Task, error)
	deleteFn     func(ctx context.Context, id string) (int64, error)
}

func (s *stubBackend) FetchTasks(ctx context.Context) ([]domain.Task, error) {
	if s.fetchTasksFn == nil {
		return nil, errors.New("unexpected FetchTasks call")
	}
	return s.fetchTasksFn(ctx)
}

func (s *stubBackend) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return domain.Task{}, domain.ErrNotFound
}

func (s *stubBackend) CreateTask(ctx context.Context, d domain.Draft, createdBy string) (domain.Task, error) {
	if s.createFn == nil {
		return domain.Task{}, errors.New("unexpected CreateTask call")
	}
	return s.createFn(ctx, d, createdBy)
}

func (s *stubBackend) UpdateTask(ctx context.Context, id string, p domain.Patch) (domain.Task, error) {
	if s.updateFn == nil {
		return domain.Task{}, errors.New("unexpected UpdateTask call")
	}
	return s.updateFn(ctx, id, p)
}

func (s *stubBackend) DeleteTask(ctx context.Context, id string) (int64, error) {
	if s.deleteFn == nil {
		return 0, errors.New("unexpected DeleteTask call")
	}
	return s.deleteFn(ctx, id)
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCacheFetchTasksMissThenHit(t *testing.T) {
	mr, client := setupRedis(t)

	ctx := context.Background()
	expected := []domain.Task{{ID: "t1", Title: "Write code", Status: domain.StatusToDo}}

	var calls int
	cache := NewCache(&stubBackend{
		fetchTasksFn: func(ctx context.Context) ([]domain.Task, error) {
			calls++
			return append([]domain.Task(nil), expected...), nil
		},
	}, client, time.Minute)

	tasks, err := cache.FetchTasks(ctx)
	if err != nil {
		t.Fatalf("fetch tasks: %v", err)
	}
	if !reflect.DeepEqual(tasks, expected) {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call to backend, got %d", calls)
	}
	if ttl := mr.TTL(tasksCacheKey); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	cached, err := cache.FetchTasks(ctx)
	if err != nil {
		t.Fatalf("fetch cached tasks: %v", err)
	}
	if !reflect.DeepEqual(cached, expected) {
		t.Fatalf("unexpected cached tasks: %#v", cached)
	}
	if calls != 1 {
		t.Fatalf("expected cached fetch to avoid backend, calls=%d", calls)
	}
}

func TestCacheMutationsEvictListing(t *testing.T) {
	tests := map[string]func(c *Cache) error{
		"create": func(c *Cache) error {
			_, err := c.CreateTask(context.Background(), domain.Draft{}, "u")
			return err
		},
		"update": func(c *Cache) error {
			_, err := c.UpdateTask(context.Background(), "t1", domain.StatusPatch(domain.StatusDone))
			return err
		},
		"delete": func(c *Cache) error {
			_, err := c.DeleteTask(context.Background(), "t1")
			return err
		},
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			mr, client := setupRedis(t)
			if err := client.Set(context.Background(), tasksCacheKey, []byte("[]"), time.Hour).Err(); err != nil {
				t.Fatalf("seed tasks cache: %v", err)
			}
			cache := NewCache(&stubBackend{
				createFn: func(context.Context, domain.Draft, string) (domain.Task, error) { return domain.Task{ID: "t1"}, nil },
				updateFn: func(context.Context, string, domain.Patch) (domain.Task, error) { return domain.Task{ID: "t1"}, nil },
				deleteFn: func(context.Context, string) (int64, error) { return 1, nil },
			}, client, time.Minute)

			if err := mutate(cache); err != nil {
				t.Fatalf("mutate: %v", err)
			}
			if mr.Exists(tasksCacheKey) {
				t.Fatalf("tasks cache key should be evicted")
			}
			if got, _ := mr.Get(tasksGenerationKey); got != "1" {
				t.Fatalf("expected generation 1, got %q", got)
			}
		})
	}
}

func TestCacheMutationErrorPreservesCache(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()
	if err := client.Set(ctx, tasksCacheKey, []byte("[]"), time.Hour).Err(); err != nil {
		t.Fatalf("seed tasks cache: %v", err)
	}

	cache := NewCache(&stubBackend{
		updateFn: func(context.Context, string, domain.Patch) (domain.Task, error) {
			return domain.Task{}, errors.New("boom")
		},
	}, client, time.Minute)

	if _, err := cache.UpdateTask(ctx, "t1", domain.StatusPatch(domain.StatusDone)); err == nil {
		t.Fatalf("expected update error")
	}
	if !mr.Exists(tasksCacheKey) {
		t.Fatalf("tasks cache should remain on error")
	}
}

func TestCacheSkipsFillWhenMutationRacesFetch(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()

	var cache *Cache
	cache = NewCache(&stubBackend{
		fetchTasksFn: func(ctx context.Context) ([]domain.Task, error) {
			// a mutation lands between the backend read and the cache fill
			cache.evict(ctx)
			return []domain.Task{{ID: "stale"}}, nil
		},
	}, client, time.Minute)

	tasks, err := cache.FetchTasks(ctx)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "stale" {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
	if mr.Exists(tasksCacheKey) {
		t.Fatalf("stale listing must not be cached after a concurrent mutation")
	}
}

func TestCacheCorruptEntryFallsBack(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()
	if err := mr.Set(tasksCacheKey, "{not-json"); err != nil {
		t.Fatalf("seed corrupt cache: %v", err)
	}

	var calls int
	cache := NewCache(&stubBackend{
		fetchTasksFn: func(context.Context) ([]domain.Task, error) {
			calls++
			return []domain.Task{{ID: "t1"}}, nil
		},
	}, client, time.Minute)

	tasks, err := cache.FetchTasks(ctx)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if calls != 1 || len(tasks) != 1 {
		t.Fatalf("expected backend fallback, calls=%d tasks=%#v", calls, tasks)
	}
}

func TestCacheWithoutRedisPassesThrough(t *testing.T) {
	var calls int
	cache := NewCache(&stubBackend{
		fetchTasksFn: func(context.Context) ([]domain.Task, error) {
			calls++
			return nil, nil
		},
	}, nil, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := cache.FetchTasks(context.Background()); err != nil {
			t.Fatalf("fetch: %v", err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected every fetch to hit the backend, got %d", calls)
	}
}
