package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"taskboard/domain"
)

type backend interface {
	FetchTasks(ctx context.Context) ([]domain.Task, error)
	GetTask(ctx context.Context, id string) (domain.Task, error)
	CreateTask(ctx context.Context, d domain.Draft, createdBy string) (domain.Task, error)
	UpdateTask(ctx context.Context, id string, p domain.Patch) (domain.Task, error)
	DeleteTask(ctx context.Context, id string) (int64, error)
}

type eventExporter interface {
	ExportEvent(ctx context.Context, ev domain.Event) error
}

const (
	tasksCacheKey      = "tasks:board"
	tasksGenerationKey = "tasks:board:gen"
)

var errStaleFill = errors.New("cache generation moved")

// Cache wraps a task store with a Redis-backed read-through cache for the
// board listing. Every mutation evicts the listing and bumps a generation
// counter, so a listing read before a mutation is never written back after it.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) FetchTasks(ctx context.Context) ([]domain.Task, error) {
	if tasks, ok := c.loadTasksFromCache(ctx); ok {
		return tasks, nil
	}

	gen := c.generation(ctx)
	tasks, err := c.base.FetchTasks(ctx)
	if err != nil {
		return nil, err
	}

	c.storeTasks(ctx, gen, tasks)
	return tasks, nil
}

func (c *Cache) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return c.base.GetTask(ctx, id)
}

func (c *Cache) CreateTask(ctx context.Context, d domain.Draft, createdBy string) (domain.Task, error) {
	t, err := c.base.CreateTask(ctx, d, createdBy)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx)
	return t, nil
}

func (c *Cache) UpdateTask(ctx context.Context, id string, p domain.Patch) (domain.Task, error) {
	t, err := c.base.UpdateTask(ctx, id, p)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx)
	return t, nil
}

func (c *Cache) DeleteTask(ctx context.Context, id string) (int64, error) {
	v, err := c.base.DeleteTask(ctx, id)
	if err != nil {
		return 0, err
	}
	c.evict(ctx)
	return v, nil
}

func (c *Cache) ExportEvent(ctx context.Context, ev domain.Event) error {
	if exp, ok := c.base.(eventExporter); ok {
		return exp.ExportEvent(ctx, ev)
	}
	return nil
}

func (c *Cache) loadTasksFromCache(ctx context.Context) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, tasksCacheKey).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) generation(ctx context.Context) int64 {
	if c.redis == nil {
		return 0
	}
	gen, err := c.redis.Get(ctx, tasksGenerationKey).Int64()
	if err != nil {
		return 0
	}
	return gen
}

func (c *Cache) storeTasks(ctx context.Context, gen int64, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, tasksGenerationKey).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if cur != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, tasksCacheKey, data, c.ttl)
			return nil
		})
		return err
	}, tasksGenerationKey)
}

func (c *Cache) evict(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, tasksGenerationKey)
		pipe.Del(ctx, tasksCacheKey)
		return nil
	})
}
