package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"taskboard/domain"
)

// boardPartition is the single partition every task lives in.
const boardPartition = "board"

const edmInt64 = "Edm.Int64"

const maxUpdateAttempts = 8

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Storage provides access to the task table and the optional event queue.
type Storage struct {
	taskTable   *aztables.Client
	eventsQueue queueClient
}

// New creates a Storage instance from the given connection string. The
// events queue is optional; when empty, ExportEvent is a no-op.
func New(connStr, tasksTable, eventsQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	s := &Storage{taskTable: svc.NewClient(tasksTable)}
	if eventsQueue == "" {
		return s, nil
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, eventsQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	s.eventsQueue = q
	return s, nil
}

type taskEntity struct {
	aztables.Entity
	Title        string    `json:"Title"`
	Description  string    `json:"Description"`
	Status       string    `json:"Status"`
	Priority     string    `json:"Priority"`
	AssignedUser string    `json:"AssignedUser"`
	CreatedBy    string    `json:"CreatedBy,omitempty"`
	CreatedAt    time.Time `json:"CreatedAt"`
	Version      int64     `json:"Version,string"`
	VersionType  string    `json:"Version@odata.type"`
}

func encodeTaskEntity(t domain.Task) ([]byte, error) {
	ent := taskEntity{
		Entity:       aztables.Entity{PartitionKey: boardPartition, RowKey: t.ID},
		Title:        t.Title,
		Description:  t.Description,
		Status:       string(t.Status),
		Priority:     string(t.Priority),
		AssignedUser: t.AssignedUser,
		CreatedBy:    t.CreatedBy,
		CreatedAt:    t.CreatedAt.UTC(),
		Version:      t.Version,
		VersionType:  edmInt64,
	}
	return sonic.Marshal(ent)
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	return domain.Task{
		ID:           ent.RowKey,
		Title:        ent.Title,
		Description:  ent.Description,
		Status:       domain.Status(ent.Status),
		Priority:     domain.Priority(ent.Priority),
		AssignedUser: ent.AssignedUser,
		CreatedBy:    ent.CreatedBy,
		CreatedAt:    ent.CreatedAt.UTC(),
		Version:      ent.Version,
	}, nil
}

// FetchTasks retrieves every task on the board, newest first.
func (s *Storage) FetchTasks(ctx context.Context) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + boardPartition + "'"
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			t, err := decodeTaskEntity(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	sortNewestFirst(tasks)
	return tasks, nil
}

func (s *Storage) getTask(ctx context.Context, id string) (domain.Task, azcore.ETag, error) {
	resp, err := s.taskTable.GetEntity(ctx, boardPartition, id, nil)
	if err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return domain.Task{}, "", domain.ErrNotFound
		}
		return domain.Task{}, "", err
	}
	t, err := decodeTaskEntity(resp.Value)
	if err != nil {
		return domain.Task{}, "", err
	}
	return t, resp.ETag, nil
}

// GetTask loads a single task.
func (s *Storage) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, _, err := s.getTask(ctx, id)
	return t, err
}

// CreateTask persists a new task with a server-assigned id, creation time
// and version.
func (s *Storage) CreateTask(ctx context.Context, d domain.Draft, createdBy string) (domain.Task, error) {
	t := d.Task()
	t.ID = uuid.NewString()
	t.CreatedBy = createdBy
	t.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	t.Version = nextVersion()
	payload, err := encodeTaskEntity(t)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.taskTable.AddEntity(ctx, payload, nil); err != nil {
		if hasStatus(err, http.StatusConflict) {
			return domain.Task{}, fmt.Errorf("task %s already exists: %w", t.ID, domain.ErrConcurrencyConflict)
		}
		return domain.Task{}, err
	}
	return t, nil
}

// UpdateTask merges the patch into the stored task. Concurrent writers race
// on the entity ETag; a losing writer re-reads and reapplies its patch, so
// the last persisted write wins.
func (s *Storage) UpdateTask(ctx context.Context, id string, p domain.Patch) (domain.Task, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		cur, etag, err := s.getTask(ctx, id)
		if err != nil {
			return domain.Task{}, err
		}
		next := p.Apply(cur)
		next.Version = versionAfter(cur.Version)
		payload, err := encodeTaskEntity(next)
		if err != nil {
			return domain.Task{}, err
		}
		_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
		if err == nil {
			return next, nil
		}
		switch {
		case hasStatus(err, http.StatusPreconditionFailed):
			continue
		case hasStatus(err, http.StatusNotFound):
			return domain.Task{}, domain.ErrNotFound
		default:
			return domain.Task{}, err
		}
	}
	return domain.Task{}, fmt.Errorf("task %s: %w", id, domain.ErrConcurrencyConflict)
}

// DeleteTask removes a task and returns the tombstone version. The delete is
// conditional on the ETag that was read, so the tombstone orders after the
// version it removed.
func (s *Storage) DeleteTask(ctx context.Context, id string) (int64, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		cur, etag, err := s.getTask(ctx, id)
		if err != nil {
			return 0, err
		}
		_, err = s.taskTable.DeleteEntity(ctx, boardPartition, id, &aztables.DeleteEntityOptions{IfMatch: &etag})
		if err == nil {
			return versionAfter(cur.Version), nil
		}
		switch {
		case hasStatus(err, http.StatusPreconditionFailed):
			continue
		case hasStatus(err, http.StatusNotFound):
			return 0, domain.ErrNotFound
		default:
			return 0, err
		}
	}
	return 0, fmt.Errorf("task %s: %w", id, domain.ErrConcurrencyConflict)
}

// ExportEvent sends a confirmed event to the events queue for downstream
// consumers.
func (s *Storage) ExportEvent(ctx context.Context, ev domain.Event) error {
	if s.eventsQueue == nil {
		return nil
	}
	data, err := ev.Encode()
	if err != nil {
		return err
	}
	_, err = s.eventsQueue.EnqueueMessage(ctx, string(data), nil)
	return err
}

func hasStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}

func sortNewestFirst(tasks []domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}
