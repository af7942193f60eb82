package api

import (
	"context"

	"taskboard/domain"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	FetchTasks(ctx context.Context) ([]domain.Task, error)
	CreateTask(ctx context.Context, d domain.Draft, createdBy string) (domain.Task, error)
	UpdateTask(ctx context.Context, id string, p domain.Patch) (domain.Task, error)
	DeleteTask(ctx context.Context, id string) (int64, error)
}

// EventSink receives every confirmed mutation for downstream consumers.
type EventSink interface {
	ExportEvent(ctx context.Context, ev domain.Event) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents processing of duplicate create requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, userID, key string) error
}
