package domain

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// EventKind tags the broadcast variants.
type EventKind string

const (
	TaskCreated EventKind = "taskCreated"
	TaskUpdated EventKind = "taskUpdated"
	TaskDeleted EventKind = "taskDeleted"
)

// Event is a self-contained broadcast notification. Created and updated
// events carry the full post-persistence task; deleted events carry only
// the id.
type Event struct {
	Kind       EventKind `json:"kind"`
	Task       *Task     `json:"task,omitempty"`
	TaskID     string    `json:"taskId,omitempty"`
	Version    int64     `json:"version"`
	Originator string    `json:"originator,omitempty"`
}

var errUnknownEventKind = errors.New("unknown event kind")

func NewCreatedEvent(t Task, originator string) Event {
	return Event{Kind: TaskCreated, Task: &t, TaskID: t.ID, Version: t.Version, Originator: originator}
}

func NewUpdatedEvent(t Task, originator string) Event {
	return Event{Kind: TaskUpdated, Task: &t, TaskID: t.ID, Version: t.Version, Originator: originator}
}

func NewDeletedEvent(id string, version int64, originator string) Event {
	return Event{Kind: TaskDeleted, TaskID: id, Version: version, Originator: originator}
}

// ID returns the task id the event refers to.
func (e Event) ID() string {
	if e.Task != nil && e.Task.ID != "" {
		return e.Task.ID
	}
	return e.TaskID
}

// Validate enforces the closed variant shape.
func (e Event) Validate() error {
	switch e.Kind {
	case TaskCreated, TaskUpdated:
		if e.Task == nil {
			return fmt.Errorf("%s event without task", e.Kind)
		}
		if err := e.Task.Validate(); err != nil {
			return fmt.Errorf("%s event: %w", e.Kind, err)
		}
		if e.TaskID != "" && e.TaskID != e.Task.ID {
			return fmt.Errorf("%s event id mismatch: %s != %s", e.Kind, e.TaskID, e.Task.ID)
		}
	case TaskDeleted:
		if e.TaskID == "" {
			return errors.New("taskDeleted event without task id")
		}
		if e.Task != nil {
			return errors.New("taskDeleted event must not carry a task")
		}
	default:
		return fmt.Errorf("%w: %q", errUnknownEventKind, e.Kind)
	}
	if e.Version <= 0 {
		return fmt.Errorf("%s event without version", e.Kind)
	}
	return nil
}

// DecodeEvent parses and validates a wire event.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := sonic.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	if ev.TaskID == "" {
		ev.TaskID = ev.ID()
	}
	return ev, nil
}

// Encode serialises the event for the wire.
func (e Event) Encode() ([]byte, error) {
	return sonic.Marshal(e)
}
