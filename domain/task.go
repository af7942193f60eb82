package domain

import (
	"strings"
	"time"
)

// Status selects the board column a task renders in.
type Status string

const (
	StatusToDo       Status = "To Do"
	StatusInProgress Status = "In Progress"
	StatusDone       Status = "Done"
)

// Priority is informational and never affects placement.
type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

var statuses = [...]Status{StatusToDo, StatusInProgress, StatusDone}

// Statuses returns the closed status set in column order.
func Statuses() []Status {
	out := make([]Status, len(statuses))
	copy(out, statuses[:])
	return out
}

// Valid reports whether s belongs to the closed status set.
func (s Status) Valid() bool {
	for _, v := range statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Valid reports whether p belongs to the closed priority set.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// ParseStatus accepts the canonical column names, case-insensitively.
func ParseStatus(raw string) (Status, error) {
	for _, v := range statuses {
		if strings.EqualFold(strings.TrimSpace(raw), string(v)) {
			return v, nil
		}
	}
	return "", fieldError("status", "must be one of To Do, In Progress, Done")
}

// ParsePriority accepts Low, Medium or High, case-insensitively.
func ParsePriority(raw string) (Priority, error) {
	for _, v := range [...]Priority{PriorityLow, PriorityMedium, PriorityHigh} {
		if strings.EqualFold(strings.TrimSpace(raw), string(v)) {
			return v, nil
		}
	}
	return "", fieldError("priority", "must be one of Low, Medium, High")
}

// Task represents a single board item.
type Task struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Status       Status    `json:"status"`
	Priority     Priority  `json:"priority"`
	AssignedUser string    `json:"assignedUser"`
	CreatedBy    string    `json:"createdBy,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	Version      int64     `json:"version"`
}

// Validate checks a task that claims to be persisted.
func (t Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fieldError("id", "is required")
	}
	return Draft{
		Title:        t.Title,
		Description:  t.Description,
		Status:       t.Status,
		Priority:     t.Priority,
		AssignedUser: t.AssignedUser,
	}.Validate()
}

// Draft carries the fields of a create request.
type Draft struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Status       Status   `json:"status"`
	Priority     Priority `json:"priority"`
	AssignedUser string   `json:"assignedUser"`
}

// Validate reports the first missing or out-of-set field.
func (d Draft) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return fieldError("title", "is required")
	}
	if strings.TrimSpace(d.Description) == "" {
		return fieldError("description", "is required")
	}
	if !d.Status.Valid() {
		return fieldError("status", "must be one of To Do, In Progress, Done")
	}
	if !d.Priority.Valid() {
		return fieldError("priority", "must be one of Low, Medium, High")
	}
	if strings.TrimSpace(d.AssignedUser) == "" {
		return fieldError("assignedUser", "is required")
	}
	return nil
}

// Task builds an unpersisted task from the draft.
func (d Draft) Task() Task {
	return Task{
		Title:        d.Title,
		Description:  d.Description,
		Status:       d.Status,
		Priority:     d.Priority,
		AssignedUser: d.AssignedUser,
	}
}

// Patch carries a partial update. Nil fields are left untouched.
type Patch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Status      *Status   `json:"status,omitempty"`
	Priority    *Priority `json:"priority,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil && p.Priority == nil
}

// Validate rejects empty patches and out-of-set values.
func (p Patch) Validate() error {
	if p.Empty() {
		return &ValidationError{Reason: "update had no fields"}
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return fieldError("title", "must not be empty")
	}
	if p.Description != nil && strings.TrimSpace(*p.Description) == "" {
		return fieldError("description", "must not be empty")
	}
	if p.Status != nil && !p.Status.Valid() {
		return fieldError("status", "must be one of To Do, In Progress, Done")
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return fieldError("priority", "must be one of Low, Medium, High")
	}
	return nil
}

// Apply returns t with the patch fields merged in.
func (p Patch) Apply(t Task) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	return t
}

// StatusPatch is the patch a drag between columns produces.
func StatusPatch(s Status) Patch {
	return Patch{Status: &s}
}
