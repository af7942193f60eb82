package client

import (
	"context"
	"errors"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// ErrProvisional rejects edits of a task whose create is still in flight.
var ErrProvisional = errors.New("task is still being created")

// TaskAPI is the Mutation API as the session uses it.
type TaskAPI interface {
	List(ctx context.Context) ([]domain.Task, error)
	Create(ctx context.Context, d domain.Draft, idempotencyKey string) (domain.Task, error)
	Update(ctx context.Context, id string, p domain.Patch) (domain.Task, error)
	Delete(ctx context.Context, id string) (domain.DeleteConfirmation, error)
}

// Session drives the user-facing flows: every action applies optimistically,
// calls the Mutation API, and either confirms or rolls back on the same path.
type Session struct {
	engine   *Engine
	api      TaskAPI
	notifier Notifier
	logger   *log.Logger
}

func NewSession(engine *Engine, api TaskAPI, notifier Notifier, logger *log.Logger) *Session {
	if notifier == nil {
		notifier = NotifierFunc(func(Notice) {})
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Session{engine: engine, api: api, notifier: notifier, logger: logger}
}

func (s *Session) Engine() *Engine { return s.engine }

// Seed merges the current server listing into the registry. It is safe to
// call on every channel (re)connect.
func (s *Session) Seed(ctx context.Context) error {
	mark := s.engine.Mark()
	tasks, err := s.api.List(ctx)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			s.notifier.Notify(Notice{Kind: NoticeUnauthorized, Message: "sign in to load the board", Err: err})
		}
		return err
	}
	s.engine.Reseed(tasks, mark)
	s.logger.WithField("tasks", len(tasks)).Debug("registry seeded")
	return nil
}

// Create validates d, shows it immediately under a provisional id and
// replaces it with the stored record once the Mutation API confirms.
func (s *Session) Create(ctx context.Context, d domain.Draft) (domain.Task, error) {
	if err := d.Validate(); err != nil {
		s.rejectInvalid("", err)
		return domain.Task{}, err
	}
	h, err := s.engine.ApplyLocalOptimistic(CreateMutation(d))
	if err != nil {
		return domain.Task{}, err
	}
	task, err := s.api.Create(ctx, d, uuid.NewString())
	if err != nil {
		s.rollback(h, err)
		return domain.Task{}, err
	}
	if err := s.engine.Confirm(h, task); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

// Update edits the mutable fields of id.
func (s *Session) Update(ctx context.Context, id string, p domain.Patch) (domain.Task, error) {
	if IsProvisional(id) {
		return domain.Task{}, ErrProvisional
	}
	if err := p.Validate(); err != nil {
		s.rejectInvalid(id, err)
		return domain.Task{}, err
	}
	h, err := s.engine.ApplyLocalOptimistic(UpdateMutation(id, p))
	if err != nil {
		return domain.Task{}, err
	}
	task, err := s.api.Update(ctx, id, p)
	if err != nil {
		s.rollback(h, err)
		return domain.Task{}, err
	}
	if err := s.engine.Confirm(h, task); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

// Move handles a drag-and-drop from one column to another. A drop into the
// origin column changes nothing and reports false.
func (s *Session) Move(ctx context.Context, id string, from, to domain.Status) (bool, error) {
	if from == to {
		return false, nil
	}
	if !to.Valid() {
		err := &domain.ValidationError{Field: "status", Reason: "must be one of To Do, In Progress, Done"}
		s.rejectInvalid(id, err)
		return false, err
	}
	if _, err := s.Update(ctx, id, domain.StatusPatch(to)); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes id locally right away and restores it if the Mutation API
// refuses.
func (s *Session) Delete(ctx context.Context, id string) error {
	if IsProvisional(id) {
		return ErrProvisional
	}
	h, err := s.engine.ApplyLocalOptimistic(DeleteMutation(id))
	if err != nil {
		return err
	}
	conf, err := s.api.Delete(ctx, id)
	if err != nil {
		s.rollback(h, err)
		return err
	}
	return s.engine.ConfirmDelete(h, conf.Version)
}

func (s *Session) rollback(h *Handle, cause error) {
	if err := s.engine.Rollback(h, cause); err != nil {
		s.logger.WithError(err).WithField("task_id", h.ID()).Error("rollback failed")
	}
}

func (s *Session) rejectInvalid(id string, err error) {
	s.notifier.Notify(Notice{Kind: NoticeValidation, TaskID: id, Message: err.Error(), Err: err})
}
