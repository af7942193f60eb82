package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

const (
	tasksRoute = "/api/tasks"
	taskRoute  = "/api/tasks/:id"
)

// Register wires up all API routes on the provided Echo instance. deduper and
// exporter may be nil.
func Register(e *echo.Echo, store Storage, auth Authenticator, deduper Deduper, exporter *EventExporter, logger *log.Logger) {
	h := &handlers{store: store, auth: auth, deduper: deduper, exporter: exporter, logger: logger}

	g := e.Group("/api", GzipRequestMiddleware(taskBodyMaxSize))
	g.GET("/tasks", h.instrument(tasksRoute, h.listTasks))
	g.POST("/tasks", h.instrument(tasksRoute, h.createTask))
	g.PUT("/tasks/:id", h.instrument(taskRoute, h.updateTask))
	g.DELETE("/tasks/:id", h.instrument(taskRoute, h.deleteTask))
	e.GET("/healthz", healthz)
}

type handlers struct {
	store    Storage
	auth     Authenticator
	deduper  Deduper
	exporter *EventExporter
	logger   *log.Logger
}

type instrumentedHandler func(c echo.Context, m *requestMetrics) error

func (h *handlers) instrument(route string, next instrumentedHandler) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		req := c.Request()
		metrics, spanCtx := newRequestMetrics(req.Context(), h.logger, req.Method, route)
		c.SetRequest(req.WithContext(spanCtx))
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()
		return next(c, metrics)
	}
}

func healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

func errorBody(msg string) domain.ErrorResponse {
	return domain.ErrorResponse{Error: msg}
}

func (h *handlers) authenticate(c echo.Context, m *requestMetrics) (string, bool) {
	userID, err := h.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		m.Fail("auth", err)
		return "", false
	}
	return userID, true
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, errorBody("unauthorized"))
}

func validationFailed(c echo.Context, m *requestMetrics, err error) error {
	m.Fail("validation", err)
	resp := errorBody(err.Error())
	var v *domain.ValidationError
	if errors.As(err, &v) {
		resp.Field = v.Field
	}
	return c.JSON(http.StatusBadRequest, resp)
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, taskBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (h *handlers) export(ev domain.Event) {
	if h.exporter == nil {
		return
	}
	h.exporter.Submit(ev)
}

func (h *handlers) listTasks(c echo.Context, m *requestMetrics) error {
	if _, ok := h.authenticate(c, m); !ok {
		return unauthorized(c)
	}

	start := time.Now()
	tasks, err := h.store.FetchTasks(c.Request().Context())
	m.ObserveStore(time.Since(start))
	if err != nil {
		m.Fail("storage", err)
		return c.JSON(http.StatusInternalServerError, errorBody("failed to load tasks"))
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	m.SetTasksReturned(len(tasks))
	return c.JSON(http.StatusOK, tasks)
}

func (h *handlers) createTask(c echo.Context, m *requestMetrics) error {
	userID, ok := h.authenticate(c, m)
	if !ok {
		return unauthorized(c)
	}

	var draft domain.Draft
	if err := decodeBody(c, &draft); err != nil {
		m.Fail("decode", err)
		return c.JSON(http.StatusBadRequest, errorBody("invalid body"))
	}
	if err := draft.Validate(); err != nil {
		return validationFailed(c, m, err)
	}

	ctx := c.Request().Context()
	key := c.Request().Header.Get(domain.HeaderIdempotencyKey)
	recorded := false
	if key != "" && h.deduper != nil {
		added, err := h.deduper.Add(ctx, userID, key)
		switch {
		case err != nil:
			h.logger.WithError(err).Warn("idempotency check unavailable; processing request")
		case !added:
			m.Fail("duplicate", nil)
			return c.JSON(http.StatusConflict, errorBody("duplicate request"))
		default:
			recorded = true
		}
	}

	start := time.Now()
	task, err := h.store.CreateTask(ctx, draft, userID)
	m.ObserveStore(time.Since(start))
	if err != nil {
		if recorded {
			if rerr := h.deduper.Remove(context.WithoutCancel(ctx), userID, key); rerr != nil {
				h.logger.Errorf("dedupe rollback failed, err: %v, key: %s, user: %s", rerr, key, userID)
			}
		}
		m.Fail("storage", err)
		return c.JSON(http.StatusInternalServerError, errorBody("failed to create task"))
	}
	m.SetTaskID(task.ID)

	h.export(domain.NewCreatedEvent(task, c.Request().Header.Get(domain.HeaderClientID)))
	return c.JSON(http.StatusCreated, task)
}

func (h *handlers) updateTask(c echo.Context, m *requestMetrics) error {
	if _, ok := h.authenticate(c, m); !ok {
		return unauthorized(c)
	}
	id := c.Param("id")
	m.SetTaskID(id)

	var patch domain.Patch
	if err := decodeBody(c, &patch); err != nil {
		m.Fail("decode", err)
		return c.JSON(http.StatusBadRequest, errorBody("invalid body"))
	}
	if err := patch.Validate(); err != nil {
		return validationFailed(c, m, err)
	}

	start := time.Now()
	task, err := h.store.UpdateTask(c.Request().Context(), id, patch)
	m.ObserveStore(time.Since(start))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			m.Fail("not_found", err)
			return c.JSON(http.StatusNotFound, errorBody(err.Error()))
		}
		m.Fail("storage", err)
		return c.JSON(http.StatusInternalServerError, errorBody("failed to update task"))
	}

	h.export(domain.NewUpdatedEvent(task, c.Request().Header.Get(domain.HeaderClientID)))
	return c.JSON(http.StatusOK, task)
}

func (h *handlers) deleteTask(c echo.Context, m *requestMetrics) error {
	if _, ok := h.authenticate(c, m); !ok {
		return unauthorized(c)
	}
	id := c.Param("id")
	m.SetTaskID(id)

	start := time.Now()
	version, err := h.store.DeleteTask(c.Request().Context(), id)
	m.ObserveStore(time.Since(start))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			m.Fail("not_found", err)
			return c.JSON(http.StatusNotFound, errorBody(err.Error()))
		}
		m.Fail("storage", err)
		return c.JSON(http.StatusInternalServerError, errorBody("failed to delete task"))
	}

	h.export(domain.NewDeletedEvent(id, version, c.Request().Header.Get(domain.HeaderClientID)))
	return c.JSON(http.StatusOK, domain.DeleteConfirmation{ID: id, Version: version, Message: deletedMessage})
}
