package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

const (
	eventBodyMaxSize = 64 * 1024 // 64 KiB
	defaultHeartbeat = 15 * time.Second
)

// Authenticator resolves the session user of a request.
type Authenticator interface {
	UserIDFromRequest(r *http.Request) (string, error)
}

// Records is the task store as the stream service reads it.
type Records interface {
	GetTask(ctx context.Context, id string) (domain.Task, error)
}

// Options tunes the stream endpoints.
type Options struct {
	Heartbeat time.Duration
	// Records, when set, makes POST /events admit only events that match
	// the stored record; created and updated events carry the stored copy.
	Records Records
}

var errNotPersisted = errors.New("event does not match a persisted record")

type publishResponse struct {
	Admitted bool `json:"admitted"`
}

// Register wires up stream endpoints on the given Echo instance.
func Register(e *echo.Echo, hub *Hub, relay Publisher, auth Authenticator, logger *log.Logger, opts Options) {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}
	e.GET("/stream", streamEvents(hub, auth, logger, opts.Heartbeat))
	e.POST("/events", publishEvent(relay, auth, opts.Records, logger))
	e.GET("/healthz", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
}

func streamEvents(hub *Hub, auth Authenticator, logger *log.Logger, heartbeat time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromRequest(c.Request())
		if err != nil {
			return c.JSON(http.StatusUnauthorized, domain.ErrorResponse{Error: "unauthorized"})
		}
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		c.Response().WriteHeader(http.StatusOK)

		sub := hub.Subscribe()
		defer hub.Unsubscribe(sub)

		entry := logger.WithFields(log.Fields{
			"user":      userID,
			"client_id": c.Request().Header.Get(domain.HeaderClientID),
		})
		entry.Debug("stream connected")
		defer entry.Debug("stream disconnected")

		w := c.Response()
		if _, err := io.WriteString(w, ": connected\n\n"); err != nil {
			return nil
		}
		flusher.Flush()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		ctx := c.Request().Context()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-sub.Dropped():
				entry.Warn("stream dropped slow consumer")
				return nil
			case <-ticker.C:
				if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
					return nil
				}
				flusher.Flush()
			case ev := <-sub.Events():
				if err := writeEvent(w, ev); err != nil {
					entry.WithError(err).Debug("stream write failed")
					return nil
				}
				flusher.Flush()
			}
		}
	}
}

func writeEvent(w io.Writer, ev domain.Event) error {
	data, err := ev.Encode()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", strconv.FormatInt(ev.Version, 10), ev.Kind, data)
	return err
}

// checkPersisted compares ev with the store. superseded reports a record that
// already moved past ev.
func checkPersisted(ctx context.Context, records Records, ev domain.Event) (checked domain.Event, superseded bool, err error) {
	stored, err := records.GetTask(ctx, ev.ID())
	notFound := errors.Is(err, domain.ErrNotFound)
	if err != nil && !notFound {
		return ev, false, err
	}
	if ev.Kind == domain.TaskDeleted {
		// ids are never reused, so a stored record means no delete happened
		if notFound {
			return ev, false, nil
		}
		return ev, false, errNotPersisted
	}
	switch {
	case notFound || stored.Version < ev.Version:
		return ev, false, errNotPersisted
	case stored.Version > ev.Version:
		return ev, true, nil
	}
	ev.Task = &stored
	return ev, false, nil
}

func publishEvent(relay Publisher, auth Authenticator, records Records, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserIDFromRequest(c.Request()); err != nil {
			return c.JSON(http.StatusUnauthorized, domain.ErrorResponse{Error: "unauthorized"})
		}
		body, err := io.ReadAll(io.LimitReader(c.Request().Body, eventBodyMaxSize))
		if err != nil {
			return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: "invalid body"})
		}
		ev, err := domain.DecodeEvent(body)
		if err != nil {
			return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: err.Error()})
		}
		if ev.Originator == "" {
			ev.Originator = c.Request().Header.Get(domain.HeaderClientID)
		}
		entry := logger.WithFields(log.Fields{"task_id": ev.ID(), "version": ev.Version})

		if records != nil {
			var superseded bool
			ev, superseded, err = checkPersisted(c.Request().Context(), records, ev)
			switch {
			case errors.Is(err, errNotPersisted):
				entry.Warn("rejected event without a matching record")
				return c.JSON(http.StatusConflict, domain.ErrorResponse{Error: err.Error()})
			case err != nil:
				entry.WithError(err).Error("record lookup failed")
				return c.JSON(http.StatusInternalServerError, domain.ErrorResponse{Error: "record lookup failed"})
			case superseded:
				entry.Debug("superseded event ignored")
				return c.JSON(http.StatusOK, publishResponse{Admitted: false})
			}
		}

		admitted, err := relay.Publish(c.Request().Context(), ev)
		if errors.Is(err, ErrVersionAhead) {
			entry.Warn("rejected event version ahead of clock")
			return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: err.Error()})
		}
		if err != nil {
			logger.WithError(err).WithField("task_id", ev.ID()).Error("publish event failed")
			return c.JSON(http.StatusInternalServerError, domain.ErrorResponse{Error: "publish failed"})
		}
		if !admitted {
			entry.Debug("stale event ignored")
			return c.JSON(http.StatusOK, publishResponse{Admitted: false})
		}
		return c.JSON(http.StatusAccepted, publishResponse{Admitted: true})
	}
}
