package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"firetrack/domain"
	"firetrack/subscription"
)

type streamError struct {
	Error string `json:"error"`
}

func (s *Server) streamProjects(c echo.Context) error {
	p := principal(c)
	ctrl := subscription.NewOwnerController(s.store, p.UserID, s.logger)
	return runStream(c, s, ctrl, "projects", func(list []domain.Project) (any, error) {
		return list, nil
	})
}

func (s *Server) streamProject(c echo.Context) error {
	p := principal(c)
	id := c.Param("id")
	mode := domain.ParseSortMode(c.QueryParam("sort"))
	ctrl := subscription.NewProjectController(s.store, id, s.logger)
	return runStream(c, s, ctrl, "project", func(snap domain.Project) (any, error) {
		if snap.OwnerID != p.UserID {
			return nil, &domain.NotFoundError{ID: id}
		}
		snap.Tasks = domain.SortTasks(snap.Tasks, mode)
		return snap, nil
	})
}

// runStream pushes every snapshot of ctrl as a server-sent event until the
// client leaves, the subscription fails or the token signs out. Snapshots
// that arrive faster than the client reads are coalesced to the latest.
func runStream[T any](c echo.Context, s *Server, ctrl *subscription.Controller[T], event string, render func(T) (any, error)) error {
	ctx := c.Request().Context()

	sess, release := s.hub.acquire(principal(c))
	defer release()
	changed, stopWatch := sess.Watch()
	defer stopWatch()
	if _, ok := sess.Current(); !ok {
		return c.String(http.StatusUnauthorized, "signed out")
	}

	wake := make(chan struct{}, 1)
	if err := ctrl.Start(ctx, func(subscription.Update[T]) {
		select {
		case wake <- struct{}{}:
		default:
		}
	}); err != nil {
		return writeError(c, err)
	}
	defer ctrl.Close()

	if err := ctrl.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return writeError(c, err)
	}
	if snap, ok := ctrl.Snapshot(); ok {
		if _, err := render(snap); err != nil {
			return writeError(c, err)
		}
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	c.Response().WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	logger := s.logger.WithField("stream", event)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			if _, ok := sess.Current(); !ok {
				return writeEvent(c, flusher, "signout", struct{}{})
			}
		case <-ticker.C:
			if _, err := c.Response().Write([]byte(": ping\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
		case <-wake:
			switch ctrl.State() {
			case subscription.Errored:
				err := ctrl.Err()
				logger.WithError(err).Debug("stream ended")
				return writeEvent(c, flusher, "error", streamError{Error: err.Error()})
			case subscription.Active:
				snap, _ := ctrl.Snapshot()
				payload, err := render(snap)
				if err != nil {
					return writeEvent(c, flusher, "error", streamError{Error: err.Error()})
				}
				if err := writeEvent(c, flusher, event, payload); err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					logger.WithError(err).Warn("write event")
					return nil
				}
			}
		}
	}
}

func writeEvent(c echo.Context, flusher http.Flusher, event string, payload any) error {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
