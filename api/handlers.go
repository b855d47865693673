package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"firetrack/domain"
)

const (
	maxBodySize      = 64 * 1024
	defaultHeartbeat = 25 * time.Second
	healthTimeout    = 2 * time.Second
)

// Config collects the dependencies of a Server. Revoker, Deduper and Logger
// are optional.
type Config struct {
	Store     Gateway
	Planner   Mutator
	Auth      Authenticator
	Revoker   Revoker
	Deduper   Deduper
	Logger    *log.Logger
	Heartbeat time.Duration
}

// Server serves the project and task HTTP surface plus the live streams.
type Server struct {
	store     Gateway
	planner   Mutator
	auth      Authenticator
	revoker   Revoker
	keys      Deduper
	logger    *log.Logger
	hub       *sessionHub
	heartbeat time.Duration
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = log.StandardLogger()
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = defaultHeartbeat
	}
	return &Server{
		store:     cfg.Store,
		planner:   cfg.Planner,
		auth:      cfg.Auth,
		revoker:   cfg.Revoker,
		keys:      cfg.Deduper,
		logger:    cfg.Logger,
		hub:       newSessionHub(cfg.Revoker, cfg.Logger),
		heartbeat: cfg.Heartbeat,
	}
}

// Register wires up all routes on the provided Echo instance.
func Register(e *echo.Echo, s *Server) {
	e.GET("/healthz", s.healthz)

	authed := RequireUser(s.auth, s.revoker)

	g := e.Group("/api", authed)
	g.GET("/profile", s.getProfile)
	g.POST("/profile", s.createProfile)
	g.GET("/projects", s.listProjects)
	g.POST("/projects", s.createProject)
	g.GET("/projects/:id", s.getProject)
	g.PATCH("/projects/:id", s.updateProject)
	g.DELETE("/projects/:id", s.deleteProject)
	g.GET("/projects/:id/tasks", s.listTasks)
	g.POST("/projects/:id/tasks", s.addTask)
	g.POST("/projects/:id/tasks/:taskId/toggle", s.toggleTask)
	g.DELETE("/projects/:id/tasks/:taskId", s.removeTask)
	g.POST("/signout", s.signOut)

	st := e.Group("/stream", authed)
	st.GET("/projects", s.streamProjects)
	st.GET("/projects/:id", s.streamProject)
}

type createdResponse struct {
	ID string `json:"id"`
}

type projectPatch struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	IfVersion   int64   `json:"ifVersion,omitempty"`
}

type taskRequest struct {
	Text string `json:"text"`
}

type tasksResponse struct {
	ProjectID string          `json:"projectId"`
	Sort      domain.SortMode `json:"sort"`
	Tasks     []domain.Task   `json:"tasks"`
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	return nil
}

// ownedProject loads id and hides projects of other owners behind a
// not-found answer.
func (s *Server) ownedProject(ctx context.Context, userID, id string) (domain.Project, error) {
	p, err := s.store.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	if p.OwnerID != userID {
		return domain.Project{}, &domain.NotFoundError{ID: id}
	}
	return p, nil
}

func (s *Server) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.WithError(err).Warn("health check failed")
		return c.String(http.StatusServiceUnavailable, "store unavailable")
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) createProfile(c echo.Context) error {
	var fields domain.ProfileFields
	if err := decodeBody(c, &fields); err != nil {
		return writeError(c, err)
	}
	profile, err := s.store.CreateUserProfile(c.Request().Context(), principal(c).UserID, fields)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, profile)
}

func (s *Server) getProfile(c echo.Context) error {
	profile, err := s.store.GetUserProfile(c.Request().Context(), principal(c).UserID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, profile)
}

func (s *Server) listProjects(c echo.Context) error {
	projects, err := s.store.ListProjectsByOwner(c.Request().Context(), principal(c).UserID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, projects)
}

func (s *Server) createProject(c echo.Context) error {
	ctx := c.Request().Context()
	userID := principal(c).UserID

	var fields domain.ProjectFields
	if err := decodeBody(c, &fields); err != nil {
		return writeError(c, err)
	}
	fields.Title = strings.TrimSpace(fields.Title)
	if fields.Title == "" {
		return c.String(http.StatusBadRequest, "title is required")
	}

	key := strings.TrimSpace(c.Request().Header.Get("Idempotency-Key"))
	if key != "" && s.keys != nil {
		existing, fresh, err := s.keys.Reserve(ctx, userID, key)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to reserve idempotency key")
		}
		if !fresh {
			if existing == "" {
				return c.String(http.StatusConflict, "request already in progress")
			}
			return c.JSON(http.StatusOK, createdResponse{ID: existing})
		}
	} else {
		key = ""
	}

	id, err := s.store.CreateProject(ctx, userID, fields)
	if err != nil {
		if key != "" {
			if rerr := s.keys.Release(ctx, userID, key); rerr != nil {
				s.logger.WithError(rerr).Warn("release idempotency key")
			}
		}
		return writeError(c, err)
	}
	if key != "" {
		if cerr := s.keys.Commit(ctx, userID, key, id); cerr != nil {
			s.logger.WithError(cerr).WithField("projectId", id).Warn("commit idempotency key")
		}
	}
	return c.JSON(http.StatusCreated, createdResponse{ID: id})
}

func (s *Server) getProject(c echo.Context) error {
	p, err := s.ownedProject(c.Request().Context(), principal(c).UserID, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) updateProject(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	if _, err := s.ownedProject(ctx, principal(c).UserID, id); err != nil {
		return writeError(c, err)
	}

	var body projectPatch
	if err := decodeBody(c, &body); err != nil {
		return writeError(c, err)
	}
	upd := domain.ProjectUpdate{Title: body.Title, Description: body.Description, IfVersion: body.IfVersion}
	if upd.Empty() {
		return c.String(http.StatusBadRequest, "nothing to update")
	}
	if upd.Title != nil {
		title := strings.TrimSpace(*upd.Title)
		if title == "" {
			return c.String(http.StatusBadRequest, "title is required")
		}
		upd.Title = &title
	}

	p, err := s.store.UpdateProject(ctx, id, upd)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) deleteProject(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	if _, err := s.ownedProject(ctx, principal(c).UserID, id); err != nil {
		return writeError(c, err)
	}
	if err := s.store.DeleteProject(ctx, id); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listTasks(c echo.Context) error {
	p, err := s.ownedProject(c.Request().Context(), principal(c).UserID, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	mode := domain.ParseSortMode(c.QueryParam("sort"))
	return c.JSON(http.StatusOK, tasksResponse{
		ProjectID: p.ID,
		Sort:      mode,
		Tasks:     domain.SortTasks(p.Tasks, mode),
	})
}

func (s *Server) addTask(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	if _, err := s.ownedProject(ctx, principal(c).UserID, id); err != nil {
		return writeError(c, err)
	}
	var body taskRequest
	if err := decodeBody(c, &body); err != nil {
		return writeError(c, err)
	}
	task, err := s.planner.AddTask(ctx, id, body.Text)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, task)
}

func (s *Server) toggleTask(c echo.Context) error {
	ctx := c.Request().Context()
	snap, err := s.ownedProject(ctx, principal(c).UserID, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	if err := s.planner.ToggleTask(ctx, snap, c.Param("taskId")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) removeTask(c echo.Context) error {
	ctx := c.Request().Context()
	snap, err := s.ownedProject(ctx, principal(c).UserID, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	if err := s.planner.RemoveTask(ctx, snap, c.Param("taskId")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) signOut(c echo.Context) error {
	if err := s.hub.signOut(c.Request().Context(), principal(c)); err != nil {
		c.Logger().Error(err)
		return c.String(http.StatusInternalServerError, "failed to sign out")
	}
	return c.NoContent(http.StatusNoContent)
}
