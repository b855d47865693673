package api

import (
	"context"
	"time"

	"firetrack/domain"
	"firetrack/planner"
	"firetrack/subscription"
)

// Gateway is the part of the project store the handlers use.
type Gateway interface {
	subscription.ProjectSource
	Ping(ctx context.Context) error
	CreateProject(ctx context.Context, ownerID string, fields domain.ProjectFields) (string, error)
	GetProject(ctx context.Context, id string) (domain.Project, error)
	ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error)
	UpdateProject(ctx context.Context, id string, upd domain.ProjectUpdate) (domain.Project, error)
	DeleteProject(ctx context.Context, id string) error
	CreateUserProfile(ctx context.Context, userID string, fields domain.ProfileFields) (domain.UserProfile, error)
	GetUserProfile(ctx context.Context, userID string) (domain.UserProfile, error)
}

// Mutator applies task mutations to a project snapshot.
type Mutator interface {
	AddTask(ctx context.Context, projectID, text string) (domain.Task, error)
	ToggleTask(ctx context.Context, snap domain.Project, taskID string) error
	RemoveTask(ctx context.Context, snap domain.Project, taskID string) error
}

var _ Mutator = (*planner.Planner)(nil)

// Authenticator is implemented by types able to resolve the caller from an
// Authorization header.
type Authenticator interface {
	Authenticate(header string) (Principal, error)
}

// Revoker records signed-out tokens.
type Revoker interface {
	Revoke(ctx context.Context, token string, until time.Time) error
	Revoked(ctx context.Context, token string) (bool, error)
}

// Deduper guards project creation against client retries.
type Deduper interface {
	Reserve(ctx context.Context, userID, key string) (existing string, fresh bool, err error)
	Commit(ctx context.Context, userID, key, projectID string) error
	Release(ctx context.Context, userID, key string) error
}
