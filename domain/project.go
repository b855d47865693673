package domain

import "time"

// Project is the aggregate stored as one document: its own fields plus the
// embedded task collection.
type Project struct {
	ID          string    `json:"id" yaml:"id"`
	OwnerID     string    `json:"ownerId" yaml:"ownerId"`
	Title       string    `json:"title" yaml:"title"`
	Description string    `json:"description" yaml:"description"`
	CreatedAt   time.Time `json:"createdAt" yaml:"createdAt"`
	Tasks       []Task    `json:"tasks" yaml:"tasks"`
	Version     int64     `json:"version" yaml:"version"`
}

// Task looks up a task by id.
func (p Project) Task(taskID string) (Task, bool) {
	if i := IndexOfTask(p.Tasks, taskID); i >= 0 {
		return p.Tasks[i], true
	}
	return Task{}, false
}

// Clone returns a copy that shares no task storage with p.
func (p Project) Clone() Project {
	p.Tasks = CloneTasks(p.Tasks)
	return p
}

// ProjectFields are the user supplied fields of a new project.
type ProjectFields struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// ProjectUpdate merges only the non-nil fields into a stored project.
// IfVersion, when non-zero, makes the write conditional on the stored version.
type ProjectUpdate struct {
	Title       *string
	Description *string
	Tasks       *[]Task
	IfVersion   int64
}

func (u ProjectUpdate) Empty() bool {
	return u.Title == nil && u.Description == nil && u.Tasks == nil
}

// TasksOnly reports whether the update touches nothing but the task array.
func (u ProjectUpdate) TasksOnly() bool {
	return u.Tasks != nil && u.Title == nil && u.Description == nil
}

// ApplyTo merges the update into p.
func (u ProjectUpdate) ApplyTo(p *Project) {
	if u.Title != nil {
		p.Title = *u.Title
	}
	if u.Description != nil {
		p.Description = *u.Description
	}
	if u.Tasks != nil {
		p.Tasks = CloneTasks(*u.Tasks)
	}
}

// UserProfile is the record written when a user signs up.
type UserProfile struct {
	UserID      string    `json:"userId" yaml:"userId"`
	DisplayName string    `json:"displayName" yaml:"displayName"`
	Email       string    `json:"email" yaml:"email"`
	CreatedAt   time.Time `json:"createdAt" yaml:"createdAt"`
}

type ProfileFields struct {
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// Subscription is the cancellation handle of a live subscription.
type Subscription interface {
	// Unsubscribe stops deliveries. It may be called more than once and from
	// inside a callback.
	Unsubscribe()
}

// ChangeKind names the type of a committed document change.
type ChangeKind string

const (
	ChangeCreated      ChangeKind = "created"
	ChangeUpdated      ChangeKind = "updated"
	ChangeTasksUpdated ChangeKind = "tasks-updated"
	ChangeDeleted      ChangeKind = "deleted"
)

// Change is one record of the change feed.
type Change struct {
	ProjectID string     `json:"projectId"`
	OwnerID   string     `json:"ownerId"`
	Kind      ChangeKind `json:"kind"`
	Version   int64      `json:"version"`
	At        time.Time  `json:"at"`
}
