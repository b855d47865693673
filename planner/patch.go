// Package planner turns task intents into document patches and applies them
// through the store gateway.
package planner

import (
	"fmt"
	"strings"
	"time"

	"firetrack/domain"
)

// PatchKind selects the store primitive a patch is executed with.
type PatchKind int

const (
	// PatchUnion appends a task unless an equal value is present.
	PatchUnion PatchKind = iota
	// PatchRemove removes every element equal by value to Task.
	PatchRemove
	// PatchReplace overwrites the whole task array with Tasks.
	PatchReplace
)

func (k PatchKind) String() string {
	switch k {
	case PatchUnion:
		return "union"
	case PatchRemove:
		return "remove"
	case PatchReplace:
		return "replace"
	default:
		return fmt.Sprintf("patch(%d)", int(k))
	}
}

// Patch is a planned write. Task is set for union and remove, Tasks for
// replace. A non-zero IfVersion makes a replace conditional.
type Patch struct {
	Kind      PatchKind
	ProjectID string
	Task      domain.Task
	Tasks     []domain.Task
	IfVersion int64
}

// RemovalMode chooses how a task is removed.
type RemovalMode int

const (
	// RemoveByValue asks the store to remove the exact task value held in
	// the snapshot. A snapshot that is stale on any field removes nothing.
	RemoveByValue RemovalMode = iota
	// RemoveByID filters the task out by id and replaces the whole array.
	RemoveByID
)

func (m RemovalMode) String() string {
	if m == RemoveByID {
		return "by-id"
	}
	return "by-value"
}

// ParseRemovalMode accepts "by-value" and "by-id".
func ParseRemovalMode(s string) (RemovalMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "by-value", "value":
		return RemoveByValue, nil
	case "by-id", "id":
		return RemoveByID, nil
	default:
		return RemoveByValue, fmt.Errorf("unknown removal mode %q", s)
	}
}

// PlanAdd builds a union patch for a new task.
func PlanAdd(projectID, text, taskID string, now time.Time) (Patch, error) {
	t, err := domain.NewTask(taskID, text, now)
	if err != nil {
		return Patch{}, err
	}
	return Patch{Kind: PatchUnion, ProjectID: projectID, Task: t}, nil
}

// PlanToggle flips the completion of taskID and replaces the whole array.
func PlanToggle(snap domain.Project, taskID string, checkVersion bool) (Patch, error) {
	i := domain.IndexOfTask(snap.Tasks, taskID)
	if i < 0 {
		return Patch{}, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, taskID)
	}
	tasks := domain.CloneTasks(snap.Tasks)
	tasks[i] = tasks[i].Toggled()
	p := Patch{Kind: PatchReplace, ProjectID: snap.ID, Tasks: tasks}
	if checkVersion {
		p.IfVersion = snap.Version
	}
	return p, nil
}

// PlanRemove removes taskID according to mode.
func PlanRemove(snap domain.Project, taskID string, mode RemovalMode, checkVersion bool) (Patch, error) {
	i := domain.IndexOfTask(snap.Tasks, taskID)
	if i < 0 {
		return Patch{}, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, taskID)
	}
	if mode == RemoveByValue {
		return Patch{Kind: PatchRemove, ProjectID: snap.ID, Task: snap.Tasks[i]}, nil
	}
	tasks := make([]domain.Task, 0, len(snap.Tasks)-1)
	for _, t := range snap.Tasks {
		if t.TaskID != taskID {
			tasks = append(tasks, t)
		}
	}
	p := Patch{Kind: PatchReplace, ProjectID: snap.ID, Tasks: tasks}
	if checkVersion {
		p.IfVersion = snap.Version
	}
	return p, nil
}
