package domain

import (
	"strings"
	"time"
)

// Task is a single entry embedded in a project document.
type Task struct {
	TaskID    string    `json:"taskId" yaml:"taskId"`
	Text      string    `json:"text" yaml:"text"`
	Completed bool      `json:"completed" yaml:"completed"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
}

// NewTask trims text and builds an incomplete task stamped with now.
func NewTask(id, text string, now time.Time) (Task, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Task{}, ErrEmptyTaskText
	}
	return Task{TaskID: id, Text: trimmed, CreatedAt: StampTime(now)}, nil
}

// StampTime normalizes t to the precision kept in stored documents.
func StampTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// Equal compares every field. Store-side array removal matches tasks this way,
// not by TaskID.
func (t Task) Equal(o Task) bool {
	return t.TaskID == o.TaskID &&
		t.Text == o.Text &&
		t.Completed == o.Completed &&
		t.CreatedAt.Equal(o.CreatedAt)
}

// Toggled returns a copy with Completed flipped.
func (t Task) Toggled() Task {
	t.Completed = !t.Completed
	return t
}

// IndexOfTask returns the position of taskID in tasks or -1.
func IndexOfTask(tasks []Task, taskID string) int {
	for i := range tasks {
		if tasks[i].TaskID == taskID {
			return i
		}
	}
	return -1
}

// CloneTasks copies tasks into a new, never nil, slice.
func CloneTasks(tasks []Task) []Task {
	out := make([]Task, len(tasks))
	copy(out, tasks)
	return out
}
