package domain

import (
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// SortMode selects the display order of a task list.
type SortMode string

const (
	SortCreatedAt    SortMode = "createdAt"
	SortAlphabetical SortMode = "alphabetical"
	SortCompleted    SortMode = "completed"
)

// ParseSortMode maps a user supplied name to a mode. Unknown names fall back
// to SortCreatedAt.
func ParseSortMode(s string) SortMode {
	switch SortMode(strings.TrimSpace(s)) {
	case SortAlphabetical:
		return SortAlphabetical
	case SortCompleted:
		return SortCompleted
	default:
		return SortCreatedAt
	}
}

// SortTasks returns a sorted copy of tasks; the input is never reordered.
// Ties keep their stored order.
//
//   - SortCreatedAt: newest first.
//   - SortAlphabetical: by text, ascending, using the English collation.
//   - SortCompleted: incomplete tasks before completed ones.
func SortTasks(tasks []Task, mode SortMode) []Task {
	out := CloneTasks(tasks)
	switch ParseSortMode(string(mode)) {
	case SortAlphabetical:
		// Collators keep scratch buffers and are not safe to share.
		c := collate.New(language.English)
		sort.SliceStable(out, func(i, j int) bool {
			return c.CompareString(out[i].Text, out[j].Text) < 0
		})
	case SortCompleted:
		sort.SliceStable(out, func(i, j int) bool {
			return !out[i].Completed && out[j].Completed
		})
	default:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		})
	}
	return out
}
