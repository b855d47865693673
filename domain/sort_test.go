package domain

import (
	"testing"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

func sampleTasks() []Task {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return []Task{
		{TaskID: "1", Text: "banana", Completed: true, CreatedAt: base.Add(1 * time.Minute)},
		{TaskID: "2", Text: "Apple", CreatedAt: base.Add(3 * time.Minute)},
		{TaskID: "3", Text: "cherry", Completed: true, CreatedAt: base.Add(2 * time.Minute)},
		{TaskID: "4", Text: "éclair", CreatedAt: base.Add(3 * time.Minute)},
		{TaskID: "5", Text: "apple", CreatedAt: base},
	}
}

func ids(tasks []Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.TaskID
	}
	return out
}

func TestSortTasksDoesNotMutateInput(t *testing.T) {
	in := sampleTasks()
	before := ids(in)
	for _, mode := range []SortMode{SortCreatedAt, SortAlphabetical, SortCompleted} {
		out := SortTasks(in, mode)
		if len(out) != len(in) {
			t.Fatalf("%s: length changed", mode)
		}
		for i, id := range ids(in) {
			if id != before[i] {
				t.Fatalf("%s: input reordered", mode)
			}
		}
	}
}

func TestSortTasksCreatedAtDescending(t *testing.T) {
	out := SortTasks(sampleTasks(), SortCreatedAt)
	for i := 1; i < len(out); i++ {
		if out[i].CreatedAt.After(out[i-1].CreatedAt) {
			t.Fatalf("not descending at %d: %v", i, ids(out))
		}
	}
	// Equal timestamps keep stored order.
	if out[0].TaskID != "2" || out[1].TaskID != "4" {
		t.Fatalf("unstable tie order: %v", ids(out))
	}
}

func TestSortTasksAlphabetical(t *testing.T) {
	out := SortTasks(sampleTasks(), SortAlphabetical)
	c := collate.New(language.English)
	for i := 1; i < len(out); i++ {
		if c.CompareString(out[i-1].Text, out[i].Text) > 0 {
			t.Fatalf("not ascending at %d: %v", i, ids(out))
		}
	}

	words := []Task{{TaskID: "z", Text: "zebra"}, {TaskID: "a", Text: "Apple"}, {TaskID: "e", Text: "éclair"}, {TaskID: "d", Text: "dog"}}
	got := ids(SortTasks(words, SortAlphabetical))
	want := []string{"a", "d", "e", "z"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("locale order %v, want %v", got, want)
		}
	}
}

func TestSortTasksCompletedLast(t *testing.T) {
	out := SortTasks(sampleTasks(), SortCompleted)
	seenCompleted := false
	for _, task := range out {
		if task.Completed {
			seenCompleted = true
			continue
		}
		if seenCompleted {
			t.Fatalf("incomplete task after completed one: %v", ids(out))
		}
	}
	want := []string{"2", "4", "5", "1", "3"}
	for i, id := range ids(out) {
		if id != want[i] {
			t.Fatalf("got %v, want %v", ids(out), want)
		}
	}
}

func TestSortTasksUnknownModeFallsBack(t *testing.T) {
	got := ids(SortTasks(sampleTasks(), SortMode("priority")))
	want := ids(SortTasks(sampleTasks(), SortCreatedAt))
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fallback order %v, want %v", got, want)
		}
	}
	if ParseSortMode("nonsense") != SortCreatedAt {
		t.Fatalf("unknown name must parse to createdAt")
	}
}

func TestSortTasksNilInput(t *testing.T) {
	out := SortTasks(nil, SortAlphabetical)
	if out == nil || len(out) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", out)
	}
}
