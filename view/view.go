// Package view renders projects and tasks for the command line.
package view

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"

	"firetrack/domain"
)

// Format is an output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

const timeLayout = "2006-01-02 15:04"

// ParseFormat validates a user supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json or yaml)", s)
	}
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(timeLayout)
}

// Render writes v as json or yaml, or calls text for the text format.
func Render(w io.Writer, f Format, v any, text func(io.Writer) error) error {
	switch f {
	case FormatJSON:
		data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return text(w)
	}
}

// Projects renders an owner's project list in the given order.
func Projects(w io.Writer, f Format, projects []domain.Project) error {
	if projects == nil {
		projects = []domain.Project{}
	}
	return Render(w, f, projects, func(w io.Writer) error {
		if len(projects) == 0 {
			_, err := fmt.Fprintln(w, "No projects.")
			return err
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTITLE\tTASKS\tCREATED")
		for _, p := range projects {
			done := 0
			for _, t := range p.Tasks {
				if t.Completed {
					done++
				}
			}
			fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\n", p.ID, p.Title, done, len(p.Tasks), stamp(p.CreatedAt))
		}
		return tw.Flush()
	})
}

// Project renders one project with its tasks sorted by mode.
func Project(w io.Writer, f Format, p domain.Project, mode domain.SortMode) error {
	p = p.Clone()
	p.Tasks = domain.SortTasks(p.Tasks, mode)
	return Render(w, f, p, func(w io.Writer) error {
		fmt.Fprintf(w, "%s (%s)\n", p.Title, p.ID)
		if p.Description != "" {
			fmt.Fprintln(w, p.Description)
		}
		fmt.Fprintf(w, "version %d, created %s\n\n", p.Version, stamp(p.CreatedAt))
		return writeTasks(w, p.Tasks)
	})
}

// Tasks renders a task list as given.
func Tasks(w io.Writer, f Format, tasks []domain.Task) error {
	tasks = domain.CloneTasks(tasks)
	return Render(w, f, tasks, func(w io.Writer) error {
		return writeTasks(w, tasks)
	})
}

// Task renders a single task.
func Task(w io.Writer, f Format, t domain.Task) error {
	return Render(w, f, t, func(w io.Writer) error {
		return writeTasks(w, []domain.Task{t})
	})
}

func writeTasks(w io.Writer, tasks []domain.Task) error {
	if len(tasks) == 0 {
		_, err := fmt.Fprintln(w, "No tasks.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, t := range tasks {
		box := "[ ]"
		if t.Completed {
			box = "[x]"
		}
		fmt.Fprintf(tw, "%s %s\t%s\t%s\n", box, t.Text, t.TaskID, stamp(t.CreatedAt))
	}
	return tw.Flush()
}
