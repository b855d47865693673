package main

import (
	"strings"

	"github.com/spf13/cobra"

	"firetrack/domain"
	"firetrack/view"
)

func newTasksCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tasks",
		Aliases: []string{"task", "t"},
		Short:   "List and change the tasks of a project",
	}
	cmd.AddCommand(
		newTasksListCmd(a),
		newTasksAddCmd(a),
		newTasksToggleCmd(a),
		newTasksRemoveCmd(a),
	)
	return cmd
}

func newTasksListCmd(a *app) *cobra.Command {
	var sortMode string
	cmd := &cobra.Command{
		Use:     "list <project-id>",
		Aliases: []string{"ls"},
		Short:   "List the tasks of a project",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.user()
			if err != nil {
				return err
			}
			p, err := a.ownedProject(cmd.Context(), id.UserID, args[0])
			if err != nil {
				return err
			}
			return view.Tasks(a.out, a.format, domain.SortTasks(p.Tasks, domain.ParseSortMode(sortMode)))
		},
	}
	cmd.Flags().StringVar(&sortMode, "sort", string(domain.SortCreatedAt), "task order: createdAt|alphabetical|completed")
	return cmd
}

func newTasksAddCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add <project-id> <text>...",
		Short: "Add a task",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.user()
			if err != nil {
				return err
			}
			if _, err := a.ownedProject(cmd.Context(), id.UserID, args[0]); err != nil {
				return err
			}
			task, err := a.planner.AddTask(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return view.Task(a.out, a.format, task)
		},
	}
}

func newTasksToggleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <project-id> <task-id>",
		Short: "Flip the completed flag of a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.user()
			if err != nil {
				return err
			}
			snap, err := a.ownedProject(cmd.Context(), id.UserID, args[0])
			if err != nil {
				return err
			}
			if err := a.planner.ToggleTask(cmd.Context(), snap, args[1]); err != nil {
				return err
			}
			a.printf("Toggled task %s\n", args[1])
			return nil
		},
	}
}

func newTasksRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <project-id> <task-id>",
		Aliases: []string{"remove", "delete"},
		Short:   "Remove a task",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.user()
			if err != nil {
				return err
			}
			snap, err := a.ownedProject(cmd.Context(), id.UserID, args[0])
			if err != nil {
				return err
			}
			if err := a.planner.RemoveTask(cmd.Context(), snap, args[1]); err != nil {
				return err
			}
			a.printf("Removed task %s\n", args[1])
			return nil
		},
	}
}
