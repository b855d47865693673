package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"firetrack/domain"
	"firetrack/view"
)

func newProjectsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "projects",
		Aliases: []string{"project", "p"},
		Short:   "List and manage projects",
	}
	cmd.AddCommand(
		newProjectsListCmd(a),
		newProjectsShowCmd(a),
		newProjectsCreateCmd(a),
		newProjectsUpdateCmd(a),
		newProjectsDeleteCmd(a),
	)
	return cmd
}

func newProjectsListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List your projects, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := a.user()
			if err != nil {
				return err
			}
			projects, err := a.store.ListProjectsByOwner(cmd.Context(), id.UserID)
			if err != nil {
				return err
			}
			return view.Projects(a.out, a.format, projects)
		},
	}
}

func newProjectsShowCmd(a *app) *cobra.Command {
	var sortMode string
	cmd := &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.user()
			if err != nil {
				return err
			}
			p, err := a.ownedProject(cmd.Context(), id.UserID, args[0])
			if err != nil {
				return err
			}
			return view.Project(a.out, a.format, p, domain.ParseSortMode(sortMode))
		},
	}
	cmd.Flags().StringVar(&sortMode, "sort", string(domain.SortCreatedAt), "task order: createdAt|alphabetical|completed")
	return cmd
}

func newProjectsCreateCmd(a *app) *cobra.Command {
	var fields domain.ProjectFields
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an empty project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fields.Title = strings.TrimSpace(fields.Title)
			if fields.Title == "" {
				return errors.New("--title is required")
			}
			id, err := a.user()
			if err != nil {
				return err
			}
			projectID, err := a.store.CreateProject(cmd.Context(), id.UserID, fields)
			if err != nil {
				return err
			}
			out := struct {
				ID string `json:"id" yaml:"id"`
			}{projectID}
			return view.Render(a.out, a.format, out, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Created project %s\n", projectID)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&fields.Title, "title", "", "project title (required)")
	cmd.Flags().StringVar(&fields.Description, "description", "", "project description")
	return cmd
}

func newProjectsUpdateCmd(a *app) *cobra.Command {
	var (
		title, description string
		ifVersion          int64
	)
	cmd := &cobra.Command{
		Use:   "update <project-id>",
		Short: "Change the title or description of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var upd domain.ProjectUpdate
			if cmd.Flags().Changed("title") {
				t := strings.TrimSpace(title)
				if t == "" {
					return errors.New("--title must not be empty")
				}
				upd.Title = &t
			}
			if cmd.Flags().Changed("description") {
				upd.Description = &description
			}
			if upd.Empty() {
				return errors.New("nothing to update; pass --title or --description")
			}
			upd.IfVersion = ifVersion

			id, err := a.user()
			if err != nil {
				return err
			}
			if _, err := a.ownedProject(cmd.Context(), id.UserID, args[0]); err != nil {
				return err
			}
			p, err := a.store.UpdateProject(cmd.Context(), args[0], upd)
			if err != nil {
				return err
			}
			return view.Project(a.out, a.format, p, domain.SortCreatedAt)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().Int64Var(&ifVersion, "if-version", 0, "only update when the stored version matches")
	return cmd
}

func newProjectsDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <project-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a project and its tasks",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.user()
			if err != nil {
				return err
			}
			if _, err := a.ownedProject(cmd.Context(), id.UserID, args[0]); err != nil {
				return err
			}
			if err := a.store.DeleteProject(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.printf("Deleted project %s\n", args[0])
			return nil
		},
	}
}
