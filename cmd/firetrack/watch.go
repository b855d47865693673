package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"firetrack/domain"
	"firetrack/subscription"
	"firetrack/view"
)

const sessionPollInterval = 2 * time.Second

func newWatchCmd(a *app) *cobra.Command {
	var sortMode string
	cmd := &cobra.Command{
		Use:   "watch [project-id]",
		Short: "Follow your project list, or one project, as it changes",
		Long: "Prints a new snapshot after every committed change. Stops on interrupt, " +
			"when the project is deleted, or when the session signs out.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.user()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			if len(args) == 0 {
				ctrl := subscription.NewOwnerController(a.store, id.UserID, a.logger)
				return follow(ctx, a, ctrl, func(list []domain.Project) error {
					return view.Projects(a.out, a.format, list)
				})
			}
			projectID := args[0]
			mode := domain.ParseSortMode(sortMode)
			ctrl := subscription.NewProjectController(a.store, projectID, a.logger)
			return follow(ctx, a, ctrl, func(p domain.Project) error {
				if p.OwnerID != id.UserID {
					return &domain.NotFoundError{ID: projectID}
				}
				return view.Project(a.out, a.format, p, mode)
			})
		},
	}
	cmd.Flags().StringVar(&sortMode, "sort", string(domain.SortCreatedAt), "task order: createdAt|alphabetical|completed")
	return cmd
}

// follow prints every snapshot of ctrl until ctx ends, the subscription fails
// or the session signs out. Snapshots arriving while one is printed are
// coalesced to the latest.
func follow[T any](ctx context.Context, a *app, ctrl *subscription.Controller[T], show func(T) error) error {
	changed, stopWatch := a.sess.Watch()
	defer stopWatch()

	wake := make(chan struct{}, 1)
	if err := ctrl.Start(ctx, func(subscription.Update[T]) {
		select {
		case wake <- struct{}{}:
		default:
		}
	}); err != nil {
		return err
	}
	defer ctrl.Close()

	poll := time.NewTicker(sessionPollInterval)
	defer poll.Stop()

	printed := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			if _, ok := a.sess.Current(); !ok {
				a.printf("Signed out; stopping.\n")
				return nil
			}
		case <-poll.C:
			// Another process may have logged out.
			if _, ok, err := a.files.Load(); err == nil && !ok {
				if err := a.sess.SignOut(ctx); err != nil {
					a.logger.WithError(err).Warn("sign out")
				}
			}
		case <-wake:
			switch ctrl.State() {
			case subscription.Errored:
				return ctrl.Err()
			case subscription.Active:
				snap, _ := ctrl.Snapshot()
				if printed > 0 {
					a.printf("\n--- %s ---\n", time.Now().Format(time.TimeOnly))
				}
				if err := show(snap); err != nil {
					return err
				}
				printed++
			}
		}
	}
}
