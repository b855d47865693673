package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"firetrack/domain"
	"firetrack/internal/config"
	"firetrack/planner"
	"firetrack/session"
	"firetrack/storage"
	"firetrack/view"
)

var errNotSignedIn = errors.New("not signed in; run `firetrack login` first")

type options struct {
	redisConn    string
	sessionPath  string
	output       string
	removal      string
	versionCheck bool
	debug        bool
}

// app holds what the commands share. The store is connected on first use so
// commands that only touch the session file work offline.
type app struct {
	opts   options
	logger *log.Logger
	out    io.Writer
	format view.Format

	files *session.FileStore
	sess  *session.Session

	rc      *redis.Client
	store   *storage.Store
	planner *planner.Planner
}

func newRootCmd() (*cobra.Command, func()) {
	a := &app{}
	root := &cobra.Command{
		Use:           "firetrack",
		Short:         "Projects and tasks with live updates",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.opts.redisConn, "redis", config.String("REDIS_CONNECTION_STRING", "localhost:6379"), "redis URL or host:port,password=...,ssl=true")
	pf.StringVar(&a.opts.sessionPath, "session", "", "session file (default: user config dir)")
	pf.StringVarP(&a.opts.output, "output", "o", "text", "output format: text|json|yaml")
	pf.StringVar(&a.opts.removal, "removal-mode", config.String("REMOVAL_MODE", planner.RemoveByValue.String()), "task removal: by-value|by-id")
	pf.BoolVar(&a.opts.versionCheck, "version-check", config.Bool("VERSION_CHECK"), "reject task replaces made from a stale snapshot")
	pf.BoolVar(&a.opts.debug, "debug", config.Bool("DEBUG"), "verbose logging")

	root.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newTokenCmd(a),
		newProjectsCmd(a),
		newTasksCmd(a),
		newWatchCmd(a),
	)
	return root, a.close
}

func (a *app) init(cmd *cobra.Command) error {
	a.logger = log.New()
	a.logger.SetOutput(cmd.ErrOrStderr())
	a.logger.SetLevel(log.WarnLevel)
	if a.opts.debug {
		a.logger.SetLevel(log.DebugLevel)
	}
	a.out = cmd.OutOrStdout()

	f, err := view.ParseFormat(a.opts.output)
	if err != nil {
		return err
	}
	a.format = f

	path := a.opts.sessionPath
	if path == "" {
		if path, err = session.DefaultPath(); err != nil {
			return fmt.Errorf("session path: %w", err)
		}
	}
	a.files = session.NewFileStore(path)
	a.sess = session.New(func(context.Context, session.Identity) error {
		return a.files.Remove()
	})
	id, ok, err := a.files.Load()
	if err != nil {
		return err
	}
	if ok {
		a.sess.SignIn(id)
	}
	return nil
}

func (a *app) connect() error {
	if a.store != nil {
		return nil
	}
	opts, err := config.RedisOptions(a.opts.redisConn)
	if err != nil {
		return err
	}
	removal, err := planner.ParseRemovalMode(a.opts.removal)
	if err != nil {
		return err
	}
	a.rc = redis.NewClient(opts)
	a.store = storage.New(a.rc, storage.WithLogger(a.logger))
	plannerOpts := []planner.Option{planner.WithRemovalMode(removal), planner.WithLogger(a.logger)}
	if a.opts.versionCheck {
		plannerOpts = append(plannerOpts, planner.WithVersionCheck())
	}
	a.planner = planner.New(a.store, plannerOpts...)
	return nil
}

func (a *app) close() {
	if a.rc != nil {
		_ = a.rc.Close()
	}
}

// user returns the signed-in identity and a connected store.
func (a *app) user() (session.Identity, error) {
	id, ok := a.sess.Current()
	if !ok {
		return session.Identity{}, errNotSignedIn
	}
	if err := a.connect(); err != nil {
		return session.Identity{}, err
	}
	return id, nil
}

// ownedProject loads id, treating projects of other owners as missing.
func (a *app) ownedProject(ctx context.Context, userID, id string) (domain.Project, error) {
	p, err := a.store.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	if p.OwnerID != userID {
		return domain.Project{}, &domain.NotFoundError{ID: id}
	}
	return p, nil
}

func (a *app) printf(format string, args ...any) {
	if a.format != view.FormatText {
		return
	}
	fmt.Fprintf(a.out, format, args...)
}

func main() {
	root, cleanup := newRootCmd()
	err := root.Execute()
	cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
