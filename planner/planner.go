package planner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"firetrack/domain"
)

const (
	opAdd    = "add"
	opToggle = "toggle"
	opRemove = "remove"
	opApply  = "apply"

	msgAdd    = "Failed to add task"
	msgUpdate = "Failed to update task"
	msgDelete = "Failed to delete task"
)

// Store is the part of the gateway the planner writes through. Every method
// returns the document as committed.
type Store interface {
	ArrayUnionTask(ctx context.Context, projectID string, task domain.Task) (domain.Project, error)
	ArrayRemoveTask(ctx context.Context, projectID string, task domain.Task) (domain.Project, error)
	ReplaceTasks(ctx context.Context, projectID string, tasks []domain.Task, ifVersion int64) (domain.Project, error)
}

// Planner executes task mutations. Mutations of one project run one at a
// time, and each plans against the newer of the caller's snapshot and the
// last document this planner committed, so back-to-back local toggles never
// overwrite each other. Writers in other processes can still lose updates
// unless the version check is enabled.
type Planner struct {
	store        Store
	removal      RemovalMode
	checkVersion bool
	now          func() time.Time
	newID        func() string
	logger       *log.Logger
	locks        *keyedMutex

	mu      sync.Mutex
	written map[string]domain.Project
}

// Option configures a Planner.
type Option func(*Planner)

func WithRemovalMode(m RemovalMode) Option { return func(p *Planner) { p.removal = m } }

// WithVersionCheck makes whole-array replaces conditional on the snapshot
// version. A concurrent commit then fails the mutation with
// domain.ErrConcurrencyConflict instead of being overwritten.
func WithVersionCheck() Option { return func(p *Planner) { p.checkVersion = true } }

func WithClock(now func() time.Time) Option { return func(p *Planner) { p.now = now } }

func WithIDGenerator(fn func() string) Option { return func(p *Planner) { p.newID = fn } }

func WithLogger(l *log.Logger) Option { return func(p *Planner) { p.logger = l } }

// New creates a planner writing through store.
func New(store Store, opts ...Option) *Planner {
	p := &Planner{
		store:   store,
		now:     time.Now,
		newID:   uuid.NewString,
		logger:  log.StandardLogger(),
		written: make(map[string]domain.Project),
	}
	p.locks = newKeyedMutex(p.forget)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RemovalMode reports the configured removal strategy.
func (p *Planner) RemovalMode() RemovalMode { return p.removal }

// AddTask validates text and appends a new task to projectID.
func (p *Planner) AddTask(ctx context.Context, projectID, text string) (task domain.Task, err error) {
	m, ctx := startMutation(ctx, p.logger, opAdd, projectID)
	defer func() { m.End(err) }()

	patch, err := PlanAdd(projectID, text, p.newID(), p.now())
	if err != nil {
		m.SetErrorStage("plan")
		return domain.Task{}, mutationErr(opAdd, msgAdd, err)
	}
	m.SetTask(patch.Task.TaskID)
	m.SetPatch(patch)

	unlock, err := p.locks.Lock(ctx, projectID)
	if err != nil {
		m.SetErrorStage("queue")
		return domain.Task{}, mutationErr(opAdd, msgAdd, err)
	}
	defer unlock()

	if _, err := p.execute(ctx, patch); err != nil {
		m.SetErrorStage("store")
		return domain.Task{}, mutationErr(opAdd, msgAdd, err)
	}
	return patch.Task, nil
}

// ToggleTask flips the completion of taskID. snap is the caller's latest
// view of the project.
func (p *Planner) ToggleTask(ctx context.Context, snap domain.Project, taskID string) (err error) {
	m, ctx := startMutation(ctx, p.logger, opToggle, snap.ID)
	defer func() { m.End(err) }()
	m.SetTask(taskID)

	unlock, err := p.locks.Lock(ctx, snap.ID)
	if err != nil {
		m.SetErrorStage("queue")
		return mutationErr(opToggle, msgUpdate, err)
	}
	defer unlock()

	patch, err := PlanToggle(p.latest(snap), taskID, p.checkVersion)
	if err != nil {
		m.SetErrorStage("plan")
		return mutationErr(opToggle, msgUpdate, err)
	}
	m.SetPatch(patch)
	if _, err := p.execute(ctx, patch); err != nil {
		m.SetErrorStage("store")
		return mutationErr(opToggle, msgUpdate, err)
	}
	return nil
}

// RemoveTask deletes taskID using the configured removal mode.
func (p *Planner) RemoveTask(ctx context.Context, snap domain.Project, taskID string) (err error) {
	m, ctx := startMutation(ctx, p.logger, opRemove, snap.ID)
	defer func() { m.End(err) }()
	m.SetTask(taskID)
	m.SetRemovalMode(p.removal)

	unlock, err := p.locks.Lock(ctx, snap.ID)
	if err != nil {
		m.SetErrorStage("queue")
		return mutationErr(opRemove, msgDelete, err)
	}
	defer unlock()

	patch, err := PlanRemove(p.latest(snap), taskID, p.removal, p.checkVersion)
	if err != nil {
		m.SetErrorStage("plan")
		return mutationErr(opRemove, msgDelete, err)
	}
	m.SetPatch(patch)
	if _, err := p.execute(ctx, patch); err != nil {
		m.SetErrorStage("store")
		return mutationErr(opRemove, msgDelete, err)
	}
	return nil
}

// Apply executes a patch planned elsewhere, under the same per-project queue.
func (p *Planner) Apply(ctx context.Context, patch Patch) (out domain.Project, err error) {
	m, ctx := startMutation(ctx, p.logger, opApply, patch.ProjectID)
	defer func() { m.End(err) }()
	m.SetPatch(patch)

	unlock, err := p.locks.Lock(ctx, patch.ProjectID)
	if err != nil {
		m.SetErrorStage("queue")
		return domain.Project{}, mutationErr(opApply, msgUpdate, err)
	}
	defer unlock()

	out, err = p.execute(ctx, patch)
	if err != nil {
		m.SetErrorStage("store")
		return domain.Project{}, mutationErr(opApply, msgUpdate, err)
	}
	return out, nil
}

func (p *Planner) execute(ctx context.Context, patch Patch) (domain.Project, error) {
	var (
		out domain.Project
		err error
	)
	switch patch.Kind {
	case PatchUnion:
		out, err = p.store.ArrayUnionTask(ctx, patch.ProjectID, patch.Task)
	case PatchRemove:
		out, err = p.store.ArrayRemoveTask(ctx, patch.ProjectID, patch.Task)
	case PatchReplace:
		out, err = p.store.ReplaceTasks(ctx, patch.ProjectID, patch.Tasks, patch.IfVersion)
	default:
		return domain.Project{}, fmt.Errorf("unknown patch kind %s", patch.Kind)
	}
	if err != nil {
		if domain.IsNotFound(err) {
			p.forget(patch.ProjectID)
		}
		return domain.Project{}, err
	}
	p.remember(out)
	return out, nil
}

// latest returns whichever of snap and the last committed write is newer.
func (p *Planner) latest(snap domain.Project) domain.Project {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.written[snap.ID]
	if !ok {
		return snap
	}
	if w.Version > snap.Version {
		return w
	}
	// The caller has caught up; its snapshot may include foreign writes.
	delete(p.written, snap.ID)
	return snap
}

func (p *Planner) remember(proj domain.Project) {
	if proj.ID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.written[proj.ID]; ok && cur.Version >= proj.Version {
		return
	}
	p.written[proj.ID] = proj.Clone()
}

func (p *Planner) forget(projectID string) {
	p.mu.Lock()
	delete(p.written, projectID)
	p.mu.Unlock()
}

func mutationErr(op, msg string, err error) error {
	var me *domain.MutationError
	if errors.As(err, &me) {
		return me
	}
	return &domain.MutationError{Operation: op, Message: msg, Err: err}
}
