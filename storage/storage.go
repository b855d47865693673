package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"firetrack/domain"
	"firetrack/internal/consts"
)

const (
	opCreate = "create project"
	opUpdate = "update project"
	opUnion  = "union task"
	opRemove = "remove task"
	opDelete = "delete project"

	// maxTxAttempts bounds optimistic retries when WATCH detects a concurrent commit.
	maxTxAttempts = 32
)

var errTooManyRetries = errors.New("too many concurrent writers")

// Store is the gateway to the remote document store. Every project is one
// JSON document in Redis; an owner index orders project ids by creation time
// and each commit is published on the document's channel inside the same
// MULTI block, so subscribers observe commits in order.
type Store struct {
	rc       *redis.Client
	profiles ProfileStore
	feed     ChangeFeed
	logger   *log.Logger
	newID    func() string
}

// Option configures a Store.
type Option func(*Store)

// WithProfiles overrides the Redis hash profile store.
func WithProfiles(p ProfileStore) Option { return func(s *Store) { s.profiles = p } }

// WithChangeFeed offers every committed change to f.
func WithChangeFeed(f ChangeFeed) Option { return func(s *Store) { s.feed = f } }

func WithLogger(l *log.Logger) Option { return func(s *Store) { s.logger = l } }

// WithIDGenerator replaces uuid.NewString for project ids.
func WithIDGenerator(fn func() string) Option { return func(s *Store) { s.newID = fn } }

// New creates a Store on top of rc.
func New(rc *redis.Client, opts ...Option) *Store {
	if rc == nil {
		panic("storage: redis client is nil")
	}
	s := &Store{rc: rc, logger: log.StandardLogger(), newID: uuid.NewString}
	for _, opt := range opts {
		opt(s)
	}
	if s.profiles == nil {
		s.profiles = NewRedisProfiles(rc)
	}
	return s
}

// envelope is the payload published on a project channel. Project is omitted
// for deletions and for owner list notifications.
type envelope struct {
	Kind    domain.ChangeKind `json:"kind"`
	ID      string            `json:"id"`
	Version int64             `json:"version,omitempty"`
	Project *domain.Project   `json:"project,omitempty"`
}

func encodeProject(p domain.Project) ([]byte, error) {
	if p.Tasks == nil {
		p.Tasks = []domain.Task{}
	}
	return sonic.Marshal(p)
}

func decodeProject(raw []byte) (domain.Project, error) {
	var p domain.Project
	if err := sonic.Unmarshal(raw, &p); err != nil {
		return domain.Project{}, fmt.Errorf("decode project: %w", err)
	}
	if p.Tasks == nil {
		p.Tasks = []domain.Task{}
	}
	return p, nil
}

func encodeEnvelope(kind domain.ChangeKind, p domain.Project, withDoc bool) (string, error) {
	env := envelope{Kind: kind, ID: p.ID, Version: p.Version}
	if withDoc {
		if p.Tasks == nil {
			p.Tasks = []domain.Task{}
		}
		env.Project = &p
	}
	return sonic.MarshalString(env)
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(consts.TracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func writeErr(op, id string, err error) error {
	var nf *domain.NotFoundError
	if errors.As(err, &nf) {
		return nf
	}
	var we *domain.WriteError
	if errors.As(err, &we) {
		return we
	}
	return &domain.WriteError{Op: op, ID: id, Err: err}
}

// Ping checks connectivity to Redis.
func (s *Store) Ping(ctx context.Context) error {
	return s.rc.Ping(ctx).Err()
}

// CreateProject stores a new empty project for ownerID and returns its id.
// createdAt comes from the Redis server clock.
func (s *Store) CreateProject(ctx context.Context, ownerID string, fields domain.ProjectFields) (id string, err error) {
	ctx, span := startSpan(ctx, "firetrack.storage.create_project", attribute.String("firetrack.owner_id", ownerID))
	defer func() { endSpan(span, err) }()

	if ownerID == "" {
		return "", &domain.WriteError{Op: opCreate, Err: errors.New("missing owner id")}
	}
	now, err := s.rc.Time(ctx).Result()
	if err != nil {
		return "", &domain.WriteError{Op: opCreate, Err: err}
	}
	p := domain.Project{
		ID:          s.newID(),
		OwnerID:     ownerID,
		Title:       fields.Title,
		Description: fields.Description,
		CreatedAt:   domain.StampTime(now),
		Tasks:       []domain.Task{},
		Version:     1,
	}
	doc, err := encodeProject(p)
	if err != nil {
		return "", &domain.WriteError{Op: opCreate, ID: p.ID, Err: err}
	}
	note, err := encodeEnvelope(domain.ChangeCreated, p, true)
	if err != nil {
		return "", &domain.WriteError{Op: opCreate, ID: p.ID, Err: err}
	}
	listNote, err := encodeEnvelope(domain.ChangeCreated, p, false)
	if err != nil {
		return "", &domain.WriteError{Op: opCreate, ID: p.ID, Err: err}
	}
	_, err = s.rc.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, consts.ProjectKey(p.ID), doc, 0)
		pipe.ZAdd(ctx, consts.OwnerIndexKey(ownerID), redis.Z{Score: float64(p.CreatedAt.UnixMilli()), Member: p.ID})
		pipe.Publish(ctx, consts.ProjectChannel(p.ID), note)
		pipe.Publish(ctx, consts.OwnerChannel(ownerID), listNote)
		return nil
	})
	if err != nil {
		return "", &domain.WriteError{Op: opCreate, ID: p.ID, Err: err}
	}
	span.SetAttributes(attribute.String("firetrack.project_id", p.ID))
	s.emit(domain.Change{ProjectID: p.ID, OwnerID: ownerID, Kind: domain.ChangeCreated, Version: p.Version, At: p.CreatedAt})
	s.logger.WithFields(log.Fields{"project": p.ID, "owner": ownerID}).Debug("project created")
	return p.ID, nil
}

// GetProject reads one project document.
func (s *Store) GetProject(ctx context.Context, id string) (p domain.Project, err error) {
	ctx, span := startSpan(ctx, "firetrack.storage.get_project", attribute.String("firetrack.project_id", id))
	defer func() { endSpan(span, err) }()

	raw, err := s.rc.Get(ctx, consts.ProjectKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Project{}, &domain.NotFoundError{ID: id}
	}
	if err != nil {
		return domain.Project{}, fmt.Errorf("get project %s: %w", id, err)
	}
	return decodeProject(raw)
}

// ListProjectsByOwner returns the owner's projects, newest first.
func (s *Store) ListProjectsByOwner(ctx context.Context, ownerID string) (out []domain.Project, err error) {
	ctx, span := startSpan(ctx, "firetrack.storage.list_projects", attribute.String("firetrack.owner_id", ownerID))
	defer func() { endSpan(span, err) }()

	ids, err := s.rc.ZRevRange(ctx, consts.OwnerIndexKey(ownerID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list projects %s: %w", ownerID, err)
	}
	out = []domain.Project{}
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = consts.ProjectKey(id)
	}
	vals, err := s.rc.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list projects %s: %w", ownerID, err)
	}
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// Index entry without a document; a delete is in flight.
			continue
		}
		p, err := decodeProject([]byte(raw))
		if err != nil {
			s.logger.WithError(err).WithField("project", ids[i]).Warn("skipping unreadable project")
			continue
		}
		out = append(out, p)
	}
	span.SetAttributes(attribute.Int("firetrack.projects_returned", len(out)))
	return out, nil
}

// UpdateProject merges the supplied fields into the stored document.
func (s *Store) UpdateProject(ctx context.Context, id string, upd domain.ProjectUpdate) (p domain.Project, err error) {
	ctx, span := startSpan(ctx, "firetrack.storage.update_project",
		attribute.String("firetrack.project_id", id),
		attribute.Bool("firetrack.version_checked", upd.IfVersion != 0))
	defer func() { endSpan(span, err) }()

	kind := domain.ChangeUpdated
	if upd.TasksOnly() {
		kind = domain.ChangeTasksUpdated
	}
	p, err = s.mutate(ctx, id, kind, func(cur *domain.Project) (bool, error) {
		if upd.IfVersion != 0 && cur.Version != upd.IfVersion {
			return false, domain.ErrConcurrencyConflict
		}
		if upd.Empty() {
			return false, nil
		}
		upd.ApplyTo(cur)
		return true, nil
	})
	if err != nil {
		return domain.Project{}, writeErr(opUpdate, id, err)
	}
	return p, nil
}

// ReplaceTasks overwrites the whole task array. A zero ifVersion makes the
// write unconditional.
func (s *Store) ReplaceTasks(ctx context.Context, id string, tasks []domain.Task, ifVersion int64) (domain.Project, error) {
	cp := domain.CloneTasks(tasks)
	return s.UpdateProject(ctx, id, domain.ProjectUpdate{Tasks: &cp, IfVersion: ifVersion})
}

// ArrayUnionTask appends task unless an element equal by value is already
// present.
func (s *Store) ArrayUnionTask(ctx context.Context, id string, task domain.Task) (p domain.Project, err error) {
	ctx, span := startSpan(ctx, "firetrack.storage.union_task",
		attribute.String("firetrack.project_id", id),
		attribute.String("firetrack.task_id", task.TaskID))
	defer func() { endSpan(span, err) }()

	p, err = s.mutate(ctx, id, domain.ChangeTasksUpdated, func(cur *domain.Project) (bool, error) {
		for _, t := range cur.Tasks {
			if t.Equal(task) {
				return false, nil
			}
		}
		cur.Tasks = append(cur.Tasks, task)
		return true, nil
	})
	if err != nil {
		return domain.Project{}, writeErr(opUnion, id, err)
	}
	return p, nil
}

// ArrayRemoveTask removes every element equal by value to task. Nothing is
// written when no element matches.
func (s *Store) ArrayRemoveTask(ctx context.Context, id string, task domain.Task) (p domain.Project, err error) {
	ctx, span := startSpan(ctx, "firetrack.storage.remove_task",
		attribute.String("firetrack.project_id", id),
		attribute.String("firetrack.task_id", task.TaskID))
	defer func() { endSpan(span, err) }()

	removed := 0
	p, err = s.mutate(ctx, id, domain.ChangeTasksUpdated, func(cur *domain.Project) (bool, error) {
		kept := make([]domain.Task, 0, len(cur.Tasks))
		removed = 0
		for _, t := range cur.Tasks {
			if t.Equal(task) {
				removed++
				continue
			}
			kept = append(kept, t)
		}
		if removed == 0 {
			return false, nil
		}
		cur.Tasks = kept
		return true, nil
	})
	if err != nil {
		return domain.Project{}, writeErr(opRemove, id, err)
	}
	span.SetAttributes(attribute.Int("firetrack.tasks_removed", removed))
	return p, nil
}

// mutate runs fn against the current document under WATCH and commits the
// result in one MULTI block together with its notifications. fn reports
// whether it changed the document; unchanged documents are not written.
func (s *Store) mutate(ctx context.Context, id string, kind domain.ChangeKind, fn func(*domain.Project) (bool, error)) (domain.Project, error) {
	key := consts.ProjectKey(id)
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		var (
			out     domain.Project
			changed bool
		)
		err := s.rc.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return &domain.NotFoundError{ID: id}
			}
			if err != nil {
				return err
			}
			cur, err := decodeProject(raw)
			if err != nil {
				return err
			}
			ok, err := fn(&cur)
			if err != nil {
				return err
			}
			if !ok {
				out = cur
				return nil
			}
			cur.Version++
			doc, err := encodeProject(cur)
			if err != nil {
				return err
			}
			note, err := encodeEnvelope(kind, cur, true)
			if err != nil {
				return err
			}
			listNote, err := encodeEnvelope(kind, cur, false)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, doc, 0)
				pipe.Publish(ctx, consts.ProjectChannel(id), note)
				pipe.Publish(ctx, consts.OwnerChannel(cur.OwnerID), listNote)
				return nil
			})
			if err != nil {
				return err
			}
			out = cur
			changed = true
			return nil
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return domain.Project{}, err
		}
		if changed {
			s.emit(domain.Change{ProjectID: id, OwnerID: out.OwnerID, Kind: kind, Version: out.Version})
		}
		return out, nil
	}
	return domain.Project{}, errTooManyRetries
}

// DeleteProject removes the document and its index entry. Deleting a missing
// project succeeds.
func (s *Store) DeleteProject(ctx context.Context, id string) (err error) {
	ctx, span := startSpan(ctx, "firetrack.storage.delete_project", attribute.String("firetrack.project_id", id))
	defer func() { endSpan(span, err) }()

	key := consts.ProjectKey(id)
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		var deleted *domain.Project
		err = s.rc.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return err
			}
			cur, err := decodeProject(raw)
			if err != nil {
				return err
			}
			cur.Version++
			note, err := encodeEnvelope(domain.ChangeDeleted, cur, false)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.ZRem(ctx, consts.OwnerIndexKey(cur.OwnerID), id)
				pipe.Publish(ctx, consts.ProjectChannel(id), note)
				pipe.Publish(ctx, consts.OwnerChannel(cur.OwnerID), note)
				return nil
			})
			if err != nil {
				return err
			}
			deleted = &cur
			return nil
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return &domain.WriteError{Op: opDelete, ID: id, Err: err}
		}
		if deleted != nil {
			s.emit(domain.Change{ProjectID: id, OwnerID: deleted.OwnerID, Kind: domain.ChangeDeleted, Version: deleted.Version})
			s.logger.WithField("project", id).Debug("project deleted")
		}
		return nil
	}
	return &domain.WriteError{Op: opDelete, ID: id, Err: errTooManyRetries}
}

func (s *Store) emit(ch domain.Change) {
	if s.feed == nil {
		return
	}
	if ch.At.IsZero() {
		ch.At = time.Now().UTC()
	}
	if err := s.feed.Publish(ch); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{"project": ch.ProjectID, "kind": ch.Kind}).Warn("change feed dropped change")
	}
}
