package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"firetrack/domain"
)

const waitTimeout = 2 * time.Second

type projectRecorder struct {
	snaps chan domain.Project
	errs  chan error
}

func newProjectRecorder() *projectRecorder {
	return &projectRecorder{snaps: make(chan domain.Project, 32), errs: make(chan error, 4)}
}

func (r *projectRecorder) onSnapshot(p domain.Project) { r.snaps <- p }
func (r *projectRecorder) onError(err error)          { r.errs <- err }

func (r *projectRecorder) next(t *testing.T) domain.Project {
	t.Helper()
	select {
	case p := <-r.snaps:
		return p
	case err := <-r.errs:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(waitTimeout):
		t.Fatalf("no snapshot within %v", waitTimeout)
	}
	return domain.Project{}
}

func (r *projectRecorder) nextErr(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.errs:
		return err
	case p := <-r.snaps:
		t.Fatalf("unexpected snapshot: %+v", p)
	case <-time.After(waitTimeout):
		t.Fatalf("no error within %v", waitTimeout)
	}
	return nil
}

func (r *projectRecorder) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case p := <-r.snaps:
		t.Fatalf("unexpected snapshot after unsubscribe: %+v", p)
	case err := <-r.errs:
		t.Fatalf("unexpected error after unsubscribe: %v", err)
	case <-time.After(d):
	}
}

func TestSubscribeProjectDeliversInitialThenCommits(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	id := mustCreate(t, s, "owner", "p")
	rec := newProjectRecorder()

	sub, err := s.SubscribeProject(ctx, id, rec.onSnapshot, rec.onError)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	first := rec.next(t)
	if first.ID != id || first.Version != 1 || len(first.Tasks) != 0 {
		t.Fatalf("unexpected initial snapshot: %+v", first)
	}

	for i, tk := range []domain.Task{task("a", "a", false), task("b", "b", false)} {
		if _, err := s.ArrayUnionTask(ctx, id, tk); err != nil {
			t.Fatalf("union %d: %v", i, err)
		}
	}
	second := rec.next(t)
	third := rec.next(t)
	if second.Version != 2 || len(second.Tasks) != 1 {
		t.Fatalf("unexpected second snapshot: %+v", second)
	}
	if third.Version != 3 || len(third.Tasks) != 2 {
		t.Fatalf("unexpected third snapshot: %+v", third)
	}
}

func TestSubscribeProjectSilentAfterUnsubscribe(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	id := mustCreate(t, s, "owner", "p")
	rec := newProjectRecorder()

	sub, err := s.SubscribeProject(ctx, id, rec.onSnapshot, rec.onError)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	rec.next(t)
	sub.Unsubscribe()
	sub.Unsubscribe()

	if _, err := s.ArrayUnionTask(ctx, id, task("a", "a", false)); err != nil {
		t.Fatalf("union: %v", err)
	}
	rec.quiet(t, 200*time.Millisecond)

	select {
	case <-sub.(*subscription).done:
	case <-time.After(waitTimeout):
		t.Fatalf("delivery goroutine did not exit")
	}
}

func TestSubscribeProjectUnsubscribeFromCallback(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	id := mustCreate(t, s, "owner", "p")

	var sub domain.Subscription
	ready := make(chan struct{})
	called := make(chan struct{}, 4)
	sub, err := s.SubscribeProject(ctx, id, func(domain.Project) {
		<-ready
		sub.Unsubscribe()
		called <- struct{}{}
	}, func(error) {})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	close(ready)

	select {
	case <-called:
	case <-time.After(waitTimeout):
		t.Fatalf("re-entrant unsubscribe blocked")
	}
	if _, err := s.ArrayUnionTask(ctx, id, task("a", "a", false)); err != nil {
		t.Fatalf("union: %v", err)
	}
	select {
	case <-called:
		t.Fatalf("callback fired after unsubscribe")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSubscribeProjectMissingDocument(t *testing.T) {
	s, _ := newTestStore(t)
	rec := newProjectRecorder()
	sub, err := s.SubscribeProject(context.Background(), "missing", rec.onSnapshot, rec.onError)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	err = rec.nextErr(t)
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) || nf.ID != "missing" {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	rec.quiet(t, 100*time.Millisecond)
}

func TestSubscribeProjectDeletedDocument(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	id := mustCreate(t, s, "owner", "p")
	rec := newProjectRecorder()

	sub, err := s.SubscribeProject(ctx, id, rec.onSnapshot, rec.onError)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	rec.next(t)

	if err := s.DeleteProject(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := rec.nextErr(t); !domain.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestSubscribeProjectTransportFailure(t *testing.T) {
	s, m := newTestStore(t)
	ctx := context.Background()
	id := mustCreate(t, s, "owner", "p")
	rec := newProjectRecorder()

	sub, err := s.SubscribeProject(ctx, id, rec.onSnapshot, rec.onError)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	rec.next(t)

	m.Close()
	err = rec.nextErr(t)
	var se *domain.SubscriptionError
	if !errors.As(err, &se) || se.Target != id {
		t.Fatalf("expected SubscriptionError, got %v", err)
	}
}

func TestSubscribeRequiresCallbacks(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.SubscribeProject(context.Background(), "p", nil, func(error) {}); err == nil {
		t.Fatalf("expected error for nil snapshot callback")
	}
}

func TestSubscribeProjectsByOwner(t *testing.T) {
	s, m := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m.SetTime(base)
	older := mustCreate(t, s, "owner", "older")

	lists := make(chan []domain.Project, 16)
	errs := make(chan error, 1)
	sub, err := s.SubscribeProjectsByOwner(ctx, "owner", func(ps []domain.Project) { lists <- ps }, func(err error) { errs <- err })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	next := func() []domain.Project {
		t.Helper()
		select {
		case ps := <-lists:
			return ps
		case err := <-errs:
			t.Fatalf("unexpected error: %v", err)
		case <-time.After(waitTimeout):
			t.Fatalf("no list within %v", waitTimeout)
		}
		return nil
	}

	if got := next(); len(got) != 1 || got[0].ID != older {
		t.Fatalf("unexpected initial list: %+v", got)
	}

	m.SetTime(base.Add(time.Minute))
	newer := mustCreate(t, s, "owner", "newer")
	got := next()
	if len(got) != 2 || got[0].ID != newer || got[1].ID != older {
		t.Fatalf("unexpected list after create: %+v", got)
	}

	if err := s.DeleteProject(ctx, newer); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got = next()
	if len(got) != 1 || got[0].ID != older {
		t.Fatalf("deleted project still listed: %+v", got)
	}
}
