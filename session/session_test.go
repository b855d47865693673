package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestSessionSignInOutNotifiesWatchers(t *testing.T) {
	var revoked []string
	s := New(func(_ context.Context, id Identity) error {
		revoked = append(revoked, id.UserID)
		return nil
	})
	ch, stop := s.Watch()
	defer stop()

	if _, ok := s.Current(); ok {
		t.Fatalf("new session must be signed out")
	}
	s.SignIn(Identity{UserID: "u1", Email: "u1@example.com"})
	select {
	case <-ch:
	default:
		t.Fatalf("sign in not broadcast")
	}
	if id, ok := s.Current(); !ok || id.UserID != "u1" {
		t.Fatalf("unexpected identity %+v/%v", id, ok)
	}

	if err := s.SignOut(context.Background()); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	select {
	case <-ch:
	default:
		t.Fatalf("sign out not broadcast")
	}
	if _, ok := s.Current(); ok {
		t.Fatalf("identity must be cleared")
	}
	if len(revoked) != 1 || revoked[0] != "u1" {
		t.Fatalf("side effect not run: %v", revoked)
	}
	if err := s.SignOut(context.Background()); !errors.Is(err, ErrNotSignedIn) {
		t.Fatalf("expected ErrNotSignedIn, got %v", err)
	}
}

func TestSessionSignOutFailureKeepsIdentity(t *testing.T) {
	boom := errors.New("revocation failed")
	s := New(func(context.Context, Identity) error { return boom })
	s.SignIn(Identity{UserID: "u1"})
	if err := s.SignOut(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected side effect error, got %v", err)
	}
	if _, ok := s.Current(); !ok {
		t.Fatalf("identity must be kept when sign out fails")
	}
}

func TestSessionStoppedWatcherIsNotNotified(t *testing.T) {
	s := New(nil)
	ch, stop := s.Watch()
	stop()
	s.SignIn(Identity{UserID: "u1"})
	select {
	case <-ch:
		t.Fatalf("stopped watcher notified")
	default:
	}
}

func TestRedisRevoker(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	r := NewRedisRevoker(client, time.Hour)
	ctx := context.Background()
	if revoked, err := r.Revoked(ctx, "tok"); err != nil || revoked {
		t.Fatalf("fresh token revoked=%v err=%v", revoked, err)
	}
	if err := r.Revoke(ctx, "tok", time.Now().Add(10*time.Minute)); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked, err := r.Revoked(ctx, "tok"); err != nil || !revoked {
		t.Fatalf("token not revoked, err=%v", err)
	}
	ttl := m.TTL(tokenKey("tok"))
	if ttl <= 0 || ttl > 10*time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}
	for _, k := range m.Keys() {
		if k == "revoked:tok" {
			t.Fatalf("raw token stored as key")
		}
	}
	m.FastForward(11 * time.Minute)
	if revoked, _ := r.Revoked(ctx, "tok"); revoked {
		t.Fatalf("revocation must expire with the token")
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.yaml")
	fs := NewFileStore(path)

	if _, ok, err := fs.Load(); err != nil || ok {
		t.Fatalf("empty store ok=%v err=%v", ok, err)
	}
	in := Identity{UserID: "u1", Email: "u1@example.com", DisplayName: "U", Token: "a.b.c"}
	if err := fs.Save(in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, ok, err := fs.Load()
	if err != nil || !ok {
		t.Fatalf("load ok=%v err=%v", ok, err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: %+v vs %+v", out, in)
	}
	if err := fs.Remove(); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := fs.Remove(); err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if _, ok, _ := fs.Load(); ok {
		t.Fatalf("identity still present after remove")
	}
}
