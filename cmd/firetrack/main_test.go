package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"firetrack/api"
	"firetrack/domain"
)

type cli struct {
	redis   string
	session string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)
	return &cli{redis: m.Addr(), session: filepath.Join(t.TempDir(), "session.yaml")}
}

func (c *cli) runCtx(ctx context.Context, args ...string) (string, error) {
	root, cleanup := newRootCmd()
	defer cleanup()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--redis", c.redis, "--session", c.session}, args...))
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func (c *cli) run(t *testing.T, args ...string) string {
	t.Helper()
	out, err := c.runCtx(context.Background(), args...)
	if err != nil {
		t.Fatalf("firetrack %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func TestCommandsRequireLogin(t *testing.T) {
	c := newCLI(t)
	if _, err := c.runCtx(context.Background(), "projects", "list"); !errors.Is(err, errNotSignedIn) {
		t.Fatalf("expected errNotSignedIn, got %v", err)
	}
	if out := c.run(t, "logout"); out != "Not signed in.\n" {
		t.Fatalf("unexpected logout output %q", out)
	}
}

func TestLoginWhoamiLogout(t *testing.T) {
	c := newCLI(t)
	c.run(t, "login", "--user", "u1", "--email", "u1@example.com", "--name", "Ada", "--token", "a.b.c", "--signup")
	if out := c.run(t, "whoami"); out != "Ada (u1) <u1@example.com>\n" {
		t.Fatalf("unexpected whoami %q", out)
	}
	if out := c.run(t, "whoami", "-o", "yaml"); strings.Contains(out, "a.b.c") {
		t.Fatalf("token printed: %q", out)
	}
	c.run(t, "logout")
	if _, err := c.runCtx(context.Background(), "whoami"); !errors.Is(err, errNotSignedIn) {
		t.Fatalf("expected errNotSignedIn after logout, got %v", err)
	}
}

func TestProjectAndTaskCommands(t *testing.T) {
	c := newCLI(t)
	c.run(t, "login", "--user", "u1")

	var created struct{ ID string }
	if err := json.Unmarshal([]byte(c.run(t, "projects", "create", "--title", "Garden", "-o", "json")), &created); err != nil || created.ID == "" {
		t.Fatalf("create: %v %+v", err, created)
	}
	id := created.ID

	var task domain.Task
	if err := json.Unmarshal([]byte(c.run(t, "tasks", "add", id, "water", "the", "roses", "-o", "json")), &task); err != nil {
		t.Fatalf("add: %v", err)
	}
	if task.Text != "water the roses" || task.TaskID == "" {
		t.Fatalf("unexpected task %+v", task)
	}
	c.run(t, "tasks", "add", id, "dig")

	c.run(t, "tasks", "toggle", id, task.TaskID)
	var tasks []domain.Task
	if err := json.Unmarshal([]byte(c.run(t, "tasks", "list", id, "--sort", "completed", "-o", "json")), &tasks); err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 2 || tasks[0].Text != "dig" || !tasks[1].Completed {
		t.Fatalf("unexpected tasks %+v", tasks)
	}

	c.run(t, "projects", "update", id, "--title", "Backyard")
	if out := c.run(t, "projects", "list"); !strings.Contains(out, "Backyard") || !strings.Contains(out, "1/2") {
		t.Fatalf("unexpected list:\n%s", out)
	}

	c.run(t, "tasks", "rm", id, task.TaskID)
	c.run(t, "projects", "delete", id)
	_, err := c.runCtx(context.Background(), "projects", "show", id)
	if !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOtherUsersProjectIsHidden(t *testing.T) {
	c := newCLI(t)
	c.run(t, "login", "--user", "owner")
	var created struct{ ID string }
	_ = json.Unmarshal([]byte(c.run(t, "projects", "create", "--title", "Mine", "-o", "json")), &created)

	c.run(t, "login", "--user", "intruder")
	if _, err := c.runCtx(context.Background(), "tasks", "add", created.ID, "x"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestWatchStopsWhenProjectIsDeleted(t *testing.T) {
	c := newCLI(t)
	c.run(t, "login", "--user", "u1")
	var created struct{ ID string }
	_ = json.Unmarshal([]byte(c.run(t, "projects", "create", "--title", "Live", "-o", "json")), &created)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := c.runCtx(ctx, "watch", created.ID)
		done <- err
	}()

	// Deleting before the watch subscribed ends it with not found as well.
	time.Sleep(100 * time.Millisecond)
	c.run(t, "projects", "delete", created.ID)

	select {
	case err := <-done:
		if !domain.IsNotFound(err) {
			t.Fatalf("expected not found, got %v", err)
		}
	case <-ctx.Done():
		t.Fatalf("watch did not stop")
	}
}

func TestTokenIsAcceptedByLocalAuth(t *testing.T) {
	c := newCLI(t)
	c.run(t, "login", "--user", "u1")
	tok := strings.TrimSpace(c.run(t, "token", "--secret", "s3cret"))
	p, err := api.NewAuth(nil, "", "", api.WithHS256Secret([]byte("s3cret"))).Authenticate("Bearer " + tok)
	if err != nil || p.UserID != "u1" {
		t.Fatalf("token rejected: %+v %v", p, err)
	}
	t.Setenv("LOCAL_AUTH_SHARED_SECRET", "")
	if _, err := c.runCtx(context.Background(), "token"); err == nil {
		t.Fatalf("token without secret must fail")
	}
}
