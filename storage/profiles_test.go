package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"firetrack/domain"
)

func TestCreateUserProfileRedisFallback(t *testing.T) {
	s, m := newTestStore(t)
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	m.SetTime(now)
	ctx := context.Background()

	p, err := s.CreateUserProfile(ctx, "u1", domain.ProfileFields{DisplayName: "Ada", Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	if !p.CreatedAt.Equal(now) {
		t.Fatalf("createdAt = %v, want %v", p.CreatedAt, now)
	}
	got, err := s.GetUserProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if got.DisplayName != "Ada" || got.Email != "ada@example.com" || !got.CreatedAt.Equal(now) {
		t.Fatalf("unexpected profile: %+v", got)
	}
	_, err = s.GetUserProfile(ctx, "u2")
	if !domain.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if err.Error() != "user u2 not found" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

type stubTable struct {
	upsert func(ctx context.Context, entity []byte, opts *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
	get    func(ctx context.Context, pk, rk string, opts *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
}

func (s stubTable) UpsertEntity(ctx context.Context, entity []byte, opts *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error) {
	return s.upsert(ctx, entity, opts)
}

func (s stubTable) GetEntity(ctx context.Context, pk, rk string, opts *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
	return s.get(ctx, pk, rk, opts)
}

func TestTableProfilesRoundTrip(t *testing.T) {
	var stored []byte
	table := stubTable{
		upsert: func(_ context.Context, entity []byte, opts *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error) {
			if opts == nil || opts.UpdateMode != aztables.UpdateModeReplace {
				t.Fatalf("expected replace mode upsert")
			}
			stored = entity
			return aztables.UpsertEntityResponse{}, nil
		},
		get: func(_ context.Context, pk, rk string, _ *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
			if pk != "profiles" || rk != "u1" {
				t.Fatalf("unexpected keys %s/%s", pk, rk)
			}
			return aztables.GetEntityResponse{Value: stored}, nil
		},
	}
	tp := &TableProfiles{table: table}
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	in := domain.UserProfile{UserID: "u1", DisplayName: "Ada", Email: "ada@example.com", CreatedAt: now}
	if err := tp.UpsertProfile(context.Background(), in); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(stored, &raw); err != nil {
		t.Fatalf("entity json: %v", err)
	}
	if raw["CreatedAt@odata.type"] != "Edm.DateTime" {
		t.Fatalf("missing edm type annotation: %v", raw)
	}

	out, err := tp.GetProfile(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if out.UserID != in.UserID || out.DisplayName != in.DisplayName || out.Email != in.Email || !out.CreatedAt.Equal(in.CreatedAt) {
		t.Fatalf("round trip mismatch: %+v vs %+v", out, in)
	}
}

func TestTableProfilesNotFound(t *testing.T) {
	table := stubTable{
		get: func(context.Context, string, string, *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
			return aztables.GetEntityResponse{}, &azcore.ResponseError{StatusCode: http.StatusNotFound}
		},
	}
	tp := &TableProfiles{table: table}
	if _, err := tp.GetProfile(context.Background(), "u1"); !domain.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestCreateUserProfileWrapsStoreFailure(t *testing.T) {
	boom := errors.New("table down")
	table := stubTable{
		upsert: func(context.Context, []byte, *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error) {
			return aztables.UpsertEntityResponse{}, boom
		},
	}
	s, _ := newTestStore(t, WithProfiles(&TableProfiles{table: table}))
	_, err := s.CreateUserProfile(context.Background(), "u1", domain.ProfileFields{})
	var we *domain.WriteError
	if !errors.As(err, &we) || !errors.Is(err, boom) {
		t.Fatalf("expected WriteError wrapping cause, got %v", err)
	}
}
