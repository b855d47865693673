package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"firetrack/domain"
	"firetrack/internal/consts"
)

const (
	edmDateTime = "Edm.DateTime"
	opProfile   = "create user profile"
)

// ProfileStore persists user profiles.
type ProfileStore interface {
	UpsertProfile(ctx context.Context, profile domain.UserProfile) error
	GetProfile(ctx context.Context, userID string) (domain.UserProfile, error)
}

// CreateUserProfile writes the profile of userID, stamping createdAt from
// the store clock. An existing profile is overwritten.
func (s *Store) CreateUserProfile(ctx context.Context, userID string, fields domain.ProfileFields) (p domain.UserProfile, err error) {
	ctx, span := startSpan(ctx, "firetrack.storage.create_user_profile", attribute.String("firetrack.user_id", userID))
	defer func() { endSpan(span, err) }()

	if userID == "" {
		return domain.UserProfile{}, &domain.WriteError{Op: opProfile, Err: errors.New("missing user id")}
	}
	now, err := s.rc.Time(ctx).Result()
	if err != nil {
		return domain.UserProfile{}, &domain.WriteError{Op: opProfile, ID: userID, Err: err}
	}
	p = domain.UserProfile{
		UserID:      userID,
		DisplayName: fields.DisplayName,
		Email:       fields.Email,
		CreatedAt:   domain.StampTime(now),
	}
	if err := s.profiles.UpsertProfile(ctx, p); err != nil {
		return domain.UserProfile{}, &domain.WriteError{Op: opProfile, ID: userID, Err: err}
	}
	return p, nil
}

// GetUserProfile reads a stored profile.
func (s *Store) GetUserProfile(ctx context.Context, userID string) (domain.UserProfile, error) {
	return s.profiles.GetProfile(ctx, userID)
}

// RedisProfiles keeps profiles in Redis hashes. It is used when no table
// storage is configured.
type RedisProfiles struct {
	rc *redis.Client
}

func NewRedisProfiles(rc *redis.Client) *RedisProfiles {
	return &RedisProfiles{rc: rc}
}

func (r *RedisProfiles) UpsertProfile(ctx context.Context, p domain.UserProfile) error {
	return r.rc.HSet(ctx, consts.UserProfileKey(p.UserID),
		"displayName", p.DisplayName,
		"email", p.Email,
		"createdAt", p.CreatedAt.Format(time.RFC3339Nano),
	).Err()
}

func (r *RedisProfiles) GetProfile(ctx context.Context, userID string) (domain.UserProfile, error) {
	vals, err := r.rc.HGetAll(ctx, consts.UserProfileKey(userID)).Result()
	if err != nil {
		return domain.UserProfile{}, err
	}
	if len(vals) == 0 {
		return domain.UserProfile{}, &domain.NotFoundError{Kind: "user", ID: userID}
	}
	p := domain.UserProfile{UserID: userID, DisplayName: vals["displayName"], Email: vals["email"]}
	if raw := vals["createdAt"]; raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return domain.UserProfile{}, fmt.Errorf("profile %s: bad createdAt: %w", userID, err)
		}
		p.CreatedAt = ts
	}
	return p, nil
}

// profileEntity is the table row of a profile. Rows are partitioned under a
// single key with the user id as row key.
type profileEntity struct {
	PartitionKey  string `json:"PartitionKey"`
	RowKey        string `json:"RowKey"`
	DisplayName   string `json:"DisplayName"`
	Email         string `json:"Email"`
	CreatedAt     string `json:"CreatedAt"`
	CreatedAtType string `json:"CreatedAt@odata.type,omitempty"`
}

func newProfileEntity(p domain.UserProfile) profileEntity {
	return profileEntity{
		PartitionKey:  consts.ProfilesPartition,
		RowKey:        p.UserID,
		DisplayName:   p.DisplayName,
		Email:         p.Email,
		CreatedAt:     p.CreatedAt.UTC().Format(time.RFC3339Nano),
		CreatedAtType: edmDateTime,
	}
}

func (e profileEntity) profile() (domain.UserProfile, error) {
	p := domain.UserProfile{UserID: e.RowKey, DisplayName: e.DisplayName, Email: e.Email}
	if e.CreatedAt != "" {
		ts, err := time.Parse(time.RFC3339Nano, e.CreatedAt)
		if err != nil {
			return domain.UserProfile{}, fmt.Errorf("profile %s: bad CreatedAt: %w", e.RowKey, err)
		}
		p.CreatedAt = ts.UTC()
	}
	return p, nil
}

// tableClient is the subset of *aztables.Client used by TableProfiles.
type tableClient interface {
	UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
}

// TableProfiles stores profiles in Azure Table Storage.
type TableProfiles struct {
	table tableClient
}

// TableClientOptions are the retry settings shared by every table client.
func TableClientOptions() *aztables.ClientOptions {
	return &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

// NewTableProfiles connects to the users table.
func NewTableProfiles(connStr, table string) (*TableProfiles, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, TableClientOptions())
	if err != nil {
		return nil, err
	}
	return &TableProfiles{table: svc.NewClient(table)}, nil
}

func (t *TableProfiles) UpsertProfile(ctx context.Context, p domain.UserProfile) error {
	payload, err := json.Marshal(newProfileEntity(p))
	if err != nil {
		return err
	}
	_, err = t.table.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}

func (t *TableProfiles) GetProfile(ctx context.Context, userID string) (domain.UserProfile, error) {
	resp, err := t.table.GetEntity(ctx, consts.ProfilesPartition, userID, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return domain.UserProfile{}, &domain.NotFoundError{Kind: "user", ID: userID}
		}
		return domain.UserProfile{}, err
	}
	var ent profileEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.UserProfile{}, err
	}
	return ent.profile()
}
