package api

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/redis/go-redis/v9"
)

func TestBearerTokenFromString(t *testing.T) {
	cases := []struct {
		in   string
		want string
		err  error
	}{
		{"Bearer a.b.c", "a.b.c", nil},
		{"  Bearer a.b.c ", "a.b.c", nil},
		{"", "", errMissingAuthorization},
		{"Basic a.b.c", "", errBadAuthorization},
		{"Bearer ", "", errBadAuthorization},
		{"Bearer abc", "", errBadAuthorization},
	}
	for _, tc := range cases {
		got, err := bearerTokenFromString(tc.in)
		if err != tc.err {
			t.Fatalf("%q: expected err %v got %v", tc.in, tc.err, err)
		}
		if string(got) != tc.want {
			t.Fatalf("%q: expected %q got %q", tc.in, tc.want, got)
		}
	}
}

func TestAuthenticateHS256(t *testing.T) {
	a := NewAuth(nil, "aud", "iss", WithHS256Secret([]byte(testSecret)))
	sign := func(claims jwt.MapClaims, secret string) string {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return "Bearer " + tok
	}
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	valid := jwt.MapClaims{"sub": "u1", "aud": "aud", "iss": "iss", "exp": exp.Unix()}

	p, err := a.Authenticate(sign(valid, testSecret))
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if p.UserID != "u1" || !p.ExpiresAt.Equal(exp) || p.Token == "" {
		t.Fatalf("unexpected principal %+v", p)
	}
	if id, err := a.UserIDFromAuthHeader(sign(valid, testSecret)); err != nil || id != "u1" {
		t.Fatalf("user id %q err %v", id, err)
	}

	rejected := map[string]string{
		"wrong secret": sign(valid, "other"),
		"expired":      sign(jwt.MapClaims{"sub": "u1", "aud": "aud", "iss": "iss", "exp": time.Now().Add(-time.Hour).Unix()}, testSecret),
		"no sub":       sign(jwt.MapClaims{"aud": "aud", "iss": "iss", "exp": exp.Unix()}, testSecret),
		"wrong aud":    sign(jwt.MapClaims{"sub": "u1", "aud": "x", "iss": "iss", "exp": exp.Unix()}, testSecret),
		"wrong issuer": sign(jwt.MapClaims{"sub": "u1", "aud": "aud", "iss": "x", "exp": exp.Unix()}, testSecret),
	}
	for name, h := range rejected {
		if _, err := a.Authenticate(h); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestRS256WithoutJWKSFails(t *testing.T) {
	a := NewAuth(nil, "", "")
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(time.Hour).Unix()}).
		SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := a.Authenticate("Bearer " + tok); err == nil {
		t.Fatalf("HS256 token accepted by RS256 verifier")
	}
}

func TestRedisDeduper(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	d := NewRedisDeduper(rc, time.Minute)
	ctx := context.Background()

	if existing, fresh, err := d.Reserve(ctx, "u1", "k"); err != nil || !fresh || existing != "" {
		t.Fatalf("first reserve: %q %v %v", existing, fresh, err)
	}
	if existing, fresh, err := d.Reserve(ctx, "u1", "k"); err != nil || fresh || existing != "" {
		t.Fatalf("pending reserve: %q %v %v", existing, fresh, err)
	}
	if _, fresh, _ := d.Reserve(ctx, "u2", "k"); !fresh {
		t.Fatalf("keys must be scoped per user")
	}
	if err := d.Commit(ctx, "u1", "k", "p1"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if existing, fresh, _ := d.Reserve(ctx, "u1", "k"); fresh || existing != "p1" {
		t.Fatalf("committed reserve: %q %v", existing, fresh)
	}
	if !m.Exists("u1:idem:k") {
		t.Fatalf("unexpected key layout: %v", m.Keys())
	}

	if err := d.Release(ctx, "u1", "k"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, fresh, _ := d.Reserve(ctx, "u1", "k"); !fresh {
		t.Fatalf("released key must be reusable")
	}

	m.FastForward(2 * time.Minute)
	if _, fresh, _ := d.Reserve(ctx, "u1", "k"); !fresh {
		t.Fatalf("expired key must be reusable")
	}
}
