package config

import (
	"testing"
	"time"
)

func TestRedisOptionsURL(t *testing.T) {
	opts, err := RedisOptions("redis://:secret@localhost:6380/2")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.Addr != "localhost:6380" || opts.Password != "secret" || opts.DB != 2 {
		t.Fatalf("unexpected options: %+v", opts)
	}
}

func TestRedisOptionsAzureString(t *testing.T) {
	opts, err := RedisOptions("cache.example.net:6380,password=p=w,ssl=True,abortConnect=False")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.Addr != "cache.example.net:6380" {
		t.Fatalf("unexpected addr %q", opts.Addr)
	}
	if opts.Password != "p=w" {
		t.Fatalf("unexpected password %q", opts.Password)
	}
	if opts.TLSConfig == nil {
		t.Fatalf("expected tls config")
	}
}

func TestRedisOptionsRejectsEmpty(t *testing.T) {
	if _, err := RedisOptions("  "); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := RedisOptions("password=x"); err == nil {
		t.Fatalf("expected error for missing host")
	}
}

func TestIntAndDuration(t *testing.T) {
	t.Setenv("FEED_WORKERS", "8")
	t.Setenv("FEED_HANDOFF_TIMEOUT", "25ms")
	t.Setenv("FEED_BUFFER", "-1")

	n, err := Int("FEED_WORKERS", 4)
	if err != nil || n != 8 {
		t.Fatalf("Int = %d, %v", n, err)
	}
	if _, err := Int("FEED_BUFFER", 4); err == nil {
		t.Fatalf("expected error for negative value")
	}
	if n, err := Int("UNSET_VALUE_FOR_TEST", 4); err != nil || n != 4 {
		t.Fatalf("default Int = %d, %v", n, err)
	}
	d, err := Duration("FEED_HANDOFF_TIMEOUT", time.Second)
	if err != nil || d != 25*time.Millisecond {
		t.Fatalf("Duration = %v, %v", d, err)
	}
}

func TestBool(t *testing.T) {
	t.Setenv("DEBUG", "true")
	if !Bool("DEBUG") {
		t.Fatalf("expected true")
	}
	t.Setenv("DEBUG", "nope")
	if Bool("DEBUG") {
		t.Fatalf("expected false for unparsable value")
	}
}

func TestLocalAuth(t *testing.T) {
	tests := []struct {
		value   string
		want    bool
		wantErr bool
	}{
		{value: "", want: false},
		{value: "hs256", want: true},
		{value: "HS256", want: true},
		{value: "true", want: true},
		{value: "0", want: false},
		{value: "rs512", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("LOCAL_AUTH_MODE", tt.value)
			got, err := LocalAuth("LOCAL_AUTH_MODE")
			if (err != nil) != tt.wantErr {
				t.Fatalf("LocalAuth(%q) error = %v", tt.value, err)
			}
			if got != tt.want {
				t.Fatalf("LocalAuth(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}
