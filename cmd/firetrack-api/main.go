package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"firetrack/api"
	"firetrack/internal/config"
	"firetrack/planner"
	"firetrack/session"
	"firetrack/storage"
)

func main() {
	if config.Bool("DEBUG") {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	redisOpts, err := config.RedisOptions(redisConn)
	if err != nil {
		log.Fatalf("redis config: %v", err)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	opts := []storage.Option{storage.WithLogger(logger)}

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if connStr != "" {
		if table := os.Getenv("USERS_TABLE"); table != "" {
			profiles, err := storage.NewTableProfiles(connStr, table)
			if err != nil {
				log.Fatalf("profiles table: %v", err)
			}
			opts = append(opts, storage.WithProfiles(profiles))
		}
		if queue := os.Getenv("CHANGES_QUEUE"); queue != "" {
			feedCfg, err := feedConfig()
			if err != nil {
				log.Fatal(err)
			}
			feed, err := storage.NewQueueFeed(connStr, queue, feedCfg, logger)
			if err != nil {
				log.Fatalf("change feed: %v", err)
			}
			defer feed.Close()
			opts = append(opts, storage.WithChangeFeed(feed))
		}
	} else {
		log.Info("STORAGE_CONNECTION_STRING not set; profiles stay in redis and the change feed is off")
	}
	store := storage.New(rc, opts...)

	removal, err := planner.ParseRemovalMode(config.String("REMOVAL_MODE", planner.RemoveByValue.String()))
	if err != nil {
		log.Fatalf("invalid REMOVAL_MODE: %v", err)
	}
	plannerOpts := []planner.Option{planner.WithRemovalMode(removal), planner.WithLogger(logger)}
	if config.Bool("VERSION_CHECK") {
		plannerOpts = append(plannerOpts, planner.WithVersionCheck())
	}
	pl := planner.New(store, plannerOpts...)

	dedupeTTL, err := config.Duration("IDEMPOTENCY_TTL", 24*time.Hour)
	if err != nil {
		log.Fatal(err)
	}
	auth, err := newAuth()
	if err != nil {
		log.Fatal(err)
	}

	srv := api.NewServer(api.Config{
		Store:   store,
		Planner: pl,
		Auth:    auth,
		Revoker: session.NewRedisRevoker(rc, 24*time.Hour),
		Deduper: api.NewRedisDeduper(rc, dedupeTTL),
		Logger:  logger,
	})

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	api.Register(e, srv)
	if config.Bool("PPROF") {
		pprof.Register(e)
	}

	listenAddr := ":" + config.String("FIRETRACK_PORT", "8080")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		if err := e.Start(listenAddr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown")
	}
}

func feedConfig() (storage.FeedConfig, error) {
	workers, err := config.Int("FEED_WORKERS", 4)
	if err != nil {
		return storage.FeedConfig{}, err
	}
	buffer, err := config.Int("FEED_BUFFER", 1024)
	if err != nil {
		return storage.FeedConfig{}, err
	}
	handoff, err := config.Duration("FEED_HANDOFF_TIMEOUT", 100*time.Millisecond)
	if err != nil {
		return storage.FeedConfig{}, err
	}
	return storage.FeedConfig{Workers: workers, Buffer: buffer, HandoffTimeout: handoff}, nil
}

// newAuth builds the token verifier: a shared secret in local mode, the
// Auth0 JWKS otherwise.
func newAuth() (*api.Auth, error) {
	ttl, err := config.Duration("JWKS_CACHE_TTL", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	local, err := config.LocalAuth("LOCAL_AUTH_MODE")
	if err != nil {
		return nil, err
	}
	if local {
		secret := os.Getenv("LOCAL_AUTH_SHARED_SECRET")
		if secret == "" {
			return nil, errors.New("missing LOCAL_AUTH_SHARED_SECRET")
		}
		return api.NewAuth(nil, os.Getenv("AUTH0_AUDIENCE"), "", api.WithHS256Secret([]byte(secret))), nil
	}

	jwtAudience := os.Getenv("AUTH0_AUDIENCE")
	domain := os.Getenv("AUTH0_DOMAIN")
	if jwtAudience == "" || domain == "" {
		return nil, errors.New("missing Auth0 config")
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{RefreshInterval: time.Hour})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(jwks, jwtAudience, "https://"+domain+"/", api.WithKeyCacheTTL(ttl)), nil
}
