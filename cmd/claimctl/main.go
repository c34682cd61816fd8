package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/moumen26/insurance-client-side/internal/api"
	"github.com/moumen26/insurance-client-side/internal/config"
	"github.com/moumen26/insurance-client-side/internal/logger"
	"github.com/moumen26/insurance-client-side/internal/service"
	"github.com/moumen26/insurance-client-side/internal/session"
	"github.com/moumen26/insurance-client-side/internal/store"
)

const usage = `usage: claimctl <command> [flags]

commands:
  register   create an account
  login      sign in and persist the session
  logout     sign out
  whoami     show the signed-in user
  regions    list regions
  policies   list insurance policies
  services   list medical services
  stats      show claim statistics
  active     list claims in progress
  archived   list paid and rejected claims
  submit     submit a new claim
  dispute    dispute a rejected claim
  watch      follow claim updates until interrupted
  export     write archived claims to an xlsx workbook
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.Log, "claimctl")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, cleanup, err := newApp(ctx, cfg, zl, os.Stdout)
	if err != nil {
		zl.Fatal("Failed to initialize", zap.Error(err))
	}
	defer cleanup()

	if err := a.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "error:", api.MessageOf(err))
		zl.Debug("Command failed", zap.String("command", os.Args[1]), zap.Error(err))
		os.Exit(1)
	}
}

type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	out      io.Writer
	sessions *session.Store
	client   *api.Client
	auth     *service.AuthService
	model    *service.ClaimModel
	refs     *service.ReferenceData
}

// newApp wires storage, session, API client and services, then restores any
// persisted session.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, out io.Writer) (*app, func(), error) {
	kv, closeKV, err := openKV(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	sessions := session.New(kv, cfg.Session.Key, logger)
	client := api.NewClient(cfg.API.BaseURL, cfg.API.Timeout, sessions, logger)

	model := service.NewClaimModel(client, service.RefreshPolicy{
		Active:         cfg.Refresh.Active,
		Archived:       cfg.Refresh.Archived,
		Statistics:     cfg.Refresh.Statistics,
		FocusPerSecond: cfg.Refresh.FocusPerSecond,
		FocusBurst:     cfg.Refresh.FocusBurst,
	}, logger)
	unfollow := model.FollowSession(sessions)

	refs := service.NewReferenceData(client, cfg.Refresh.Reference, logger)
	unrefs := sessions.Subscribe(func(cur *session.Session) { refs.SetUser(cur.UserID()) })

	if _, err := sessions.Restore(ctx); err != nil {
		logger.Warn("Failed to restore session", zap.Error(err))
	}
	refs.SetUser(sessions.UserID())

	a := &app{
		cfg:      cfg,
		logger:   logger,
		out:      out,
		sessions: sessions,
		client:   client,
		auth:     service.NewAuthService(client, sessions, logger),
		model:    model,
		refs:     refs,
	}
	cleanup := func() {
		unrefs()
		unfollow()
		model.Stop()
		closeKV()
	}
	return a, cleanup, nil
}

func openKV(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.KV, func(), error) {
	switch cfg.Session.Backend {
	case config.BackendRedis:
		rc := store.NewRedisClient(&cfg.Redis)
		if err := store.Ping(ctx, rc); err != nil {
			rc.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Debug("Session backend: redis", zap.String("addr", cfg.Redis.Addr))
		return store.NewRedisKV(rc), func() { rc.Close() }, nil

	case config.BackendPostgres:
		db, err := store.NewPostgresDB(&cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		kv := store.NewPostgresKV(db)
		if err := kv.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Debug("Session backend: postgres", zap.String("host", cfg.Database.Host))
		return kv, func() { db.Close() }, nil

	case config.BackendMemory:
		return store.NewMemoryKV(), func() {}, nil

	default:
		kv := store.NewFileKV(cfg.Session.File)
		logger.Debug("Session backend: file", zap.String("path", kv.Path()))
		return kv, func() {}, nil
	}
}
