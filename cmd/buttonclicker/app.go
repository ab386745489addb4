package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rcourtman/buttonclicker/internal/config"
	"github.com/rcourtman/buttonclicker/internal/entitlements"
	"github.com/rcourtman/buttonclicker/internal/logging"
	"github.com/rcourtman/buttonclicker/internal/mock"
	"github.com/rcourtman/buttonclicker/internal/reconciler"
	"github.com/rcourtman/buttonclicker/internal/store/filestore"
	"github.com/rcourtman/buttonclicker/internal/store/memstore"
	"github.com/rcourtman/buttonclicker/internal/store/redisstore"
	"github.com/rcourtman/buttonclicker/internal/store/sqlitestore"
	"github.com/rcourtman/buttonclicker/pkg/purchasing"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// app is one wired reconciler session against the sandbox backend.
type app struct {
	cfg     *config.Config
	store   entitlements.Opener
	backend *mock.Backend
	rec     *reconciler.Reconciler
	closers []func() error
}

func loadConfig(component string) (*config.Config, error) {
	logging.Init(logging.Config{Format: "auto", Level: "info", Component: component})

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: component,
	})
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config, user string, listener reconciler.Listener) (*app, error) {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: store}
	if closeStore != nil {
		a.closers = append(a.closers, closeStore)
	}

	cat := cfg.Catalog()
	a.backend = mock.NewBackend(cat, mock.Options{PageSize: cfg.SandboxPageSize, User: user})
	a.closers = append(a.closers, func() error { a.backend.Close(); return nil })

	rec, err := reconciler.New(reconciler.Options{
		Backend:         a.backend,
		Store:           store,
		Catalog:         cat,
		Pending:         reconciler.NewPendingRegistry(cfg.PendingMax, cfg.PendingTTL),
		Listener:        listener,
		ConsumableBonus: cfg.ConsumableBonus,
		DefaultCredits:  cfg.DefaultCredits,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.rec = rec
	a.closers = append(a.closers, rec.Close)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// drive applies backend events on the calling goroutine until done reports
// true for a handled event or ctx ends.
func (a *app) drive(ctx context.Context, done func(purchasing.Event) bool) error {
	events := a.backend.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return errors.New("sandbox backend closed")
			}
			if err := a.rec.Handle(ctx, ev); err != nil {
				return err
			}
			if done(ev) {
				return nil
			}
		}
	}
}

// sync resolves the sandbox user and pages through its history.
func (a *app) sync(ctx context.Context) error {
	a.backend.Announce()
	return a.drive(ctx, func(purchasing.Event) bool {
		return a.rec.Phase() == reconciler.PhaseSettled
	})
}

func openStore(ctx context.Context, cfg *config.Config) (entitlements.Opener, func() error, error) {
	switch cfg.StoreBackend {
	case config.StoreFile:
		return filestore.New(cfg.DataDir), nil, nil

	case config.StoreSQLite:
		s, err := sqlitestore.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, s.Close, nil

	case config.StoreRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		s := redisstore.New(rdb, cfg.RedisKeyPrefix)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.Ping(pingCtx); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		return s, rdb.Close, nil

	case config.StoreMemory:
		log.Warn().Msg("Using in-memory entitlement store; state is lost on exit")
		return memstore.New(), nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
