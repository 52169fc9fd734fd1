// Package app assembles storage, chat controllers and submission pipelines
// from configuration. The CLI, TUI and MCP server all start here.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/neilberkman/querychat/internal/core/backend"
	"github.com/neilberkman/querychat/internal/core/chat"
	"github.com/neilberkman/querychat/internal/core/config"
	"github.com/neilberkman/querychat/internal/core/db"
	"github.com/neilberkman/querychat/internal/core/logger"
	"github.com/neilberkman/querychat/internal/core/store"
	"github.com/neilberkman/querychat/internal/core/submit"
	"github.com/rs/zerolog"
)

// Flow is one chat flow: its sessions and the pipeline that feeds them
type Flow struct {
	Chat     *chat.Controller
	Pipeline *submit.Pipeline
}

// App holds everything a front end needs
type App struct {
	Config  *config.Config
	Log     zerolog.Logger
	Backend *backend.Client

	// Chat is the main flow, persisted across runs
	Chat Flow
	// Instant is the file-upload flow, kept only for the life of the process
	Instant Flow

	durable *db.DB
	memory  *db.DB
	redis   *store.RedisStorage
}

// Options configures Open
type Options struct {
	Config  *config.Config
	Log     zerolog.Logger
	Metrics *submit.Metrics
}

// Open connects storage and builds both flows
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	a := &App{
		Config:  cfg,
		Log:     opts.Log,
		Backend: backend.NewClient(cfg.BackendURL, cfg.Timeout),
	}

	durable, err := a.openDurable(ctx)
	if err != nil {
		return nil, err
	}

	a.memory, err = db.NewMemory()
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to open session storage: %w", err)
	}

	a.Chat, err = a.newFlow(ctx, durable, store.DurableKeys, false, opts.Metrics)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Instant, err = a.newFlow(ctx, a.memory.KV(db.ScopeSession), store.InstantKeys, true, opts.Metrics)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	return a, nil
}

func (a *App) openDurable(ctx context.Context) (store.Storage, error) {
	switch a.Config.Storage {
	case config.StorageRedis:
		r, err := store.NewRedisStorage(ctx, store.RedisConfig{
			Addr:     a.Config.Redis.Addr,
			Password: a.Config.Redis.Password,
			DB:       a.Config.Redis.DB,
			Prefix:   a.Config.Redis.Prefix,
			TTL:      a.Config.Redis.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.redis = r
		a.Log.Debug().Str("addr", a.Config.Redis.Addr).Msg("Using redis storage")
		return r, nil

	case config.StorageSQLite, "":
		database, err := db.New(a.Config.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		a.durable = database
		a.Log.Debug().Str("path", a.Config.DBPath).Msg("Using sqlite storage")
		return database.KV(db.ScopeDurable), nil

	default:
		return nil, fmt.Errorf("unknown storage backend: %s", a.Config.Storage)
	}
}

func (a *App) newFlow(ctx context.Context, s store.Storage, keys store.Keys, fileMode bool, metrics *submit.Metrics) (Flow, error) {
	name := submit.FlowChat
	if fileMode {
		name = submit.FlowInstant
	}
	log := logger.Component(a.Log, name)

	st := store.New(s, keys, log)
	st.SetMaxFileBytes(a.Config.MaxFileBytes)

	ctrl := chat.New(ctx, st, log, a.Config.MaxMessages)
	p, err := submit.New(ctrl, a.Backend, submit.Options{
		FileMode:      fileMode,
		BaseURL:       a.Config.BackendURL,
		ErrorTemplate: a.Config.ErrorTemplate,
		Metrics:       metrics,
		Log:           log,
	})
	if err != nil {
		return Flow{}, err
	}
	return Flow{Chat: ctrl, Pipeline: p}, nil
}

// Database returns the durable SQLite database, or nil with redis storage
func (a *App) Database() *db.DB {
	return a.durable
}

// Close releases all storage
func (a *App) Close() error {
	var errs []error
	if a.durable != nil {
		errs = append(errs, a.durable.Close())
	}
	if a.memory != nil {
		errs = append(errs, a.memory.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
