// Package registry builds the services once at startup and hands them to
// whatever needs them. Nothing here is global; tests build their own.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/ecoagent-memory/internal/config"
	"github.com/rcliao/ecoagent-memory/internal/memory"
	"github.com/rcliao/ecoagent-memory/internal/metrics"
	"github.com/rcliao/ecoagent-memory/internal/operation"
	"github.com/rcliao/ecoagent-memory/internal/redisstore"
	"github.com/rcliao/ecoagent-memory/internal/session"
	"github.com/rcliao/ecoagent-memory/internal/store"
	"github.com/rcliao/ecoagent-memory/internal/window"
)

// Registry owns the configured backends.
type Registry struct {
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	Memories   memory.Bank
	Sessions   session.Service
	Operations *operation.Manager
	// SQLite is nil unless a sqlite backend is configured.
	SQLite *store.SQLiteStore

	now         func() time.Time
	redis       *redis.Client
	ownsRedis   bool
	closeOnce   sync.Once
	closeResult error
}

// Option customizes Open.
type Option func(*Registry)

// WithClock replaces time.Now in every service.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithRedisClient supplies the client for the redis session backend instead
// of dialing config.Redis.Addr. The caller keeps ownership.
func WithRedisClient(c *redis.Client) Option {
	return func(r *Registry) { r.redis = c }
}

// Open validates cfg and builds every service. A nil logger discards output.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}

	if cfg.Backend == config.BackendSQLite || cfg.SessionStore() == config.BackendSQLite {
		s, err := store.Open(cfg.DBPath, store.Options{
			MaxMemories: cfg.Memory.MaxMemories,
			DefaultTTL:  cfg.Session.DefaultTTL,
			Now:         r.now,
		}, logger)
		if err != nil {
			return nil, err
		}
		r.SQLite = s
	}

	var bank memory.Bank
	var opStore operation.Store
	switch cfg.Backend {
	case config.BackendSQLite:
		bank = r.SQLite.Memories()
		opStore = r.SQLite.Operations()
	default:
		bank = memory.NewInMemoryBank(memory.Config{MaxMemories: cfg.Memory.MaxMemories, Now: r.now}, logger)
		opStore = operation.NewMemoryStore()
	}

	var sessions session.Service
	switch cfg.SessionStore() {
	case config.BackendSQLite:
		sessions = r.SQLite.Sessions()
	case config.BackendRedis:
		if r.redis == nil {
			client, err := redisstore.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				r.Close()
				return nil, err
			}
			r.redis = client
			r.ownsRedis = true
		}
		sessions = redisstore.NewSessionService(r.redis, redisstore.Config{
			KeyPrefix:  cfg.Redis.KeyPrefix,
			DefaultTTL: cfg.Session.DefaultTTL,
			Now:        r.now,
		}, logger)
	default:
		sessions = session.NewInMemoryService(session.Config{DefaultTTL: cfg.Session.DefaultTTL, Now: r.now}, logger)
	}

	r.Memories = memory.WithMetrics(bank, r.Metrics)
	r.Sessions = session.WithMetrics(sessions, r.Metrics)
	r.Operations = operation.NewManager(opStore, operation.Config{Now: r.now, Metrics: r.Metrics}, logger)

	logger.Debug("registry opened",
		zap.String("backend", cfg.Backend),
		zap.String("session_backend", cfg.SessionStore()))
	return r, nil
}

// NewWindow creates an empty context window sized from config.
func (r *Registry) NewWindow() *window.Window {
	return window.New(window.Config{MaxSize: r.Config.Context.MaxWindowSize, Now: r.now}, r.Logger)
}

// Now is the registry clock.
func (r *Registry) Now() time.Time {
	return r.now()
}

// Close releases the database and any redis client the registry dialed.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		var errs []error
		if r.SQLite != nil {
			errs = append(errs, r.SQLite.Close())
		}
		if r.redis != nil && r.ownsRedis {
			errs = append(errs, r.redis.Close())
		}
		r.closeResult = errors.Join(errs...)
	})
	return r.closeResult
}

// SweepReport summarizes one maintenance pass.
type SweepReport struct {
	SessionsClosed    int                                    `json:"sessions_closed"`
	OperationsDeleted int                                    `json:"operations_deleted"`
	Consolidated      map[string]*memory.ConsolidationReport `json:"consolidated"`
	Duration          time.Duration                          `json:"duration_ns"`
}

// Sweep closes expired sessions, deletes old finished operations and
// consolidates every user's memories. The three run concurrently; none is
// needed for correctness since expiry is evaluated lazily on read.
func (r *Registry) Sweep(ctx context.Context) (*SweepReport, error) {
	start := time.Now()
	report := &SweepReport{Consolidated: map[string]*memory.ConsolidationReport{}}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := r.Sessions.CleanupExpired(gctx)
		if err != nil {
			return fmt.Errorf("session cleanup: %w", err)
		}
		report.SessionsClosed = n
		return nil
	})
	g.Go(func() error {
		n, err := r.Operations.CleanupOld(gctx, r.Config.Operations.RetentionDays)
		if err != nil {
			return fmt.Errorf("operation cleanup: %w", err)
		}
		report.OperationsDeleted = n
		return nil
	})
	g.Go(func() error {
		users, err := r.Memories.Users(gctx)
		if err != nil {
			return fmt.Errorf("list users: %w", err)
		}
		for _, u := range users {
			rep, err := r.Memories.Consolidate(gctx, u)
			if err != nil {
				return fmt.Errorf("consolidate %s: %w", u, err)
			}
			report.Consolidated[u] = rep
		}
		return nil
	})

	err := g.Wait()
	report.Duration = time.Since(start)
	r.Metrics.ObserveSweep(report.Duration)
	if err != nil {
		r.Logger.Error("sweep failed", zap.Error(err))
		return report, err
	}
	r.Logger.Info("sweep finished",
		zap.Int("sessions_closed", report.SessionsClosed),
		zap.Int("operations_deleted", report.OperationsDeleted),
		zap.Int("users_consolidated", len(report.Consolidated)),
		zap.Duration("duration", report.Duration))
	return report, nil
}
