package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/valdirmariano/altaper4mance-sub000/internal/api"
	"github.com/valdirmariano/altaper4mance-sub000/internal/app/progression"
	"github.com/valdirmariano/altaper4mance-sub000/internal/domain"
	"github.com/valdirmariano/altaper4mance-sub000/internal/health"
	"github.com/valdirmariano/altaper4mance-sub000/internal/infra/catalog"
	"github.com/valdirmariano/altaper4mance-sub000/internal/infra/memory"
	"github.com/valdirmariano/altaper4mance-sub000/internal/infra/postgres"
	redisstore "github.com/valdirmariano/altaper4mance-sub000/internal/infra/redis"
	"github.com/valdirmariano/altaper4mance-sub000/internal/infra/sqlite"
)

// Daemon is the engine runtime. It wires together all services.
type Daemon struct {
	Config  Config
	Log     *zap.Logger
	Store   domain.StatsStore
	Service *progression.Service
	Hub     *api.Hub
	Server  *api.Server
	Health  *health.Checker
	Watcher *catalog.Watcher

	subscriber *redisstore.Subscriber
	cancel     context.CancelFunc
}

// Backend is an opened store plus the driver-specific extras that come
// with it.
type Backend struct {
	Store     domain.StatsStore
	SQLite    *sqlite.DB      // set for the sqlite driver
	Redis     *goredis.Client // set for the redis driver
	Publisher domain.TransitionPublisher
}

// OpenBackend opens the store selected by cfg.
func OpenBackend(ctx context.Context, cfg Config) (*Backend, error) {
	switch cfg.Store.Driver {
	case DriverMemory:
		return &Backend{Store: memory.New()}, nil

	case DriverSQLite:
		db, err := sqlite.Open(cfg.sqliteDir())
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return &Backend{Store: db, SQLite: db, Publisher: db}, nil

	case DriverPostgres:
		s, err := postgres.Open(ctx, postgres.DefaultConfig(cfg.Store.PostgresDSN))
		if err != nil {
			return nil, err
		}
		return &Backend{Store: s}, nil

	case DriverRedis:
		rc := redisstore.DefaultConfig()
		rc.Addr = cfg.Store.RedisAddr
		rc.Password = cfg.Store.RedisPassword
		rc.DB = cfg.Store.RedisDB
		client, err := redisstore.NewClient(ctx, rc)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Store:     redisstore.NewStore(client),
			Redis:     client,
			Publisher: redisstore.NewPublisher(client, cfg.Events.RedisChannel, cfg.InstanceID()),
		}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// NewDispatcher builds a dispatcher from the configured catalog and timezone.
func NewDispatcher(cfg Config) (*progression.Dispatcher, error) {
	defs, err := catalog.Load(cfg.Catalog.File)
	if err != nil {
		return nil, err
	}
	reg, err := progression.NewRegistry(defs)
	if err != nil {
		return nil, fmt.Errorf("badge catalog: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return progression.NewDispatcher(reg, progression.WithLocation(loc)), nil
}

// New creates a Daemon from the config on disk.
func New(ctx context.Context, log *zap.Logger) (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(ctx, cfg, log)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(ctx context.Context, cfg Config, log *zap.Logger) (*Daemon, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dispatcher, err := NewDispatcher(cfg)
	if err != nil {
		return nil, err
	}
	backend, err := OpenBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		Config: cfg,
		Log:    log,
		Store:  backend.Store,
		Hub:    api.NewHub(log.Named("hub")),
	}

	opts := []progression.ServiceOption{
		progression.WithWriteBehind(cfg.WriteBehind()),
		progression.WithIdleTTL(cfg.IdleTTL()),
		progression.WithPublisher(d.Hub),
	}
	if backend.Publisher != nil {
		opts = append(opts, progression.WithPublisher(backend.Publisher))
	}
	d.Service = progression.NewService(backend.Store, dispatcher, log.Named("progression"), opts...)

	// Health checker
	checks := []health.Check{
		health.StoreCheck("store", backend.Store),
		health.BacklogCheck(d.Service.PendingWrites, cfg.Health.MaxBacklog, d.Service.Flush),
	}
	if backend.SQLite != nil {
		checks = append(checks, health.DirCheck("data_dir", cfg.sqliteDir()))
	}
	d.Health = health.NewChecker(parseDuration(cfg.Health.Interval, 30*time.Second), checks...)

	// API server
	d.Server = api.NewServer(d.Service, api.NewAuthenticator(cfg.Auth.Users), d.Hub, log.Named("api"))
	d.Server.SetHealth(d.Health)
	d.Server.SetCORSOrigins(cfg.API.CORSOrigins)
	if backend.SQLite != nil {
		d.Server.SetHistory(backend.SQLite)
	}
	if lb, ok := backend.Store.(domain.Leaderboard); ok {
		d.Server.SetLeaderboard(lb)
	}
	if cfg.Telemetry.Prometheus {
		d.Server.EnableMetrics()
	}

	// Catalog hot reload
	if cfg.Catalog.File != "" && cfg.Catalog.Watch {
		d.Watcher = catalog.NewWatcher(cfg.Catalog.File, func(defs []domain.BadgeDef) error {
			reg, err := progression.NewRegistry(defs)
			if err != nil {
				return err
			}
			dispatcher.SetRegistry(reg)
			return nil
		}, log.Named("catalog"))
	}

	// Cross-instance fan-out
	if backend.Redis != nil {
		d.subscriber = redisstore.NewSubscriber(backend.Redis, cfg.Events.RedisChannel,
			cfg.InstanceID(), d.Hub.Deliver, log.Named("fanout"))
	}

	return d, nil
}

// Serve runs every component and blocks until ctx ends or a signal
// arrives. Unsaved stats are flushed before the store is closed.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	defer cancel()

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           d.Server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.Hub.Run(gctx) })
	g.Go(func() error { return d.Service.Run(gctx) })
	g.Go(func() error {
		d.Health.Run(gctx)
		return nil
	})
	if d.Watcher != nil {
		g.Go(func() error { return d.Watcher.Run(gctx) })
	}
	if d.subscriber != nil {
		g.Go(func() error { return d.subscriber.Run(gctx) })
	}
	g.Go(func() error {
		d.Log.Info("serving", zap.String("addr", addr),
			zap.String("store", d.Config.Store.Driver),
			zap.String("instance", d.Config.InstanceID()))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if ferr := d.flush(); ferr != nil {
		d.Log.Error("final flush incomplete, unsaved stats lost",
			zap.Int("pending", d.Service.PendingWrites()), zap.Error(ferr))
	}
	d.closeStore()
	return err
}

func (d *Daemon) flush() error {
	grace := parseDuration(d.Config.Persistence.ShutdownGrace, 10*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return d.Service.Flush(ctx)
}

// Close flushes and shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if err := d.flush(); err != nil {
		d.Log.Warn("flush on close", zap.Error(err))
	}
	d.closeStore()
}

func (d *Daemon) closeStore() {
	if d.Store != nil {
		_ = d.Store.Close()
		d.Store = nil
	}
}
