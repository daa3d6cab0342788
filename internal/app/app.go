// Package app wires configuration into the running orchestrator: the platform
// database, tenant stores, scripts, notifications, the queue and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/beesaferoot/gorm-tenancy/internal/api"
	"github.com/beesaferoot/gorm-tenancy/internal/catalog"
	"github.com/beesaferoot/gorm-tenancy/internal/config"
	"github.com/beesaferoot/gorm-tenancy/internal/notify"
	"github.com/beesaferoot/gorm-tenancy/internal/queue"
	"github.com/beesaferoot/gorm-tenancy/internal/saga"
	"github.com/beesaferoot/gorm-tenancy/internal/scripts"
	"github.com/beesaferoot/gorm-tenancy/internal/seed"
	"github.com/beesaferoot/gorm-tenancy/internal/store"
	"github.com/beesaferoot/gorm-tenancy/internal/tenant"
	"github.com/beesaferoot/gorm-tenancy/migration"
	"github.com/beesaferoot/gorm-tenancy/migration/file"
)

// progressStreamMaxLen bounds the progress stream.
const progressStreamMaxLen = 10000

type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	DB          *gorm.DB
	Registry    *tenant.GormRegistry
	Provisioner store.Provisioner
	Loaders     []*file.Loader
	Resolver    migration.ScriptSetResolver
	Catalog     *catalog.Catalog
	Reporter    *notify.Reporter
	Saga        *saga.Saga

	closers []func() error
}

// New opens the platform database, migrates its tables and builds the saga.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	db, err := openDB(cfg.DBDriver, cfg.DatabaseURL, cfg.Env)
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, closeDB(db))

	a.Registry = tenant.NewGormRegistry(db)
	if err := a.Registry.Migrate(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if err := a.setupStores(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.setupScripts(); err != nil {
		a.Close()
		return nil, err
	}
	a.setupReporter()

	a.Saga = saga.New(saga.Deps{
		Registry:    a.Registry,
		Provisioner: a.Provisioner,
		Migrator:    migration.NewRunner(a.Resolver, logger),
		Seeder:      seed.NewSeeder(a.Catalog, logger),
		Plans:       a.Catalog,
		Reporter:    a.Reporter,
		Logger:      logger,
	})
	return a, nil
}

func openDB(driver, dsn, env string) (*gorm.DB, error) {
	level := gormlogger.Silent
	if env == "development" {
		level = gormlogger.Warn
	}
	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(level)}

	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// sqlite allows a single writer
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

func closeDB(db *gorm.DB) func() error {
	return func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
}

func (a *App) setupStores() error {
	cfg := a.Config
	switch cfg.StoreDriver {
	case "sqlite":
		a.Provisioner = store.NewSQLiteProvisioner(cfg.StoreDir, a.Logger)
	case "postgres":
		admin := a.DB
		if cfg.DBDriver != "postgres" {
			// CREATE DATABASE needs a server connection; use the maintenance database
			var err error
			admin, err = openDB("postgres", fmt.Sprintf(cfg.TenantDSNTemplate, "postgres"), cfg.Env)
			if err != nil {
				return err
			}
			a.closers = append(a.closers, closeDB(admin))
		}
		a.Provisioner = store.NewPostgresProvisioner(admin, cfg.TenantDSNTemplate, a.Logger)
	default:
		return fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
	return nil
}

// setupScripts loads the catalog and the script resolver. Scripts in MIGRATIONS_PATH
// take precedence over the embedded ones set by set.
func (a *App) setupScripts() error {
	cfg := a.Config
	if cfg.CatalogPath != "" {
		c, err := catalog.LoadFile(cfg.CatalogPath)
		if err != nil {
			return err
		}
		a.Catalog = c
	} else {
		a.Catalog = catalog.Default()
	}

	var chain migration.Chain
	if cfg.MigrationsPath != "" {
		dir := file.NewDirLoader(cfg.MigrationsPath, a.Logger)
		a.Loaders = append(a.Loaders, dir)
		chain = append(chain, dir)
	}
	embedded := file.NewLoader(scripts.FS, a.Logger)
	a.Loaders = append(a.Loaders, embedded)
	a.Resolver = append(chain, embedded)
	return nil
}

func (a *App) setupReporter() {
	cfg := a.Config

	var broadcaster notify.Broadcaster
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.closers = append(a.closers, client.Close)
		broadcaster = notify.NewRedisBroadcaster(client, cfg.ProgressStream, progressStreamMaxLen)
	}

	var mailer notify.Mailer
	if cfg.NotifyWebhookURL != "" {
		mailer = notify.NewWebhookMailer(cfg.NotifyWebhookURL, a.Logger)
	}
	a.Reporter = notify.NewReporter(broadcaster, mailer, a.Logger)
}

// OpenStore opens a tenant store for the migrate commands.
func (a *App) OpenStore(ctx context.Context, name string) (*gorm.DB, func() error, error) {
	h, err := a.Provisioner.Open(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	return h.DB, h.Close, nil
}

// Resume enqueues every tenant left pending or provisioning, e.g. by a crash between
// a task being acknowledged and finished.
func (a *App) Resume(ctx context.Context, enqueuer queue.Enqueuer) (int, error) {
	var resumed int
	for _, status := range []tenant.Status{tenant.StatusPending, tenant.StatusProvisioning} {
		tenants, err := a.Registry.List(ctx, tenant.Filter{Status: status})
		if err != nil {
			return resumed, err
		}
		for _, t := range tenants {
			if err := enqueuer.Enqueue(ctx, t.ID); err != nil {
				return resumed, fmt.Errorf("failed to resume tenant %s: %w", t.ID, err)
			}
			resumed++
		}
	}
	return resumed, nil
}

// Serve runs the worker pool, the optional AMQP consumer and the HTTP API until ctx
// is cancelled.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.Config
	policy := queue.DefaultPolicy()
	pool := queue.NewPool(a.Saga, policy, cfg.Workers, a.Logger)

	var enqueuer queue.Enqueuer = pool
	var broker *queue.AMQPQueue
	if cfg.RabbitMQURL != "" {
		var err error
		broker, err = queue.DialAMQP(cfg.RabbitMQURL, cfg.ProvisionQueue, policy, a.Logger)
		if err != nil {
			return err
		}
		defer broker.Close()
		enqueuer = broker
	}

	handler := api.NewHandler(a.Registry, enqueuer, a.Catalog, api.Settings{
		BaseDomain:   cfg.BaseDomain,
		SupportEmail: cfg.SupportEmail,
	}, a.Logger)
	server := api.NewServer(handler, a.DB, a.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pool.Run(gctx)
	})
	if broker != nil {
		g.Go(func() error {
			return broker.Consume(gctx, pool)
		})
	}
	g.Go(func() error {
		n, err := a.Resume(gctx, enqueuer)
		if err != nil {
			a.Logger.Error("failed to resume unfinished tenants", zap.Error(err))
			return nil
		}
		if n > 0 {
			a.Logger.Info("resumed unfinished tenants", zap.Int("count", n))
		}
		return nil
	})
	g.Go(func() error {
		a.Logger.Info("starting HTTP server", zap.String("port", cfg.HTTPPort))
		if err := server.Start(":" + cfg.HTTPPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		a.Logger.Info("shutting down HTTP server")
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close releases every connection the app opened.
func (a *App) Close() error {
	var errs error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, a.closers[i]())
	}
	a.closers = nil
	return errs
}
