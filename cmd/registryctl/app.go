package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	gcs "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/jackzampolin/registryctl/internal/accountpool"
	"github.com/jackzampolin/registryctl/internal/browsersession"
	"github.com/jackzampolin/registryctl/internal/config"
	"github.com/jackzampolin/registryctl/internal/environment"
	"github.com/jackzampolin/registryctl/internal/heartbeat"
	"github.com/jackzampolin/registryctl/internal/jobqueue"
	"github.com/jackzampolin/registryctl/internal/metrics"
	"github.com/jackzampolin/registryctl/internal/ocrjob"
	"github.com/jackzampolin/registryctl/internal/ocrpool"
	"github.com/jackzampolin/registryctl/internal/providers"
	"github.com/jackzampolin/registryctl/internal/ratelimiter"
	"github.com/jackzampolin/registryctl/internal/sitedriver"
	"github.com/jackzampolin/registryctl/internal/sitedriver/stub"
	"github.com/jackzampolin/registryctl/internal/visionclient"
	"github.com/jackzampolin/registryctl/internal/worker"
)

// app holds every dependency a registryctl subcommand might need, built
// once from loaded configuration. Subcommands take what they use and leave
// the rest; nothing here is torn down explicitly since process exit does
// that for us, matching the teacher's serve.go lifecycle.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	environments   *environment.Registry
	metricsQueries map[string]*metrics.Query

	workerBindings []worker.EnvironmentBinding
	ocrBindings    []ocrjob.EnvironmentBinding

	providerRegistry *providers.Registry
	limiter          *ratelimiter.Limiter
	visionClient     *visionclient.Client

	heartbeatStore *heartbeat.GormStore
	driver         sitedriver.Driver
	sessions       *browsersession.Manager
}

// loadConfigManager resolves the config file the same way cmd/shelf/serve.go
// does (--config flag, then ./config.yaml, then a default written on first
// run) and returns a manager with hot-reload enabled.
func loadConfigManager(cfgFile string, logger *slog.Logger) (*config.Manager, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		} else {
			path = filepath.Join(os.Getenv("HOME"), ".registryctl", "config.yaml")
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info("creating default config", "path", path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create config directory: %w", err)
		}
		if err := config.WriteDefault(path); err != nil {
			logger.Warn("failed to write default config", "error", err)
		}
	}

	mgr, err := config.NewManager(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	mgr.WatchConfig()
	logger.Info("configuration loaded", "file", path)
	return mgr, nil
}

// buildApp wires every dependency off of cfg. Storage clients and database
// handles are opened eagerly so a misconfigured environment fails fast at
// startup instead of on the first claimed job.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	gcsClient, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("open GCS client: %w", err)
	}
	storageFactory := func(bucket, cdnDomain string) (environment.Storage, error) {
		return environment.NewGCSStorage(gcsClient, bucket, cdnDomain), nil
	}

	envRegistry, err := environment.LoadFromConfig(ctx, cfg, logger, storageFactory)
	if err != nil {
		return nil, fmt.Errorf("load environments: %w", err)
	}

	providerRegistry := providers.NewRegistryFromConfig(cfg.ToProviderRegistryConfig())

	redisClient := redis.NewClient(&redis.Options{Addr: config.ResolveEnvVars(cfg.RateLimiter.RedisAddr)})
	limiter := ratelimiter.NewLimiter(redisClient, cfg.RateLimiter.RPMBudget, cfg.RateLimiter.TPMBudget)
	visionClient := visionclient.New(providerRegistry, limiter)

	heartbeatDB, err := gorm.Open(postgres.Open(config.ResolveEnvVars(cfg.ControlPlaneDSN)), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open control-plane database: %w", err)
	}
	if err := heartbeat.AutoMigrate(heartbeatDB); err != nil {
		return nil, fmt.Errorf("migrate control-plane database: %w", err)
	}
	heartbeatStore := heartbeat.NewGormStore(heartbeatDB)

	var workerBindings []worker.EnvironmentBinding
	var ocrBindings []ocrjob.EnvironmentBinding
	metricsQueries := make(map[string]*metrics.Query)

	for _, env := range envRegistry.All() {
		if err := environment.AutoMigrate(env.DB); err != nil {
			return nil, fmt.Errorf("migrate environment %s: %w", env.Name, err)
		}

		store := jobqueue.NewGormStore(env.DB)
		recorder := metrics.NewRecorder(env.DB)
		metricsQueries[env.Name] = metrics.NewQuery(env.DB)

		pool := accountpool.NewPool(env.Name)
		for _, cred := range cfg.Environments[env.Name].Credentials {
			pool.Add(&accountpool.Credential{
				ID:             cred.ID,
				Environment:    env.Name,
				Username:       config.ResolveEnvVars(cred.Username),
				Secret:         config.ResolveEnvVars(cred.Password),
				SecurityAnswer: config.ResolveEnvVars(cred.SecurityAnswer),
				Active:         true,
			})
		}

		workerBindings = append(workerBindings, worker.EnvironmentBinding{
			Name:        env.Name,
			Store:       store,
			Credentials: pool,
			Storage:     env.Storage,
		})
		ocrBindings = append(ocrBindings, ocrjob.EnvironmentBinding{
			Name:    env.Name,
			Store:   store,
			Storage: env.Storage,
			Metrics: recorder,
		})
	}

	driver := stub.New("registryctl-stub")
	sessions := browsersession.NewManager(
		func(context.Context) (sitedriver.Session, error) { return struct{}{}, nil },
		func(context.Context, sitedriver.Session) error { return nil },
		nil,
		logger,
	)

	return &app{
		cfg:              cfg,
		logger:           logger,
		environments:     envRegistry,
		metricsQueries:   metricsQueries,
		workerBindings:   workerBindings,
		ocrBindings:      ocrBindings,
		providerRegistry: providerRegistry,
		limiter:          limiter,
		visionClient:     visionClient,
		heartbeatStore:   heartbeatStore,
		driver:           driver,
		sessions:         sessions,
	}, nil
}

// heartbeatPublisher wraps a's control-plane store for an extraction worker
// to report its own liveness. The OCR pool has no worker identity of its own
// to heartbeat: its workers are anonymous and self-throttled by the capacity
// guard instead, and a stuck OCR job is instead caught the same way a
// crashed extraction worker's lease is, via the reaper's direct
// jobqueue.Store.ListExpired sweep. The reaper consumes the control-plane
// store directly rather than through this helper.
func heartbeatPublisher(a *app) *heartbeat.Publisher {
	return heartbeat.NewPublisher(a.heartbeatStore)
}

// ocrSubTypes derives the OCR pool's sub-types from the same registry-type
// eligibility list the worker uses for its handoff decision, so the two
// never drift out of sync.
func ocrSubTypes() []ocrpool.SubType {
	subTypes := make([]ocrpool.SubType, 0, len(worker.OCREligibleRegistryTypes))
	for rt := range worker.OCREligibleRegistryTypes {
		subTypes = append(subTypes, ocrpool.SubType(rt))
	}
	return subTypes
}
