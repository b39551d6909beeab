// Package environment manages per-deployment (prod/staging/dev) database and
// artifact storage handles. Each registry extraction job belongs to exactly
// one environment; the job queue and account pool are always scoped to one.
package environment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jackzampolin/registryctl/internal/config"
)

// ErrNotFound is returned when an environment name isn't registered.
var ErrNotFound = errors.New("environment not found")

// Environment bundles the database and artifact storage for one deployment.
type Environment struct {
	Name    string
	DB      *gorm.DB
	Storage Storage
}

// Registry holds all configured environments, keyed by name, safe for
// concurrent lookup by many worker goroutines.
// Grounded on providers.Registry's read-write-mutex named-map pattern.
type Registry struct {
	mu   sync.RWMutex
	envs map[string]*Environment
}

// NewRegistry returns an empty environment registry.
func NewRegistry() *Registry {
	return &Registry{envs: make(map[string]*Environment)}
}

// Register adds or replaces an environment.
func (r *Registry) Register(env *Environment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs[env.Name] = env
}

// Get returns the named environment.
func (r *Registry) Get(name string) (*Environment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	env, ok := r.envs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return env, nil
}

// Names returns all registered environment names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.envs))
	for name := range r.envs {
		names = append(names, name)
	}
	return names
}

// All returns every registered environment.
func (r *Registry) All() []*Environment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Environment, 0, len(r.envs))
	for _, env := range r.envs {
		out = append(out, env)
	}
	return out
}

// LoadFromConfig connects to every configured environment's database and
// storage bucket and returns a populated registry. DSNs and bucket names go
// through config.ResolveEnvVars first, matching the teacher's ${VAR}
// convention for secrets.
//
// GCS client construction is left to the caller (storageFactory) so tests
// can supply NewMemStorage without reaching the network.
func LoadFromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger, storageFactory func(bucket, cdnDomain string) (Storage, error)) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	reg := NewRegistry()
	for name, envCfg := range cfg.Environments {
		dsn := config.ResolveEnvVars(envCfg.DSN)

		gormLog := gormlogger.New(
			slogWriter{logger: logger.With("environment", name)},
			gormlogger.Config{
				SlowThreshold: 200 * time.Millisecond,
				LogLevel:      gormlogger.Warn,
				// Polling workers run the claim query on every empty poll;
				// a miss isn't an error worth logging.
				IgnoreRecordNotFoundError: true,
			},
		)

		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
		if err != nil {
			return nil, fmt.Errorf("open database for environment %s: %w", name, err)
		}

		storage, err := storageFactory(envCfg.StorageBucket, envCfg.CDNDomain)
		if err != nil {
			return nil, fmt.Errorf("open storage for environment %s: %w", name, err)
		}

		reg.Register(&Environment{Name: name, DB: db, Storage: storage})
		logger.Info("environment registered", "name", name, "bucket", envCfg.StorageBucket)
	}

	return reg, nil
}

// slogWriter adapts *slog.Logger to gorm's logger.Writer interface.
type slogWriter struct {
	logger *slog.Logger
}

func (w slogWriter) Printf(format string, args ...any) {
	w.logger.Warn(fmt.Sprintf(format, args...))
}
