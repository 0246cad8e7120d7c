// Package secrets resolves named secrets such as the log workspace id and
// query token.
package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"go.uber.org/fx"

	"github.com/emergent-company/goldzone/internal/config"
	"github.com/emergent-company/goldzone/pkg/apperror"
	"github.com/emergent-company/goldzone/pkg/logger"
)

var Module = fx.Module("secrets",
	fx.Provide(NewFromConfig),
)

// Store returns the value of a named secret.
type Store interface {
	Get(ctx context.Context, name string) (string, error)
}

// EnvStore reads secrets from environment variables named prefix + NAME,
// where NAME is the secret name upper-cased with dashes turned into
// underscores ("log-query-token" reads GOLDZONE_SECRET_LOG_QUERY_TOKEN).
type EnvStore struct {
	prefix string
	lookup func(string) (string, bool)
}

// NewEnvStore creates an environment-backed store.
func NewEnvStore(prefix string) *EnvStore {
	return &EnvStore{prefix: prefix, lookup: os.LookupEnv}
}

// VarName returns the environment variable holding secret name.
func (s *EnvStore) VarName(name string) string {
	return s.prefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

func (s *EnvStore) Get(_ context.Context, name string) (string, error) {
	v, ok := s.lookup(s.VarName(name))
	if !ok || v == "" {
		return "", apperror.NewConfiguration("secret %q is not set (%s)", name, s.VarName(name))
	}
	return v, nil
}

// CachedStore memoizes another store's successful lookups.
type CachedStore struct {
	next Store
	log  *slog.Logger

	mu     sync.Mutex
	values map[string]string
}

// NewCachedStore wraps next with a cache.
func NewCachedStore(next Store, log *slog.Logger) *CachedStore {
	return &CachedStore{
		next:   next,
		log:    log.With(logger.Scope("secrets")),
		values: make(map[string]string),
	}
}

func (c *CachedStore) Get(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	v, ok := c.values[name]
	c.mu.Unlock()
	if ok {
		return v, nil
	}

	v, err := c.next.Get(ctx, name)
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", name, err)
	}
	c.log.Debug("secret resolved", slog.String("name", name))

	c.mu.Lock()
	c.values[name] = v
	c.mu.Unlock()
	return v, nil
}

// NewFromConfig builds the cached environment store.
func NewFromConfig(cfg *config.Config, log *slog.Logger) Store {
	return NewCachedStore(NewEnvStore(cfg.Secrets.Prefix), log)
}
