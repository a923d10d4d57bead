package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/transfa/interbank-service/pkg/registryclient"
)

// Registry resolves bank prefixes to routing and key metadata.
type Registry interface {
	Register(ctx context.Context, reg registryclient.Registration) (*registryclient.Credentials, error)
	LookupBank(ctx context.Context, prefix string) (*registryclient.BankDetails, error)
	ValidateBank(ctx context.Context, prefix string) bool
}

// BankCache stores successful lookups.
type BankCache interface {
	GetBank(ctx context.Context, prefix string) (*registryclient.BankDetails, bool, error)
	SetBank(ctx context.Context, prefix string, details *registryclient.BankDetails, ttl time.Duration) error
}

// CachedRegistry serves LookupBank from cache when possible. Only successful
// lookups are cached; cache failures fall through to the wrapped registry.
type CachedRegistry struct {
	next   Registry
	cache  BankCache
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedRegistry(next Registry, cache BankCache, ttl time.Duration, logger *slog.Logger) *CachedRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedRegistry{next: next, cache: cache, ttl: ttl, logger: logger.With("component", "registry_cache")}
}

func (r *CachedRegistry) Register(ctx context.Context, reg registryclient.Registration) (*registryclient.Credentials, error) {
	return r.next.Register(ctx, reg)
}

func (r *CachedRegistry) LookupBank(ctx context.Context, prefix string) (*registryclient.BankDetails, error) {
	prefix = strings.TrimSpace(prefix)
	if r.cache != nil && r.ttl > 0 && prefix != "" {
		details, ok, err := r.cache.GetBank(ctx, prefix)
		if err != nil {
			r.logger.Warn("registry cache read failed", "prefix", prefix, "error", err)
		} else if ok {
			return details, nil
		}
	}

	details, err := r.next.LookupBank(ctx, prefix)
	if err != nil {
		return nil, err
	}

	if r.cache != nil && r.ttl > 0 {
		if err := r.cache.SetBank(ctx, prefix, details, r.ttl); err != nil {
			r.logger.Warn("registry cache write failed", "prefix", prefix, "error", err)
		}
	}
	return details, nil
}

func (r *CachedRegistry) ValidateBank(ctx context.Context, prefix string) bool {
	_, err := r.LookupBank(ctx, prefix)
	return err == nil
}
