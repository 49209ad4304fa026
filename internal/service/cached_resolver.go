package service

import (
	"context"
	"errors"
	"time"

	"github.com/phd-crm/crm-service/internal/domain"
	"github.com/phd-crm/crm-service/internal/observability"
	"github.com/phd-crm/crm-service/internal/repository"
)

const defaultDeadTokenTTL = time.Minute

type principalSource interface {
	FindActivePrincipal(ctx context.Context, token string) (*domain.Principal, error)
}

// CachedSessionResolver fronts the session lookup with a dead token cache.
// Only negative results are cached: a hit for a live session always goes to
// the database, so revocation takes effect on the very next request.
type CachedSessionResolver struct {
	source principalSource
	cache  DeadTokenCache
	ttl    time.Duration
}

func NewCachedSessionResolver(source principalSource, cache DeadTokenCache) *CachedSessionResolver {
	return &CachedSessionResolver{source: source, cache: cache, ttl: defaultDeadTokenTTL}
}

func (r *CachedSessionResolver) FindActivePrincipal(ctx context.Context, token string) (*domain.Principal, error) {
	seen, err := r.cache.Seen(ctx, token)
	if err == nil && seen {
		observability.RecordRepositoryOperation(ctx, "dead_token_cache", "seen", "hit")
		return nil, repository.ErrSessionNotFound
	}
	// Cache trouble just means we fall through to the database.

	principal, err := r.source.FindActivePrincipal(ctx, token)
	if errors.Is(err, repository.ErrSessionNotFound) {
		if markErr := r.cache.Mark(ctx, token, r.ttl); markErr == nil {
			observability.RecordRepositoryOperation(ctx, "dead_token_cache", "mark", "success")
		}
		return nil, err
	}
	return principal, err
}
