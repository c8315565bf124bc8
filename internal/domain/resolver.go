package domain

import "context"

// MetadataResolver fetches market metadata by slug. Implemented by the Gamma
// client; the registry treats a resolver error as "market unresolved" and
// retries on the next poll.
type MetadataResolver interface {
	Resolve(ctx context.Context, slug string) (MarketMeta, error)
}

// MetaCache is an optional read-through cache in front of a MetadataResolver.
// Get returns ErrNotFound on a miss.
type MetaCache interface {
	Get(ctx context.Context, slug string) (MarketMeta, error)
	Set(ctx context.Context, meta MarketMeta) error
	Invalidate(ctx context.Context, slug string) error
}
