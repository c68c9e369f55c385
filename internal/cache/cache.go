package cache

import (
	"context"
	"time"

	"comanda/backend/internal/domain"
)

// TierCache holds the discount tier list, which is read on every pricing
// call but changes rarely.
type TierCache interface {
	Get(ctx context.Context) ([]domain.DiscountTier, bool, error)
	Set(ctx context.Context, tiers []domain.DiscountTier, ttl time.Duration) error
}

type NoopTierCache struct{}

func (NoopTierCache) Get(_ context.Context) ([]domain.DiscountTier, bool, error) {
	return nil, false, nil
}

func (NoopTierCache) Set(_ context.Context, _ []domain.DiscountTier, _ time.Duration) error {
	return nil
}
