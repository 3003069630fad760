package cache

import (
	"context"
	"time"

	"github.com/Ammaralibrahim/stocksistem/internal/domain"
)

// StatsCache holds computed dashboard payloads so repeated dashboard
// polls do not re-run the aggregate queries. Invalidate is called after
// any stock-moving operation.
type StatsCache interface {
	GetStats(ctx context.Context, key string) (*domain.DashboardStats, bool, error)
	SetStats(ctx context.Context, key string, value *domain.DashboardStats, ttl time.Duration) error
	GetCartDashboard(ctx context.Context, key string) (*domain.CartDashboard, bool, error)
	SetCartDashboard(ctx context.Context, key string, value *domain.CartDashboard, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

type NoopStatsCache struct{}

func (NoopStatsCache) GetStats(_ context.Context, _ string) (*domain.DashboardStats, bool, error) {
	return nil, false, nil
}

func (NoopStatsCache) SetStats(_ context.Context, _ string, _ *domain.DashboardStats, _ time.Duration) error {
	return nil
}

func (NoopStatsCache) GetCartDashboard(_ context.Context, _ string) (*domain.CartDashboard, bool, error) {
	return nil, false, nil
}

func (NoopStatsCache) SetCartDashboard(_ context.Context, _ string, _ *domain.CartDashboard, _ time.Duration) error {
	return nil
}

func (NoopStatsCache) Invalidate(_ context.Context, _ ...string) error {
	return nil
}
