package rates

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// SettingsSource is the external settings provider that owns rate
// configuration. Fetches return the full rate set for one tenant.
type SettingsSource interface {
	FetchRates(ctx context.Context, tenantID string) ([]OperationRate, error)
}

// CachedRepo serves rate lookups from a redis snapshot with a bounded TTL.
//
// Staleness bound: a tenant's rates are re-fetched from the settings source at
// most TTL after the previous snapshot. Redis outages degrade to direct
// source fetches; they never fail a charge on their own.
type CachedRepo struct {
	source SettingsSource
	rdb    *redis.Client
	ttl    time.Duration
}

func NewCachedRepo(source SettingsSource, rdb *redis.Client, ttl time.Duration) *CachedRepo {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &CachedRepo{source: source, rdb: rdb, ttl: ttl}
}

func cacheKey(tenantID string) string { return "rates:" + tenantID }

func (r *CachedRepo) FindRate(ctx context.Context, tenantID string, op Operation, at time.Time) (OperationRate, bool, error) {
	rows, err := r.snapshot(ctx, tenantID)
	if err != nil {
		return OperationRate{}, false, err
	}
	mem := MemoryRepo{Rates: rows}
	return mem.FindRate(ctx, tenantID, op, at)
}

func (r *CachedRepo) snapshot(ctx context.Context, tenantID string) ([]OperationRate, error) {
	if r.rdb != nil {
		raw, err := r.rdb.Get(ctx, cacheKey(tenantID)).Bytes()
		if err == nil {
			var rows []OperationRate
			if jsonErr := json.Unmarshal(raw, &rows); jsonErr == nil {
				return rows, nil
			}
			// Corrupt snapshot: fall through to a fresh fetch.
		}
	}

	rows, err := r.source.FetchRates(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if r.rdb != nil {
		if raw, err := json.Marshal(rows); err == nil {
			// Best-effort: cache write failures are ignored.
			_ = r.rdb.Set(ctx, cacheKey(tenantID), raw, r.ttl).Err()
		}
	}
	return rows, nil
}
