package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"meniscus/internal/config"
	"meniscus/internal/logging"
	"meniscus/internal/tenant"
)

// TenantCache is the read-through cache of tenants keyed by tenant id.
// Entries are stored as Format() JSON; callers only ever see domain
// objects. Every store error is reported as a miss.
type TenantCache struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
}

// NewTenantCache wraps a store keyspace. A zero ttl falls back to the
// default tenant expiry.
func NewTenantCache(store Store, ttl time.Duration, logger *slog.Logger) *TenantCache {
	if ttl == 0 {
		ttl = DefaultTenantTTL
	}
	return &TenantCache{
		store:  store,
		ttl:    ttl,
		logger: logging.Default(logger).With("component", "cache", "region", "tenant"),
	}
}

// Get returns the cached tenant, or nil on miss or any cache error.
func (c *TenantCache) Get(ctx context.Context, tenantID string) *tenant.Tenant {
	raw, err := c.store.Get(ctx, tenantID)
	if err != nil {
		c.logMiss(ctx, tenantID, err)
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		c.logMiss(ctx, tenantID, err)
		return nil
	}
	t, err := tenant.LoadTenantFromMap(m)
	if err != nil {
		c.logMiss(ctx, tenantID, err)
		return nil
	}
	return t
}

// Set upserts the tenant; failures are logged and swallowed.
func (c *TenantCache) Set(ctx context.Context, t *tenant.Tenant) {
	raw, err := json.Marshal(t.Format())
	if err != nil {
		c.logger.DebugContext(ctx, "cache write skipped", "tenant_id", t.TenantID, "error", err)
		return
	}
	if err := c.store.Set(ctx, t.TenantID, raw, c.ttl); err != nil {
		c.logger.DebugContext(ctx, "cache write failed", "tenant_id", t.TenantID, "error", err)
	}
}

// Delete removes the tenant; failures are swallowed.
func (c *TenantCache) Delete(ctx context.Context, tenantID string) {
	if err := c.store.Delete(ctx, tenantID); err != nil {
		c.logger.DebugContext(ctx, "cache delete failed", "tenant_id", tenantID, "error", err)
	}
}

// Clear wipes the tenant region.
func (c *TenantCache) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}

func (c *TenantCache) logMiss(ctx context.Context, tenantID string, err error) {
	if !errors.Is(err, ErrMiss) {
		c.logger.DebugContext(ctx, "cache error treated as miss", "tenant_id", tenantID, "error", err)
	}
}

// TokenCache is the read-through cache of tokens keyed by tenant id.
type TokenCache struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
}

// NewTokenCache wraps a store keyspace. A zero ttl falls back to the
// default token expiry.
func NewTokenCache(store Store, ttl time.Duration, logger *slog.Logger) *TokenCache {
	if ttl == 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenCache{
		store:  store,
		ttl:    ttl,
		logger: logging.Default(logger).With("component", "cache", "region", "token"),
	}
}

// Get returns the cached token, or nil on miss or any cache error.
func (c *TokenCache) Get(ctx context.Context, tenantID string) *tenant.Token {
	raw, err := c.store.Get(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.logger.DebugContext(ctx, "cache error treated as miss", "tenant_id", tenantID, "error", err)
		}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		c.logger.DebugContext(ctx, "cache error treated as miss", "tenant_id", tenantID, "error", err)
		return nil
	}
	tk, err := tenant.LoadTokenFromMap(m)
	if err != nil {
		c.logger.DebugContext(ctx, "cache error treated as miss", "tenant_id", tenantID, "error", err)
		return nil
	}
	return tk
}

// Set upserts the token; failures are logged and swallowed.
func (c *TokenCache) Set(ctx context.Context, tenantID string, tk *tenant.Token) {
	raw, err := json.Marshal(tk.Format())
	if err != nil {
		c.logger.DebugContext(ctx, "cache write skipped", "tenant_id", tenantID, "error", err)
		return
	}
	if err := c.store.Set(ctx, tenantID, raw, c.ttl); err != nil {
		c.logger.DebugContext(ctx, "cache write failed", "tenant_id", tenantID, "error", err)
	}
}

// Delete removes the token; failures are swallowed.
func (c *TokenCache) Delete(ctx context.Context, tenantID string) {
	if err := c.store.Delete(ctx, tenantID); err != nil {
		c.logger.DebugContext(ctx, "cache delete failed", "tenant_id", tenantID, "error", err)
	}
}

// Clear wipes the token region.
func (c *TokenCache) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// ConfigCache holds the single process-wide worker configuration record.
// The region never expires.
type ConfigCache struct {
	store  Store
	logger *slog.Logger
}

// NewConfigCache wraps a store keyspace for the worker-config singleton.
func NewConfigCache(store Store, logger *slog.Logger) *ConfigCache {
	return &ConfigCache{
		store:  store,
		logger: logging.Default(logger).With("component", "cache", "region", "config"),
	}
}

// Get returns the worker configuration, or nil on miss or any cache error.
func (c *ConfigCache) Get(ctx context.Context) *config.WorkerConfiguration {
	raw, err := c.store.Get(ctx, workerConfigKey)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.logger.DebugContext(ctx, "cache error treated as miss", "error", err)
		}
		return nil
	}
	var wc config.WorkerConfiguration
	if err := json.Unmarshal(raw, &wc); err != nil {
		c.logger.DebugContext(ctx, "cache error treated as miss", "error", err)
		return nil
	}
	return &wc
}

// Set upserts the worker configuration with no TTL; failures are
// logged and swallowed.
func (c *ConfigCache) Set(ctx context.Context, wc config.WorkerConfiguration) {
	raw, err := json.Marshal(wc)
	if err != nil {
		c.logger.DebugContext(ctx, "cache write skipped", "error", err)
		return
	}
	if err := c.store.Set(ctx, workerConfigKey, raw, 0); err != nil {
		c.logger.DebugContext(ctx, "cache write failed", "error", err)
	}
}

// Clear wipes the config region.
func (c *ConfigCache) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}
