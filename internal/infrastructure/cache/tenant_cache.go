// Package cache keeps tenant credentials in memory with invalidation via
// PostgreSQL LISTEN/NOTIFY.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"taxlink/internal/core/tenant"
	"taxlink/pkg/logger"
)

// TenantsChannel is notified by the tenants table trigger. The payload is the tenant id.
const TenantsChannel = "tenants_changed"

// TenantCache is a tenant.Registry that serves lookups from memory.
// Entries are dropped when the tenants row changes, so the next submission
// picks up rotated credentials without a restart.
type TenantCache struct {
	source tenant.Registry
	pool   *pgxpool.Pool

	mu      sync.RWMutex
	tenants map[string]*tenant.Tenant

	// Lifecycle
	lifecycleMu sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     bool
}

// NewTenantCache wraps source. pool is used for LISTEN and may be nil,
// in which case entries live until Invalidate is called.
func NewTenantCache(source tenant.Registry, pool *pgxpool.Pool) *TenantCache {
	return &TenantCache{
		source:  source,
		pool:    pool,
		tenants: make(map[string]*tenant.Tenant),
	}
}

// GetByID implements tenant.Registry.
func (c *TenantCache) GetByID(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	c.mu.RLock()
	t, ok := c.tenants[tenantID]
	c.mu.RUnlock()
	if ok {
		return t, nil
	}

	t, err := c.source.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.tenants[tenantID] = t
	c.mu.Unlock()
	return t, nil
}

// ListActive implements tenant.Registry. The list is not cached.
func (c *TenantCache) ListActive(ctx context.Context) ([]*tenant.Tenant, error) {
	return c.source.ListActive(ctx)
}

// Invalidate drops one tenant, or every tenant when tenantID is empty.
func (c *TenantCache) Invalidate(tenantID string) {
	tenantID = strings.TrimSpace(tenantID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if tenantID == "" {
		c.tenants = make(map[string]*tenant.Tenant)
		return
	}
	delete(c.tenants, tenantID)
}

// Len returns the number of cached tenants.
func (c *TenantCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tenants)
}

// Start begins listening for tenant changes.
func (c *TenantCache) Start(ctx context.Context) error {
	if c.pool == nil {
		return fmt.Errorf("tenant cache: no pool to listen on")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.started {
		return nil
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.started = true

	c.wg.Add(1)
	go c.listenLoop()
	logger.Info(c.ctx, "tenant cache started")
	return nil
}

// Stop ends the listener and waits for it.
func (c *TenantCache) Stop() {
	c.lifecycleMu.Lock()
	if !c.started {
		c.lifecycleMu.Unlock()
		return
	}
	cancel := c.cancel
	c.started = false
	c.cancel = nil
	c.lifecycleMu.Unlock()

	cancel()
	c.wg.Wait()
}

func (c *TenantCache) listenLoop() {
	defer c.wg.Done()

	for c.ctx.Err() == nil {
		conn, err := c.pool.Acquire(c.ctx)
		if err != nil {
			logger.Error(c.ctx, "failed to acquire connection for LISTEN", "error", err)
			c.sleep(time.Second)
			continue
		}

		if _, err := conn.Exec(c.ctx, "LISTEN "+TenantsChannel); err != nil {
			logger.Error(c.ctx, "failed to LISTEN", "channel", TenantsChannel, "error", err)
			conn.Release()
			c.sleep(time.Second)
			continue
		}

		// Changes made while no connection was listening are unknown.
		c.Invalidate("")
		c.waitForNotifications(conn)
		conn.Release()
	}
}

func (c *TenantCache) waitForNotifications(conn *pgxpool.Conn) {
	for {
		ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
		notification, err := conn.Conn().WaitForNotification(ctx)
		cancel()

		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if ctx.Err() == context.DeadlineExceeded {
				continue
			}
			logger.Warn(c.ctx, "tenant listener connection lost", "error", err)
			return
		}

		logger.Debug(c.ctx, "tenant changed", "tenant_id", notification.Payload)
		c.Invalidate(notification.Payload)
	}
}

func (c *TenantCache) sleep(d time.Duration) {
	select {
	case <-c.ctx.Done():
	case <-time.After(d):
	}
}

var _ tenant.Registry = (*TenantCache)(nil)
