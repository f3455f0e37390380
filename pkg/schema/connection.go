package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/tenantdesk/accesskit/pkg/observability"
)

const (
	defaultConnectTimeout  = 5 * time.Second
	defaultMaxConns        = 10
	minReplicaConns        = 2
	defaultMonitorInterval = 30 * time.Second
)

// ConnectionConfig holds database connection configuration
type ConnectionConfig struct {
	PrimaryURL  string
	ReplicaURLs []string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

func (c ConnectionConfig) withDefaults() ConnectionConfig {
	if c.Timeout <= 0 {
		c.Timeout = defaultConnectTimeout
	}
	if c.MaxConns <= 0 {
		c.MaxConns = defaultMaxConns
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	return c
}

// replicaConns sizes a replica pool at half the primary's
func (c ConnectionConfig) replicaConns() int {
	return max(c.MaxConns/2, minReplicaConns)
}

// ConnectionManager holds the primary and the read replicas. Writes and
// reads that must see them use Primary; population listings use Replica.
type ConnectionManager struct {
	primary *sql.DB
	config  ConnectionConfig
	logger  *observability.Logger

	mu       sync.RWMutex
	replicas []*sql.DB
	next     atomic.Uint32
}

// NewConnectionManagerFromDB wraps pools that are already open
func NewConnectionManagerFromDB(primary *sql.DB, replicas []*sql.DB, logger *observability.Logger) *ConnectionManager {
	if logger == nil {
		logger = observability.NopLogger()
	}
	cm := &ConnectionManager{primary: primary, config: ConnectionConfig{}.withDefaults(), logger: logger}
	cm.replicas = append(cm.replicas, replicas...)
	return cm
}

// NewConnectionManager opens the primary and every reachable replica. An
// unreachable replica is skipped; an unreachable primary is an error.
func NewConnectionManager(config ConnectionConfig, logger *observability.Logger) (*ConnectionManager, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	config = config.withDefaults()

	primary, err := open(config.PrimaryURL, config.MaxConns, config)
	if err != nil {
		return nil, fmt.Errorf("primary: %w", err)
	}

	cm := &ConnectionManager{primary: primary, config: config, logger: logger}
	for i, url := range config.ReplicaURLs {
		replica, err := open(url, config.replicaConns(), config)
		if err != nil {
			logger.WithError(err).WithField("replica", i).Warn("skipping replica")
			continue
		}
		cm.replicas = append(cm.replicas, replica)
	}

	logger.WithFields(map[string]any{
		"replicas":  len(cm.replicas),
		"max_conns": config.MaxConns,
	}).Info("database connections open")
	return cm, nil
}

// open connects to url, sizes its pool and pings it within config.Timeout
func open(url string, maxConns int, config ConnectionConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(min(config.MinConns, maxConns))
	db.SetConnMaxLifetime(config.MaxLifetime)
	db.SetConnMaxIdleTime(config.MaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping: %w", err)
	}
	return db, nil
}

func (cm *ConnectionManager) Primary() *sql.DB {
	return cm.primary
}

// Replica picks the next replica round robin, or the primary when none is left
func (cm *ConnectionManager) Replica() *sql.DB {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if len(cm.replicas) == 0 {
		return cm.primary
	}
	i := cm.next.Add(1) % uint32(len(cm.replicas))
	return cm.replicas[i]
}

// Replicas returns a copy of the live replica set
func (cm *ConnectionManager) Replicas() []*sql.DB {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return append([]*sql.DB(nil), cm.replicas...)
}

// ReplicaProbe fails when replicas were configured and none answers a ping.
// Reads then fall back to the primary, so it is registered as an optional
// health probe.
func (cm *ConnectionManager) ReplicaProbe(ctx context.Context) error {
	replicas := cm.Replicas()
	if len(replicas) == 0 {
		if len(cm.config.ReplicaURLs) > 0 {
			return &observability.DegradedError{Reason: "no replica left, reads use the primary"}
		}
		return nil
	}

	var errs []error
	for i, replica := range replicas {
		if err := replica.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("replica-%d: %w", i, err))
		}
	}
	if len(errs) == len(replicas) {
		return fmt.Errorf("all replicas unreachable: %w", errors.Join(errs...))
	}
	return nil
}

// PruneReplicas drops replicas that fail a ping and returns how many were
// dropped. Pings run outside the lock so Replica never waits on a dead host.
// Callers holding a dropped pool get "database is closed"; pick a pool per
// query with Replica instead of keeping one.
func (cm *ConnectionManager) PruneReplicas(ctx context.Context) int {
	dead := make(map[*sql.DB]bool)
	for _, replica := range cm.Replicas() {
		if err := replica.PingContext(ctx); err != nil {
			dead[replica] = true
		}
	}
	if len(dead) == 0 {
		return 0
	}

	cm.mu.Lock()
	kept := make([]*sql.DB, 0, len(cm.replicas))
	for _, replica := range cm.replicas {
		if !dead[replica] {
			kept = append(kept, replica)
		}
	}
	cm.replicas = kept
	cm.mu.Unlock()

	for replica := range dead {
		replica.Close()
	}
	return len(dead)
}

// MonitorReplicas drops unreachable replicas and publishes primary pool
// stats every interval until ctx is done
func (cm *ConnectionManager) MonitorReplicas(ctx context.Context, interval time.Duration, metrics *observability.Metrics) {
	if interval <= 0 {
		interval = defaultMonitorInterval
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			checkCtx, cancel := context.WithTimeout(ctx, cm.config.Timeout)
			if removed := cm.PruneReplicas(checkCtx); removed > 0 {
				cm.logger.WithFields(map[string]any{
					"removed":   removed,
					"remaining": len(cm.Replicas()),
				}).Warn("dropped unreachable replicas")
			}
			cancel()
			metrics.RecordDBStats(cm.primary.Stats())
		}
	}()
}

// Close closes the primary and every replica
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	replicas := cm.replicas
	cm.replicas = nil
	cm.mu.Unlock()

	errs := []error{}
	if err := cm.primary.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close primary: %w", err))
	}
	for i, replica := range replicas {
		if err := replica.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close replica-%d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
