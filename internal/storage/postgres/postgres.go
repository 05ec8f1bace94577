// Package postgres stores the session event journal in PostgreSQL using pgx v5.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/cory-johannsen/islemulti/internal/config"
)

const applicationName = "islemulti"

// ErrSchemaMissing is returned by VerifySchema when the journal migrations
// have not been applied.
var ErrSchemaMissing = errors.New("session_events table missing, run `islemulti migrate`")

// Pool is the journal's connection pool.
type Pool struct {
	pool   *pgxpool.Pool
	events *EventRepository
}

// Stats is a point-in-time view of pool occupancy.
type Stats struct {
	Total    int32
	Idle     int32
	Acquired int32
}

// NewPool connects to the journal database described by cfg. Sessions are
// tagged with the application name so they can be told apart in pg_stat_activity.
//
// Precondition: cfg must contain valid database connection parameters.
// Postcondition: Returns a Pool that answered a ping, or a non-nil error.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Name, err)
	}

	return &Pool{pool: pool, events: NewEventRepository(pool)}, nil
}

// VerifySchema checks that the session_events table exists.
//
// Postcondition: Returns nil, ErrSchemaMissing, or a wrapped query error.
func (p *Pool) VerifySchema(ctx context.Context) error {
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT to_regclass('session_events') IS NOT NULL`).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking journal schema: %w", err)
	}
	if !exists {
		return ErrSchemaMissing
	}
	return nil
}

// Events returns the journal repository backed by this pool.
func (p *Pool) Events() *EventRepository {
	return p.events
}

// Health pings the database, giving up after timeout.
func (p *Pool) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	return nil
}

// Monitor checks pool health every interval until ctx is cancelled, then
// closes the pool.
//
// Postcondition: Returns nil; the pool is closed.
func (p *Pool) Monitor(ctx context.Context, interval time.Duration, logger *zap.Logger) error {
	defer p.Close()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.Health(ctx, interval/2); err != nil && ctx.Err() == nil {
				st := p.Stats()
				logger.Warn("journal database unhealthy",
					zap.Error(err),
					zap.Int32("conns", st.Total),
					zap.Int32("acquired", st.Acquired),
				)
			}
		}
	}
}

// Stats reports pool occupancy.
func (p *Pool) Stats() Stats {
	st := p.pool.Stat()
	return Stats{
		Total:    st.TotalConns(),
		Idle:     st.IdleConns(),
		Acquired: st.AcquiredConns(),
	}
}

// Close releases all pool resources.
func (p *Pool) Close() {
	p.pool.Close()
}
