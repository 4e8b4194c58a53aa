package pggateway

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/pggateway/pggateway/internal/pool"
	"github.com/pggateway/pggateway/internal/security"
	"github.com/pggateway/pggateway/internal/track"
)

// Gateway is the core engine: a connection pool, a query gatekeeper, and an
// execution tracker wired together behind one API. All exported methods are
// safe for concurrent use from multiple goroutines.
//
// A Gateway starts disconnected. Initialize opens the pool, Close shuts it
// down; both may be called again in that order to reconnect.
type Gateway struct {
	config    Config
	pool      *pool.Manager
	validator *security.Validator
	tracker   *track.Tracker
	logger    zerolog.Logger
}

// New creates a Gateway from the given configuration. Zero-value database
// fields get defaults before validation; a CONFIGURATION_ERROR is returned
// when the result is still invalid. No connection is attempted until
// Initialize.
func New(config Config, logger zerolog.Logger) (*Gateway, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid gateway configuration")
		return nil, err
	}

	return &Gateway{
		config:    config,
		pool:      pool.NewManager(poolConfig(config.Database), logger),
		validator: security.NewValidator(securityPolicy(config.Security), logger),
		tracker:   track.NewTracker(logger),
		logger:    logger,
	}, nil
}

// Open is a convenience constructor: New followed by Initialize.
func Open(ctx context.Context, config Config, logger zerolog.Logger) (*Gateway, error) {
	g, err := New(config, logger)
	if err != nil {
		return nil, err
	}
	if err := g.Initialize(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

// Initialize opens the connection pool and verifies connectivity. Idempotent
// while connected; after a failure the gateway stays disconnected and
// Initialize may be retried.
func (g *Gateway) Initialize(ctx context.Context) error {
	return g.pool.Initialize(ctx)
}

// Close shuts down the connection pool. Safe to call multiple times.
func (g *Gateway) Close() {
	g.pool.Close()
}

// Ready reports whether the gateway holds a live connection pool.
func (g *Gateway) Ready() bool {
	return g.pool.Ready()
}

// HealthCheck runs a trivial query round trip and reports pool sizing.
// Failures are reported in the Health value, never as an error.
func (g *Gateway) HealthCheck(ctx context.Context) Health {
	return healthFromPool(g.pool.HealthCheck(ctx))
}

// ValidateQuery screens query text against the security policy without
// executing it. Returns nil when the query would be allowed to run.
func (g *Gateway) ValidateQuery(sql string) error {
	return g.validator.ValidateQuery(sql)
}

// CheckTableAccess reports whether the security policy allows access to the
// named table.
func (g *Gateway) CheckTableAccess(table string) bool {
	return g.validator.CheckTableAccess(table)
}

// SanitizeParameters returns a cleaned copy of params with dangerous
// fragments stripped from string values. Never fails.
func (g *Gateway) SanitizeParameters(params []any) []any {
	return g.validator.SanitizeParameters(params)
}

// ValidateIdentifier reports whether name is safe to interpolate into SQL
// text as a table or column identifier.
func ValidateIdentifier(name string) bool {
	return security.ValidateIdentifier(name)
}

// WithTransaction runs fn inside a transaction on a pooled connection. The
// transaction commits when fn returns nil and rolls back otherwise. SQL
// issued through the tx bypasses the gatekeeper, so callers own what they
// run here.
func (g *Gateway) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return g.pool.WithTransaction(ctx, fn)
}

// Stats returns a snapshot of the execution counters.
func (g *Gateway) Stats() Stats {
	s := g.tracker.Stats()
	return Stats{
		TotalExecutions:      s.TotalExecutions,
		SuccessfulExecutions: s.SuccessfulExecutions,
		FailedExecutions:     s.FailedExecutions,
		TotalExecutionTime:   s.TotalExecutionTime,
		ToolUsageCount:       s.ToolUsageCount,
		ActiveExecutions:     s.ActiveExecutions,
		SuccessRate:          s.SuccessRate,
		AverageExecutionTime: s.AverageExecutionTime,
	}
}

// ActiveExecutions returns the in-flight operations keyed by execution id.
func (g *Gateway) ActiveExecutions() map[string]ActiveExecution {
	active := g.tracker.ActiveContexts()
	snapshot := make(map[string]ActiveExecution, len(active))
	for id, entry := range active {
		snapshot[id] = ActiveExecution{
			Tool:        entry.Tool,
			StartTime:   entry.StartTime,
			RunningTime: entry.RunningTime,
			Parameters:  entry.Parameters,
		}
	}
	return snapshot
}

// ResetStats zeroes the execution counters. In-flight operations are
// unaffected.
func (g *Gateway) ResetStats() {
	g.tracker.Reset()
}

// poolConfig converts the public database configuration to the pool's.
func poolConfig(db DatabaseConfig) pool.Config {
	return pool.Config{
		Host:           db.Host,
		Port:           db.Port,
		Database:       db.Database,
		Username:       db.Username,
		Password:       db.Password,
		PoolSize:       db.PoolSize,
		CommandTimeout: db.CommandTimeout(),
		SSLMode:        db.SSLMode,
	}
}

// securityPolicy converts the public security configuration to the
// validator's policy.
func securityPolicy(sec SecurityConfig) security.Policy {
	return security.Policy{
		AllowedSchemas:    sec.AllowedSchemas,
		BlockedOperations: sec.BlockedOperations,
		SystemTables:      sec.SystemTables,
		MaxQueryLength:    sec.MaxQueryLength,
		DisableASTCheck:   sec.DisableASTCheck,
	}
}
