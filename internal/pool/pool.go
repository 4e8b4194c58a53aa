// Package pool owns the PostgreSQL connection pool lifecycle and the query
// execution primitives built on it. There is one Manager per gateway; it
// moves through Uninitialized → Ready → Closed, and every session it hands
// out is released on every exit path via scoped acquisition.
//
// Native pgx errors never leave this package unconverted; see gwerr.Convert.
package pool

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/pggateway/pggateway/gwerr"
)

// applicationName tags pool connections for observability
// (pg_stat_activity.application_name).
const applicationName = "pggateway"

// FetchMode selects the shape of data Execute returns.
type FetchMode int

const (
	// FetchAll returns every row as an ordered slice of column→value maps.
	FetchAll FetchMode = iota
	// FetchOne returns the first row, or no row if the result is empty.
	FetchOne
	// FetchVal returns the first column of the first row.
	FetchVal
	// FetchNone returns only the driver status string (INSERT/UPDATE/DDL).
	FetchNone
)

var fetchModeNames = map[FetchMode]string{
	FetchAll:  "all",
	FetchOne:  "one",
	FetchVal:  "val",
	FetchNone: "none",
}

func (m FetchMode) String() string {
	if name, ok := fetchModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("FetchMode(%d)", int(m))
}

// Valid reports whether m is one of the four defined modes.
func (m FetchMode) Valid() bool {
	_, ok := fetchModeNames[m]
	return ok
}

// Spec is one unit of work: SQL text, ordered bind parameters, and the
// fetch mode that shapes its result.
type Spec struct {
	SQL  string
	Args []any
	Mode FetchMode
}

// Result is the normalized outcome of executing one Spec. Exactly the
// fields relevant to the Spec's mode are populated.
type Result struct {
	Columns      []string
	Rows         []map[string]any
	Row          map[string]any
	Value        any
	HasValue     bool
	Status       string
	RowsAffected int64
}

// Config holds the immutable connection parameters. Built once at startup.
type Config struct {
	Host           string
	Port           int
	Database       string
	Username       string
	Password       string
	PoolSize       int
	CommandTimeout time.Duration
	SSLMode        string
}

// ConnString renders the config as a keyword/value pgx connection string.
func (c Config) ConnString() string {
	parts := []string{}
	if c.Host != "" {
		parts = append(parts, fmt.Sprintf("host=%s", c.Host))
	}
	if c.Port > 0 {
		parts = append(parts, fmt.Sprintf("port=%d", c.Port))
	}
	if c.Database != "" {
		parts = append(parts, fmt.Sprintf("dbname=%s", c.Database))
	}
	if c.Username != "" {
		parts = append(parts, fmt.Sprintf("user=%s", c.Username))
	}
	if c.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", c.Password))
	}
	if c.SSLMode != "" {
		parts = append(parts, fmt.Sprintf("sslmode=%s", c.SSLMode))
	}
	return strings.Join(parts, " ")
}

// Health is the outcome of a HealthCheck round trip. Status is "healthy" or
// "unhealthy"; Error is set only when unhealthy.
type Health struct {
	Status    string     `json:"status"`
	Error     string     `json:"error,omitempty"`
	PoolStats *PoolStats `json:"pool_stats,omitempty"`
	Database  string     `json:"database,omitempty"`
	Host      string     `json:"host,omitempty"`
	Port      int        `json:"port,omitempty"`
}

// PoolStats reports pool sizing for diagnostics.
type PoolStats struct {
	Size     int32 `json:"size"`
	Idle     int32 `json:"idle"`
	Acquired int32 `json:"acquired"`
	MaxSize  int32 `json:"max_size"`
	MinSize  int32 `json:"min_size"`
}

// Manager owns the process's single connection pool. The zero pool state is
// Uninitialized; Initialize moves it to Ready and Close to Closed. All
// methods are safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	config Config
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewManager creates a Manager in the Uninitialized state. No connection is
// attempted until Initialize.
func NewManager(config Config, logger zerolog.Logger) *Manager {
	return &Manager{config: config, logger: logger}
}

// Initialize builds the underlying pool and verifies connectivity with a
// ping. Idempotent: a second call on a Ready manager logs a warning and
// returns nil. On failure the manager stays Uninitialized so a retry is
// possible. The lock spans the whole build so a half-initialized pool is
// never observable.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pool != nil {
		m.logger.Warn().Msg("connection pool already initialized")
		return nil
	}

	m.logger.Info().
		Str("host", m.config.Host).
		Int("port", m.config.Port).
		Str("database", m.config.Database).
		Msg("creating connection pool")

	poolConfig, err := pgxpool.ParseConfig(m.config.ConnString())
	if err != nil {
		return gwerr.Connection(
			fmt.Sprintf("failed to initialize database connection pool: %v", err), nil)
	}
	poolConfig.MinConns = 1
	poolConfig.MaxConns = int32(m.config.PoolSize)
	poolConfig.ConnConfig.RuntimeParams["application_name"] = applicationName
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeExec

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return gwerr.Connection(
			fmt.Sprintf("failed to initialize database connection pool: %v", err), nil)
	}
	// pgxpool connects lazily; ping so an unreachable host or bad
	// credentials fail here instead of on the first query.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return gwerr.Connection(
			fmt.Sprintf("failed to initialize database connection pool: %v", err), nil)
	}

	m.pool = pool
	m.logger.Info().Int("max_conns", m.config.PoolSize).Msg("connection pool created")
	return nil
}

// Close drains and closes the pool. Safe to call multiple times; a no-op
// when not Ready.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pool == nil {
		return
	}
	m.logger.Info().Msg("closing connection pool")
	m.pool.Close()
	m.pool = nil
}

// Ready reports whether the manager holds a live pool.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pool != nil
}

func (m *Manager) currentPool() *pgxpool.Pool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pool
}

// Acquire checks a session out of the pool. Prefer WithSession; callers of
// Acquire own the release.
func (m *Manager) Acquire(ctx context.Context) (*pgxpool.Conn, error) {
	pool := m.currentPool()
	if pool == nil {
		return nil, gwerr.Connection("connection pool not initialized, call Initialize first", nil)
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to acquire connection from pool")
		return nil, gwerr.Connection(fmt.Sprintf("failed to get database connection: %v", err), nil)
	}
	return conn, nil
}

// Release returns a session to the pool. Never fails: it is called from
// deferred cleanup paths that must not themselves propagate errors.
func (m *Manager) Release(conn *pgxpool.Conn) {
	if conn == nil {
		return
	}
	conn.Release()
}

// WithSession runs fn with an acquired session and releases it on every
// exit path. This is the only sanctioned way to obtain a session.
func (m *Manager) WithSession(ctx context.Context, fn func(ctx context.Context, conn *pgxpool.Conn) error) error {
	conn, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	defer m.Release(conn)
	return fn(ctx, conn)
}

// WithTransaction runs fn inside a transaction on an acquired session.
// Commits when fn returns nil, rolls back otherwise; the session is
// released afterward on every path. Rollback uses a background context so
// cleanup still runs when fn failed due to context expiry.
func (m *Manager) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return m.WithSession(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		tx, err := conn.Begin(ctx)
		if err != nil {
			return gwerr.Convert(err)
		}
		defer tx.Rollback(context.Background())

		if err := fn(ctx, tx); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return gwerr.New(gwerr.KindTransaction,
				fmt.Sprintf("failed to commit transaction: %v", err), nil)
		}
		return nil
	})
}

// Execute runs one Spec on a pooled session and shapes the result by its
// fetch mode. Validation failures are detected before any session is
// acquired. The configured command timeout bounds the statement.
func (m *Manager) Execute(ctx context.Context, spec Spec) (*Result, error) {
	if err := validateSpec(spec); err != nil {
		return nil, err
	}

	var result *Result
	err := m.WithSession(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		queryCtx, cancel := m.commandContext(ctx)
		defer cancel()

		var err error
		result, err = runSpec(queryCtx, conn, spec)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ExecuteBatch runs specs in declared order inside one transaction. The
// first failure aborts and rolls back the whole batch; its error names the
// zero-based index of the failing statement. On success the results match
// the input order one-to-one.
func (m *Manager) ExecuteBatch(ctx context.Context, specs []Spec) ([]*Result, error) {
	if len(specs) == 0 {
		return nil, gwerr.Validation("queries list cannot be empty", "queries", nil)
	}
	for i, spec := range specs {
		if err := validateSpec(spec); err != nil {
			return nil, batchError(err, i)
		}
	}

	results := make([]*Result, 0, len(specs))
	err := m.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		for i, spec := range specs {
			// The command timeout bounds each statement, not the whole batch.
			queryCtx, cancel := m.commandContext(ctx)
			result, err := runSpec(queryCtx, tx.Conn(), spec)
			cancel()
			if err != nil {
				m.logger.Error().Int("statement_index", i).Err(err).Msg("batch statement failed")
				return batchError(err, i)
			}
			results = append(results, result)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info().Int("statement_count", len(specs)).Msg("transaction completed")
	return results, nil
}

// HealthCheck issues a trivial round trip and reports pool sizing. Never
// returns an error: failures are reported in the Health value.
func (m *Manager) HealthCheck(ctx context.Context) Health {
	pool := m.currentPool()
	if pool == nil {
		return Health{Status: "unhealthy", Error: "connection pool not initialized"}
	}

	queryCtx, cancel := m.commandContext(ctx)
	defer cancel()

	var one int
	if err := pool.QueryRow(queryCtx, "SELECT 1").Scan(&one); err != nil {
		m.logger.Error().Err(err).Msg("health check failed")
		return Health{Status: "unhealthy", Error: err.Error()}
	}

	stat := pool.Stat()
	return Health{
		Status: "healthy",
		PoolStats: &PoolStats{
			Size:     stat.TotalConns(),
			Idle:     stat.IdleConns(),
			Acquired: stat.AcquiredConns(),
			MaxSize:  stat.MaxConns(),
			MinSize:  1,
		},
		Database: m.config.Database,
		Host:     m.config.Host,
		Port:     m.config.Port,
	}
}

// IdleConns returns the pool's idle connection count, or -1 when not Ready.
// Exists so tests can assert the guaranteed-release property.
func (m *Manager) IdleConns() int32 {
	pool := m.currentPool()
	if pool == nil {
		return -1
	}
	return pool.Stat().IdleConns()
}

func (m *Manager) commandContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.config.CommandTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.config.CommandTimeout)
}

// batchError rebuilds err with the zero-based index of the failing batch
// statement attached. The original error's kind and details are preserved.
func batchError(err error, index int) error {
	gw := gwerr.Convert(err)
	details := make(map[string]any, len(gw.Details)+1)
	for k, v := range gw.Details {
		details[k] = v
	}
	details["failing_statement_index"] = index
	return gwerr.New(gw.Kind,
		fmt.Sprintf("transaction failed at statement %d: %s", index, gw.Message), details)
}

func validateSpec(spec Spec) error {
	if strings.TrimSpace(spec.SQL) == "" {
		return gwerr.Validation("query cannot be empty", "query", nil)
	}
	if !spec.Mode.Valid() {
		return gwerr.Validation(fmt.Sprintf("invalid fetch mode: %d", spec.Mode), "fetch_mode", int(spec.Mode))
	}
	return nil
}

// queryable is the slice of the pgx API runSpec needs; both *pgxpool.Conn
// and a transaction's *pgx.Conn satisfy it.
type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// runSpec executes spec on conn and shapes the result. conn may be a pooled
// session or a transaction's underlying connection.
func runSpec(ctx context.Context, conn queryable, spec Spec) (*Result, error) {
	switch spec.Mode {
	case FetchAll, FetchOne, FetchVal:
		rows, err := conn.Query(ctx, spec.SQL, spec.Args...)
		if err != nil {
			return nil, gwerr.ConvertQuery(err, spec.SQL, spec.Args)
		}
		return collectRows(rows, spec)
	case FetchNone:
		// Exec shape: drive through Query as well so one interface covers
		// pooled sessions and transactions, then drain for the command tag.
		rows, err := conn.Query(ctx, spec.SQL, spec.Args...)
		if err != nil {
			return nil, gwerr.ConvertQuery(err, spec.SQL, spec.Args)
		}
		for rows.Next() {
			// discard projection, if any
		}
		if err := rows.Err(); err != nil {
			return nil, gwerr.ConvertQuery(err, spec.SQL, spec.Args)
		}
		tag := rows.CommandTag()
		return &Result{Status: tag.String(), RowsAffected: tag.RowsAffected()}, nil
	default:
		return nil, gwerr.Validation(fmt.Sprintf("invalid fetch mode: %d", spec.Mode), "fetch_mode", int(spec.Mode))
	}
}

// collectRows reads rows and shapes them according to the fetch mode.
func collectRows(rows pgx.Rows, spec Spec) (*Result, error) {
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = fd.Name
	}

	result := &Result{Columns: columns}
	switch spec.Mode {
	case FetchAll:
		result.Rows = make([]map[string]any, 0)
	}

	for rows.Next() {
		switch spec.Mode {
		case FetchVal:
			if !result.HasValue {
				values, err := rows.Values()
				if err != nil {
					return nil, gwerr.ConvertQuery(err, spec.SQL, spec.Args)
				}
				if len(values) > 0 {
					result.Value = values[0]
					result.HasValue = true
				}
			}
		case FetchOne:
			if result.Row == nil {
				row, err := scanRow(rows, columns)
				if err != nil {
					return nil, gwerr.ConvertQuery(err, spec.SQL, spec.Args)
				}
				result.Row = row
			}
		case FetchAll:
			row, err := scanRow(rows, columns)
			if err != nil {
				return nil, gwerr.ConvertQuery(err, spec.SQL, spec.Args)
			}
			result.Rows = append(result.Rows, row)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, gwerr.ConvertQuery(err, spec.SQL, spec.Args)
	}

	result.RowsAffected = rows.CommandTag().RowsAffected()
	return result, nil
}

func scanRow(rows pgx.Rows, columns []string) (map[string]any, error) {
	values, err := rows.Values()
	if err != nil {
		return nil, err
	}
	row := make(map[string]any, len(columns))
	for i, col := range columns {
		row[col] = values[i]
	}
	return row, nil
}
