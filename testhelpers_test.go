package pggateway_test

import (
	"context"
	"os"
	"testing"

	"github.com/rickchristie/govner/pgflock/client"
	"github.com/rs/zerolog"

	"github.com/pggateway/pggateway"
)

const (
	pgflockLockerPort = 9776
	pgflockPassword   = "pgflock"
)

// acquireTestDB leases an isolated database from the local pgflock locker
// and returns its connection parameters.
func acquireTestDB(t *testing.T) pggateway.DatabaseConfig {
	t.Helper()
	connStr, err := client.Lock(pgflockLockerPort, t.Name(), pgflockPassword)
	if err != nil {
		t.Fatalf("Failed to acquire test database: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Unlock(pgflockLockerPort, pgflockPassword, connStr)
	})

	db, err := pggateway.DatabaseConfigFromConnString(connStr)
	if err != nil {
		t.Fatalf("Failed to parse test database connection string: %v", err)
	}
	return db
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func defaultTestConfig(t *testing.T) pggateway.Config {
	t.Helper()
	db := acquireTestDB(t)
	db.PoolSize = 5
	db.CommandTimeoutSeconds = 30
	return pggateway.Config{Database: db}
}

func newTestGateway(t *testing.T, config pggateway.Config) *pggateway.Gateway {
	t.Helper()
	g, err := pggateway.Open(context.Background(), config, testLogger())
	if err != nil {
		t.Fatalf("Failed to open gateway: %v", err)
	}
	t.Cleanup(g.Close)
	return g
}

func mustExec(t *testing.T, g *pggateway.Gateway, sql string, args ...any) {
	t.Helper()
	_, err := g.Execute(context.Background(), pggateway.QuerySpec{
		SQL:  sql,
		Args: args,
		Mode: pggateway.FetchNone,
	})
	if err != nil {
		t.Fatalf("setup statement failed: %v\n%s", err, sql)
	}
}

func countRows(t *testing.T, g *pggateway.Gateway, table string) int64 {
	t.Helper()
	result, err := g.Execute(context.Background(), pggateway.QuerySpec{
		SQL:  "SELECT count(*) FROM " + table,
		Mode: pggateway.FetchVal,
	})
	if err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	count, ok := result.Value.(int64)
	if !ok {
		t.Fatalf("count value has type %T", result.Value)
	}
	return count
}
