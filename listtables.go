package pggateway

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pggateway/pggateway/gwerr"
)

// introspectionTimeout bounds the catalog queries behind ListTables and
// DescribeTable, which are not subject to the per-statement command timeout.
const introspectionTimeout = 10 * time.Second

const listTablesSQL = `
SELECT
    n.nspname AS schema,
    c.relname AS name,
    CASE c.relkind
        WHEN 'r' THEN 'table'
        WHEN 'v' THEN 'view'
        WHEN 'm' THEN 'materialized_view'
        WHEN 'f' THEN 'foreign_table'
        WHEN 'p' THEN 'partitioned_table'
    END AS type,
    pg_catalog.pg_get_userbyid(c.relowner) AS owner
FROM pg_catalog.pg_class c
LEFT JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind IN ('r', 'v', 'm', 'f', 'p')
  AND n.nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
  AND has_table_privilege(c.oid, 'SELECT')
ORDER BY n.nspname, c.relname;
`

// ListTables returns every table, view, materialized view, and foreign table
// visible to the connected role. Catalog introspection bypasses the query
// gatekeeper: the SQL is fixed and never includes caller input.
func (g *Gateway) ListTables(ctx context.Context) ([]TableEntry, error) {
	tc := g.tracker.Begin("list_tables", nil)

	tables, err := g.listTables(ctx)
	if err != nil {
		g.tracker.End(tc, err)
		return nil, err
	}
	tc.ResultSize = len(tables)
	g.tracker.End(tc, nil)
	return tables, nil
}

func (g *Gateway) listTables(ctx context.Context) ([]TableEntry, error) {
	queryCtx, cancel := context.WithTimeout(ctx, introspectionTimeout)
	defer cancel()

	var tables []TableEntry
	err := g.pool.WithSession(queryCtx, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, listTablesSQL)
		if err != nil {
			return gwerr.Convert(err)
		}
		collected, err := pgx.CollectRows(rows, pgx.RowToStructByPos[TableEntry])
		if err != nil {
			return gwerr.Convert(err)
		}
		tables = collected
		return nil
	})
	if err != nil {
		return nil, err
	}
	if tables == nil {
		tables = []TableEntry{}
	}
	return tables, nil
}
