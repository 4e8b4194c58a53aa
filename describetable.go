package pggateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/pggateway/pggateway/gwerr"
	"github.com/pggateway/pggateway/internal/security"
)

const detectTypeSQL = `
SELECT c.relkind
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE c.oid = $1::regclass;
`

const columnsSQL = `
SELECT
    c.column_name AS name,
    c.data_type AS type,
    CASE c.is_nullable WHEN 'YES' THEN true ELSE false END AS nullable,
    COALESCE(c.column_default, '') AS default_val,
    CASE WHEN pk.column_name IS NOT NULL THEN true ELSE false END AS is_primary_key
FROM information_schema.columns c
LEFT JOIN (
    SELECT kcu.column_name
    FROM information_schema.table_constraints tc
    JOIN information_schema.key_column_usage kcu
        ON tc.constraint_name = kcu.constraint_name
        AND tc.table_schema = kcu.table_schema
    WHERE tc.constraint_type = 'PRIMARY KEY'
        AND tc.table_schema = $1
        AND tc.table_name = $2
) pk ON pk.column_name = c.column_name
WHERE c.table_schema = $1
    AND c.table_name = $2
ORDER BY c.ordinal_position;
`

// Materialized view columns live in pg_attribute, not information_schema.
const matviewColumnsSQL = `
SELECT a.attname AS name,
       pg_catalog.format_type(a.atttypid, a.atttypmod) AS type,
       NOT a.attnotnull AS nullable,
       COALESCE(pg_catalog.pg_get_expr(d.adbin, d.adrelid), '') AS default_val
FROM pg_catalog.pg_attribute a
LEFT JOIN pg_catalog.pg_attrdef d ON (a.attrelid = d.adrelid AND a.attnum = d.adnum)
WHERE a.attrelid = $1::regclass
  AND a.attnum > 0
  AND NOT a.attisdropped
ORDER BY a.attnum;
`

const viewDefSQL = `
SELECT pg_catalog.pg_get_viewdef($1::regclass, true) AS definition;
`

const indexesSQL = `
SELECT
    indexname AS name,
    indexdef AS definition,
    i.indisunique AS is_unique,
    i.indisprimary AS is_primary
FROM pg_catalog.pg_indexes pi
JOIN pg_catalog.pg_class c ON c.relname = pi.indexname AND c.relnamespace = (
    SELECT oid FROM pg_catalog.pg_namespace WHERE nspname = pi.schemaname
)
JOIN pg_catalog.pg_index i ON i.indexrelid = c.oid
WHERE pi.schemaname = $1
  AND pi.tablename = $2
ORDER BY pi.indexname;
`

const constraintsSQL = `
SELECT
    con.conname AS name,
    CASE con.contype
        WHEN 'p' THEN 'PRIMARY KEY'
        WHEN 'f' THEN 'FOREIGN KEY'
        WHEN 'u' THEN 'UNIQUE'
        WHEN 'c' THEN 'CHECK'
        WHEN 'x' THEN 'EXCLUSION'
    END AS type,
    pg_catalog.pg_get_constraintdef(con.oid, true) AS definition
FROM pg_catalog.pg_constraint con
JOIN pg_catalog.pg_class c ON c.oid = con.conrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1
  AND c.relname = $2
ORDER BY con.conname;
`

const foreignKeysSQL = `
SELECT
    con.conname AS name,
    (
        SELECT string_agg(a.attname, ', ' ORDER BY array_position(con.conkey, a.attnum))
        FROM pg_catalog.pg_attribute a
        WHERE a.attrelid = con.conrelid AND a.attnum = ANY(con.conkey)
    ) AS columns,
    fc.relname AS referenced_table,
    (
        SELECT string_agg(a.attname, ', ' ORDER BY array_position(con.confkey, a.attnum))
        FROM pg_catalog.pg_attribute a
        WHERE a.attrelid = con.confrelid AND a.attnum = ANY(con.confkey)
    ) AS referenced_columns,
    CASE con.confupdtype
        WHEN 'a' THEN 'NO ACTION'
        WHEN 'r' THEN 'RESTRICT'
        WHEN 'c' THEN 'CASCADE'
        WHEN 'n' THEN 'SET NULL'
        WHEN 'd' THEN 'SET DEFAULT'
    END AS on_update,
    CASE con.confdeltype
        WHEN 'a' THEN 'NO ACTION'
        WHEN 'r' THEN 'RESTRICT'
        WHEN 'c' THEN 'CASCADE'
        WHEN 'n' THEN 'SET NULL'
        WHEN 'd' THEN 'SET DEFAULT'
    END AS on_delete
FROM pg_catalog.pg_constraint con
JOIN pg_catalog.pg_class c ON c.oid = con.conrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
JOIN pg_catalog.pg_class fc ON fc.oid = con.confrelid
WHERE con.contype = 'f'
  AND n.nspname = $1
  AND c.relname = $2
ORDER BY con.conname;
`

// DescribeTable returns the schema of a table, view, or materialized view:
// columns, indexes, constraints, and foreign keys. The table and schema
// names are validated as identifiers before any SQL runs because regclass
// casts cannot be parameter-bound through a bare string.
func (g *Gateway) DescribeTable(ctx context.Context, table, schema string) (*TableDescription, error) {
	if schema == "" {
		schema = "public"
	}
	tc := g.tracker.Begin("describe_table", map[string]any{
		"table":  table,
		"schema": schema,
	})

	description, err := g.describeTable(ctx, table, schema)
	if err != nil {
		g.tracker.End(tc, err)
		return nil, err
	}
	tc.ResultSize = len(description.Columns)
	g.tracker.End(tc, nil)
	return description, nil
}

func (g *Gateway) describeTable(ctx context.Context, table, schema string) (*TableDescription, error) {
	if !security.ValidateIdentifier(table) {
		return nil, gwerr.Validation(
			fmt.Sprintf("invalid table name: %q", table), "table", table)
	}
	if !security.ValidateIdentifier(schema) {
		return nil, gwerr.Validation(
			fmt.Sprintf("invalid schema name: %q", schema), "schema", schema)
	}
	if !g.validator.CheckTableAccess(schema + "." + table) {
		return nil, gwerr.Security(
			fmt.Sprintf("access denied to table: %s.%s", schema, table), "table_access")
	}

	queryCtx, cancel := context.WithTimeout(ctx, introspectionTimeout)
	defer cancel()

	qualName := quoteIdent(schema) + "." + quoteIdent(table)
	description := &TableDescription{Schema: schema, Name: table}

	err := g.pool.WithTransaction(queryCtx, func(ctx context.Context, tx pgx.Tx) error {
		var relkind string
		if err := tx.QueryRow(ctx, detectTypeSQL, qualName).Scan(&relkind); err != nil {
			// The regclass cast fails with undefined_table for a missing
			// relation; anything else (timeout, permissions) keeps its own
			// kind.
			conv := gwerr.Convert(err)
			if err == pgx.ErrNoRows || conv.Kind == gwerr.KindTableNotFound {
				return gwerr.TableNotFound(table, schema)
			}
			return conv
		}
		description.Type = relkindName(relkind)

		var err error
		if relkind == "m" {
			description.Columns, err = fetchMatviewColumns(ctx, tx, qualName)
		} else {
			description.Columns, err = collectInto[ColumnInfo](ctx, tx, columnsSQL, schema, table)
		}
		if err != nil {
			return err
		}

		if relkind == "v" || relkind == "m" {
			if err := tx.QueryRow(ctx, viewDefSQL, qualName).Scan(&description.Definition); err != nil && err != pgx.ErrNoRows {
				return gwerr.Convert(err)
			}
		}

		// Views have no indexes or constraints of their own.
		if relkind == "r" || relkind == "p" || relkind == "m" {
			if description.Indexes, err = collectInto[IndexInfo](ctx, tx, indexesSQL, schema, table); err != nil {
				return err
			}
		}
		if relkind == "r" || relkind == "p" {
			if description.Constraints, err = collectInto[ConstraintInfo](ctx, tx, constraintsSQL, schema, table); err != nil {
				return err
			}
			if description.ForeignKeys, err = collectInto[ForeignKeyInfo](ctx, tx, foreignKeysSQL, schema, table); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if description.Columns == nil {
		description.Columns = []ColumnInfo{}
	}
	if description.Indexes == nil {
		description.Indexes = []IndexInfo{}
	}
	if description.Constraints == nil {
		description.Constraints = []ConstraintInfo{}
	}
	if description.ForeignKeys == nil {
		description.ForeignKeys = []ForeignKeyInfo{}
	}
	return description, nil
}

func relkindName(relkind string) string {
	switch relkind {
	case "r":
		return "table"
	case "v":
		return "view"
	case "m":
		return "materialized_view"
	case "f":
		return "foreign_table"
	case "p":
		return "partitioned_table"
	default:
		return "unknown"
	}
}

// collectInto runs a catalog query and scans each row positionally into T.
func collectInto[T any](ctx context.Context, tx pgx.Tx, sql string, args ...any) ([]T, error) {
	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, gwerr.Convert(err)
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByPos[T])
	if err != nil {
		return nil, gwerr.Convert(err)
	}
	return collected, nil
}

func fetchMatviewColumns(ctx context.Context, tx pgx.Tx, qualName string) ([]ColumnInfo, error) {
	type matviewColumn struct {
		Name     string
		Type     string
		Nullable bool
		Default  string
	}
	collected, err := collectInto[matviewColumn](ctx, tx, matviewColumnsSQL, qualName)
	if err != nil {
		return nil, err
	}
	columns := make([]ColumnInfo, len(collected))
	for i, col := range collected {
		// Materialized views cannot have primary keys.
		columns[i] = ColumnInfo{
			Name:     col.Name,
			Type:     col.Type,
			Nullable: col.Nullable,
			Default:  col.Default,
		}
	}
	return columns, nil
}

// quoteIdent escapes an identifier for safe use in $1::regclass.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
