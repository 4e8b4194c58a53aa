package gwerr

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Convert maps a native driver error to a taxonomy error. The mapping is
// total (never returns nil for a non-nil input, never panics) and
// deterministic (the same SQLSTATE always yields the same kind).
//
// Dispatch is on the first two characters of the 5-character SQLSTATE
// class/code scheme:
//
//	08*   → CONNECTION_ERROR
//	42601 → QUERY_SYNTAX_ERROR
//	42P01 → TABLE_NOT_FOUND_ERROR
//	42703 → COLUMN_NOT_FOUND_ERROR
//	23*   → DATA_INTEGRITY_ERROR
//	25*   → TRANSACTION_ERROR
//	else  → QUERY_EXECUTION_ERROR
//
// Errors with no SQLSTATE fall through to QUERY_EXECUTION_ERROR, except
// context deadline expiry which becomes QUERY_TIMEOUT_ERROR. An error that
// is already a *Error passes through unchanged.
func Convert(err error) *Error {
	return ConvertQuery(err, "", nil)
}

// ConvertQuery is Convert with the query text and bound parameters attached
// to the resulting error's details when the failure is query-shaped.
func ConvertQuery(err error, query string, args []any) *Error {
	if err == nil {
		return nil
	}

	var already *Error
	if errors.As(err, &already) {
		return already
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return convertSQLState(pgErr, query, args)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return QueryTimeout("query timed out: "+err.Error(), query, 0)
	}
	if errors.Is(err, context.Canceled) {
		return Query(KindQueryExecution, "query cancelled: "+err.Error(), query, args)
	}

	// pgx reports dial/auth failures as pgconn.ConnectError without a SQLSTATE.
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return Connection(err.Error(), nil)
	}

	return Query(KindQueryExecution, err.Error(), query, args)
}

func convertSQLState(pgErr *pgconn.PgError, query string, args []any) *Error {
	code := pgErr.Code
	switch {
	case strings.HasPrefix(code, "08"):
		return Connection(pgErr.Message, map[string]any{"postgres_sqlstate": code})
	case code == "42601":
		e := Query(KindQuerySyntax, pgErr.Message, query, nil)
		e.Details["postgres_sqlstate"] = code
		return e
	case code == "42P01":
		e := TableNotFound(tableFromPgError(pgErr), "")
		e.Details["postgres_sqlstate"] = code
		return e
	case code == "42703":
		e := ColumnNotFound(columnFromPgError(pgErr), pgErr.TableName)
		e.Details["postgres_sqlstate"] = code
		return e
	case strings.HasPrefix(code, "23"):
		details := map[string]any{
			"postgres_sqlstate": code,
			"constraint_type":   "constraint_violation",
		}
		if pgErr.ConstraintName != "" {
			details["constraint_name"] = pgErr.ConstraintName
		}
		if pgErr.TableName != "" {
			details["table_name"] = pgErr.TableName
		}
		return New(KindDataIntegrity, pgErr.Message, details)
	case strings.HasPrefix(code, "25"):
		return New(KindTransaction, pgErr.Message, map[string]any{"postgres_sqlstate": code})
	default:
		e := Query(KindQueryExecution, pgErr.Message, query, args)
		e.Details["postgres_sqlstate"] = code
		return e
	}
}

// tableFromPgError extracts the table name from a 42P01 error. Postgres does
// not populate TableName for undefined_table, so fall back to the quoted
// identifier in the message ("relation \"users\" does not exist").
func tableFromPgError(pgErr *pgconn.PgError) string {
	if pgErr.TableName != "" {
		return pgErr.TableName
	}
	if name := quotedIdentifier(pgErr.Message); name != "" {
		return name
	}
	return "table referenced in query"
}

func columnFromPgError(pgErr *pgconn.PgError) string {
	if pgErr.ColumnName != "" {
		return pgErr.ColumnName
	}
	if name := quotedIdentifier(pgErr.Message); name != "" {
		return name
	}
	return "column referenced in query"
}

func quotedIdentifier(message string) string {
	start := strings.IndexByte(message, '"')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(message[start+1:], '"')
	if end < 0 {
		return ""
	}
	return message[start+1 : start+1+end]
}
