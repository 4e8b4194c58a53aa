// Package gwerr defines the closed error taxonomy exposed by the gateway.
// Every failure that crosses a component boundary is a *Error carrying a
// stable Kind, a human-readable message, and a details map. Native driver
// errors never leave internal/pool unconverted; see Convert.
package gwerr

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind identifies one error category in the taxonomy. The string value is
// the stable caller-facing code and must never change once released.
type Kind string

const (
	KindConnection        Kind = "CONNECTION_ERROR"
	KindConnectionPool    Kind = "CONNECTION_POOL_ERROR"
	KindConnectionTimeout Kind = "CONNECTION_TIMEOUT_ERROR"

	KindQuery          Kind = "QUERY_ERROR"
	KindQuerySyntax    Kind = "QUERY_SYNTAX_ERROR"
	KindQueryExecution Kind = "QUERY_EXECUTION_ERROR"
	KindQueryTimeout   Kind = "QUERY_TIMEOUT_ERROR"

	KindValidation          Kind = "VALIDATION_ERROR"
	KindParameterValidation Kind = "PARAMETER_VALIDATION_ERROR"

	KindSecurity     Kind = "SECURITY_ERROR"
	KindPermission   Kind = "PERMISSION_ERROR"
	KindSQLInjection Kind = "SQL_INJECTION_ERROR"

	KindConfiguration Kind = "CONFIGURATION_ERROR"

	KindDatabase       Kind = "DATABASE_ERROR"
	KindTableNotFound  Kind = "TABLE_NOT_FOUND_ERROR"
	KindColumnNotFound Kind = "COLUMN_NOT_FOUND_ERROR"

	KindTransaction   Kind = "TRANSACTION_ERROR"
	KindDataIntegrity Kind = "DATA_INTEGRITY_ERROR"

	KindTool          Kind = "TOOL_ERROR"
	KindToolNotFound  Kind = "TOOL_NOT_FOUND_ERROR"
	KindToolParameter Kind = "TOOL_PARAMETER_ERROR"
)

// Error is the structured failure type shared by every gateway component.
// It is never mutated after creation.
type Error struct {
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// MarshalJSON renders the {kind, message, details} triple. Defined explicitly
// so a nil Details map still serializes deterministically.
func (e *Error) MarshalJSON() ([]byte, error) {
	type wire struct {
		Kind    Kind           `json:"kind"`
		Message string         `json:"message"`
		Details map[string]any `json:"details,omitempty"`
	}
	return json.Marshal(wire{Kind: e.Kind, Message: e.Message, Details: e.Details})
}

// New creates an Error of the given kind with optional details. The details
// map is shallow-copied so callers cannot mutate the error after creation,
// and Details is always non-nil so converters can attach entries such as the
// SQLSTATE after construction.
func New(kind Kind, message string, details map[string]any) *Error {
	copied := make(map[string]any, len(details))
	for k, v := range details {
		copied[k] = v
	}
	return &Error{Kind: kind, Message: message, Details: copied}
}

// Newf creates an Error with a formatted message and no details.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Details: map[string]any{}}
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, or "" otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is (or wraps) a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Connection creates a connection-class error.
func Connection(message string, details map[string]any) *Error {
	return New(KindConnection, message, details)
}

// ConnectionTimeout creates a connection timeout error carrying the timeout.
func ConnectionTimeout(message string, timeoutSeconds float64) *Error {
	details := map[string]any{}
	if timeoutSeconds > 0 {
		details["timeout_seconds"] = timeoutSeconds
	}
	return New(KindConnectionTimeout, message, details)
}

// Query creates a query-class error. The query text and bound parameters are
// attached to details for diagnostics when present.
func Query(kind Kind, message, query string, args []any) *Error {
	details := map[string]any{}
	if query != "" {
		details["query"] = query
	}
	if len(args) > 0 {
		details["parameters"] = args
	}
	return New(kind, message, details)
}

// QueryTimeout creates a query timeout error carrying the timeout and query.
func QueryTimeout(message, query string, timeoutSeconds float64) *Error {
	details := map[string]any{}
	if query != "" {
		details["query"] = query
	}
	if timeoutSeconds > 0 {
		details["timeout_seconds"] = timeoutSeconds
	}
	return New(KindQueryTimeout, message, details)
}

// Validation creates a validation error naming the offending field.
func Validation(message, fieldName string, fieldValue any) *Error {
	details := map[string]any{}
	if fieldName != "" {
		details["field_name"] = fieldName
	}
	if fieldValue != nil {
		details["field_value"] = fmt.Sprintf("%v", fieldValue)
	}
	return New(KindValidation, message, details)
}

// ParameterValidation creates a parameter validation error naming the
// zero-based parameter index.
func ParameterValidation(message string, index int, value any) *Error {
	details := map[string]any{"parameter_index": index}
	if value != nil {
		details["parameter_value"] = fmt.Sprintf("%v", value)
	}
	return New(KindParameterValidation, message, details)
}

// SQLInjection creates a security error naming the dangerous pattern that
// matched the query text.
func SQLInjection(message, pattern string) *Error {
	details := map[string]any{}
	if pattern != "" {
		details["dangerous_pattern"] = pattern
	}
	return New(KindSQLInjection, message, details)
}

// Security creates a generic security rejection naming the violated rule.
func Security(message, rule string) *Error {
	details := map[string]any{}
	if rule != "" {
		details["security_rule"] = rule
	}
	return New(KindSecurity, message, details)
}

// Configuration creates a configuration error naming the offending key.
func Configuration(message, key string) *Error {
	details := map[string]any{}
	if key != "" {
		details["config_key"] = key
	}
	return New(KindConfiguration, message, details)
}

// TableNotFound creates a database error for a missing table.
func TableNotFound(table, schema string) *Error {
	message := fmt.Sprintf("table %q not found", table)
	details := map[string]any{"table_name": table}
	if schema != "" {
		message = fmt.Sprintf("table %q not found", schema+"."+table)
		details["schema_name"] = schema
	}
	return New(KindTableNotFound, message, details)
}

// ColumnNotFound creates a database error for a missing column.
func ColumnNotFound(column, table string) *Error {
	message := fmt.Sprintf("column %q not found", column)
	details := map[string]any{"column_name": column}
	if table != "" {
		message = fmt.Sprintf("column %q not found in table %q", column, table)
		details["table_name"] = table
	}
	return New(KindColumnNotFound, message, details)
}

// Tool creates a tool-class error naming the tool.
func Tool(kind Kind, message, toolName string) *Error {
	details := map[string]any{}
	if toolName != "" {
		details["tool_name"] = toolName
	}
	return New(kind, message, details)
}
