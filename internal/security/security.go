// Package security implements the gatekeeper that screens SQL text, table
// names, and parameter values before anything reaches the connection pool.
// Parameter binding remains the primary injection defense; this package is a
// second layer on top of it, not a substitute.
package security

import (
	"fmt"
	"regexp"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"github.com/rs/zerolog"

	"github.com/pggateway/pggateway/gwerr"
)

// QueryType classifies a statement by its leading keyword.
type QueryType string

// Declaration order matters: classification tries each prefix in this order.
var queryTypes = []QueryType{
	QuerySelect,
	QueryInsert,
	QueryUpdate,
	QueryDelete,
	QueryCreate,
	QueryDrop,
	QueryAlter,
	QueryTruncate,
	QueryGrant,
	QueryRevoke,
}

const (
	QuerySelect   QueryType = "SELECT"
	QueryInsert   QueryType = "INSERT"
	QueryUpdate   QueryType = "UPDATE"
	QueryDelete   QueryType = "DELETE"
	QueryCreate   QueryType = "CREATE"
	QueryDrop     QueryType = "DROP"
	QueryAlter    QueryType = "ALTER"
	QueryTruncate QueryType = "TRUNCATE"
	QueryGrant    QueryType = "GRANT"
	QueryRevoke   QueryType = "REVOKE"
	QueryUnknown  QueryType = "UNKNOWN"
)

// dangerousPatterns are screened in order against the raw query text; the
// first match fails validation immediately.
var dangerousPatterns = []string{
	`;\s*(DROP|DELETE|TRUNCATE|ALTER)\s+`, // statement chaining
	`UNION\s+SELECT`,                      // union-based injection
	`--\s*`,                               // SQL comments
	`/\*.*\*/`,                            // multi-line comments
	`xp_cmdshell`,                         // command execution
	`sp_executesql`,                       // dynamic SQL execution
	`EXEC\s*\(`,
	`EXECUTE\s*\(`,
	`INFORMATION_SCHEMA`, // schema enumeration
	`pg_catalog`,
	`pg_user`,
	`pg_shadow`, // password hashes
}

// defaultSystemTables are denied by substring match in CheckTableAccess.
var defaultSystemTables = []string{
	"pg_user",
	"pg_shadow",
	"pg_group",
	"pg_database",
	"pg_tables",
	"pg_indexes",
	"pg_views",
	"pg_roles",
	"information_schema",
	"pg_catalog",
}

// tableExtractPatterns pull candidate table identifiers out of the query
// text. This is a best-effort screen, not a SQL parser: quoted identifiers,
// CTE names, and subquery aliases are not handled. The real boundary is
// parameter binding plus database-level grants.
var tableExtractPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)FROM\s+([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z_][a-zA-Z0-9_]*)?)`),
	regexp.MustCompile(`(?i)JOIN\s+([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z_][a-zA-Z0-9_]*)?)`),
	regexp.MustCompile(`(?i)UPDATE\s+([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z_][a-zA-Z0-9_]*)?)`),
	regexp.MustCompile(`(?i)INSERT\s+INTO\s+([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z_][a-zA-Z0-9_]*)?)`),
	regexp.MustCompile(`(?i)DELETE\s+FROM\s+([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z_][a-zA-Z0-9_]*)?)`),
}

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

// maxIdentifierLength matches the Postgres NAMEDATALEN-1 limit.
const maxIdentifierLength = 63

// Policy is the validator's configuration. Read-only after construction.
type Policy struct {
	// AllowedSchemas is the schema allow-list for schema-qualified table
	// references. Defaults to {"public"}.
	AllowedSchemas []string
	// BlockedOperations are statement types rejected outright. DROP and
	// TRUNCATE are always rejected regardless of this list.
	BlockedOperations []string
	// SystemTables are substrings that deny table access when they appear
	// (case-insensitively) in a table name. Defaults cover the Postgres
	// catalog surface.
	SystemTables []string
	// MaxQueryLength rejects oversized query text before any scanning.
	// Zero means the default of 10000 bytes.
	MaxQueryLength int
	// DisableASTCheck skips the pg_query parse pass. The parse pass rejects
	// multi-statement and unparseable text that the regex screen can miss.
	DisableASTCheck bool
}

// Validator screens queries, table names, and parameters against a Policy.
// Safe for concurrent use: all state is read-only after NewValidator.
type Validator struct {
	allowedSchemas map[string]struct{}
	blockedOps     map[QueryType]struct{}
	systemTables   []string
	maxQueryLength int
	astCheck       bool
	patterns       []*regexp.Regexp
	logger         zerolog.Logger
}

// NewValidator creates a Validator from the given policy. Zero-value policy
// fields fall back to the defaults from the package documentation.
func NewValidator(policy Policy, logger zerolog.Logger) *Validator {
	schemas := policy.AllowedSchemas
	if len(schemas) == 0 {
		schemas = []string{"public"}
	}
	allowed := make(map[string]struct{}, len(schemas))
	for _, s := range schemas {
		allowed[strings.ToLower(s)] = struct{}{}
	}

	blockedList := policy.BlockedOperations
	if blockedList == nil {
		blockedList = []string{"DROP", "TRUNCATE", "ALTER"}
	}
	blocked := make(map[QueryType]struct{}, len(blockedList)+2)
	for _, op := range blockedList {
		blocked[QueryType(strings.ToUpper(strings.TrimSpace(op)))] = struct{}{}
	}
	// DROP and TRUNCATE are non-negotiable.
	blocked[QueryDrop] = struct{}{}
	blocked[QueryTruncate] = struct{}{}

	systemTables := policy.SystemTables
	if len(systemTables) == 0 {
		systemTables = defaultSystemTables
	}
	lowered := make([]string, len(systemTables))
	for i, s := range systemTables {
		lowered[i] = strings.ToLower(s)
	}

	maxLen := policy.MaxQueryLength
	if maxLen == 0 {
		maxLen = 10000
	}

	compiled := make([]*regexp.Regexp, len(dangerousPatterns))
	for i, p := range dangerousPatterns {
		compiled[i] = regexp.MustCompile(`(?im)` + p)
	}

	return &Validator{
		allowedSchemas: allowed,
		blockedOps:     blocked,
		systemTables:   lowered,
		maxQueryLength: maxLen,
		astCheck:       !policy.DisableASTCheck,
		patterns:       compiled,
		logger:         logger,
	}
}

// ValidateQuery screens query text before execution. Returns nil if the
// query may proceed, or a taxonomy error naming the first rule it violated.
// The scan is fail-fast: findings are not accumulated.
func (v *Validator) ValidateQuery(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return gwerr.Validation("empty query not allowed", "query", nil)
	}
	if len(query) > v.maxQueryLength {
		return gwerr.Validation(
			fmt.Sprintf("query length %d exceeds maximum of %d", len(query), v.maxQueryLength),
			"query", nil)
	}

	for i, pattern := range v.patterns {
		if pattern.MatchString(trimmed) {
			raw := dangerousPatterns[i]
			v.logger.Warn().Str("pattern", raw).Msg("dangerous SQL pattern blocked")
			return gwerr.SQLInjection(
				fmt.Sprintf("potentially dangerous SQL pattern detected: %s", raw), raw)
		}
	}

	queryType := ClassifyQuery(trimmed)
	if queryType == QueryUnknown {
		return gwerr.Validation("unknown or unsupported query type", "query", firstWord(trimmed))
	}
	if _, isBlocked := v.blockedOps[queryType]; isBlocked {
		v.logger.Warn().Str("operation", string(queryType)).Msg("blocked operation rejected")
		return gwerr.Security(
			fmt.Sprintf("%s operations are not allowed", queryType),
			"blocked_operation")
	}

	if v.astCheck {
		if err := v.checkAST(trimmed); err != nil {
			return err
		}
	}

	for _, table := range ExtractTableNames(trimmed) {
		if !v.CheckTableAccess(table) {
			return gwerr.Security(
				fmt.Sprintf("access denied to table: %s", table),
				"table_access")
		}
	}
	return nil
}

// checkAST parses the query with the Postgres C parser and rejects anything
// the regex screen can miss: multiple statements in one string and text the
// server itself would refuse to parse.
func (v *Validator) checkAST(query string) error {
	result, err := pg_query.Parse(query)
	if err != nil {
		return gwerr.Query(gwerr.KindQuerySyntax, "SQL parse error: "+err.Error(), query, nil)
	}
	if len(result.Stmts) == 0 {
		return gwerr.Validation("empty query not allowed", "query", nil)
	}
	if len(result.Stmts) > 1 {
		return gwerr.Security(
			fmt.Sprintf("multi-statement queries are not allowed: found %d statements", len(result.Stmts)),
			"multi_statement")
	}
	return nil
}

// CheckTableAccess reports whether access to the named table is allowed.
// System-table substrings deny; schema-qualified names must use an allowed
// schema; everything else is allowed.
func (v *Validator) CheckTableAccess(tableName string) bool {
	name := strings.ToLower(strings.TrimSpace(tableName))
	if name == "" {
		return false
	}

	for _, systemTable := range v.systemTables {
		if strings.Contains(name, systemTable) {
			v.logger.Warn().Str("table", tableName).Msg("access denied to system table")
			return false
		}
	}

	if schema, _, ok := strings.Cut(name, "."); ok {
		if _, allowed := v.allowedSchemas[schema]; !allowed {
			v.logger.Warn().Str("schema", schema).Msg("access denied to schema")
			return false
		}
	}
	return true
}

// SanitizeParameters strips dangerous fragments from string
// parameters. It never fails: unexpected types are stringified and cleaned
// rather than rejected. Nil, numeric, and boolean values pass through.
func (v *Validator) SanitizeParameters(params []any) []any {
	if len(params) == 0 {
		return []any{}
	}
	sanitized := make([]any, len(params))
	for i, param := range params {
		switch p := param.(type) {
		case nil:
			sanitized[i] = nil
		case string:
			sanitized[i] = sanitizeString(p)
		case bool, int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
			sanitized[i] = p
		default:
			sanitized[i] = sanitizeString(fmt.Sprintf("%v", p))
		}
	}
	return sanitized
}

// ValidateIdentifier reports whether name is a safe bare identifier
// (optionally schema-qualified) suitable for interpolation into SQL text.
// Identifiers cannot be parameter-bound, so this is the only defense for
// caller-supplied table and column names.
func ValidateIdentifier(name string) bool {
	if name == "" || len(name) > maxIdentifierLength {
		return false
	}
	return identifierPattern.MatchString(name)
}

// ClassifyQuery returns the statement's QueryType by case-insensitive prefix
// match in declaration order, or QueryUnknown.
func ClassifyQuery(query string) QueryType {
	upper := strings.ToUpper(strings.TrimSpace(query))
	for _, qt := range queryTypes {
		if strings.HasPrefix(upper, string(qt)) {
			return qt
		}
	}
	return QueryUnknown
}

// ExtractTableNames returns candidate table identifiers found in the query
// text. Best-effort only; see tableExtractPatterns.
func ExtractTableNames(query string) []string {
	seen := make(map[string]struct{})
	var tables []string
	for _, pattern := range tableExtractPatterns {
		for _, match := range pattern.FindAllStringSubmatch(query, -1) {
			name := strings.TrimSpace(match[1])
			if name == "" {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			tables = append(tables, name)
		}
	}
	return tables
}

func sanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	for _, fragment := range []string{"--", "/*", "*/", ";"} {
		s = strings.ReplaceAll(s, fragment, "")
	}
	return s
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
