package security

import (
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/pggateway/pggateway/gwerr"
)

func testValidator(policy Policy) *Validator {
	return NewValidator(policy, zerolog.New(os.Stderr).Level(zerolog.Disabled))
}

func TestValidateQueryAllowsPlainSelect(t *testing.T) {
	t.Parallel()
	v := testValidator(Policy{})
	if err := v.ValidateQuery("SELECT id, name FROM users WHERE id = $1"); err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
}

func TestValidateQueryEmptyText(t *testing.T) {
	t.Parallel()
	v := testValidator(Policy{})
	for _, query := range []string{"", "   ", "\n\t"} {
		err := v.ValidateQuery(query)
		if !gwerr.IsKind(err, gwerr.KindValidation) {
			t.Errorf("ValidateQuery(%q) = %v, want VALIDATION_ERROR", query, err)
		}
	}
}

func TestValidateQueryMaxLength(t *testing.T) {
	t.Parallel()
	v := testValidator(Policy{MaxQueryLength: 50})
	long := "SELECT " + strings.Repeat("x", 60)
	err := v.ValidateQuery(long)
	if !gwerr.IsKind(err, gwerr.KindValidation) {
		t.Fatalf("expected VALIDATION_ERROR for oversized query, got %v", err)
	}
}

func TestValidateQueryFailFastOnDangerousPatterns(t *testing.T) {
	t.Parallel()
	v := testValidator(Policy{})
	tests := []struct {
		name  string
		query string
	}{
		{"statement chaining", "SELECT 1; DROP TABLE users; --"},
		{"union injection", "SELECT id FROM users WHERE id = 1 UNION SELECT password FROM accounts"},
		{"line comment", "SELECT id FROM users -- hidden"},
		{"block comment", "SELECT /* sneaky */ id FROM users"},
		{"catalog probe", "SELECT relname FROM pg_catalog.pg_class"},
		{"information schema", "SELECT table_name FROM information_schema.tables"},
		{"shadow table", "SELECT usename FROM pg_shadow"},
		{"exec call", "EXEC (@cmd)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := v.ValidateQuery(tt.query)
			if !gwerr.IsKind(err, gwerr.KindSQLInjection) {
				t.Fatalf("expected SQL_INJECTION_ERROR, got %v", err)
			}
			var gw *gwerr.Error
			if e, ok := err.(*gwerr.Error); ok {
				gw = e
			} else {
				t.Fatalf("expected *gwerr.Error, got %T", err)
			}
			if gw.Details["dangerous_pattern"] == "" || gw.Details["dangerous_pattern"] == nil {
				t.Errorf("expected error to name the dangerous pattern, details: %v", gw.Details)
			}
		})
	}
}

func TestValidateQueryNamesFirstMatchingPattern(t *testing.T) {
	t.Parallel()
	v := testValidator(Policy{})
	// Both the chaining pattern and the comment pattern match; the chaining
	// pattern is declared first and must win.
	err := v.ValidateQuery("SELECT 1; DROP TABLE users; --")
	gw, ok := err.(*gwerr.Error)
	if !ok {
		t.Fatalf("expected *gwerr.Error, got %T", err)
	}
	pattern, _ := gw.Details["dangerous_pattern"].(string)
	if !strings.Contains(pattern, "DROP|DELETE|TRUNCATE|ALTER") {
		t.Errorf("expected chaining pattern to be named first, got %q", pattern)
	}
}

func TestValidateQueryRejectsUnknownType(t *testing.T) {
	t.Parallel()
	v := testValidator(Policy{})
	err := v.ValidateQuery("FROBNICATE the database")
	if !gwerr.IsKind(err, gwerr.KindValidation) {
		t.Fatalf("expected VALIDATION_ERROR for unknown statement, got %v", err)
	}
}

func TestValidateQueryBlockedOperations(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		policy Policy
		query  string
	}{
		{"drop always blocked", Policy{BlockedOperations: []string{}}, "DROP TABLE users"},
		{"truncate always blocked", Policy{BlockedOperations: []string{}}, "TRUNCATE users"},
		{"alter blocked by default", Policy{}, "ALTER TABLE users ADD COLUMN extra text"},
		{"configured block", Policy{BlockedOperations: []string{"GRANT"}}, "GRANT ALL ON users TO intruder"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := testValidator(tt.policy)
			err := v.ValidateQuery(tt.query)
			if !gwerr.IsKind(err, gwerr.KindSecurity) {
				t.Fatalf("expected SECURITY_ERROR, got %v", err)
			}
		})
	}
}

func TestValidateQueryRejectsMultiStatement(t *testing.T) {
	t.Parallel()
	v := testValidator(Policy{})
	// No dangerous keyword after the semicolon, so only the parse pass
	// catches the second statement.
	err := v.ValidateQuery("SELECT 1; SELECT 2")
	if !gwerr.IsKind(err, gwerr.KindSecurity) {
		t.Fatalf("expected SECURITY_ERROR for multi-statement, got %v", err)
	}
}

func TestValidateQueryRejectsUnparseableText(t *testing.T) {
	t.Parallel()
	v := testValidator(Policy{})
	err := v.ValidateQuery("SELECT FROM WHERE AND")
	if !gwerr.IsKind(err, gwerr.KindQuerySyntax) {
		t.Fatalf("expected QUERY_SYNTAX_ERROR, got %v", err)
	}
}

func TestValidateQueryASTCheckDisabled(t *testing.T) {
	t.Parallel()
	v := testValidator(Policy{DisableASTCheck: true})
	// Unparseable, but only the parse pass would notice.
	if err := v.ValidateQuery("SELECT FROM WHERE AND"); err != nil {
		t.Fatalf("expected no error with AST check disabled, got %v", err)
	}
}

func TestValidateQueryDeniedTable(t *testing.T) {
	t.Parallel()
	v := testValidator(Policy{})
	err := v.ValidateQuery("SELECT * FROM admin.secrets")
	if !gwerr.IsKind(err, gwerr.KindSecurity) {
		t.Fatalf("expected SECURITY_ERROR for denied schema, got %v", err)
	}
	gw := err.(*gwerr.Error)
	if !strings.Contains(gw.Message, "admin.secrets") {
		t.Errorf("expected denied identifier in message, got %q", gw.Message)
	}
}

func TestCheckTableAccess(t *testing.T) {
	t.Parallel()
	v := testValidator(Policy{})
	tests := []struct {
		table string
		want  bool
	}{
		{"users", true},
		{"public.orders", true},
		{"pg_shadow", false},
		{"admin.pg_shadow", false},
		{"PG_SHADOW", false},
		{"admin.secrets", false},
		{"information_schema", false},
		{"", false},
		{"user_sessions", true},
	}
	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			t.Parallel()
			if got := v.CheckTableAccess(tt.table); got != tt.want {
				t.Errorf("CheckTableAccess(%q) = %v, want %v", tt.table, got, tt.want)
			}
		})
	}
}

func TestCheckTableAccessCustomSchemas(t *testing.T) {
	t.Parallel()
	v := testValidator(Policy{AllowedSchemas: []string{"public", "reporting"}})
	if !v.CheckTableAccess("reporting.daily_totals") {
		t.Error("expected reporting schema to be allowed")
	}
	if v.CheckTableAccess("internal.daily_totals") {
		t.Error("expected internal schema to be denied")
	}
}

func TestSanitizeParameters(t *testing.T) {
	t.Parallel()
	v := testValidator(Policy{})
	tests := []struct {
		name  string
		input any
		want  any
	}{
		{"plain string", "alice", "alice"},
		{"nul bytes stripped", "a\x00b", "ab"},
		{"comment stripped", "x--y", "xy"},
		{"block comment stripped", "a/*b*/c", "abc"},
		{"semicolon stripped", "a;b", "ab"},
		{"int passthrough", 42, 42},
		{"float passthrough", 3.14, 3.14},
		{"bool passthrough", true, true},
		{"nil passthrough", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := v.SanitizeParameters([]any{tt.input})
			if len(got) != 1 || got[0] != tt.want {
				t.Errorf("SanitizeParameters([%v]) = %v, want [%v]", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitizeParametersStringifiesUnknownTypes(t *testing.T) {
	t.Parallel()
	v := testValidator(Policy{})
	type custom struct{ X string }
	got := v.SanitizeParameters([]any{custom{X: "a;b"}})
	s, ok := got[0].(string)
	if !ok {
		t.Fatalf("expected stringified value, got %T", got[0])
	}
	if strings.Contains(s, ";") {
		t.Errorf("expected semicolon removed from stringified value, got %q", s)
	}
}

func TestSanitizeParametersEmpty(t *testing.T) {
	t.Parallel()
	v := testValidator(Policy{})
	if got := v.SanitizeParameters(nil); len(got) != 0 {
		t.Errorf("expected empty slice, got %v", got)
	}
}

func TestValidateIdentifier(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		want bool
	}{
		{"users", true},
		{"_private", true},
		{"public.orders", true},
		{"a1_b2", true},
		{"", false},
		{"1users", false},
		{"users; DROP", false},
		{"a.b.c", false},
		{"weird-name", false},
		{strings.Repeat("a", 63), true},
		{strings.Repeat("a", 64), false},
	}
	for _, tt := range tests {
		if got := ValidateIdentifier(tt.name); got != tt.want {
			t.Errorf("ValidateIdentifier(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestClassifyQuery(t *testing.T) {
	t.Parallel()
	tests := []struct {
		query string
		want  QueryType
	}{
		{"SELECT 1", QuerySelect},
		{"select 1", QuerySelect},
		{"  INSERT INTO t VALUES (1)", QueryInsert},
		{"Update t SET x = 1", QueryUpdate},
		{"DELETE FROM t WHERE id = 1", QueryDelete},
		{"CREATE TABLE t (id int)", QueryCreate},
		{"DROP TABLE t", QueryDrop},
		{"ALTER TABLE t ADD c int", QueryAlter},
		{"TRUNCATE t", QueryTruncate},
		{"GRANT SELECT ON t TO u", QueryGrant},
		{"REVOKE SELECT ON t FROM u", QueryRevoke},
		{"EXPLAIN SELECT 1", QueryUnknown},
		{"WITH x AS (SELECT 1) SELECT * FROM x", QueryUnknown},
		{"", QueryUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyQuery(tt.query); got != tt.want {
			t.Errorf("ClassifyQuery(%q) = %s, want %s", tt.query, got, tt.want)
		}
	}
}

func TestExtractTableNames(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"simple select", "SELECT * FROM users", []string{"users"}},
		{"join", "SELECT * FROM users u JOIN orders o ON o.user_id = u.id", []string{"users", "orders"}},
		{"qualified", "SELECT * FROM public.users", []string{"public.users"}},
		{"insert", "INSERT INTO audit_log (msg) VALUES ($1)", []string{"audit_log"}},
		{"delete", "DELETE FROM sessions WHERE expired", []string{"sessions"}},
		{"update", "UPDATE accounts SET balance = 0", []string{"accounts"}},
		{"no tables", "SELECT 1", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ExtractTableNames(tt.query)
			if len(got) != len(tt.want) {
				t.Fatalf("ExtractTableNames(%q) = %v, want %v", tt.query, got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("table %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
