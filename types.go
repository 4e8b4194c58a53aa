package pggateway

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pggateway/pggateway/gwerr"
	"github.com/pggateway/pggateway/internal/pool"
)

// FetchMode selects the shape of data a query returns. The zero value is
// FetchAll.
type FetchMode int

const (
	// FetchAll returns every row.
	FetchAll FetchMode = iota
	// FetchOne returns the first row, or no row for an empty result.
	FetchOne
	// FetchVal returns the first column of the first row.
	FetchVal
	// FetchNone discards rows and returns only the command status.
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

// ParseFetchMode converts a wire-level mode name ("all", "one", "val",
// "none") to a FetchMode.
func ParseFetchMode(s string) (FetchMode, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	for mode, name := range fetchModeNames {
		if name == normalized {
			return mode, nil
		}
	}
	return 0, gwerr.Validation(fmt.Sprintf("invalid fetch mode: %q", s), "fetch_mode", s)
}

// MarshalJSON renders the mode as its wire name.
func (m FetchMode) MarshalJSON() ([]byte, error) {
	if !m.Valid() {
		return nil, gwerr.Validation(fmt.Sprintf("invalid fetch mode: %d", int(m)), "fetch_mode", int(m))
	}
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts the wire name.
func (m *FetchMode) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return gwerr.Validation("fetch mode must be a string", "fetch_mode", string(data))
	}
	mode, err := ParseFetchMode(name)
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

func (m FetchMode) toPool() pool.FetchMode {
	switch m {
	case FetchOne:
		return pool.FetchOne
	case FetchVal:
		return pool.FetchVal
	case FetchNone:
		return pool.FetchNone
	default:
		return pool.FetchAll
	}
}

// QuerySpec is one unit of work: SQL text, ordered bind parameters, and the
// fetch mode that shapes the result.
type QuerySpec struct {
	SQL  string    `json:"sql"`
	Args []any     `json:"parameters,omitempty"`
	Mode FetchMode `json:"fetch_mode"`
}

// Result is the outcome of executing one QuerySpec. Only the fields relevant
// to the requested fetch mode are populated; all values are normalized to
// JSON-friendly Go types.
type Result struct {
	Columns      []string         `json:"columns,omitempty"`
	Rows         []map[string]any `json:"rows,omitempty"`
	Row          map[string]any   `json:"row,omitempty"`
	Value        any              `json:"value,omitempty"`
	HasValue     bool             `json:"has_value"`
	Status       string           `json:"status,omitempty"`
	RowsAffected int64            `json:"rows_affected"`
}

// size approximates the result volume for execution accounting: row count
// for FetchAll, presence for the single-value modes.
func (r *Result) size() int {
	switch {
	case r.Rows != nil:
		return len(r.Rows)
	case r.Row != nil:
		return 1
	case r.HasValue:
		return 1
	default:
		return 0
	}
}

func resultFromPool(pr *pool.Result) *Result {
	result := &Result{
		Columns:      pr.Columns,
		HasValue:     pr.HasValue,
		Status:       pr.Status,
		RowsAffected: pr.RowsAffected,
	}
	if pr.Rows != nil {
		result.Rows = make([]map[string]any, len(pr.Rows))
		for i, row := range pr.Rows {
			result.Rows[i] = convertRow(row)
		}
	}
	if pr.Row != nil {
		result.Row = convertRow(pr.Row)
	}
	if pr.HasValue {
		result.Value = convertValue(pr.Value)
	}
	return result
}

func convertRow(row map[string]any) map[string]any {
	converted := make(map[string]any, len(row))
	for col, v := range row {
		converted[col] = convertValue(v)
	}
	return converted
}

// convertValue converts a driver-returned value to a JSON-friendly Go type.
// Non-finite floats become their Postgres text forms because JSON has no
// representation for them.
func convertValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case float32:
		return convertFloat(float64(val), val)
	case float64:
		return convertFloat(val, val)
	case netip.Prefix:
		return val.String()
	case net.HardwareAddr:
		return val.String()
	case pgtype.Numeric:
		if !val.Valid {
			return nil
		}
		if val.NaN {
			return "NaN"
		}
		if val.InfinityModifier == pgtype.Infinity {
			return "Infinity"
		}
		if val.InfinityModifier == pgtype.NegativeInfinity {
			return "-Infinity"
		}
		b, err := val.MarshalJSON()
		if err != nil {
			return nil
		}
		return string(b)
	case pgtype.Time:
		if !val.Valid {
			return nil
		}
		return formatMicroseconds(val.Microseconds)
	case pgtype.Interval:
		if !val.Valid {
			return nil
		}
		return formatInterval(val)
	case [16]byte:
		// uuid
		return fmt.Sprintf("%x-%x-%x-%x-%x", val[0:4], val[4:6], val[6:8], val[8:10], val[10:16])
	case []byte:
		// bytea
		return base64.StdEncoding.EncodeToString(val)
	case map[string]any:
		return convertRow(val)
	case []any:
		converted := make([]any, len(val))
		for i, item := range val {
			converted[i] = convertValue(item)
		}
		return converted
	default:
		return val
	}
}

func convertFloat(f float64, original any) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	default:
		return original
	}
}

func formatMicroseconds(us int64) string {
	hours := us / 3_600_000_000
	us -= hours * 3_600_000_000
	minutes := us / 60_000_000
	us -= minutes * 60_000_000
	seconds := us / 1_000_000
	us -= seconds * 1_000_000
	if us > 0 {
		return fmt.Sprintf("%02d:%02d:%02d.%06d", hours, minutes, seconds, us)
	}
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

func formatInterval(val pgtype.Interval) string {
	var parts []string
	if val.Months != 0 {
		if years := val.Months / 12; years != 0 {
			parts = append(parts, fmt.Sprintf("%d year(s)", years))
		}
		if months := val.Months % 12; months != 0 {
			parts = append(parts, fmt.Sprintf("%d mon(s)", months))
		}
	}
	if val.Days != 0 {
		parts = append(parts, fmt.Sprintf("%d day(s)", val.Days))
	}
	if val.Microseconds != 0 {
		parts = append(parts, (time.Duration(val.Microseconds) * time.Microsecond).String())
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, " ")
}

// Health is the outcome of a HealthCheck round trip.
type Health struct {
	Status    string     `json:"status"`
	Error     string     `json:"error,omitempty"`
	PoolStats *PoolStats `json:"pool_stats,omitempty"`
	Database  string     `json:"database,omitempty"`
	Host      string     `json:"host,omitempty"`
	Port      int        `json:"port,omitempty"`
}

// PoolStats reports connection pool sizing for diagnostics.
type PoolStats struct {
	Size     int32 `json:"size"`
	Idle     int32 `json:"idle"`
	Acquired int32 `json:"acquired"`
	MaxSize  int32 `json:"max_size"`
	MinSize  int32 `json:"min_size"`
}

func healthFromPool(h pool.Health) Health {
	health := Health{
		Status:   h.Status,
		Error:    h.Error,
		Database: h.Database,
		Host:     h.Host,
		Port:     h.Port,
	}
	if h.PoolStats != nil {
		health.PoolStats = &PoolStats{
			Size:     h.PoolStats.Size,
			Idle:     h.PoolStats.Idle,
			Acquired: h.PoolStats.Acquired,
			MaxSize:  h.PoolStats.MaxSize,
			MinSize:  h.PoolStats.MinSize,
		}
	}
	return health
}

// Stats is a point-in-time snapshot of the gateway's execution counters.
type Stats struct {
	TotalExecutions      int64            `json:"total_executions"`
	SuccessfulExecutions int64            `json:"successful_executions"`
	FailedExecutions     int64            `json:"failed_executions"`
	TotalExecutionTime   time.Duration    `json:"total_execution_time"`
	ToolUsageCount       map[string]int64 `json:"tool_usage_count"`
	ActiveExecutions     int              `json:"active_executions"`
	SuccessRate          float64          `json:"success_rate"`
	AverageExecutionTime time.Duration    `json:"average_execution_time"`
}

// ActiveExecution describes one in-flight operation for live diagnostics.
type ActiveExecution struct {
	Tool        string         `json:"tool_name"`
	StartTime   time.Time      `json:"start_time"`
	RunningTime time.Duration  `json:"running_time"`
	Parameters  map[string]any `json:"parameters"`
}

// TableEntry is a single table or view returned by ListTables.
type TableEntry struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
	Type   string `json:"type"` // "table", "view", "materialized_view", "foreign_table", "partitioned_table"
	Owner  string `json:"owner"`
}

// ColumnInfo describes a single column.
type ColumnInfo struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Nullable     bool   `json:"nullable"`
	Default      string `json:"default,omitempty"`
	IsPrimaryKey bool   `json:"is_primary_key"`
}

// IndexInfo describes a single index.
type IndexInfo struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
	IsUnique   bool   `json:"is_unique"`
	IsPrimary  bool   `json:"is_primary"`
}

// ConstraintInfo describes a single constraint.
type ConstraintInfo struct {
	Name       string `json:"name"`
	Type       string `json:"type"` // PRIMARY KEY, FOREIGN KEY, UNIQUE, CHECK, EXCLUSION
	Definition string `json:"definition"`
}

// ForeignKeyInfo describes a single foreign key.
type ForeignKeyInfo struct {
	Name              string `json:"name"`
	Columns           string `json:"columns"`
	ReferencedTable   string `json:"referenced_table"`
	ReferencedColumns string `json:"referenced_columns"`
	OnUpdate          string `json:"on_update"`
	OnDelete          string `json:"on_delete"`
}

// TableDescription is the full schema description returned by DescribeTable.
type TableDescription struct {
	Schema      string           `json:"schema"`
	Name        string           `json:"name"`
	Type        string           `json:"type"`
	Definition  string           `json:"definition,omitempty"` // view/matview SQL
	Columns     []ColumnInfo     `json:"columns"`
	Indexes     []IndexInfo      `json:"indexes"`
	Constraints []ConstraintInfo `json:"constraints"`
	ForeignKeys []ForeignKeyInfo `json:"foreign_keys"`
}
