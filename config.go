package pggateway

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pggateway/pggateway/gwerr"
)

// Config is the gateway configuration used by library mode via New().
type Config struct {
	Database DatabaseConfig `json:"database"`
	Security SecurityConfig `json:"security"`
}

// DatabaseConfig holds connection and pool parameters.
type DatabaseConfig struct {
	Host                  string `json:"host"`
	Port                  int    `json:"port"`
	Database              string `json:"dbname"`
	Username              string `json:"user"`
	Password              string `json:"password"`
	PoolSize              int    `json:"pool_size"`
	CommandTimeoutSeconds int    `json:"command_timeout_seconds"`
	SSLMode               string `json:"sslmode"`
}

// SecurityConfig controls the query gatekeeper. Zero values fall back to the
// defaults documented on each field.
type SecurityConfig struct {
	// AllowedSchemas is the schema allow-list for schema-qualified table
	// references. Defaults to {"public"}.
	AllowedSchemas []string `json:"allowed_schemas"`
	// BlockedOperations are statement types rejected outright. DROP and
	// TRUNCATE are always blocked. Defaults to {DROP, TRUNCATE, ALTER}.
	BlockedOperations []string `json:"blocked_operations"`
	// SystemTables extends the built-in catalog-table deny list.
	SystemTables []string `json:"system_tables"`
	// MaxQueryLength rejects oversized query text. Zero means 10000 bytes.
	MaxQueryLength int `json:"max_query_length"`
	// DisableASTCheck skips the parser-backed validation pass.
	DisableASTCheck bool `json:"disable_ast_check"`
}

// ServerConfig embeds Config and adds server-only fields for CLI mode.
type ServerConfig struct {
	Config
	Server  ServerSettings `json:"server"`
	Logging LoggingConfig  `json:"logging"`
}

// ServerSettings holds HTTP server settings for CLI mode.
type ServerSettings struct {
	Port               int    `json:"port"`
	HealthCheckEnabled bool   `json:"health_check_enabled"`
	HealthCheckPath    string `json:"health_check_path"`
}

// LoggingConfig holds logging settings for CLI mode.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
	Output string `json:"output"` // stdout, stderr, or file path
}

const (
	defaultHost           = "localhost"
	defaultPort           = 5432
	defaultDatabase       = "postgres"
	defaultUsername       = "postgres"
	defaultPoolSize       = 10
	defaultCommandTimeout = 60
)

// WithDefaults returns a copy of c with zero-value database fields replaced
// by their defaults. Validate assumes defaults have been applied.
func (c Config) WithDefaults() Config {
	if c.Database.Host == "" {
		c.Database.Host = defaultHost
	}
	if c.Database.Port == 0 {
		c.Database.Port = defaultPort
	}
	if c.Database.Database == "" {
		c.Database.Database = defaultDatabase
	}
	if c.Database.Username == "" {
		c.Database.Username = defaultUsername
	}
	if c.Database.PoolSize == 0 {
		c.Database.PoolSize = defaultPoolSize
	}
	if c.Database.CommandTimeoutSeconds == 0 {
		c.Database.CommandTimeoutSeconds = defaultCommandTimeout
	}
	return c
}

// Validate checks the configuration and returns a CONFIGURATION_ERROR naming
// every problem found, or nil. Problems are accumulated, not fail-fast, so a
// misconfigured deployment surfaces everything at once.
func (c Config) Validate() error {
	var problems []string
	if c.Database.Host == "" {
		problems = append(problems, "database host cannot be empty")
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		problems = append(problems, fmt.Sprintf("database port %d out of range 1-65535", c.Database.Port))
	}
	if c.Database.Database == "" {
		problems = append(problems, "database name cannot be empty")
	}
	if c.Database.Username == "" {
		problems = append(problems, "database user cannot be empty")
	}
	if c.Database.PoolSize < 1 {
		problems = append(problems, fmt.Sprintf("pool size must be at least 1, got %d", c.Database.PoolSize))
	}
	if c.Database.CommandTimeoutSeconds < 0 {
		problems = append(problems, "command timeout cannot be negative")
	}
	if c.Security.MaxQueryLength < 0 {
		problems = append(problems, "max query length cannot be negative")
	}
	if len(problems) == 0 {
		return nil
	}
	return gwerr.New(gwerr.KindConfiguration,
		"invalid gateway configuration: "+strings.Join(problems, "; "),
		map[string]any{"problems": problems})
}

// CommandTimeout returns the per-statement timeout as a duration.
func (d DatabaseConfig) CommandTimeout() time.Duration {
	return time.Duration(d.CommandTimeoutSeconds) * time.Second
}

// ConfigFromEnv builds a Config from the environment. DATABASE_URL, when
// set, supplies the connection parameters; otherwise the individual
// PGGATEWAY_DB_* variables are consulted. Security settings come from
// PGGATEWAY_ALLOWED_SCHEMAS, PGGATEWAY_BLOCKED_OPERATIONS,
// PGGATEWAY_MAX_QUERY_LENGTH, and PGGATEWAY_DISABLE_AST_CHECK.
func ConfigFromEnv() (Config, error) {
	var config Config

	if url := os.Getenv("DATABASE_URL"); url != "" {
		db, err := DatabaseConfigFromConnString(url)
		if err != nil {
			return Config{}, err
		}
		config.Database = db
	} else {
		config.Database = DatabaseConfig{
			Host:     os.Getenv("PGGATEWAY_DB_HOST"),
			Database: os.Getenv("PGGATEWAY_DB_NAME"),
			Username: os.Getenv("PGGATEWAY_DB_USER"),
			Password: os.Getenv("PGGATEWAY_DB_PASSWORD"),
			SSLMode:  os.Getenv("PGGATEWAY_DB_SSLMODE"),
		}
		port, err := envInt("PGGATEWAY_DB_PORT")
		if err != nil {
			return Config{}, err
		}
		config.Database.Port = port
	}

	poolSize, err := envInt("PGGATEWAY_DB_POOL_SIZE")
	if err != nil {
		return Config{}, err
	}
	config.Database.PoolSize = poolSize

	timeout, err := envInt("PGGATEWAY_DB_COMMAND_TIMEOUT")
	if err != nil {
		return Config{}, err
	}
	config.Database.CommandTimeoutSeconds = timeout

	config.Security.AllowedSchemas = envList("PGGATEWAY_ALLOWED_SCHEMAS")
	config.Security.BlockedOperations = envList("PGGATEWAY_BLOCKED_OPERATIONS")
	maxLen, err := envInt("PGGATEWAY_MAX_QUERY_LENGTH")
	if err != nil {
		return Config{}, err
	}
	config.Security.MaxQueryLength = maxLen
	config.Security.DisableASTCheck = envBool("PGGATEWAY_DISABLE_AST_CHECK")

	return config.WithDefaults(), nil
}

// DatabaseConfigFromConnString parses a postgres:// URL or keyword/value
// connection string into a DatabaseConfig.
func DatabaseConfigFromConnString(connString string) (DatabaseConfig, error) {
	parsed, err := pgconn.ParseConfig(connString)
	if err != nil {
		return DatabaseConfig{}, gwerr.Configuration(
			fmt.Sprintf("invalid connection string: %v", err), "connection_string")
	}
	return DatabaseConfig{
		Host:     parsed.Host,
		Port:     int(parsed.Port),
		Database: parsed.Database,
		Username: parsed.User,
		Password: parsed.Password,
		SSLMode:  sslModeFromConnString(connString),
	}, nil
}

// sslModeFromConnString recovers the sslmode parameter from a connection
// string that pgconn has already accepted. pgconn resolves the mode into a
// TLS config rather than keeping the string, so it is re-read here to carry
// the setting through to the pool.
func sslModeFromConnString(connString string) string {
	if strings.HasPrefix(connString, "postgres://") || strings.HasPrefix(connString, "postgresql://") {
		parsed, err := url.Parse(connString)
		if err != nil {
			return ""
		}
		return parsed.Query().Get("sslmode")
	}
	for _, part := range strings.Fields(connString) {
		if value, ok := strings.CutPrefix(part, "sslmode="); ok {
			return strings.Trim(value, "'")
		}
	}
	return ""
}

func envInt(name string) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, gwerr.Configuration(
			fmt.Sprintf("%s must be an integer, got %q", name, raw), name)
	}
	return value, nil
}

func envBool(name string) bool {
	raw := strings.ToLower(os.Getenv(name))
	return raw == "true" || raw == "1" || raw == "yes"
}

func envList(name string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
