package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/pggateway/pggateway"
)

const defaultServerPort = 8765

func runServe() error {
	ctx := context.Background()

	serverConfig, err := loadServerConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(serverConfig.Logging)

	// Credentials never live in the config file; take them from the
	// environment or prompt interactively.
	if serverConfig.Database.Password == "" {
		if serverConfig.Database.Username == "" {
			serverConfig.Database.Username = promptInput("Username: ")
		}
		serverConfig.Database.Password = promptPassword("Password: ")
	}

	g, err := pggateway.Open(ctx, serverConfig.Config, logger)
	if err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}
	defer g.Close()
	logger.Info().Msg("database connection established")

	hooks := &server.Hooks{}
	hooks.AddAfterInitialize(func(ctx context.Context, id any, req *mcp.InitializeRequest, result *mcp.InitializeResult) {
		logger.Info().
			Str("client_name", req.Params.ClientInfo.Name).
			Str("client_version", req.Params.ClientInfo.Version).
			Msg("AI agent connected (MCP initialize)")
	})

	mcpServer := server.NewMCPServer("pggateway", "1.0.0",
		server.WithToolCapabilities(true),
		server.WithHooks(hooks),
	)
	pggateway.RegisterMCPTools(mcpServer, g)

	addr := fmt.Sprintf(":%d", serverConfig.Server.Port)
	mux := http.NewServeMux()

	// Liveness endpoint: process is up. Database connectivity is reported by
	// the health_check tool instead.
	if serverConfig.Server.HealthCheckEnabled {
		if serverConfig.Server.HealthCheckPath == "" {
			return errors.New("health_check_path must be set when health_check_enabled is true")
		}
		mux.HandleFunc(serverConfig.Server.HealthCheckPath, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})
	}

	httpSrv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	streamableServer := server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
		server.WithStateLess(true),
		server.WithStreamableHTTPServer(httpSrv),
	)

	// Start() does not register the handler when a custom *http.Server is
	// provided via WithStreamableHTTPServer.
	mux.Handle("/mcp", streamableServer)

	logger.Info().Int("port", serverConfig.Server.Port).Msg("starting pggateway server")
	return streamableServer.Start(addr)
}

// loadServerConfig reads the JSON config file when present and overlays
// environment variables on top; without a file the environment alone
// configures the server.
func loadServerConfig() (*pggateway.ServerConfig, error) {
	configPath := os.Getenv("PGGATEWAY_CONFIG_PATH")
	explicit := configPath != ""
	if configPath == "" {
		configPath = ".pggateway/config.json"
	}

	var config pggateway.ServerConfig
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		// fall through to environment-only configuration
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	envConfig, err := pggateway.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if config.Database.Host == "" && config.Database.Database == "" {
		config.Config = envConfig
	}

	if config.Server.Port == 0 {
		config.Server.Port = defaultServerPort
	}
	return &config, nil
}

func setupLogger(config pggateway.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch strings.ToLower(config.Level) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	var output io.Writer = os.Stderr
	if config.Output == "stdout" {
		output = os.Stdout
	} else if config.Output != "" && config.Output != "stderr" {
		f, err := os.OpenFile(config.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err == nil {
			output = f
		}
	}

	if config.Format == "text" {
		output = zerolog.ConsoleWriter{Out: output}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

func promptInput(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	var input string
	fmt.Scanln(&input)
	return input
}

func promptPassword(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return ""
	}
	return string(password)
}
