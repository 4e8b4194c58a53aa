package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pggateway/pggateway"
)

// runDoctor connects with the current configuration, runs a health check and
// a trivial query, and prints what it finds. Exits non-zero when unhealthy.
func runDoctor() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	serverConfig, err := loadServerConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := setupLogger(serverConfig.Logging)

	if serverConfig.Database.Password == "" {
		if serverConfig.Database.Username == "" {
			serverConfig.Database.Username = promptInput("Username: ")
		}
		serverConfig.Database.Password = promptPassword("Password: ")
	}

	fmt.Printf("Connecting to %s:%d/%s as %s...\n",
		serverConfig.Database.Host, serverConfig.Database.Port,
		serverConfig.Database.Database, serverConfig.Database.Username)

	g, err := pggateway.Open(ctx, serverConfig.Config, logger)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer g.Close()

	health := g.HealthCheck(ctx)
	report, _ := json.MarshalIndent(health, "", "  ")
	fmt.Println(string(report))
	if health.Status != "healthy" {
		return errors.New("health check reported unhealthy")
	}

	result, err := g.Execute(ctx, pggateway.QuerySpec{
		SQL:  "SELECT version()",
		Mode: pggateway.FetchVal,
	})
	if err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}
	fmt.Fprintf(os.Stdout, "Server version: %v\n", result.Value)
	fmt.Println("All checks passed.")
	return nil
}
