package pggateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/pggateway/pggateway/gwerr"
)

// RegisterMCPTools registers the gateway's operations as MCP tools on the
// given MCP server: execute_query, execute_transaction, list_tables,
// describe_table, health_check, and get_stats.
func RegisterMCPTools(mcpServer *server.MCPServer, g *Gateway) {
	executeQueryTool := mcp.NewTool("execute_query",
		mcp.WithDescription("Execute a SQL query against the PostgreSQL database with bound parameters. Returns results as JSON."),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("The SQL query to execute, with $1, $2, ... placeholders for parameters"),
		),
		mcp.WithArray("parameters",
			mcp.Description("Ordered bind parameters for the query placeholders"),
		),
		mcp.WithString("fetch_mode",
			mcp.Description("Result shape: 'all' (default), 'one', 'val', or 'none'"),
		),
	)

	mcpServer.AddTool(executeQueryTool, g.loggedToolHandler("execute_query", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		spec, err := querySpecFromRequest(req)
		if err != nil {
			return toolError(err), nil
		}
		result, err := g.Execute(ctx, spec)
		if err != nil {
			return toolError(err), nil
		}
		return toolResult(result)
	}))

	executeTransactionTool := mcp.NewTool("execute_transaction",
		mcp.WithDescription("Execute multiple SQL queries atomically in a single transaction. All succeed or all roll back."),
		mcp.WithArray("queries",
			mcp.Required(),
			mcp.Description("Ordered list of query objects, each with 'sql', optional 'parameters', and optional 'fetch_mode'"),
		),
	)

	mcpServer.AddTool(executeTransactionTool, g.loggedToolHandler("execute_transaction", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, ok := req.GetArguments()["queries"].([]any)
		if !ok {
			return toolError(gwerr.Validation("queries must be an array of query objects", "queries", nil)), nil
		}
		specs := make([]QuerySpec, len(raw))
		for i, item := range raw {
			args, ok := item.(map[string]any)
			if !ok {
				return toolError(gwerr.Validation(
					fmt.Sprintf("query %d must be an object", i), "queries", nil)), nil
			}
			spec, err := querySpecFromArguments(args)
			if err != nil {
				return toolError(err), nil
			}
			specs[i] = spec
		}
		results, err := g.ExecuteBatch(ctx, specs)
		if err != nil {
			return toolError(err), nil
		}
		return toolResult(results)
	}))

	listTablesTool := mcp.NewTool("list_tables",
		mcp.WithDescription("List all tables, views, materialized views, and foreign tables accessible to the current user."),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(listTablesTool, g.loggedToolHandler("list_tables", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tables, err := g.ListTables(ctx)
		if err != nil {
			return toolError(err), nil
		}
		return toolResult(map[string]any{"tables": tables})
	}))

	describeTableTool := mcp.NewTool("describe_table",
		mcp.WithDescription("Describe the schema of a table including columns, types, indexes, constraints, and foreign keys."),
		mcp.WithString("table",
			mcp.Required(),
			mcp.Description("The table name to describe"),
		),
		mcp.WithString("schema",
			mcp.Description("The schema name (defaults to 'public')"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(describeTableTool, g.loggedToolHandler("describe_table", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := req.RequireString("table")
		if err != nil {
			return toolError(gwerr.Validation("table parameter is required", "table", nil)), nil
		}
		description, err := g.DescribeTable(ctx, table, req.GetString("schema", ""))
		if err != nil {
			return toolError(err), nil
		}
		return toolResult(description)
	}))

	healthCheckTool := mcp.NewTool("health_check",
		mcp.WithDescription("Check database connectivity and report connection pool statistics."),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(healthCheckTool, g.loggedToolHandler("health_check", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return toolResult(g.HealthCheck(ctx))
	}))

	getStatsTool := mcp.NewTool("get_stats",
		mcp.WithDescription("Report aggregate execution statistics and currently running operations."),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(getStatsTool, g.loggedToolHandler("get_stats", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return toolResult(map[string]any{
			"stats":             g.Stats(),
			"active_executions": g.ActiveExecutions(),
		})
	}))
}

func querySpecFromRequest(req mcp.CallToolRequest) (QuerySpec, error) {
	if _, err := req.RequireString("sql"); err != nil {
		return QuerySpec{}, gwerr.Validation("sql parameter is required", "sql", nil)
	}
	return querySpecFromArguments(req.GetArguments())
}

func querySpecFromArguments(args map[string]any) (QuerySpec, error) {
	sql, _ := args["sql"].(string)
	if sql == "" {
		return QuerySpec{}, gwerr.Validation("sql parameter is required", "sql", nil)
	}

	spec := QuerySpec{SQL: sql}
	if raw, present := args["parameters"]; present && raw != nil {
		params, ok := raw.([]any)
		if !ok {
			return QuerySpec{}, gwerr.Validation("parameters must be an array", "parameters", nil)
		}
		spec.Args = params
	}
	if raw, present := args["fetch_mode"]; present && raw != nil {
		name, ok := raw.(string)
		if !ok {
			return QuerySpec{}, gwerr.Validation("fetch_mode must be a string", "fetch_mode", raw)
		}
		mode, err := ParseFetchMode(name)
		if err != nil {
			return QuerySpec{}, err
		}
		spec.Mode = mode
	}
	return spec, nil
}

// toolResult marshals v as the tool's JSON text payload.
func toolResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError("failed to marshal tool result"), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// toolError renders a taxonomy error as structured JSON so agents can branch
// on the stable error code; anything else falls back to plain text.
func toolError(err error) *mcp.CallToolResult {
	var gw *gwerr.Error
	if errors.As(err, &gw) {
		if jsonBytes, jsonErr := json.Marshal(gw); jsonErr == nil {
			return mcp.NewToolResultError(string(jsonBytes))
		}
	}
	return mcp.NewToolResultError(err.Error())
}

// loggedToolHandler wraps a tool handler to log request and response sizes.
func (g *Gateway) loggedToolHandler(tool string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reqLen := requestLength(req)
		result, err := handler(ctx, req)
		g.logger.Info().
			Str("tool", tool).
			Int("request_bytes", reqLen).
			Int("response_bytes", resultLength(result)).
			Msg("tool call")
		return result, err
	}
}

// requestLength returns the JSON-encoded byte length of the request arguments.
func requestLength(req mcp.CallToolRequest) int {
	args := req.GetArguments()
	if len(args) == 0 {
		return 0
	}
	b, err := json.Marshal(args)
	if err != nil {
		return 0
	}
	return len(b)
}

// resultLength returns the total byte length of text content in a CallToolResult.
func resultLength(result *mcp.CallToolResult) int {
	if result == nil {
		return 0
	}
	total := 0
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			total += len(tc.Text)
		}
	}
	return total
}
