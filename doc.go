// Package pggateway provides safe, controlled PostgreSQL access for tool
// callers such as AI agents, either directly as a library or through the
// Model Context Protocol (MCP).
//
// A [Gateway] wires together three layers behind one API: a managed
// connection pool, a security gatekeeper that screens every query before it
// reaches a connection, and an execution tracker that records per-invocation
// contexts and aggregate statistics. Every error a Gateway returns is a
// *gwerr.Error carrying a stable error code, so callers can branch on error
// kind without parsing message text.
//
// SQL injection is prevented at the protocol level: parameters are always
// bound through the pgx extended query protocol, never interpolated. The
// gatekeeper adds a second screening layer on top: dangerous-pattern
// rejection, statement-type blocking, system-table denial, and a parse pass
// through PostgreSQL's actual C parser via pg_query.
//
// # Library Usage
//
//	g, err := pggateway.Open(ctx, pggateway.Config{
//		Database: pggateway.DatabaseConfig{
//			Host:     "localhost",
//			Database: "app",
//			Username: "app",
//			Password: secret,
//		},
//	}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer g.Close()
//
//	result, err := g.Execute(ctx, pggateway.QuerySpec{
//		SQL:  "SELECT id, name FROM users WHERE id = $1",
//		Args: []any{42},
//		Mode: pggateway.FetchOne,
//	})
//
// Or register the operations as MCP tools:
//
//	pggateway.RegisterMCPTools(mcpServer, g)
package pggateway
