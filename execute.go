package pggateway

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/pggateway/pggateway/gwerr"
	"github.com/pggateway/pggateway/internal/pool"
)

// Execute runs one query through the full pipeline: security screening,
// parameter sanitization, pooled execution, and result normalization. A
// security rejection returns before any connection is acquired. The returned
// error, when non-nil, is always a *gwerr.Error.
func (g *Gateway) Execute(ctx context.Context, spec QuerySpec) (*Result, error) {
	tc := g.tracker.Begin("execute_query", map[string]any{
		"sql":        truncateForLog(spec.SQL, 200),
		"fetch_mode": spec.Mode.String(),
	})

	result, err := g.runQuery(ctx, spec)
	if err != nil {
		g.tracker.End(tc, err)
		return nil, err
	}
	tc.ResultSize = result.size()
	g.tracker.End(tc, nil)
	return result, nil
}

func (g *Gateway) runQuery(ctx context.Context, spec QuerySpec) (*Result, error) {
	if !spec.Mode.Valid() {
		return nil, gwerr.Validation(
			fmt.Sprintf("invalid fetch mode: %d", int(spec.Mode)), "fetch_mode", int(spec.Mode))
	}
	if err := g.validator.ValidateQuery(spec.SQL); err != nil {
		return nil, err
	}
	args := g.validator.SanitizeParameters(spec.Args)

	poolResult, err := g.pool.Execute(ctx, pool.Spec{
		SQL:  spec.SQL,
		Args: args,
		Mode: spec.Mode.toPool(),
	})
	if err != nil {
		return nil, err
	}
	return resultFromPool(poolResult), nil
}

// ExecuteBatch runs the given queries in declared order inside a single
// transaction. Every query is screened before the transaction starts; the
// first failure rolls back the whole batch, and its error carries the
// zero-based index of the failing statement. On success the results match
// the input order one-to-one.
func (g *Gateway) ExecuteBatch(ctx context.Context, specs []QuerySpec) ([]*Result, error) {
	tc := g.tracker.Begin("execute_transaction", map[string]any{
		"statement_count": len(specs),
	})

	results, err := g.runBatch(ctx, specs)
	if err != nil {
		g.tracker.End(tc, err)
		return nil, err
	}
	tc.ResultSize = len(results)
	g.tracker.End(tc, nil)
	return results, nil
}

func (g *Gateway) runBatch(ctx context.Context, specs []QuerySpec) ([]*Result, error) {
	if len(specs) == 0 {
		return nil, gwerr.Validation("queries list cannot be empty", "queries", nil)
	}

	poolSpecs := make([]pool.Spec, len(specs))
	for i, spec := range specs {
		if !spec.Mode.Valid() {
			return nil, statementError(gwerr.Validation(
				fmt.Sprintf("invalid fetch mode: %d", int(spec.Mode)), "fetch_mode", int(spec.Mode)), i)
		}
		if err := g.validator.ValidateQuery(spec.SQL); err != nil {
			return nil, statementError(err, i)
		}
		poolSpecs[i] = pool.Spec{
			SQL:  spec.SQL,
			Args: g.validator.SanitizeParameters(spec.Args),
			Mode: spec.Mode.toPool(),
		}
	}

	poolResults, err := g.pool.ExecuteBatch(ctx, poolSpecs)
	if err != nil {
		return nil, err
	}
	results := make([]*Result, len(poolResults))
	for i, pr := range poolResults {
		results[i] = resultFromPool(pr)
	}
	return results, nil
}

// statementError attaches the zero-based batch index to an error raised
// before the transaction started, mirroring the shape of in-transaction
// failures.
func statementError(err error, index int) error {
	gw := gwerr.Convert(err)
	details := make(map[string]any, len(gw.Details)+1)
	for k, v := range gw.Details {
		details[k] = v
	}
	details["failing_statement_index"] = index
	return gwerr.New(gw.Kind,
		fmt.Sprintf("transaction rejected at statement %d: %s", index, gw.Message), details)
}

// truncateForLog truncates a string for log output to avoid oversized log
// entries, never splitting a multibyte rune.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	truncateAt := maxLen
	for truncateAt > 0 && !utf8.RuneStart(s[truncateAt]) {
		truncateAt--
	}
	return s[:truncateAt] + "...[truncated]"
}
