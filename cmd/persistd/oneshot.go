package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/nerrad567/gray-logic-persist/internal/admin"
	"github.com/nerrad567/gray-logic-persist/internal/persist"
)

// statementRequest binds the repeated -param values to positions 1..n.
func statementRequest(text string, params []string) admin.StatementRequest {
	req := admin.StatementRequest{SQL: text, Params: make([]any, len(params))}
	for i, p := range params {
		req.Params[i] = p
	}
	return req
}

// runExec persists one statement in its own transaction and prints the
// admin.ExecResult.
func runExec(ctx context.Context, factory *persist.ManagerFactory, text string, params []string, stdout io.Writer) error {
	res, err := admin.ExecStatements(ctx, factory, []admin.StatementRequest{statementRequest(text, params)})
	if err != nil {
		return fmt.Errorf("executing statement: %w", err)
	}
	return writeJSON(stdout, res)
}

// runQuery prints every row as a JSON object keyed by upper-cased column
// label. An empty result prints [].
func runQuery(ctx context.Context, factory *persist.ManagerFactory, text string, params []string, stdout io.Writer) error {
	res, err := admin.QueryStatement(ctx, factory, statementRequest(text, params))
	if err != nil {
		return fmt.Errorf("executing query: %w", err)
	}
	return writeJSON(stdout, res.Rows)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}
