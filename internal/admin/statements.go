package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/nerrad567/gray-logic-persist/internal/persist"
)

// Error codes for statement failures.
const (
	ErrCodeConflict     = "conflict"
	ErrCodePersistence  = "persistence_failed"
	ErrCodeUnsupported  = "unsupported"
	ErrCodeInvalidInput = "invalid_statement"
)

// StatementRequest is one SQL statement with positional parameters.
// Params[0] binds to placeholder 1.
type StatementRequest struct {
	SQL    string `json:"sql"`
	Params []any  `json:"params,omitempty"`
}

// ExecRequest is the body of POST /exec. Statements run in order inside one
// transaction. SQL and Params are shorthand for a single statement.
type ExecRequest struct {
	StatementRequest
	Statements []StatementRequest `json:"statements,omitempty"`
}

// ExecResult reports a committed transaction. Rows and LastInsertID describe
// the last statement.
type ExecResult struct {
	TxID         string `json:"tx_id"`
	Statements   int    `json:"statements"`
	Rows         int64  `json:"rows"`
	LastInsertID int64  `json:"last_insert_id"`
}

// QueryResult holds every row of a read, keyed by upper-cased column label.
type QueryResult struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// BuildStatement converts req into a persist.Statement. JSON numbers are
// bound as int64 when integral, float64 otherwise.
func BuildStatement(req StatementRequest) (*persist.Statement, error) {
	stmt, err := persist.NewStatement(req.SQL)
	if err != nil {
		return nil, err
	}
	for i, p := range req.Params {
		v, err := bindValue(p)
		if err != nil {
			return nil, fmt.Errorf("parameter %d: %w", i+1, err)
		}
		if _, err := stmt.SetParameter(i+1, v); err != nil {
			return nil, fmt.Errorf("parameter %d: %w", i+1, err)
		}
	}
	return stmt, nil
}

func bindValue(v any) (any, error) {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", persist.ErrInvalidArgument, x)
		}
		return f, nil
	case float64:
		if x == float64(int64(x)) {
			return int64(x), nil
		}
		return x, nil
	case map[string]any, []any:
		return nil, fmt.Errorf("%w: unsupported parameter type %T", persist.ErrInvalidArgument, v)
	default:
		return v, nil
	}
}

// ExecStatements persists reqs in a single transaction and commits it.
// Any failure leaves nothing committed.
//
// Returns:
//   - ExecResult: transaction id and the last statement's row count and key
//   - error: persist sentinels, wrapped with the failing statement's position
func ExecStatements(ctx context.Context, factory *persist.ManagerFactory, reqs []StatementRequest) (ExecResult, error) {
	if len(reqs) == 0 {
		return ExecResult{}, fmt.Errorf("%w: no statements", persist.ErrInvalidArgument)
	}
	stmts := make([]*persist.Statement, len(reqs))
	for i, req := range reqs {
		stmt, err := BuildStatement(req)
		if err != nil {
			return ExecResult{}, fmt.Errorf("statement %d: %w", i+1, err)
		}
		stmts[i] = stmt
	}

	tx := factory.CreateTransactionManager()
	if err := tx.Begin(ctx); err != nil {
		return ExecResult{}, err
	}
	defer func() {
		if tx.IsActive() {
			tx.Rollback() //nolint:errcheck // rollback failures are logged by the transaction
		}
	}()

	result := ExecResult{TxID: tx.ID(), Statements: len(stmts)}
	for i, stmt := range stmts {
		if _, err := tx.Persist(ctx, stmt); err != nil {
			return ExecResult{}, fmt.Errorf("statement %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return ExecResult{}, err
	}

	result.Rows = tx.RowCount()
	result.LastInsertID = tx.LastInsertID()
	return result, nil
}

// QueryStatement runs a read and returns every row. An empty result is not
// an error.
func QueryStatement(ctx context.Context, factory *persist.ManagerFactory, req StatementRequest) (QueryResult, error) {
	stmt, err := BuildStatement(req)
	if err != nil {
		return QueryResult{}, err
	}
	q, err := persist.CreateEntityQuery(factory.CreateQueryManager(), stmt, persist.DecoderFunc[map[string]any](rowObject))
	if err != nil {
		return QueryResult{}, err
	}

	empty := QueryResult{Columns: []string{}, Rows: []map[string]any{}}
	if _, err := q.Execute(ctx); err != nil {
		if errors.Is(err, persist.ErrNoResult) {
			return empty, nil
		}
		return QueryResult{}, err
	}
	rows, err := q.ResultList()
	if err != nil {
		return QueryResult{}, err
	}
	return QueryResult{Columns: q.Columns(), Rows: rows}, nil
}

// rowObject turns driver byte slices into strings so text columns encode as
// JSON strings rather than base64.
func rowObject(row persist.Row) (map[string]any, error) {
	for k, v := range row {
		if b, ok := v.([]byte); ok {
			row[k] = string(b)
		}
	}
	return row, nil
}

// handleExec runs POST /exec.
func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	if s.factory == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "statement execution not enabled")
		return
	}

	var req ExecRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	stmts := req.Statements
	if req.SQL != "" || len(req.Params) > 0 {
		if len(stmts) > 0 {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "use either sql or statements, not both")
			return
		}
		stmts = []StatementRequest{req.StatementRequest}
	}

	result, err := ExecStatements(r.Context(), s.factory, stmts)
	if err != nil {
		s.writeStatementError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleQuery runs POST /query.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if s.factory == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "statement execution not enabled")
		return
	}

	var req StatementRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	result, err := QueryStatement(r.Context(), s.factory, req)
	if err != nil {
		s.writeStatementError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeStatementError maps persist sentinels onto HTTP statuses.
func (s *Server) writeStatementError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, persist.ErrInvalidArgument),
		errors.Is(err, persist.ErrNullValue),
		errors.Is(err, persist.ErrWrongStatementKind):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error())
	case errors.Is(err, persist.ErrUnsupported):
		writeError(w, http.StatusNotImplemented, ErrCodeUnsupported, err.Error())
	case errors.Is(err, persist.ErrIllegalState):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, persist.ErrPersistence):
		s.logger.Warn("statement failed", "error", err)
		writeError(w, http.StatusUnprocessableEntity, ErrCodePersistence, err.Error())
	default:
		s.logger.Error("statement failed", "error", err)
		writeInternalError(w, "statement failed")
	}
}
