package persist

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Query runs a read statement and materialises its rows.
//
// A Query with a nil decoder is in raw mode: SingleResult returns the first
// column of the single row and ResultList is unsupported. Execute buffers the
// whole result, so SingleResult and ResultList can be called any number of
// times afterwards.
//
// Thread Safety:
//   - A Query is not safe for concurrent use. Create one per goroutine.
type Query[T any] struct {
	ds        DataSource
	statement *Statement
	decoder   Decoder[T]
	observer  Observer

	columns []string
	rows    []Row
}

// NewQuery creates a Query bound to ds.
//
// Parameters:
//   - ds: connection source (required)
//   - statement: read statement (required)
//   - decoder: entity decoder, or nil for raw mode
//
// Returns:
//   - *Query[T]: query ready to Execute
//   - error: ErrNullValue if ds or statement is nil
func NewQuery[T any](ds DataSource, statement *Statement, decoder Decoder[T]) (*Query[T], error) {
	if ds == nil {
		return nil, fmt.Errorf("%w: data source is nil", ErrNullValue)
	}
	if statement == nil {
		return nil, fmt.Errorf("%w: statement is nil", ErrNullValue)
	}
	return &Query[T]{
		ds:        ds,
		statement: statement,
		decoder:   decoder,
	}, nil
}

// SetObserver sets an observer notified after each Execute.
func (q *Query[T]) SetObserver(obs Observer) {
	q.observer = obs
}

// Execute runs the statement and buffers every row.
//
// The connection, prepared statement and cursor are released before Execute
// returns, on every path.
//
// Returns:
//   - *Query[T]: the receiver, for chaining
//   - error: ErrWrongStatementKind for non-read statements, ErrNoResult for an
//     empty result, ErrPersistence wrapping any driver failure
//
// Example:
//
//	q, err := persist.CreateEntityQuery(qm, stmt, accountDecoder)
//	if err != nil {
//	    return err
//	}
//	if _, err := q.Execute(ctx); err != nil {
//	    return err
//	}
//	account, err := q.SingleResult()
func (q *Query[T]) Execute(ctx context.Context) (_ *Query[T], err error) {
	q.columns, q.rows = nil, nil
	if !q.statement.IsRead() {
		return q, fmt.Errorf("%w: query requires a %s statement", ErrWrongStatementKind, readKeyword)
	}

	started := time.Now()
	var buffered int64
	defer func() {
		emit(q.observer, Event{
			Kind: EventQuery,
			SQL:  q.statement.String(),
			Rows: buffered,
			Err:  err,
		}, started)
	}()

	args, err := q.statement.Args()
	if err != nil {
		return q, err
	}

	columns, rows, err := q.fetch(ctx, args)
	if err != nil {
		return q, err
	}
	if len(rows) == 0 {
		return q, ErrNoResult
	}

	q.columns = columns
	q.rows = rows
	buffered = int64(len(rows))
	return q, nil
}

// fetch acquires a connection, runs the statement and reads every row.
func (q *Query[T]) fetch(ctx context.Context, args []any) ([]string, []Row, error) {
	conn, err := q.ds.Conn(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: acquiring connection: %w", ErrPersistence, err)
	}
	defer conn.Close() //nolint:errcheck // Returns the connection to the pool

	stmt, err := conn.PrepareContext(ctx, q.statement.String())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: preparing query: %w", ErrPersistence, err)
	}
	defer stmt.Close() //nolint:errcheck // Statement is discarded either way

	cursor, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: executing query: %w", ErrPersistence, err)
	}
	defer cursor.Close() //nolint:errcheck // rows.Err() is checked below

	return scanRows(cursor)
}

// scanRows buffers all rows from cursor as Rows keyed by upper-cased column
// label. Labels that fold to the same key keep the leftmost column's value,
// so the first column is always reachable under columns[0].
func scanRows(cursor *sql.Rows) ([]string, []Row, error) {
	labels, err := cursor.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reading columns: %w", ErrPersistence, err)
	}
	columns := make([]string, len(labels))
	for i, label := range labels {
		columns[i] = strings.ToUpper(label)
	}

	var rows []Row
	for cursor.Next() {
		values, err := sqlx.SliceScan(cursor)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: scanning row: %w", ErrPersistence, err)
		}
		row := make(Row, len(columns))
		for i, key := range columns {
			if _, seen := row[key]; !seen {
				row[key] = values[i]
			}
		}
		rows = append(rows, row)
	}
	if err := cursor.Err(); err != nil {
		return nil, nil, fmt.Errorf("%w: iterating rows: %w", ErrPersistence, err)
	}
	return columns, rows, nil
}

// SingleResult returns the only buffered row.
//
// In raw mode (no decoder) the value of the first column is returned,
// asserted to T. Otherwise a copy of the row is materialised with the
// decoder, so decoders may modify the Row they receive.
//
// Returns:
//   - T: the result
//   - error: ErrIllegalState before a successful Execute, ErrNonUniqueResult if
//     more than one row was buffered, ErrPersistence if decoding fails
func (q *Query[T]) SingleResult() (T, error) {
	var zero T
	if q.rows == nil {
		return zero, fmt.Errorf("%w: invalid method call sequence, call Execute first", ErrIllegalState)
	}
	if len(q.rows) > 1 {
		return zero, fmt.Errorf("%w: got %d rows", ErrNonUniqueResult, len(q.rows))
	}

	row := q.rows[0]
	if q.decoder == nil {
		raw := row[q.columns[0]]
		v, ok := raw.(T)
		if !ok && raw != nil {
			return zero, fmt.Errorf("%w: column %s holds %T, not %T", ErrPersistence, q.columns[0], raw, zero)
		}
		return v, nil
	}
	return materialize(q.decoder, maps.Clone(row))
}

// ResultList returns every buffered row materialised with the decoder, in
// result-set order. The slice is freshly allocated on each call.
//
// Returns:
//   - []T: the results
//   - error: ErrIllegalState before a successful Execute, ErrUnsupported in
//     raw mode, ErrPersistence if decoding any row fails
func (q *Query[T]) ResultList() ([]T, error) {
	if q.rows == nil {
		return nil, fmt.Errorf("%w: invalid method call sequence, call Execute first", ErrIllegalState)
	}
	if q.decoder == nil {
		return nil, fmt.Errorf("%w: result list requires an entity decoder", ErrUnsupported)
	}

	list := make([]T, 0, len(q.rows))
	for i, row := range q.rows {
		entity, err := materialize(q.decoder, maps.Clone(row))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		list = append(list, entity)
	}
	return list, nil
}

// Columns returns the upper-cased column labels of the last Execute, in
// result-set order. It is nil before Execute.
func (q *Query[T]) Columns() []string {
	if q.columns == nil {
		return nil
	}
	return append([]string(nil), q.columns...)
}

// Rows returns copies of the buffered rows. It is nil before Execute.
func (q *Query[T]) Rows() []Row {
	if q.rows == nil {
		return nil
	}
	out := make([]Row, len(q.rows))
	for i, row := range q.rows {
		out[i] = maps.Clone(row)
	}
	return out
}
