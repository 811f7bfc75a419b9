package persist

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/golang/groupcache/lru"
	"github.com/google/uuid"
)

// txState is the controller's state machine tag.
type txState int

const (
	// stateIdle means no connection is held.
	stateIdle txState = iota

	// stateActive means a connection is held with a driver transaction open.
	stateActive
)

// String returns a human-readable state name.
func (s txState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateActive:
		return "active"
	default:
		return fmt.Sprintf("txState(%d)", int(s))
	}
}

// session holds everything owned by one Begin..Commit/Rollback span.
type session struct {
	id      string
	conn    *sql.Conn
	tx      *sql.Tx
	stmts   *lru.Cache // nil when statement caching is disabled
	wrote   bool
	started time.Time
}

// Transaction is the connection/transaction controller.
//
// It owns at most one live connection. Begin acquires a dedicated connection
// from the DataSource and opens a driver transaction on it; Persist runs write
// statements on that transaction; Commit or Rollback ends it and releases the
// connection. Any driver failure during Persist or Commit rolls the
// transaction back before the error is returned.
//
// State machine:
//
//	Idle --Begin--> Active --Persist--> Active
//	Active --Commit/Rollback/driver failure--> Idle
//
// Thread Safety:
//   - A Transaction is not safe for concurrent use. Create one per goroutine;
//     separate Transactions may share a thread-safe DataSource such as *sql.DB.
type Transaction struct {
	ds        DataSource
	logger    Logger
	observer  Observer
	cacheSize int

	state   txState
	session *session

	// rowCount and lastInsertID describe the most recent successful Persist.
	// They survive Commit and are reset only by Begin.
	rowCount     int64
	lastInsertID int64
}

// NewTransaction creates an idle Transaction over ds.
//
// Returns:
//   - *Transaction: idle controller
//   - error: ErrNullValue if ds is nil
func NewTransaction(ds DataSource) (*Transaction, error) {
	if ds == nil {
		return nil, fmt.Errorf("%w: data source is nil", ErrNullValue)
	}
	return &Transaction{
		ds:     ds,
		logger: nopLogger{},
		state:  stateIdle,
	}, nil
}

// SetLogger sets the logger used for lifecycle and rollback messages.
func (t *Transaction) SetLogger(logger Logger) {
	if logger == nil {
		logger = nopLogger{}
	}
	t.logger = logger
}

// SetObserver sets an observer notified after each operation.
func (t *Transaction) SetObserver(obs Observer) {
	t.observer = obs
}

// SetStatementCacheSize sets how many prepared statements each session keeps
// for reuse. Zero or negative disables caching. Takes effect at the next Begin.
func (t *Transaction) SetStatementCacheSize(n int) {
	t.cacheSize = n
}

// Begin starts a transaction.
//
// The driver transaction lives until Commit or Rollback, independent of ctx
// cancellation; ctx only bounds connection acquisition and BEGIN itself.
//
// Returns:
//   - error: ErrIllegalState if a transaction is already active (state is left
//     untouched), ErrPersistence if the connection or BEGIN fails
func (t *Transaction) Begin(ctx context.Context) (err error) {
	if t.state == stateActive || t.session != nil {
		return fmt.Errorf("%w: transaction already active", ErrIllegalState)
	}

	started := time.Now()
	s := &session{
		id:      uuid.NewString(),
		started: started,
	}
	defer func() {
		emit(t.observer, Event{Kind: EventBegin, TxID: s.id, Err: err}, started)
	}()

	conn, err := t.ds.Conn(ctx)
	if err != nil {
		return fmt.Errorf("%w: acquiring connection: %w", ErrPersistence, err)
	}

	tx, err := conn.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		conn.Close() //nolint:errcheck // Best effort cleanup on error path
		return fmt.Errorf("%w: starting transaction: %w", ErrPersistence, err)
	}

	s.conn = conn
	s.tx = tx
	if t.cacheSize > 0 {
		s.stmts = lru.New(t.cacheSize)
		s.stmts.OnEvicted = func(_ lru.Key, value any) {
			if stmt, ok := value.(*sql.Stmt); ok {
				stmt.Close() //nolint:errcheck // Evicted statement is never reused
			}
		}
	}

	t.session = s
	t.state = stateActive
	t.rowCount = 0
	t.lastInsertID = 0

	t.logger.Debug("transaction started", "tx_id", s.id)
	return nil
}

// Persist executes a write statement inside the active transaction.
//
// Only the row count of the latest Persist is retained; read RowCount after
// each call when per-statement counts matter.
//
// Parameters:
//   - ctx: bounds statement preparation and execution
//   - statement: non-read statement
//
// Returns:
//   - int64: generated key of an INSERT/REPLACE, otherwise 0
//   - error: ErrIllegalState without an active transaction, ErrNullValue for a
//     nil statement, ErrWrongStatementKind for a read statement,
//     ErrInvalidArgument for unbound parameter gaps, ErrPersistence for driver
//     failures (the transaction has been rolled back when this is returned)
func (t *Transaction) Persist(ctx context.Context, statement *Statement) (_ int64, err error) {
	if t.state != stateActive {
		return 0, fmt.Errorf("%w: no active transaction", ErrIllegalState)
	}
	if statement == nil {
		return 0, fmt.Errorf("%w: statement cannot be nil", ErrNullValue)
	}
	if statement.IsRead() {
		return 0, fmt.Errorf("%w: %s statement cannot be persisted", ErrWrongStatementKind, readKeyword)
	}

	args, err := statement.Args()
	if err != nil {
		return 0, err
	}

	s := t.session
	started := time.Now()
	var rows, id int64
	defer func() {
		emit(t.observer, Event{
			Kind:     EventPersist,
			TxID:     s.id,
			SQL:      statement.String(),
			Rows:     rows,
			InsertID: id,
			Err:      err,
		}, started)
	}()

	stmt, done, err := s.prepare(ctx, statement.String())
	if err != nil {
		t.abort("prepare failed") //nolint:errcheck // Rollback failure is logged, the original error wins
		return 0, fmt.Errorf("%w: preparing statement: %w", ErrPersistence, err)
	}
	defer done()

	res, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		t.abort("execute failed") //nolint:errcheck // Rollback failure is logged, the original error wins
		return 0, fmt.Errorf("%w: executing statement: %w", ErrPersistence, err)
	}

	rows, err = res.RowsAffected()
	if err != nil {
		rows = 0
	}
	id = generatedKey(res, statement, rows)

	t.rowCount = rows
	t.lastInsertID = id
	s.wrote = true
	return id, nil
}

// Commit commits the active transaction and releases its connection.
//
// The controller is Idle after Commit returns, whether or not the commit
// succeeded.
//
// Returns:
//   - error: ErrIllegalState without an active transaction or when nothing was
//     persisted since Begin, ErrPersistence if the driver commit fails (a
//     rollback has been attempted when this is returned)
func (t *Transaction) Commit() (err error) {
	if t.state != stateActive {
		return fmt.Errorf("%w: no active transaction", ErrIllegalState)
	}
	s := t.session
	if !s.wrote {
		return fmt.Errorf("%w: nothing to commit", ErrIllegalState)
	}

	started := time.Now()
	defer func() {
		emit(t.observer, Event{Kind: EventCommit, TxID: s.id, Rows: t.rowCount, Err: err}, started)
	}()

	s.closeStatements()
	if err := s.tx.Commit(); err != nil {
		t.abort("commit failed") //nolint:errcheck // Rollback failure is logged, the original error wins
		return fmt.Errorf("%w: committing transaction: %w", ErrPersistence, err)
	}

	t.release(false)
	t.logger.Debug("transaction committed",
		"tx_id", s.id,
		"duration_ms", time.Since(s.started).Milliseconds(),
	)
	return nil
}

// Rollback discards the active transaction and releases its connection.
//
// It is safe to defer right after a successful Begin: once the transaction
// has been committed the deferred call returns ErrIllegalState, which the
// caller can ignore.
//
// Returns:
//   - error: ErrIllegalState without an active transaction, ErrPersistence if
//     the driver rollback fails (the connection is released regardless)
func (t *Transaction) Rollback() error {
	if t.state != stateActive {
		return fmt.Errorf("%w: no active transaction", ErrIllegalState)
	}
	if rbErr := t.abort("rollback requested"); rbErr != nil {
		return fmt.Errorf("%w: rolling back transaction: %w", ErrPersistence, rbErr)
	}
	return nil
}

// RowCount returns the rows affected by the most recent successful Persist,
// or 0 when nothing has been persisted since Begin.
func (t *Transaction) RowCount() int64 {
	return t.rowCount
}

// LastInsertID returns the generated key of the most recent successful Persist.
func (t *Transaction) LastInsertID() int64 {
	return t.lastInsertID
}

// IsActive reports whether a transaction is active.
func (t *Transaction) IsActive() bool {
	return t.state == stateActive
}

// ID returns the active session identifier, or "" when Idle.
// The identifier tags log lines and Events of one Begin..Commit span.
func (t *Transaction) ID() string {
	if t.session == nil {
		return ""
	}
	return t.session.id
}

// abort rolls back the active session and releases it. A rollback failure is
// logged and returned but never replaces the error that triggered the abort.
//
// When the rollback cannot be confirmed (driver error, or the driver
// transaction already ended by a failed commit) the physical connection is
// discarded instead of being returned to the pool.
func (t *Transaction) abort(reason string) error {
	s := t.session
	started := time.Now()

	s.closeStatements()
	rbErr := s.tx.Rollback()
	discard := rbErr != nil
	if errors.Is(rbErr, sql.ErrTxDone) {
		rbErr = nil
	}
	if rbErr != nil {
		t.logger.Error("rollback failed", "tx_id", s.id, "reason", reason, "error", rbErr)
	} else {
		t.logger.Warn("transaction rolled back", "tx_id", s.id, "reason", reason)
	}

	t.release(discard)
	emit(t.observer, Event{Kind: EventRollback, TxID: s.id, Err: rbErr}, started)
	return rbErr
}

// release closes the session connection and returns the controller to Idle.
// With discard set the connection is marked bad so the pool drops it.
func (t *Transaction) release(discard bool) {
	s := t.session
	t.session = nil
	t.state = stateIdle

	if discard {
		//nolint:errcheck // ErrBadConn is the requested outcome
		s.conn.Raw(func(any) error { return driver.ErrBadConn })
	}
	if err := s.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		t.logger.Warn("closing transaction connection", "tx_id", s.id, "error", err)
	}
}

// prepare returns a prepared statement for query on the session transaction.
// The done func must be called once the statement has been executed; it
// closes uncached statements and is a no-op for cached ones.
func (s *session) prepare(ctx context.Context, query string) (*sql.Stmt, func(), error) {
	if s.stmts != nil {
		if v, ok := s.stmts.Get(query); ok {
			return v.(*sql.Stmt), func() {}, nil //nolint:forcetypeassert // Cache only holds *sql.Stmt
		}
	}

	stmt, err := s.tx.PrepareContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}

	if s.stmts == nil {
		return stmt, func() { stmt.Close() }, nil //nolint:errcheck // Statement is single-use
	}
	s.stmts.Add(query, stmt)
	return stmt, func() {}, nil
}

// closeStatements closes every cached prepared statement.
func (s *session) closeStatements() {
	if s.stmts != nil {
		s.stmts.Clear()
	}
}

// generatedKey extracts the auto-assigned key of an INSERT-like statement.
// Drivers without LastInsertId support, statements that cannot produce a key
// and statements that affected no rows all report 0.
func generatedKey(res sql.Result, statement *Statement, rows int64) int64 {
	if rows == 0 || !statement.generatesKey() {
		return 0
	}
	id, err := res.LastInsertId()
	if err != nil || id < 0 {
		return 0
	}
	return id
}
