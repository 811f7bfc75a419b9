package persist

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// testDB opens a temporary SQLite database with an account table.
// A file is used rather than :memory: because every pooled connection to an
// in-memory database sees its own empty schema.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "persist-test.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE account (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			balance INTEGER NOT NULL DEFAULT 0
		);
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating schema: %v", err)
	}
	return db
}

// seedAccounts inserts accounts directly, bypassing the package under test.
func seedAccounts(t *testing.T, db *sql.DB, names ...string) {
	t.Helper()
	for i, name := range names {
		if _, err := db.Exec("INSERT INTO account (name, balance) VALUES (?, ?)", name, (i+1)*100); err != nil {
			t.Fatalf("seeding account %q: %v", name, err)
		}
	}
}

func countAccounts(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM account").Scan(&n); err != nil {
		t.Fatalf("counting accounts: %v", err)
	}
	return n
}

// account is the entity materialised by accountDecoder.
type account struct {
	ID      int64
	Name    string
	Balance int64
}

var accountDecoder = DecoderFunc[account](func(row Row) (account, error) {
	id, ok := row["ID"].(int64)
	if !ok {
		return account{}, errors.New("ID column missing")
	}
	balance, _ := row["BALANCE"].(int64)
	return account{ID: id, Name: asString(row["NAME"]), Balance: balance}, nil
})

// asString accepts both string and []byte text values; drivers differ.
func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}

// recordingObserver collects every Event it receives.
type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingObserver) OnEvent(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingObserver) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func (r *recordingObserver) last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

// recordingLogger captures log messages by level.
type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Debug(string, ...any) {}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

// ─── Fault-injecting driver ─────────────────────────────────────────

var errInjected = errors.New("injected driver failure")

// faultConnector is a driver.Connector whose connections fail on demand.
// It is opened with sql.OpenDB, so nothing is registered globally.
type faultConnector struct {
	failConnect  atomic.Bool
	failBegin    atomic.Bool
	failPrepare  atomic.Bool
	failExec     atomic.Bool
	failCommit   atomic.Bool
	failRollback atomic.Bool

	// rowsAffected and insertID are reported by every successful Exec.
	rowsAffected atomic.Int64
	insertID     atomic.Int64

	opened     atomic.Int32
	closed     atomic.Int32
	commits    atomic.Int32
	rollbacks  atomic.Int32
	statements atomic.Int32
}

func (c *faultConnector) Connect(context.Context) (driver.Conn, error) {
	if c.failConnect.Load() {
		return nil, errInjected
	}
	c.opened.Add(1)
	return &faultConn{c: c}, nil
}

func (c *faultConnector) Driver() driver.Driver {
	return faultDriver{c: c}
}

type faultDriver struct{ c *faultConnector }

func (d faultDriver) Open(string) (driver.Conn, error) {
	return d.c.Connect(context.Background())
}

type faultConn struct{ c *faultConnector }

func (fc *faultConn) Prepare(string) (driver.Stmt, error) {
	if fc.c.failPrepare.Load() {
		return nil, errInjected
	}
	fc.c.statements.Add(1)
	return &faultStmt{c: fc.c}, nil
}

func (fc *faultConn) Close() error {
	fc.c.closed.Add(1)
	return nil
}

func (fc *faultConn) Begin() (driver.Tx, error) {
	if fc.c.failBegin.Load() {
		return nil, errInjected
	}
	return &faultTx{c: fc.c}, nil
}

type faultTx struct{ c *faultConnector }

func (tx *faultTx) Commit() error {
	if tx.c.failCommit.Load() {
		return errInjected
	}
	tx.c.commits.Add(1)
	return nil
}

func (tx *faultTx) Rollback() error {
	if tx.c.failRollback.Load() {
		return errInjected
	}
	tx.c.rollbacks.Add(1)
	return nil
}

type faultStmt struct{ c *faultConnector }

func (s *faultStmt) Close() error  { return nil }
func (s *faultStmt) NumInput() int { return -1 }

func (s *faultStmt) Exec([]driver.Value) (driver.Result, error) {
	if s.c.failExec.Load() {
		return nil, errInjected
	}
	return faultResult{rows: s.c.rowsAffected.Load(), id: s.c.insertID.Load()}, nil
}

func (s *faultStmt) Query([]driver.Value) (driver.Rows, error) {
	if s.c.failExec.Load() {
		return nil, errInjected
	}
	return &faultRows{}, nil
}

type faultResult struct{ rows, id int64 }

func (r faultResult) LastInsertId() (int64, error) { return r.id, nil }
func (r faultResult) RowsAffected() (int64, error) { return r.rows, nil }

// faultRows is an empty result set with a single column.
type faultRows struct{}

func (faultRows) Columns() []string         { return []string{"n"} }
func (faultRows) Close() error              { return nil }
func (faultRows) Next([]driver.Value) error { return io.EOF }

// faultDB returns a *sql.DB over a fresh faultConnector.
func faultDB(t *testing.T) (*sql.DB, *faultConnector) {
	t.Helper()
	c := &faultConnector{}
	c.rowsAffected.Store(1)
	db := sql.OpenDB(c)
	t.Cleanup(func() { db.Close() })
	return db, c
}
