package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-persist/internal/persist"
)

// fakeRepository records created entries; Create blocks while gate is open.
type fakeRepository struct {
	mu      sync.Mutex
	entries []*Entry
	err     error
	gate    chan struct{}
}

func (f *fakeRepository) Create(_ context.Context, entry *Entry) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeRepository) List(context.Context, Filter) (*ListResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRepository) created() []*Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Entry(nil), f.entries...)
}

type countingLogger struct {
	mu     sync.Mutex
	warns  int
	errors int
}

func (l *countingLogger) Warn(string, ...any) {
	l.mu.Lock()
	l.warns++
	l.mu.Unlock()
}

func (l *countingLogger) Error(string, ...any) {
	l.mu.Lock()
	l.errors++
	l.mu.Unlock()
}

func TestRecorder_RecordsOutcomesOnly(t *testing.T) {
	repo := &fakeRepository{}
	rec := NewRecorder(repo, 8)
	rec.SetSource("test")

	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	events := []persist.Event{
		{Kind: persist.EventBegin, TxID: "tx-1", Time: started},
		{Kind: persist.EventPersist, TxID: "tx-1", Rows: 2, Time: started},
		{Kind: persist.EventCommit, TxID: "tx-1", Rows: 2, Duration: 3 * time.Millisecond, Time: started},
		{Kind: persist.EventQuery, SQL: "SELECT 1", Time: started},
		{Kind: persist.EventRollback, TxID: "tx-2", Err: errors.New("conn reset"), Time: started},
	}
	for _, ev := range events {
		rec.OnEvent(ev)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	got := repo.created()
	if len(got) != 2 {
		t.Fatalf("recorded %d entries, want 2", len(got))
	}
	if got[0].Action != ActionCommit || got[0].Rows != 2 || got[0].DurationMS != 3 || got[0].Source != "test" {
		t.Errorf("commit entry = %+v", got[0])
	}
	if !got[0].CreatedAt.Equal(started) {
		t.Errorf("CreatedAt = %v, want %v", got[0].CreatedAt, started)
	}
	if got[1].Action != ActionRollback || got[1].Error != "conn reset" {
		t.Errorf("rollback entry = %+v", got[1])
	}
	if rec.Written() != 2 {
		t.Errorf("Written() = %d, want 2", rec.Written())
	}
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	repo := &fakeRepository{gate: make(chan struct{})}
	logger := &countingLogger{}
	rec := NewRecorder(repo, 1)
	rec.SetLogger(logger)

	// The first entry is taken by the writer and blocks on the gate, the
	// second fills the queue, later ones are dropped.
	for range 5 {
		rec.OnEvent(persist.Event{Kind: persist.EventCommit, TxID: "tx"})
		time.Sleep(5 * time.Millisecond)
	}
	close(repo.gate)
	rec.Close() //nolint:errcheck // Test cleanup

	if rec.Dropped() == 0 {
		t.Error("Dropped() = 0, want drops with a full queue")
	}
	if rec.Written()+rec.Dropped() != 5 {
		t.Errorf("Written() + Dropped() = %d, want 5", rec.Written()+rec.Dropped())
	}
	if logger.warns != 1 {
		t.Errorf("warns = %d, want 1", logger.warns)
	}
}

func TestRecorder_WriteFailure(t *testing.T) {
	repo := &fakeRepository{err: errors.New("disk full")}
	logger := &countingLogger{}
	rec := NewRecorder(repo, 4)
	rec.SetLogger(logger)

	rec.OnEvent(persist.Event{Kind: persist.EventCommit, TxID: "tx"})
	rec.Close() //nolint:errcheck // Test cleanup

	if rec.Failed() != 1 || logger.errors != 1 {
		t.Errorf("Failed() = %d, errors logged = %d, want 1, 1", rec.Failed(), logger.errors)
	}
}

func TestRecorder_CloseIdempotent(t *testing.T) {
	rec := NewRecorder(&fakeRepository{}, 0)
	if err := rec.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	// Events after Close are ignored.
	rec.OnEvent(persist.Event{Kind: persist.EventCommit})
	if rec.Written() != 0 {
		t.Errorf("Written() = %d, want 0", rec.Written())
	}
}

// TestRecorder_TransactionTrail drives real transactions through the
// persist managers and reads the trail back.
func TestRecorder_TransactionTrail(t *testing.T) {
	db := openTestDB(t)
	repo := NewSQLRepository(db.DB, db.Driver())
	rec := NewRecorder(repo, 16)

	factory, err := persist.NewManagerFactory(db)
	if err != nil {
		t.Fatalf("NewManagerFactory() error = %v", err)
	}
	factory.SetObserver(rec)
	ctx := context.Background()

	committed := factory.CreateTransactionManager()
	if err := committed.Begin(ctx); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	committedID := committed.ID()
	insert := persist.MustStatement("INSERT INTO account (code, name, kind) VALUES (?, ?, ?)")
	for i, code := range []string{"1000", "1100"} {
		stmt := insert.ClearParameters()
		stmt.SetParameter(1, code)      //nolint:errcheck // Index is valid
		stmt.SetParameter(2, "Account") //nolint:errcheck // Index is valid
		stmt.SetParameter(3, "asset")   //nolint:errcheck // Index is valid
		if _, err := committed.Persist(ctx, stmt); err != nil {
			t.Fatalf("Persist(%d) error = %v", i, err)
		}
	}
	if err := committed.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	rolledBack := factory.CreateTransactionManager()
	if err := rolledBack.Begin(ctx); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := rolledBack.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	if err := rec.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	res, err := repo.List(ctx, Filter{TxID: committedID})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 || res.Entries[0].Action != ActionCommit || res.Entries[0].Rows != 1 {
		t.Errorf("commit trail = %+v", res.Entries)
	}

	res, err = repo.List(ctx, Filter{Action: ActionRollback})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 {
		t.Errorf("rollback entries = %d, want 1", res.Total)
	}
}
