package persist

import (
	"context"
	"errors"
	"testing"
)

func TestNewManagerFactory(t *testing.T) {
	if _, err := NewManagerFactory(nil); !errors.Is(err, ErrNullValue) {
		t.Errorf("NewManagerFactory(nil) error = %v, want ErrNullValue", err)
	}

	db := testDB(t)
	f, err := NewManagerFactory(db)
	if err != nil {
		t.Fatalf("NewManagerFactory() error = %v", err)
	}
	if f.DataSource() != db {
		t.Error("DataSource() does not return the bound source")
	}
}

func TestFactoryManagersAreIndependent(t *testing.T) {
	ctx := context.Background()
	f, _ := NewManagerFactory(testDB(t))

	first := f.CreateTransactionManager()
	second := f.CreateTransactionManager()
	if first == second {
		t.Fatal("CreateTransactionManager() returned a shared instance")
	}

	if err := first.Begin(ctx); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	defer first.Rollback() //nolint:errcheck // Test cleanup

	if second.IsActive() {
		t.Error("second manager shares state with the first")
	}
	if f.CreateQueryManager() == f.CreateQueryManager() {
		t.Error("CreateQueryManager() returned a shared instance")
	}
}

func TestFactoryCreateCallableManager(t *testing.T) {
	f, _ := NewManagerFactory(testDB(t))
	if err := f.CreateCallableManager(); !errors.Is(err, ErrUnsupported) {
		t.Errorf("CreateCallableManager() error = %v, want ErrUnsupported", err)
	}
}

func TestFactoryPropagatesSettings(t *testing.T) {
	ctx := context.Background()
	db, fc := faultDB(t)
	f, _ := NewManagerFactory(db)

	var rec recordingObserver
	logger := &recordingLogger{}
	f.SetObserver(&rec)
	f.SetLogger(logger)
	f.SetStatementCacheSize(4)

	tx := f.CreateTransactionManager()
	tx.Begin(ctx) //nolint:errcheck // Fault driver succeeds
	stmt := MustStatement("UPDATE t SET v = 1")
	tx.Persist(ctx, stmt) //nolint:errcheck // Fault driver succeeds
	tx.Persist(ctx, stmt) //nolint:errcheck // Fault driver succeeds
	tx.Rollback()         //nolint:errcheck // Checked via logger below

	if got := fc.statements.Load(); got != 1 {
		t.Errorf("prepared statements = %d, want 1 with caching", got)
	}
	if len(rec.kinds()) != 4 {
		t.Errorf("events = %v, want 4", rec.kinds())
	}
	if len(logger.warns) != 1 {
		t.Errorf("warn logs = %v, want one rollback message", logger.warns)
	}
}

func TestQueryManager(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	seedAccounts(t, db, "CASH", "BANK")

	f, _ := NewManagerFactory(db)
	var rec recordingObserver
	f.SetObserver(&rec)
	qm := f.CreateQueryManager()

	t.Run("nil statement", func(t *testing.T) {
		if _, err := qm.CreateQuery(nil); !errors.Is(err, ErrNullValue) {
			t.Errorf("CreateQuery(nil) error = %v, want ErrNullValue", err)
		}
	})

	t.Run("nil decoder", func(t *testing.T) {
		_, err := CreateEntityQuery[account](qm, MustStatement("SELECT * FROM account"), nil)
		if !errors.Is(err, ErrNullValue) {
			t.Errorf("CreateEntityQuery(nil decoder) error = %v, want ErrNullValue", err)
		}
	})

	t.Run("entity query", func(t *testing.T) {
		q, err := CreateEntityQuery[account](qm, MustStatement("SELECT * FROM account ORDER BY id"), accountDecoder)
		if err != nil {
			t.Fatalf("CreateEntityQuery() error = %v", err)
		}
		if _, err := q.Execute(ctx); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		list, err := q.ResultList()
		if err != nil {
			t.Fatalf("ResultList() error = %v", err)
		}
		if len(list) != 2 || list[0].Name != "CASH" {
			t.Errorf("ResultList() = %+v", list)
		}
		if rec.last().Kind != EventQuery {
			t.Errorf("last event = %s, want query", rec.last().Kind)
		}
	})

	t.Run("scalar query", func(t *testing.T) {
		q, err := CreateScalarQuery[int64](qm, MustStatement("SELECT SUM(balance) FROM account"))
		if err != nil {
			t.Fatalf("CreateScalarQuery() error = %v", err)
		}
		if _, err := q.Execute(ctx); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		total, err := q.SingleResult()
		if err != nil {
			t.Fatalf("SingleResult() error = %v", err)
		}
		if total != 300 {
			t.Errorf("SingleResult() = %d, want 300", total)
		}
	})

	t.Run("raw query", func(t *testing.T) {
		q, err := qm.CreateQuery(MustStatement("SELECT name FROM account WHERE id = 1"))
		if err != nil {
			t.Fatalf("CreateQuery() error = %v", err)
		}
		if _, err := q.Execute(ctx); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		name, err := q.SingleResult()
		if err != nil {
			t.Fatalf("SingleResult() error = %v", err)
		}
		if asString(name) != "CASH" {
			t.Errorf("SingleResult() = %v, want CASH", name)
		}
	})
}
