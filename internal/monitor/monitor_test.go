package monitor

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-persist/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-persist/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-persist/internal/infrastructure/logging"
)

type fakeDB struct {
	mu  sync.Mutex
	err error
}

func (f *fakeDB) HealthCheck(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.err
}

func (f *fakeDB) Stats() sql.DBStats { return sql.DBStats{OpenConnections: 2, InUse: 1, Idle: 1} }

func (f *fakeDB) Driver() string { return "fake" }

func (f *fakeDB) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type recordedSnapshot struct {
	driver  string
	open    int
	healthy bool
}

type fakeRecorder struct {
	mu    sync.Mutex
	snaps []recordedSnapshot
}

func (r *fakeRecorder) WritePoolStats(driver string, stats sql.DBStats, healthy bool) {
	r.mu.Lock()
	r.snaps = append(r.snaps, recordedSnapshot{driver, stats.OpenConnections, healthy})
	r.mu.Unlock()
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func quietLogger() *logging.Logger {
	return logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)
}

func TestNew_Schedules(t *testing.T) {
	tests := []struct {
		schedule string
		wantErr  bool
	}{
		{"@every 30s", false},
		{"*/5 * * * *", false},
		{"*/15 * * * * *", false},
		{"@hourly", false},
		{"", true},
		{"every thirty seconds", true},
		{"61 * * * *", true},
	}

	for _, tt := range tests {
		t.Run(tt.schedule, func(t *testing.T) {
			_, err := New(config.MonitorConfig{Schedule: tt.schedule}, &fakeDB{}, quietLogger())
			if tt.wantErr && !errors.Is(err, ErrInvalidSchedule) {
				t.Errorf("New() error = %v, want ErrInvalidSchedule", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("New() error = %v", err)
			}
		})
	}
}

func TestNew_RequiresDatabase(t *testing.T) {
	if _, err := New(config.MonitorConfig{Schedule: "@every 1m"}, nil, quietLogger()); err == nil {
		t.Error("New() expected error for nil database")
	}
}

func TestCheck_Transitions(t *testing.T) {
	db := &fakeDB{}
	rec := &fakeRecorder{}
	var buf bytes.Buffer
	logger := logging.NewWithWriter(config.LoggingConfig{Level: "info", Format: "text"}, "test", &buf)

	m, err := New(config.MonitorConfig{Schedule: "@every 1m", Timeout: 1}, db, logger, rec, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !m.Status().CheckedAt.IsZero() {
		t.Error("Status() before first check should be zero")
	}

	ctx := context.Background()
	if st := m.Check(ctx); !st.Healthy || st.Failures != 0 {
		t.Errorf("healthy check = %+v", st)
	}

	down := errors.New("connection refused")
	db.fail(down)
	m.Check(ctx)
	st := m.Check(ctx)
	if st.Healthy || st.Failures != 2 || !errors.Is(st.Err, down) {
		t.Errorf("failing check = %+v", st)
	}

	db.fail(nil)
	if st := m.Check(ctx); !st.Healthy || st.Failures != 0 {
		t.Errorf("recovered check = %+v", st)
	}

	out := buf.String()
	if n := strings.Count(out, "database became unhealthy"); n != 1 {
		t.Errorf("logged unhealthy %d times, want 1:\n%s", n, out)
	}
	if !strings.Contains(out, "database recovered") {
		t.Errorf("recovery not logged:\n%s", out)
	}

	if rec.count() != 4 {
		t.Fatalf("recorder saw %d snapshots, want 4", rec.count())
	}
	if got := rec.snaps[1]; got.driver != "fake" || got.open != 2 || got.healthy {
		t.Errorf("snapshot[1] = %+v", got)
	}
	if m.Status().CheckedAt.IsZero() {
		t.Error("Status() not updated")
	}
}

func TestCheck_Timeout(t *testing.T) {
	m, err := New(config.MonitorConfig{Schedule: "@every 1m", Timeout: 1}, &fakeDB{}, quietLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if st := m.Check(ctx); st.Healthy || !errors.Is(st.Err, context.Canceled) {
		t.Errorf("Check() with cancelled ctx = %+v", st)
	}
}

func TestStartStop(t *testing.T) {
	rec := &fakeRecorder{}
	m, err := New(config.MonitorConfig{Schedule: "* * * * * *"}, &fakeDB{}, quietLogger(), rec)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	m.Start()
	deadline := time.Now().Add(3 * time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if rec.count() == 0 {
		t.Fatal("scheduled check never ran")
	}
	if !m.Status().Healthy {
		t.Errorf("Status() = %+v, want healthy", m.Status())
	}
}

func TestCheck_RealDatabase(t *testing.T) {
	db, err := database.Open(database.Config{
		Driver: config.DriverSQLite3,
		Path:   filepath.Join(t.TempDir(), "monitor.db"),
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}

	m, err := New(config.MonitorConfig{Schedule: "@every 1m"}, db, quietLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if st := m.Check(context.Background()); !st.Healthy {
		t.Errorf("Check() = %+v, want healthy", st)
	}

	db.Close() //nolint:errcheck // Simulate outage
	if st := m.Check(context.Background()); st.Healthy {
		t.Error("Check() after Close reported healthy")
	}
}
