package monitor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nerrad567/gray-logic-persist/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-persist/internal/infrastructure/logging"
)

// defaultCheckTimeout bounds one health check when the config leaves it at zero.
const defaultCheckTimeout = 5 * time.Second

// ErrInvalidSchedule is returned by New for an unparsable cron expression.
var ErrInvalidSchedule = errors.New("monitor: invalid schedule")

// Database is the subset of *database.DB the monitor checks.
type Database interface {
	HealthCheck(ctx context.Context) error
	Stats() sql.DBStats
	Driver() string
}

// PoolRecorder receives a pool snapshot after every check.
// influxdb.Client and mqtt.PoolReporter both satisfy it.
type PoolRecorder interface {
	WritePoolStats(driver string, stats sql.DBStats, healthy bool)
}

// Status is the outcome of the most recent check.
type Status struct {
	Healthy   bool
	CheckedAt time.Time
	Err       error
	Failures  int // consecutive failed checks
	Stats     sql.DBStats
}

// Monitor runs a database health check and pool snapshot on a cron schedule.
//
// Schedules accept standard five-field specs, an optional leading seconds
// field, and descriptors such as "@every 30s". Overlapping runs are skipped.
type Monitor struct {
	cron      *cron.Cron
	db        Database
	recorders []PoolRecorder
	timeout   time.Duration
	logger    *logging.Logger

	mu     sync.RWMutex
	status Status
}

// parser accepts an optional seconds field plus descriptors.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a Monitor. It does not start scheduling until Start.
//
// Parameters:
//   - cfg: monitor section of the config (schedule, timeout)
//   - db: database to check
//   - logger: structured logger
//   - recorders: optional pool snapshot sinks
//
// Returns:
//   - *Monitor: ready to start
//   - error: ErrInvalidSchedule if cfg.Schedule cannot be parsed
func New(cfg config.MonitorConfig, db Database, logger *logging.Logger, recorders ...PoolRecorder) (*Monitor, error) {
	if db == nil {
		return nil, fmt.Errorf("monitor: database is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.With("component", "monitor")

	schedule, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidSchedule, cfg.Schedule, err)
	}

	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}

	m := &Monitor{
		db:        db,
		recorders: recorders,
		timeout:   timeout,
		logger:    logger,
	}

	cl := cronLogger{logger}
	m.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	m.cron.Schedule(schedule, cron.FuncJob(func() {
		m.Check(context.Background())
	}))

	return m, nil
}

// Start begins running checks on the schedule.
func (m *Monitor) Start() {
	m.cron.Start()
	m.logger.Info("monitor started", "next_run", m.cron.Entries()[0].Next)
}

// Stop halts scheduling and waits for a running check to finish or ctx to end.
func (m *Monitor) Stop(ctx context.Context) error {
	done := m.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stopping monitor: %w", ctx.Err())
	}
}

// Check runs one health check, records the pool snapshot, and returns the
// resulting Status. Health transitions are logged once per change.
func (m *Monitor) Check(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.db.HealthCheck(ctx)
	stats := m.db.Stats()
	healthy := err == nil

	m.mu.Lock()
	prev := m.status
	next := Status{
		Healthy:   healthy,
		CheckedAt: time.Now(),
		Err:       err,
		Stats:     stats,
	}
	if !healthy {
		next.Failures = prev.Failures + 1
	}
	m.status = next
	m.mu.Unlock()

	switch {
	case !healthy && (prev.Healthy || prev.CheckedAt.IsZero()):
		m.logger.Error("database became unhealthy", "driver", m.db.Driver(), "error", err)
	case healthy && !prev.Healthy && !prev.CheckedAt.IsZero():
		m.logger.Info("database recovered", "driver", m.db.Driver(), "failures", prev.Failures)
	default:
		m.logger.Debug("database check",
			"healthy", healthy,
			"open", stats.OpenConnections,
			"in_use", stats.InUse,
			"wait_count", stats.WaitCount,
		)
	}

	for _, r := range m.recorders {
		if r != nil {
			r.WritePoolStats(m.db.Driver(), stats, healthy)
		}
	}

	return next
}

// Status returns the most recent check result. CheckedAt is zero before
// the first check.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// cronLogger adapts logging.Logger to cron.Logger.
type cronLogger struct {
	l *logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
