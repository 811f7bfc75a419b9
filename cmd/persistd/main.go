// persistd - transactional persistence service.
//
// persistd opens a relational database through database/sql, applies schema
// migrations, and exposes the persist managers (queries and transactions)
// with structured logging, MQTT event publishing, InfluxDB metrics, a
// transaction audit trail, an admin HTTP API and a scheduled health monitor.
//
// One-shot modes run a single statement and print JSON:
//
//	persistd -config persistd.yaml -exec "INSERT INTO account (name) VALUES (?)" -param alice
//	persistd -config persistd.yaml -query "SELECT * FROM account WHERE id = ?" -param 1
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-persist/internal/admin"
	"github.com/nerrad567/gray-logic-persist/internal/audit"
	"github.com/nerrad567/gray-logic-persist/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-persist/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-persist/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-persist/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-persist/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-persist/internal/monitor"
	"github.com/nerrad567/gray-logic-persist/internal/persist"
	_ "github.com/nerrad567/gray-logic-persist/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// slowOperationThreshold is the duration above which persist operations are
// logged at warn level.
const slowOperationThreshold = 250 * time.Millisecond

// shutdownTimeout bounds the monitor stop during shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options holds the parsed command line.
type options struct {
	configPath  string
	exec        string
	query       string
	params      paramList
	issueToken  string
	migrateDown bool
	showVersion bool
}

// paramList collects repeated -param flags as positional parameters 1..n.
type paramList []string

func (p *paramList) String() string { return strings.Join(*p, ",") }

func (p *paramList) Set(v string) error {
	*p = append(*p, v)
	return nil
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("persistd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "path to YAML config (default: $PERSIST_CONFIG, else built-in defaults)")
	fs.StringVar(&opts.exec, "exec", "", "run one statement in a transaction, print the row count as JSON, and exit")
	fs.StringVar(&opts.query, "query", "", "run one query, print the rows as JSON, and exit")
	fs.Var(&opts.params, "param", "positional statement parameter (repeatable)")
	fs.StringVar(&opts.issueToken, "issue-token", "", "print an admin bearer token for `subject` and exit")
	fs.BoolVar(&opts.migrateDown, "migrate-down", false, "roll back the most recent migration and exit")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.exec != "" && opts.query != "" {
		return opts, errors.New("-exec and -query are mutually exclusive")
	}
	if len(opts.params) > 0 && opts.exec == "" && opts.query == "" {
		return opts, errors.New("-param requires -exec or -query")
	}
	return opts, nil
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - args: command line arguments without the program name
//   - stdout: destination for one-shot JSON output
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Fprintf(stdout, "persistd %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	configPath := getConfigPath(opts.configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// One-shot modes print results on stdout, so their logs go to stderr.
	oneShot := opts.exec != "" || opts.query != "" || opts.issueToken != ""
	log := logging.New(cfg.Logging, version)
	if oneShot {
		log = logging.NewWithWriter(cfg.Logging, version, os.Stderr)
	} else {
		log.Info("starting persistd",
			"version", version,
			"commit", commit,
			"build_date", date,
			"config", configPath,
		)
	}

	if opts.issueToken != "" {
		return issueToken(cfg, opts.issueToken, stdout)
	}

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if opts.migrateDown {
		if err := db.MigrateDown(ctx); err != nil {
			return fmt.Errorf("rolling back migration: %w", err)
		}
		log.Info("rolled back most recent migration")
		return nil
	}

	factory, err := persist.NewManagerFactory(db)
	if err != nil {
		return fmt.Errorf("creating manager factory: %w", err)
	}
	factory.SetLogger(log.With("component", "persist"))
	factory.SetStatementCacheSize(cfg.Database.StatementCacheSize)

	observers := persist.Observers{logging.NewEventLogger(log, slowOperationThreshold)}

	var auditRepo audit.Repository
	if cfg.Audit.Enabled {
		repo := audit.NewSQLRepository(db.DB, db.Driver())
		recorder := audit.NewRecorder(repo, cfg.Audit.BufferSize)
		recorder.SetLogger(log)
		defer recorder.Close() //nolint:errcheck // Flushes queued entries before the database closes

		auditRepo = repo
		observers = append(observers, recorder)
		log.Debug("transaction audit trail enabled", "buffer", cfg.Audit.BufferSize)
	}

	switch {
	case opts.exec != "":
		factory.SetObserver(observers)
		return runExec(ctx, factory, opts.exec, opts.params, stdout)
	case opts.query != "":
		factory.SetObserver(observers)
		return runQuery(ctx, factory, opts.query, opts.params, stdout)
	}

	return serve(ctx, cfg, log, db, factory, observers, auditRepo)
}

// serve starts the long-running components and blocks until ctx is done.
func serve(ctx context.Context, cfg *config.Config, log *logging.Logger, db *database.DB, factory *persist.ManagerFactory, observers persist.Observers, auditRepo audit.Repository) error {
	var recorders []monitor.PoolRecorder

	var mqttClient *mqtt.Client
	var publisher *mqtt.EventPublisher
	if cfg.MQTT.Enabled {
		var err error
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() { log.Info("MQTT connected") })

		publisher = mqtt.NewEventPublisher(mqttClient, mqttClient.Topics(), byte(cfg.MQTT.QoS), 0) //nolint:gosec // QoS validated 0-2
		publisher.SetLogger(log)
		defer publisher.Close() //nolint:errcheck // Drains queued events before the client closes

		observers = append(observers, publisher)
		recorders = append(recorders, mqtt.PoolReporter{Pub: mqttClient, Topics: mqttClient.Topics(), Logger: log})
		log.Info("MQTT event publishing enabled",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"topic", mqttClient.Topics().AllEvents(),
		)
	}

	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		observers = append(observers, influxClient)
		recorders = append(recorders, influxClient)
		log.Info("InfluxDB metrics enabled", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	if cfg.Admin.Enabled {
		srv, err := admin.New(admin.Deps{
			Config:    cfg.Admin,
			Logger:    log,
			DB:        db,
			MQTT:      mqttClient,
			Publisher: publisher,
			Audit:     auditRepo,
			Factory:   factory,
			Version:   version,
		})
		if err != nil {
			return fmt.Errorf("creating admin server: %w", err)
		}
		observers = append(observers, srv.Observer())
		// Requests may create managers as soon as Start returns.
		factory.SetObserver(observers)
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting admin server: %w", err)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing admin server", "error", closeErr)
			}
		}()
	}

	factory.SetObserver(observers)

	if cfg.Monitor.Enabled {
		mon, err := monitor.New(cfg.Monitor, db, log, recorders...)
		if err != nil {
			return fmt.Errorf("creating monitor: %w", err)
		}
		mon.Check(ctx)
		mon.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if stopErr := mon.Stop(stopCtx); stopErr != nil {
				log.Error("error stopping monitor", "error", stopErr)
			}
		}()
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// openDatabase opens the pool, selects the migration source, and migrates
// when auto_migrate is set.
func openDatabase(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	if cfg.Database.MigrationsDir != "" {
		database.MigrationsFS = os.DirFS(cfg.Database.MigrationsDir)
		database.MigrationsDir = "."
	}

	db, err := database.Open(database.ConfigFrom(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Debug("database connected", "driver", db.Driver(), "path", db.Path())

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			db.Close() //nolint:errcheck // Best effort cleanup on error path
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		log.Debug("database migrations complete")
	}
	return db, nil
}

// getConfigPath returns the flag value, then $PERSIST_CONFIG, then "" for
// built-in defaults.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("PERSIST_CONFIG")
}

func issueToken(cfg *config.Config, subject string, stdout io.Writer) error {
	ttl := time.Duration(cfg.Admin.JWT.TokenTTL) * time.Minute
	token, err := admin.IssueToken(cfg.Admin.JWT.Secret, subject, ttl)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	fmt.Fprintln(stdout, token)
	return nil
}
