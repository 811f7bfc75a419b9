package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-persist/internal/audit"
	"github.com/nerrad567/gray-logic-persist/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-persist/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-persist/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-persist/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-persist/internal/persist"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// WebSocket settings applied when the config leaves them at zero.
const (
	defaultPingInterval   = 30 // seconds
	defaultPongTimeout    = 10 // seconds
	defaultMaxMessageSize = 4096
)

// Deps holds the dependencies required by the admin server.
type Deps struct {
	Config    config.AdminConfig
	Logger    *logging.Logger
	DB        *database.DB
	MQTT      *mqtt.Client            // optional
	Publisher *mqtt.EventPublisher    // optional, reported in /stats
	Audit     audit.Repository        // optional, served at /audit
	Factory   *persist.ManagerFactory // optional, served at /exec and /query
	Version   string
}

// Server is the admin HTTP server for persistd.
//
// It manages the HTTP listener, routes, middleware, and the WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.AdminConfig
	logger    *logging.Logger
	db        *database.DB
	mqtt      *mqtt.Client
	publisher *mqtt.EventPublisher
	audit     audit.Repository
	factory   *persist.ManagerFactory
	version   string
	startTime time.Time

	hub      *Hub
	counters *Counters
	tickets  *ticketStore

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New creates a new admin server with the given dependencies.
//
// The server is not started until Start() is called, but its Observer is
// usable immediately so it can be registered with the manager factory first.
//
// Parameters:
//   - deps: Required dependencies (config, logger, database)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if len(deps.Config.JWT.Secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}

	cfg := deps.Config
	if cfg.WebSocket.PingInterval <= 0 {
		cfg.WebSocket.PingInterval = defaultPingInterval
	}
	if cfg.WebSocket.PongTimeout <= 0 {
		cfg.WebSocket.PongTimeout = defaultPongTimeout
	}
	if cfg.WebSocket.MaxMessageSize <= 0 {
		cfg.WebSocket.MaxMessageSize = defaultMaxMessageSize
	}

	return &Server{
		cfg:       cfg,
		logger:    deps.Logger.With("component", "admin"),
		db:        deps.DB,
		mqtt:      deps.MQTT,
		publisher: deps.Publisher,
		audit:     deps.Audit,
		factory:   deps.Factory,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(cfg.WebSocket, deps.Logger),
		counters:  NewCounters(),
		tickets:   newTicketStore(),
	}, nil
}

// Observer returns the persist.Observer feeding the event stream and the
// operation counters.
func (s *Server) Observer() persist.Observer {
	return persist.Observers{s.hub, s.counters}
}

// Handler returns the admin HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// The listener is bound before Start returns, so a port conflict is reported
// to the caller. Requests are served in a background goroutine until Close.
//
// Parameters:
//   - ctx: Parent context for the hub and ticket cleanup goroutines
//
// Returns:
//   - error: If the listener cannot be bound
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("admin server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding admin listener %s: %w", addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("admin server starting", "address", ln.Addr().String())
	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("admin server error", "error", err)
		}
	}(s.server)

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the admin server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("admin server shutting down")
	err := s.server.Shutdown(ctx)
	s.server = nil
	s.listener = nil
	if err != nil {
		return fmt.Errorf("shutting down admin server: %w", err)
	}
	return nil
}

// HealthCheck verifies the admin server is running.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("admin health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("admin server not started")
	}
	return nil
}
