package admin

import (
	"context"
	"net/http"
	"runtime"
	"time"
)

// healthCheckTimeout bounds the database ping behind /health.
const healthCheckTimeout = 3 * time.Second

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	Driver        string            `json:"driver"`
	Checks        map[string]string `json:"checks"`
	CheckedAt     string            `json:"checked_at"`
	UptimeSeconds int64             `json:"uptime_seconds"`
}

// StatsResponse is returned by GET /api/v1/stats.
type StatsResponse struct {
	Timestamp     string             `json:"timestamp"`
	Version       string             `json:"version"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Runtime       RuntimeStats       `json:"runtime"`
	Pool          PoolStats          `json:"pool"`
	Operations    map[string]OpStats `json:"operations"`
	WebSocket     WSStats            `json:"websocket"`
	MQTT          *MQTTStats         `json:"mqtt,omitempty"`
}

// RuntimeStats contains Go runtime statistics.
type RuntimeStats struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// PoolStats contains database connection pool statistics.
type PoolStats struct {
	Driver          string `json:"driver"`
	MaxOpen         int    `json:"max_open"`
	OpenConnections int    `json:"open_connections"`
	InUse           int    `json:"in_use"`
	Idle            int    `json:"idle"`
	WaitCount       int64  `json:"wait_count"`
	WaitDurationMS  int64  `json:"wait_duration_ms"`
}

// WSStats contains WebSocket hub statistics.
type WSStats struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTStats contains event publisher statistics.
type MQTTStats struct {
	Connected  bool   `json:"connected"`
	Reconnects uint64 `json:"reconnects"`
	Published  uint64 `json:"published"`
	Dropped    uint64 `json:"dropped"`
	Failed     uint64 `json:"failed"`
}

// MigrationsResponse is returned by GET /api/v1/migrations.
type MigrationsResponse struct {
	Applied []AppliedMigration `json:"applied"`
	Pending []PendingMigration `json:"pending"`
}

// AppliedMigration describes a recorded migration.
type AppliedMigration struct {
	Version   string    `json:"version"`
	AppliedAt time.Time `json:"applied_at"`
}

// PendingMigration describes a migration not yet applied.
type PendingMigration struct {
	Version string `json:"version"`
	Name    string `json:"name"`
}

// handleHealth reports database (and MQTT, when configured) reachability.
// An unreachable database yields 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:        "ok",
		Version:       s.version,
		Driver:        s.db.Driver(),
		Checks:        map[string]string{},
		CheckedAt:     time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	}
	status := http.StatusOK

	if err := s.db.HealthCheck(ctx); err != nil {
		s.logger.Warn("database health check failed", "error", err)
		resp.Checks["database"] = "unreachable"
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	} else {
		resp.Checks["database"] = "ok"
	}

	if s.mqtt != nil {
		if err := s.mqtt.HealthCheck(ctx); err != nil {
			resp.Checks["mqtt"] = "disconnected"
			if resp.Status == "ok" {
				resp.Status = "degraded"
			}
		} else {
			resp.Checks["mqtt"] = "ok"
		}
	}

	writeJSON(w, status, resp)
}

// handleStats returns pool, operation and runtime statistics.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	dbStats := s.db.Stats()
	resp := StatsResponse{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeStats{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(mem.Alloc) / 1024 / 1024,
			NumGC:         mem.NumGC,
		},
		Pool: PoolStats{
			Driver:          s.db.Driver(),
			MaxOpen:         dbStats.MaxOpenConnections,
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
			WaitDurationMS:  dbStats.WaitDuration.Milliseconds(),
		},
		Operations: s.counters.Snapshot(),
		WebSocket: WSStats{
			ConnectedClients: s.hub.ClientCount(),
		},
	}

	if s.mqtt != nil {
		resp.MQTT = &MQTTStats{Connected: s.mqtt.IsConnected(), Reconnects: s.mqtt.Reconnects()}
		if s.publisher != nil {
			resp.MQTT.Published = s.publisher.Published()
			resp.MQTT.Dropped = s.publisher.Dropped()
			resp.MQTT.Failed = s.publisher.Failed()
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleMigrations lists applied and pending schema migrations.
func (s *Server) handleMigrations(w http.ResponseWriter, r *http.Request) {
	applied, pending, err := s.db.GetMigrationStatus(r.Context())
	if err != nil {
		s.logger.Error("reading migration status failed", "error", err)
		writeInternalError(w, "failed to read migration status")
		return
	}

	resp := MigrationsResponse{
		Applied: make([]AppliedMigration, 0, len(applied)),
		Pending: make([]PendingMigration, 0, len(pending)),
	}
	for _, m := range applied {
		resp.Applied = append(resp.Applied, AppliedMigration{Version: m.Version, AppliedAt: m.AppliedAt})
	}
	for _, m := range pending {
		resp.Pending = append(resp.Pending, PendingMigration{Version: m.Version, Name: m.Name})
	}

	writeJSON(w, http.StatusOK, resp)
}
