package database

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// HealthStatus describes the current database connection state.
type HealthStatus struct {
	Connected    bool          `json:"connected"`
	Latency      time.Duration `json:"latency_ns"`
	OpenConns    int           `json:"open_conns"`
	InUseConns   int           `json:"in_use_conns"`
	IdleConns    int           `json:"idle_conns"`
	ErrorMessage string        `json:"error,omitempty"`
}

// Health pings the database and reports pool statistics.
func Health(ctx context.Context, db *sqlx.DB) (HealthStatus, error) {
	start := time.Now()
	err := db.PingContext(ctx)
	status := HealthStatus{
		Connected:  err == nil,
		Latency:    time.Since(start),
		OpenConns:  db.Stats().OpenConnections,
		InUseConns: db.Stats().InUse,
		IdleConns:  db.Stats().Idle,
	}
	if err != nil {
		status.ErrorMessage = err.Error()
		return status, err
	}
	return status, nil
}
