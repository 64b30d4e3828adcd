// Package store persists canonical sensor readings in a SQL database
// (PostgreSQL in production, SQLite for local runs and tests).
package store

import (
	"context"

	"github.com/afladry360/telemetry/internal/model"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Store is the ingestion persistence boundary. Readings are append-only.
type Store interface {
	// Insert stores r and returns it with the assigned ID.
	Insert(ctx context.Context, r model.SensorReading) (model.SensorReading, error)
	// QueryAll returns every reading in insertion order.
	QueryAll(ctx context.Context) ([]model.SensorReading, error)
	// QueryByDevice returns one device's readings in insertion order.
	QueryByDevice(ctx context.Context, deviceID string) ([]model.SensorReading, error)
	Ping(ctx context.Context) error
	Close() error
}

type Config struct {
	Driver       string
	DSN          string
	MaxTextWidth int
	MaxOpenConns int
	AutoMigrate  bool
}
