package store

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open(DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("sqlx.Open() error = %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db.DB, DriverSQLite); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	// second run is a no-op
	if err := MigrateUp(db.DB, DriverSQLite); err != nil {
		t.Fatalf("MigrateUp() again error = %v", err)
	}

	var name string
	if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='sensor_data'").Scan(&name); err != nil {
		t.Errorf("sensor_data table not created: %v", err)
	}

	current, latest, dirty, err := MigrationStatus(db.DB, DriverSQLite)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if dirty || current != latest || latest != 1 {
		t.Errorf("MigrationStatus() = %d/%d dirty=%v, want 1/1 clean", current, latest, dirty)
	}
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(db.DB, DriverSQLite); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	if err := MigrateDown(db.DB, DriverSQLite); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	var n int
	if err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='sensor_data'").Scan(&n); err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	if n != 0 {
		t.Error("sensor_data still exists after MigrateDown()")
	}
}

func TestMigrationStatus_Fresh(t *testing.T) {
	db := openTestDB(t)
	current, latest, _, err := MigrationStatus(db.DB, DriverSQLite)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if current != 0 || latest != 1 {
		t.Errorf("MigrationStatus() = %d/%d, want 0/1", current, latest)
	}
}

func TestNewMigrate_UnknownDriver(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(db.DB, "mysql"); err == nil {
		t.Error("MigrateUp() error = nil, want error for unknown driver")
	}
}

func TestMigrations_ReleaseConnections(t *testing.T) {
	db := openTestDB(t)

	for i := 0; i < 3; i++ {
		if err := MigrateUp(db.DB, DriverSQLite); err != nil {
			t.Fatalf("MigrateUp() error = %v", err)
		}
		if _, _, _, err := MigrationStatus(db.DB, DriverSQLite); err != nil {
			t.Fatalf("MigrationStatus() error = %v", err)
		}
	}
	if err := MigrateDown(db.DB, DriverSQLite); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	if inUse := db.Stats().InUse; inUse != 0 {
		t.Errorf("connections in use after migrations = %d, want 0", inUse)
	}
	// the caller's handle stays open
	if err := db.Ping(); err != nil {
		t.Errorf("Ping() after migrations error = %v", err)
	}
}
