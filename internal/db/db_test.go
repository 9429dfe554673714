package db

import (
	"path/filepath"
	"testing"

	"github.com/friendsincode/playplan/internal/config"
	"github.com/friendsincode/playplan/internal/models"
)

func TestConnectAndMigrateSQLite(t *testing.T) {
	cfg := &config.Config{
		Environment: "test",
		DBBackend:   config.DatabaseSQLite,
		DBDSN:       filepath.Join(t.TempDir(), "playplan.db"),
	}

	database, err := Connect(cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer Close(database)

	if err := Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// Running twice must be a no-op.
	if err := Migrate(database); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	for _, model := range []any{&models.Plan{}, &models.PlanDay{}, &models.PlanSegment{}} {
		if !database.Migrator().HasTable(model) {
			t.Fatalf("expected table for %T", model)
		}
	}

	UpdateConnectionMetrics(database)
}

func TestConnectRejectsUnknownBackend(t *testing.T) {
	_, err := Connect(&config.Config{DBBackend: "oracle", DBDSN: "x"})
	if err == nil {
		t.Fatal("expected unknown backend error")
	}
}
