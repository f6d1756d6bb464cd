package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/folio/backend/internal/documents"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func TestApplyMigrationsCompactsDuplicateSiblingOrders(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&documents.Document{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	createdAt := time.Unix(1700000000, 0).UTC()
	parentID := "parent"
	seed := []documents.Document{
		{ID: "parent", Title: "parent", OwnerID: "user-1", SortOrder: 0, CreatedAt: createdAt, UpdatedAt: createdAt},
		{ID: "a", Title: "a", OwnerID: "user-1", ParentID: &parentID, SortOrder: 3, CreatedAt: createdAt, UpdatedAt: createdAt},
		{ID: "b", Title: "b", OwnerID: "user-1", ParentID: &parentID, SortOrder: 3, CreatedAt: createdAt.Add(time.Second), UpdatedAt: createdAt},
		{ID: "c", Title: "c", OwnerID: "user-1", ParentID: &parentID, SortOrder: 7, CreatedAt: createdAt, UpdatedAt: createdAt},
		{ID: "solo", Title: "solo", OwnerID: "user-1", SortOrder: 5, CreatedAt: createdAt, UpdatedAt: createdAt},
		{ID: "other-root", Title: "other-root", OwnerID: "user-2", SortOrder: 0, CreatedAt: createdAt, UpdatedAt: createdAt},
		{ID: "other-solo", Title: "other-solo", OwnerID: "user-2", SortOrder: 5, CreatedAt: createdAt, UpdatedAt: createdAt},
	}
	if err := database.Create(&seed).Error; err != nil {
		testContext.Fatalf("failed to seed documents: %v", err)
	}

	core, recorded := observer.New(zap.WarnLevel)
	if err := applyMigrations(database, zap.New(core)); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	expected := map[string]int64{"parent": 0, "a": 0, "b": 1, "c": 2, "solo": 5, "other-root": 0, "other-solo": 5}
	for id, order := range expected {
		var stored documents.Document
		if err := database.Where("id = ?", id).Take(&stored).Error; err != nil {
			testContext.Fatalf("failed to reload %s: %v", id, err)
		}
		if stored.SortOrder != order {
			testContext.Fatalf("expected %s at order %d, got %d", id, order, stored.SortOrder)
		}
	}
	if recorded.FilterMessage("sibling group renumbered").Len() != 1 {
		testContext.Fatalf("expected a single renumbered group to be logged")
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationCompactSiblingOrder).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	if err := applyMigrations(database, zap.New(core)); err != nil {
		testContext.Fatalf("failed to re-apply migrations: %v", err)
	}
	if recorded.FilterMessage("sibling group renumbered").Len() != 1 {
		testContext.Fatalf("expected recorded migrations to be skipped")
	}
}

func TestOpenRejectsUnknownDriver(testContext *testing.T) {
	if _, err := Open(Options{Driver: "mysql"}, zap.NewNop()); err == nil {
		testContext.Fatalf("expected unsupported driver error")
	}
}

func TestOpenSQLiteMigratesSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "folio.db")
	database, err := Open(Options{Driver: DriverSQLite, Path: databasePath}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	for _, table := range []string{"documents", "user_identities", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s", table)
		}
	}
}
