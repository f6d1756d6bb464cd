package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/folio/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/folio/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Drivers understood by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options selects the backend and its location.
type Options struct {
	Driver string
	Path   string
	DSN    string
}

// Open connects to the configured backend and brings the schema up to date.
func Open(options Options, logger *zap.Logger) (*gorm.DB, error) {
	switch options.Driver {
	case DriverSQLite, "":
		return OpenSQLite(options.Path, logger)
	case DriverPostgres:
		return OpenPostgres(options.DSN, logger)
	default:
		return nil, fmt.Errorf("database: unsupported driver %q", options.Driver)
	}
}

func gormConfig() *gorm.Config {
	return &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
}

// migrate creates the tables and runs the named data migrations once.
func migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(&documents.Document{}, &users.Identity{}, &migrationRecord{}); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}
