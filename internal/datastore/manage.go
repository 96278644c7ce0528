package datastore

import (
	"fmt"
	"io"
	stdlog "log"
	"log/slog"
	"time"

	"github.com/acrenier/imagerie/internal/logging"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Queries above this duration get flagged as slow by the GORM logger.
// Migration batch statements can take most of a second, so anything
// shorter produces noise on startup.
const slowQueryThreshold = 1 * time.Second

var (
	dbLog      *slog.Logger
	closeDBLog func() error
)

func init() {
	var err error
	dbLog, closeDBLog, err = logging.NewFileLogger("logs/datastore.log", "datastore", slog.LevelInfo)
	if err != nil || dbLog == nil {
		stdlog.Printf("Failed to initialize datastore file logger: %v", err)
		dbLog = slog.New(slog.NewTextHandler(io.Discard, nil))
		closeDBLog = func() error { return nil }
	}
}

// createGormLogger configures the logger GORM uses for SQL tracing.
func createGormLogger() gormlogger.Interface {
	writer := stdlog.New(io.Discard, "", 0)
	return gormlogger.New(writer, gormlogger.Config{
		SlowThreshold:             slowQueryThreshold,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// performAutoMigration migrates every catalog table, logging per-table
// outcomes so schema drift shows up in the service log.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	migrationStart := time.Now()
	migrationLogger := dbLog.With("db_type", dbType)

	if debug {
		migrationLogger.Debug("Starting database migration", "connection", connectionInfo)
	}

	// Reference tables first so foreign keys resolve during creation
	tableMappings := []struct {
		model any
		name  string
	}{
		{&Rank{}, "ranks"},
		{&Taxon{}, "taxa"},
		{&Species{}, "species"},
		{&ContentTag{}, "content_tags"},
		{&TypeTag{}, "type_tags"},
		{&Image{}, "images"},
		{&Optimizer{}, "optimizers"},
		{&Loss{}, "losses"},
		{&Architecture{}, "architectures"},
		{&Classifier{}, "classifiers"},
		{&ClassCode{}, "class_codes"},
		{&Prediction{}, "predictions"},
		{&ContentSpecialty{}, "content_specialties"},
		{&TypeSpecialty{}, "type_specialties"},
	}

	for _, table := range tableMappings {
		tableStart := time.Now()
		existed := db.Migrator().HasTable(table.model)

		if err := db.AutoMigrate(table.model); err != nil {
			migrationLogger.Error("Table migration failed",
				"table", table.name,
				"error", err)
			return fmt.Errorf("failed to migrate table %s: %w", table.name, err)
		}

		action := "updated"
		if !existed {
			action = "created"
		}
		migrationLogger.Debug("Table migration completed",
			"table", table.name,
			"action", action,
			"duration", time.Since(tableStart))
	}

	migrationLogger.Info("Database migration completed",
		"tables", len(tableMappings),
		"duration", time.Since(migrationStart))

	return nil
}
