// Package sqlite provides the agent's embedded durable store. All lock
// records, queued commands, baselines and forensic incidents live in a
// single sqlite file under the agent data directory, so state survives
// process death and device reboot.
package sqlite

import (
	"context"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/nexivo/sentinel/internal/domain/models"
	"github.com/nexivo/sentinel/pkg/errors"
	"github.com/nexivo/sentinel/pkg/logger"
)

// DBFileName is the sqlite file created under the agent data directory.
const DBFileName = "sentinel.db"

// DBConnection manages the sqlite database handle lifecycle.
type DBConnection struct {
	db     *gorm.DB
	logger logger.Logger
}

// NewDBConnection opens (creating if necessary) the agent database and runs
// schema migration. WAL mode keeps writers from blocking the monitor loop's
// reads; busy_timeout covers the brief writer lock during checkpoints.
func NewDBConnection(ctx context.Context, dataDir string, log logger.Logger) (*DBConnection, error) {
	path := filepath.Join(dataDir, DBFileName)
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=1"

	log.Info(ctx, "Opening agent database", logger.String("path", path))

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		log.Error(ctx, "Failed to open agent database", err, logger.String("path", path))
		return nil, errors.ErrStoreUnavailable("open database").WithCause(err)
	}

	if err := db.WithContext(ctx).AutoMigrate(
		&models.DeviceLock{},
		&models.SoftLock{},
		&models.EscalationDeadline{},
		&models.OfflineCommand{},
		&models.ChangeDetail{},
		&models.AuditIncident{},
		&models.ThreatState{},
		&baselineRow{},
		&preferenceRow{},
	); err != nil {
		log.Error(ctx, "Schema migration failed", err)
		return nil, errors.ErrStoreUnavailable("migrate schema").WithCause(err)
	}

	log.Info(ctx, "Agent database ready", logger.String("path", path))
	return &DBConnection{db: db, logger: log}, nil
}

// DB returns the underlying gorm handle for repository implementations.
func (c *DBConnection) DB() *gorm.DB {
	return c.db
}

// Ping verifies the database is reachable and writable.
func (c *DBConnection) Ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return errors.ErrStoreUnavailable("ping").WithCause(err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return errors.ErrStoreUnavailable("ping").WithCause(err)
	}
	return nil
}

// Close releases the database handle.
func (c *DBConnection) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
