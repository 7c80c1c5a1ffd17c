// Package database holds the gorm connection and row models shared by the
// PostgreSQL/TimescaleDB result store.
package database

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/chrissnell/model3d/internal/log"
)

// CreateConnection opens a gorm connection with the standard configuration:
// gorm's own logging goes through zap at warning level.
func CreateConnection(connectionString string, l *zap.SugaredLogger) (*gorm.DB, error) {
	l = log.Or(l)
	dbLogger := logger.New(
		zap.NewStdLog(l.Desugar()),
		logger.Config{
			SlowThreshold:             time.Second, // Slow SQL threshold
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	l.Info("connecting to TimescaleDB...")
	db, err := gorm.Open(postgres.Open(connectionString), &gorm.Config{Logger: dbLogger})
	if err != nil {
		l.Warnw("unable to create a TimescaleDB connection", "error", err)
		return nil, err
	}
	l.Info("TimescaleDB connection successful")
	return db, nil
}
