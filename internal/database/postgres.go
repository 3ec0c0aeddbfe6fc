package database

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sdko-org/gridgate/internal/models"
)

type PostgresConfig struct {
	User     string
	Password string
	Host     string
	Port     string
	DBName   string
	SSLMode  string
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// NewPostgresDB connects with exponential backoff and migrates the audit
// tables. It gives up early when ctx is cancelled.
func NewPostgresDB(ctx context.Context, logger *logrus.Logger, cfg PostgresConfig) (*gorm.DB, error) {
	log := logger.WithFields(logrus.Fields{
		"component": "database",
		"host":      cfg.Host,
		"database":  cfg.DBName,
	})

	var db *gorm.DB
	var err error
	const maxRetries = 5
	retryDelay := 2 * time.Second

	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, err = gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err == nil {
			break
		}

		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"error":   err,
		}).Warn("Database connection failed")

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("database connection aborted: %w", ctx.Err())
			case <-time.After(retryDelay):
			}
			retryDelay *= 2
		}
	}

	if err != nil {
		log.WithError(err).Error("Failed to connect to database after retries")
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&models.AccessLog{}, &models.JobEvent{}); err != nil {
		log.WithError(err).Error("Database migration failed")
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	log.Info("Database connection established")
	return db, nil
}
