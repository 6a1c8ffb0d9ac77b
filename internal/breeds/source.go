package breeds

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Source selects where the dictionary is read from. DatabaseDSN wins over
// File; with neither set the embedded dictionary is used.
type Source struct {
	File        string
	DatabaseDSN string
}

// Load reads the dictionary once from the configured source.
func Load(ctx context.Context, src Source, logger *zap.Logger) (*Catalog, error) {
	switch {
	case src.DatabaseDSN != "":
		db, err := OpenDatabase(ctx, src.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		defer CloseDatabase(db)
		return NewRepository(db, logger).LoadCatalog(ctx)
	case src.File != "":
		catalog, err := LoadFile(src.File)
		if err != nil {
			return nil, fmt.Errorf("load breed dictionary %s: %w", src.File, err)
		}
		logger.Info("breed dictionary loaded", zap.String("file", src.File), zap.Int("entries", catalog.Len()))
		return catalog, nil
	default:
		catalog := Default()
		logger.Info("using embedded breed dictionary", zap.Int("entries", catalog.Len()))
		return catalog, nil
	}
}

// OpenDatabase connects to the Postgres instance holding breed_metadata.
func OpenDatabase(ctx context.Context, dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("connect to breed database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access breed database handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping breed database: %w", err)
	}
	return db, nil
}

// CloseDatabase releases the connection pool behind db.
func CloseDatabase(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}
