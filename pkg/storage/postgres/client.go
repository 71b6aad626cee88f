// Package postgres implements account.DataSource over a database mirroring
// the trading backend's account, position and deal tables.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"acctmonitor/config"
	"acctmonitor/internal/account"

	"github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const backendName = "postgres"

type PostgresClient struct {
	DB *gorm.DB
}

var _ account.DataSource = (*PostgresClient)(nil)

// NewClient opens a pool on dsn through lib/pq. The server is not contacted
// until Connect.
func NewClient(dsn string) (*PostgresClient, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DriverName: "postgres",
		DSN:        dsn,
	}), &gorm.Config{
		DisableAutomaticPing: true,
		Logger:               logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	return &PostgresClient{DB: db}, nil
}

// Open builds a client from cfg, applying the pool settings. With
// cfg.AutoMigrate set it creates the database and the mirror tables first.
func Open(cfg config.PostgresConfig, env string) (*PostgresClient, error) {
	if cfg.AutoMigrate {
		if err := CreateDatabase(context.Background(), cfg, env); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	client, err := NewClient(cfg.DSN(env))
	if err != nil {
		return nil, err
	}

	sqlDB, err := client.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve raw DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if cfg.AutoMigrate {
		if err := client.AutoMigrate(); err != nil {
			client.Close()
			return nil, err
		}
	}
	return client, nil
}

// AutoMigrate creates or updates the mirror tables.
func (p *PostgresClient) AutoMigrate() error {
	if err := p.DB.AutoMigrate(&AccountRecord{}, &PositionRecord{}, &DealRecord{}); err != nil {
		return fmt.Errorf("auto-migrate mirror tables: %w", err)
	}
	return nil
}

// Connect pings the database. Any failure is a *account.ConnectionError.
func (p *PostgresClient) Connect(ctx context.Context) error {
	db, err := p.DB.DB()
	if err != nil {
		return &account.ConnectionError{Backend: backendName, Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		return &account.ConnectionError{Backend: backendName, Err: err}
	}
	return nil
}

func (p *PostgresClient) IsHealthy(ctx context.Context) bool {
	return p.Connect(ctx) == nil
}

func (p *PostgresClient) Close() error {
	db, err := p.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to retrieve raw DB: %w", err)
	}
	return db.Close()
}

// authFailure reports whether err is a credential rejection by the server:
// SQLSTATE class 28 (invalid authorization) or 42501 (insufficient privilege).
func authFailure(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code.Class() == "28" || pqErr.Code == "42501"
}

// wrap marks credential rejections as connection errors.
func wrap(err error) error {
	if authFailure(err) {
		return &account.ConnectionError{Backend: backendName, Err: err}
	}
	return err
}
