package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/speedrun-hq/swaprunner/pkg/config"
	"github.com/speedrun-hq/swaprunner/pkg/logger"
	"github.com/speedrun-hq/swaprunner/pkg/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormRepository persists orders in a SQL database through gorm
type GormRepository struct {
	db     *gorm.DB
	logger logger.Logger
}

var _ Repository = (*GormRepository)(nil)

// Open connects to postgres when DatabaseURL is set and to sqlite otherwise, then migrates the schema
func Open(cfg config.StorageConfig, log logger.Logger) (*GormRepository, error) {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}

	if cfg.DatabaseURL != "" {
		db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		log.Info("Connected to postgres order store")
		return NewGormRepository(db, log)
	}

	if cfg.SQLitePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(cfg.SQLitePath), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", cfg.SQLitePath, err)
	}
	// sqlite allows a single writer, and every :memory: connection is a separate database
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	log.Info("Opened sqlite order store at %s", cfg.SQLitePath)
	return NewGormRepository(db, log)
}

// NewGormRepository wraps an open gorm connection and migrates the orders table
func NewGormRepository(db *gorm.DB, log logger.Logger) (*GormRepository, error) {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	if err := db.AutoMigrate(&models.Order{}); err != nil {
		return nil, fmt.Errorf("failed to migrate orders table: %w", err)
	}
	return &GormRepository{db: db, logger: log}, nil
}

func (r *GormRepository) Create(ctx context.Context, order *models.Order) error {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return fmt.Errorf("failed to create order %s: %w", order.ID, err)
	}
	return nil
}

func (r *GormRepository) FindByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).First(&order, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", id, err)
	}
	return &order, nil
}

func (r *GormRepository) UpdateStatus(ctx context.Context, id string, status models.OrderStatus, patch models.OrderPatch) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if patch.ClearExecution {
		updates["selected_dex"] = nil
		updates["executed_price"] = nil
		updates["amount_out"] = nil
		updates["tx_hash"] = nil
		updates["executed_at"] = nil
	}
	if patch.ClearFailure {
		updates["failure_reason"] = nil
	}
	if patch.SelectedDex != nil {
		updates["selected_dex"] = *patch.SelectedDex
	}
	if patch.ExecutedPrice != nil {
		updates["executed_price"] = *patch.ExecutedPrice
	}
	if patch.AmountOut != nil {
		updates["amount_out"] = *patch.AmountOut
	}
	if patch.TxHash != nil {
		updates["tx_hash"] = *patch.TxHash
	}
	if patch.ExecutedAt != nil {
		updates["executed_at"] = *patch.ExecutedAt
	}
	if patch.FailureReason != nil {
		updates["failure_reason"] = *patch.FailureReason
	}
	if patch.IncrementRetry {
		updates["retry_count"] = gorm.Expr("retry_count + ?", 1)
	}

	result := r.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update order %s to %s: %w", id, status, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	return nil
}

func (r *GormRepository) List(ctx context.Context, limit, offset int) ([]models.Order, error) {
	limit, offset = normalizePage(limit, offset)

	var orders []models.Order
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

func (r *GormRepository) CountByStatus(ctx context.Context) (map[models.OrderStatus]int64, error) {
	var rows []struct {
		Status models.OrderStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}

	counts := make(map[models.OrderStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *GormRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *GormRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
