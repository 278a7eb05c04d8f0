package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Blob is one stored value. GORM maps it to the metric_blobs table.
type Blob struct {
	Key       string `gorm:"primaryKey"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

func (Blob) TableName() string {
	return "metric_blobs"
}

type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore connects to the database and migrates the blob table.
func NewPostgresStore(host, user, password, dbName, port string) (*PostgresStore, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		host, user, password, dbName, port)
	return OpenStore(postgres.Open(dsn))
}

// OpenStore opens a store on any GORM dialector.
func OpenStore(dialector gorm.Dialector) (*PostgresStore, error) {
	database, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := database.AutoMigrate(&Blob{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &PostgresStore{db: database}, nil
}

func (p *PostgresStore) Get(ctx context.Context, key string) (string, bool, error) {
	var blob Blob
	// SELECT * FROM metric_blobs WHERE key = '...' ORDER BY key LIMIT 1;
	result := p.db.WithContext(ctx).First(&blob, "key = ?", key)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if result.Error != nil {
		return "", false, result.Error
	}
	return blob.Value, true, nil
}

// Set upserts the value under key.
func (p *PostgresStore) Set(ctx context.Context, key, value string) error {
	blob := Blob{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	result := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&blob)
	return result.Error
}

func (p *PostgresStore) Delete(ctx context.Context, key string) error {
	return p.db.WithContext(ctx).Delete(&Blob{}, "key = ?", key).Error
}

func (p *PostgresStore) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
