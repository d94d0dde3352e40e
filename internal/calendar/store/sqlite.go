package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SnapshotRecord sqlite 中的一条快照
type SnapshotRecord struct {
	ID        uint      `gorm:"primaryKey"`
	Bucket    string    `gorm:"uniqueIndex:uniq_bucket_name;size:64"` // 分区路径
	Name      string    `gorm:"uniqueIndex:uniq_bucket_name;size:64"`
	Payload   string    `gorm:"type:text"`
	SizeBytes int64
	UpdatedAt time.Time `gorm:"index"`
}

// SQLiteBackend 嵌入式数据库后端
type SQLiteBackend struct {
	db *gorm.DB
}

func OpenSQLite(path string) (*SQLiteBackend, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is empty")
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&SnapshotRecord{}); err != nil {
		return nil, err
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Get(ctx context.Context, partition, name string) ([]byte, error) {
	var rec SnapshotRecord
	err := b.db.WithContext(ctx).
		Where("bucket = ? AND name = ?", partition, name).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(rec.Payload), nil
}

func (b *SQLiteBackend) Put(ctx context.Context, partition, name string, data []byte) error {
	rec := SnapshotRecord{
		Bucket:    partition,
		Name:      name,
		Payload:   string(data),
		SizeBytes: int64(len(data)),
		UpdatedAt: time.Now().UTC(),
	}
	return b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bucket"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "size_bytes", "updated_at"}),
	}).Create(&rec).Error
}

func (b *SQLiteBackend) Size(ctx context.Context, partition, name string) (int64, error) {
	var rec SnapshotRecord
	err := b.db.WithContext(ctx).
		Select("size_bytes").
		Where("bucket = ? AND name = ?", partition, name).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return rec.SizeBytes, nil
}

func (b *SQLiteBackend) DropPartition(ctx context.Context, partition string) error {
	return b.db.WithContext(ctx).
		Where("bucket = ?", partition).
		Delete(&SnapshotRecord{}).Error
}

func (b *SQLiteBackend) Partitions(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := b.db.WithContext(ctx).
		Model(&SnapshotRecord{}).
		Where("bucket LIKE ?", prefix+"%").
		Distinct().
		Order("bucket asc").
		Pluck("bucket", &out).Error
	return out, err
}

func (b *SQLiteBackend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
