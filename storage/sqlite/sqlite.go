// Package sqlite implements storage.Repository on an SQLite database through GORM.
//
// The records table uses a composite primary key (scope, record_type,
// record_id) that mirrors the key space used by the BBolt and in-memory
// backends. Compare-and-swap updates are a single conditional UPDATE, so
// concurrent writers from several processes cannot both win.
package sqlite

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/jmcleod/tunnelca/storage"
)

// recordRow is the database representation of a storage.Record.
type recordRow struct {
	Scope      string `gorm:"primaryKey"`
	RecordType string `gorm:"primaryKey"`
	RecordID   string `gorm:"primaryKey"`
	Version    uint64 `gorm:"not null"`
	Data       []byte
	UpdatedAt  time.Time
}

// TableName pins the table name.
func (recordRow) TableName() string {
	return "records"
}

// Store implements storage.Repository backed by SQLite.
type Store struct {
	db *gorm.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository migrates the records table on db and returns a Repository.
func NewRepository(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	if err := db.AutoMigrate(&recordRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate records table: %w", err)
	}
	return &Store{db: db}, nil
}

// NewRepositoryFromFile opens (creating if needed) the SQLite database at path.
// Use ":memory:" for a throwaway database.
func NewRepositoryFromFile(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serializes writers.
	sqlDB.SetMaxOpenConns(1)

	store, err := NewRepository(db)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Put(scope, recordType, recordID string, record *storage.Record) error {
	return putInTx(s.db, scope, recordType, recordID, record)
}

func (s *Store) Get(scope, recordType, recordID string) (*storage.Record, error) {
	var row recordRow
	err := s.db.
		Where("scope = ? AND record_type = ? AND record_id = ?", scope, recordType, recordID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, s.notFoundError(scope, recordType, recordID)
	}
	if err != nil {
		return nil, err
	}
	return storage.NewRecord(row.Data, row.Version), nil
}

func (s *Store) List(scope, recordType string) ([]string, error) {
	var ids []string
	err := s.db.Model(&recordRow{}).
		Where("scope = ? AND record_type = ?", scope, recordType).
		Order("record_id").
		Pluck("record_id", &ids).Error
	return ids, err
}

func (s *Store) PutCAS(scope, recordType, recordID string, expectedVersion uint64, record *storage.Record) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return putCASInTx(tx, scope, recordType, recordID, expectedVersion, record)
	})
}

// Batch runs fn in one transaction; an error rolls back every write.
func (s *Store) Batch(scope string, fn func(tx storage.BatchTx) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&sqlBatchTx{tx: tx, scope: scope})
	})
}

type sqlBatchTx struct {
	tx    *gorm.DB
	scope string
}

var _ storage.BatchTx = (*sqlBatchTx)(nil)

func (btx *sqlBatchTx) Put(recordType, recordID string, record *storage.Record) error {
	return putInTx(btx.tx, btx.scope, recordType, recordID, record)
}

func (btx *sqlBatchTx) PutCAS(recordType, recordID string, expectedVersion uint64, record *storage.Record) error {
	return putCASInTx(btx.tx, btx.scope, recordType, recordID, expectedVersion, record)
}

func putInTx(tx *gorm.DB, scope, recordType, recordID string, record *storage.Record) error {
	row := recordRow{
		Scope:      scope,
		RecordType: recordType,
		RecordID:   recordID,
		Version:    record.Version,
		Data:       record.Data,
	}
	return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

// putCASInTx performs a compare-and-swap put within an existing transaction.
func putCASInTx(tx *gorm.DB, scope, recordType, recordID string, expectedVersion uint64, record *storage.Record) error {
	if expectedVersion == 0 {
		row := recordRow{
			Scope:      scope,
			RecordType: recordType,
			RecordID:   recordID,
			Version:    record.Version,
			Data:       record.Data,
		}
		err := tx.Create(&row).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return storage.ErrCASFailed
		}
		return err
	}

	result := tx.Model(&recordRow{}).
		Where("scope = ? AND record_type = ? AND record_id = ? AND version = ?", scope, recordType, recordID, expectedVersion).
		Updates(map[string]any{
			"version":    record.Version,
			"data":       record.Data,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrCASFailed
	}
	return nil
}

// notFoundError distinguishes a scope that was never written from a missing
// record, matching the BBolt backend.
func (s *Store) notFoundError(scope, recordType, recordID string) error {
	var count int64
	s.db.Model(&recordRow{}).Where("scope = ?", scope).Limit(1).Count(&count)
	if count == 0 {
		return fmt.Errorf("%s: %w (%w)", scope, storage.ErrNotFound, storage.ErrScopeNotFound)
	}
	return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
}
