package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// serviceRecord is one committed descriptor row
type serviceRecord struct {
	Name      string `gorm:"primaryKey;size:255"`
	Record    []byte `gorm:"not null"`
	CreatedAt time.Time
}

func (serviceRecord) TableName() string {
	return "services"
}

// SQLStore keeps records in a SQL database through gorm
type SQLStore struct {
	db *gorm.DB
}

var _ Store = (*SQLStore)(nil)

// OpenSQLStore opens (or creates) the SQLite database at path and migrates the services table
func OpenSQLStore(path string, config ...gorm.Config) (*SQLStore, error) {
	conf := gorm.Config{}
	if len(config) > 0 {
		conf = config[0]
	}

	db, err := gorm.Open(sqlite.Open(path), &conf)
	if err != nil {
		return nil, err
	}

	// SQLite has a single writer
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	return NewSQLStore(db)
}

// NewSQLStore uses an existing gorm handle and migrates the services table
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&serviceRecord{}); err != nil {
		return nil, err
	}
	return &SQLStore{db: db}, nil
}

// Close closes the underlying database
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLStore) CreateIfAbsent(ctx context.Context, name string, record []byte) (committed []byte, created bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&serviceRecord{Name: name, Record: record})
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected == 1

		var row serviceRecord
		if err := tx.Where("name = ?", name).Take(&row).Error; err != nil {
			return err
		}
		committed = row.Record
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return committed, created, nil
}

func (s *SQLStore) Load(ctx context.Context, name string) ([]byte, error) {
	var row serviceRecord
	err := s.db.WithContext(ctx).Where("name = ?", name).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return row.Record, nil
}

func (s *SQLStore) Remove(ctx context.Context, name string) error {
	res := s.db.WithContext(ctx).Where("name = ?", name).Delete(&serviceRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	return nil
}
