package state

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DefaultName keys the single state row when no name is configured.
const DefaultName = "default"

// stateRecord is the detector_states row.
type stateRecord struct {
	Name          string `gorm:"primaryKey;size:64"`
	Threshold     float64
	TotalAttempts int64
	CaughtCheats  int64
	SavedAt       time.Time
}

func (stateRecord) TableName() string { return "detector_states" }

// SQLStore keeps the snapshot in a detector_states row through gorm.
type SQLStore struct {
	db   *gorm.DB
	name string
}

// OpenSQLite opens (and migrates) a SQLite database file.
func OpenSQLite(path, name string) (*SQLStore, error) {
	return NewSQLStore(sqlite.Open(path), name)
}

// OpenMySQL connects to MySQL with a go-sql-driver DSN.
func OpenMySQL(dsn, name string) (*SQLStore, error) {
	return NewSQLStore(mysql.Open(dsn), name)
}

// NewSQLStore opens dialector and makes sure the table exists.
func NewSQLStore(dialector gorm.Dialector, name string) (*SQLStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil || db == nil {
		return nil, errors.Wrap(err, "open state database")
	}
	if err := db.AutoMigrate(&stateRecord{}); err != nil {
		return nil, errors.Wrap(err, "migrate detector_states")
	}
	if name == "" {
		name = DefaultName
	}
	return &SQLStore{db: db, name: name}, nil
}

// Save upserts the named row.
func (s *SQLStore) Save(ctx context.Context, snap Snapshot) error {
	rec := stateRecord{
		Name:          s.name,
		Threshold:     snap.Threshold,
		TotalAttempts: snap.TotalAttempts,
		CaughtCheats:  snap.CaughtCheats,
		SavedAt:       snap.SavedAt.UTC(),
	}
	return errors.Wrap(s.db.WithContext(ctx).Save(&rec).Error, "save detector state")
}

// Load reads the named row.
func (s *SQLStore) Load(ctx context.Context) (Snapshot, error) {
	var rec stateRecord
	err := s.db.WithContext(ctx).First(&rec, "name = ?", s.name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "load detector state")
	}

	snap := Snapshot{
		Threshold:     rec.Threshold,
		TotalAttempts: rec.TotalAttempts,
		CaughtCheats:  rec.CaughtCheats,
		SavedAt:       rec.SavedAt,
	}
	return snap, snap.Validate()
}

// Close closes the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
