package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"orderrec/internal/apperr"
	"orderrec/internal/config"
	"orderrec/internal/ledger"
)

// ledgerLockID keys the PostgreSQL advisory lock held by ledger writers.
const ledgerLockID int64 = 0x6f72646572726563

// Connect opens a GORM connection for cfg.DatabaseURL and migrates the
// schema. postgres:// and postgresql:// URLs use PostgreSQL; sqlite://path
// and file: DSNs use SQLite.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	dsn := strings.TrimSpace(cfg.DatabaseURL)
	if dsn == "" {
		return nil, apperr.Configuration("database_url is required")
	}

	gcfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		// PrepareStmt: true prevents the GORM postgres migrator from forcing simple protocol
		// for "SELECT * FROM table LIMIT 1", which would otherwise trigger "insufficient arguments".
		gcfg.PrepareStmt = true
		dialector = postgres.Open(dsn)
	case strings.HasPrefix(dsn, "sqlite://"):
		dialector = sqlite.Open(strings.TrimPrefix(dsn, "sqlite://"))
	case strings.HasPrefix(dsn, "file:"):
		dialector = sqlite.Open(dsn)
	default:
		return nil, apperr.Configuration("database_url must be a postgres://, sqlite:// or file: URL")
	}

	db, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, apperr.Configuration("open database: %v", err)
	}

	if db.Dialector.Name() == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// One connection serialises SQLite writers and keeps transactions
		// on the connection that opened them.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(
		&LedgerRow{},
		&OrderHeaderRow{},
		&LineItemRow{},
		&ProductRow{},
		&CustomerFeatureRow{},
		&DerivationRun{},
		&ModelGeneration{},
		&APIKey{},
	); err != nil {
		return nil, apperr.Configuration("migrate schema: %v", err)
	}

	return db, nil
}

// Store is the gorm-backed ledger and model store.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger

	// mu serialises ledger writers inside this process.
	mu sync.Mutex
}

// NewStore wraps an open connection.
//
//nolint:gocritic // zerolog.Logger is passed by value
func NewStore(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Open connects and returns a Store.
//
//nolint:gocritic // zerolog.Logger is passed by value
func Open(cfg *config.Config, logger zerolog.Logger) (*Store, error) {
	db, err := Connect(cfg)
	if err != nil {
		return nil, err
	}
	return NewStore(db, logger), nil
}

// DB returns the underlying connection.
func (s *Store) DB() *gorm.DB { return s.db }

// Close closes the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// WithWriteLock runs fn in one transaction while holding the ledger write
// lock. On PostgreSQL the lock also excludes writers in other processes.
func (s *Store) WithWriteLock(ctx context.Context, fn func(tx ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "postgres" {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", ledgerLockID).Error; err != nil {
				return fmt.Errorf("acquire ledger lock: %w", err)
			}
		}
		return fn(&ledgerTx{db: tx})
	})
}

// OrderExists reports whether key is in the ledger.
func (s *Store) OrderExists(ctx context.Context, key ledger.Key) (bool, error) {
	return exists(s.db.WithContext(ctx), key)
}

// LedgerLines returns the ledger in ingestion order.
func (s *Store) LedgerLines(ctx context.Context) ([]ledger.OrderLine, error) {
	return loadLedger(s.db.WithContext(ctx))
}

// CustomerFeatures returns the customer feature table ordered by customer.
func (s *Store) CustomerFeatures(ctx context.Context) ([]ledger.CustomerFeatures, error) {
	return loadCustomerFeatures(s.db.WithContext(ctx))
}

// TrainingInputs reads the customer feature table and the ledger in one
// read transaction so both come from the same committed derivation run.
func (s *Store) TrainingInputs(ctx context.Context) ([]ledger.CustomerFeatures, []ledger.OrderLine, error) {
	var (
		customers []ledger.CustomerFeatures
		lines     []ledger.OrderLine
	)
	db := s.db.WithContext(ctx)
	var opts []*sql.TxOptions
	if db.Dialector.Name() == "postgres" {
		opts = append(opts, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		if customers, err = loadCustomerFeatures(tx); err != nil {
			return fmt.Errorf("load customer features: %w", err)
		}
		if lines, err = loadLedger(tx); err != nil {
			return fmt.Errorf("load ledger: %w", err)
		}
		return nil
	}, opts...)
	if err != nil {
		return nil, nil, err
	}
	return customers, lines, nil
}

func loadCustomerFeatures(db *gorm.DB) ([]ledger.CustomerFeatures, error) {
	var rows []CustomerFeatureRow
	if err := db.Order("customer_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]ledger.CustomerFeatures, len(rows))
	for i, r := range rows {
		out[i] = r.features()
	}
	return out, nil
}

// ItemUniverse returns the distinct product ids of the product projection,
// sorted.
func (s *Store) ItemUniverse(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&ProductRow{}).
		Distinct("product_id").
		Order("product_id").
		Pluck("product_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// LatestDerivationRun returns the most recent run record, or nil.
func (s *Store) LatestDerivationRun(ctx context.Context) (*DerivationRun, error) {
	var run DerivationRun
	err := s.db.WithContext(ctx).Order("id DESC").Limit(1).Take(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}
