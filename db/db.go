package db

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the database struct. It is the only persistence path: the protocol
// engine, the delivery worker and the oauth layer all go through its methods.
type DB struct {
	db *sql.DB

	// MaxDeliveryAttempts is the attempt count after which a failed
	// delivery is dropped instead of requeued.
	MaxDeliveryAttempts int
}

// Sentinel errors for caller mistakes. Absence of a row is never an error,
// readers return a nil result instead.
var (
	ErrInvalidMetaKey    = errors.New("meta key must not contain a path separator")
	ErrUnsupportedFilter = errors.New("unsupported stream filter")
)

const defaultMaxDeliveryAttempts = 10

// Open opens the database at the given path and tunes it for a concurrent
// ActivityPub workload. The caller owns the handle and must Close it.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	var journalMode string
	if err := sqlDB.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		log.Printf("Warning: Failed to enable WAL mode: %v", err)
	} else {
		log.Printf("Database journal mode: %s", journalMode)
	}

	sqlDB.Exec("PRAGMA synchronous = NORMAL")
	sqlDB.Exec("PRAGMA cache_size = -64000")
	sqlDB.Exec("PRAGMA temp_store = MEMORY")
	sqlDB.Exec("PRAGMA busy_timeout = 5000")
	sqlDB.Exec("PRAGMA foreign_keys = ON")

	return &DB{db: sqlDB, MaxDeliveryAttempts: defaultMaxDeliveryAttempts}, nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	return db.db.Close()
}

// wrapTransaction runs the given function within a transaction, retrying
// from scratch while the database reports SQLITE_BUSY.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	for {
		tx, err := db.db.BeginTx(ctx, nil)
		if err != nil {
			log.Printf("error starting transaction: %s", err)
			return err
		}
		if err = f(tx); err != nil {
			tx.Rollback()
			if isBusy(err) {
				continue
			}
			return err
		}
		if err = tx.Commit(); err != nil {
			if isBusy(err) {
				continue
			}
			log.Printf("error committing transaction: %s", err)
			return err
		}
		return nil
	}
}

func isBusy(err error) bool {
	var serr *sqlite.Error
	return errors.As(err, &serr) && serr.Code() == sqlitelib.SQLITE_BUSY
}
