// Package db opens the relay's SQLite database: the source-chain checkpoint,
// the processed set and the payout journal all live in one file.
package db

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pushchain/payout-relay/relayer/store"
)

// InMemorySQLiteDSN opens a database that lives as long as its single connection.
const InMemorySQLiteDSN = ":memory:"

// fileParams make concurrent readers cheap and let a busy writer wait instead of failing.
const fileParams = "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"

// schemaModels are migrated on open.
var schemaModels = []any{
	&store.ChainState{},
	&store.ProcessedEvent{},
	&store.EventClaim{},
	&store.RelayTransaction{},
}

// DB is the relay database handle.
type DB struct {
	client *gorm.DB
	path   string
}

// OpenFileDB opens or creates <dir>/<filename>, creating dir if needed.
func OpenFileDB(dir, filename string, migrateSchema bool) (*DB, error) {
	path, err := prepareFilePath(dir, filename)
	if err != nil {
		return nil, err
	}
	if path == InMemorySQLiteDSN {
		return open(path, path, migrateSchema)
	}
	return open(path+fileParams, path, migrateSchema)
}

// OpenInMemoryDB opens an ephemeral database, mostly for tests.
func OpenInMemoryDB(migrateSchema bool) (*DB, error) {
	return open(InMemorySQLiteDSN, InMemorySQLiteDSN, migrateSchema)
}

func open(dsn, path string, migrateSchema bool) (*DB, error) {
	client, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open sqlite database %s", path)
	}

	sqlDB, err := client.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get underlying sql.DB")
	}
	// in-memory databases are per connection and sqlite has a single writer anyway
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	d := &DB{client: client, path: path}
	if migrateSchema {
		if err := d.Migrate(); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}
	return d, nil
}

// Migrate creates or updates the relay tables.
func (d *DB) Migrate() error {
	if err := d.client.AutoMigrate(schemaModels...); err != nil {
		return errors.Wrap(err, "failed to migrate relay schema")
	}
	return nil
}

// Client returns the gorm handle for queries.
func (d *DB) Client() *gorm.DB {
	return d.client
}

// Path is the database file, or InMemorySQLiteDSN.
func (d *DB) Path() string {
	return d.path
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	sqlDB, err := d.client.DB()
	if err != nil {
		return errors.Wrap(err, "failed to get underlying sql.DB")
	}
	return errors.Wrap(sqlDB.Close(), "failed to close database")
}

func prepareFilePath(dir, filename string) (string, error) {
	if dir == InMemorySQLiteDSN {
		return dir, nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", errors.Wrapf(err, "failed to create database directory %s", dir)
	}
	return filepath.Join(dir, filename), nil
}
