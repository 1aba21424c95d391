// Package sqlite implements the storage.Database interface over an embedded
// single-file SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/torrust/torrust-tracker/bittorrent"
	"github.com/torrust/torrust-tracker/pkg/log"
	"github.com/torrust/torrust-tracker/storage"
)

// Name is the name by which this database is registered with the tracker.
const Name = "sqlite3"

// acquireTimeout bounds how long a call may wait for a pooled connection.
const acquireTimeout = 5 * time.Second

func init() {
	storage.RegisterDriver(Name, driver{})
}

type driver struct{}

func (d driver) NewDatabase(cfg storage.Config) (storage.Database, error) {
	return New(cfg.Path)
}

type database struct {
	db *sqlx.DB
}

// New opens (creating it if necessary) the SQLite database at path.
func New(path string) (storage.Database, error) {
	db, err := sqlx.Connect(Name, path)
	if err != nil {
		log.Error("sqlite: failed to open database", log.Fields{"path": path}, log.Err(err))
		return nil, storage.ErrDatabaseUnavailable
	}

	// SQLite serializes writers; a small pool avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(time.Hour)

	return &database{db: db}, nil
}

func (d *database) Close() error {
	return errors.Wrap(d.db.Close(), "sqlite: close")
}

func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), acquireTimeout)
}

// classify maps driver-level errors onto the storage sentinel errors.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return storage.ErrNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return storage.ErrDatabaseUnavailable
	default:
		return storage.ErrInvalidQuery
	}
}

func (d *database) CreateSchema() error {
	// IF NOT EXISTS keeps this idempotent; the statements are independent so
	// any creation order works.
	statements := []string{
		`CREATE TABLE IF NOT EXISTS whitelist (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			info_hash TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS "keys" (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			"key" TEXT NOT NULL UNIQUE,
			valid_until INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS torrents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			info_hash TEXT NOT NULL UNIQUE,
			completed INTEGER DEFAULT 0 NOT NULL
		)`,
	}

	ctx, cancel := opCtx()
	defer cancel()

	for _, stmt := range statements {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			log.Error("sqlite: schema creation failed", log.Err(err))
			return classify(err)
		}
	}
	return nil
}

func (d *database) LoadPersistentTorrents() ([]storage.PersistentTorrent, error) {
	ctx, cancel := opCtx()
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `SELECT info_hash, completed FROM torrents`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var torrents []storage.PersistentTorrent
	for rows.Next() {
		var (
			hexHash   string
			completed uint32
		)
		if err := rows.Scan(&hexHash, &completed); err != nil {
			return nil, classify(err)
		}

		ih, err := bittorrent.InfoHashFromHex(hexHash)
		if err != nil {
			log.Warn("sqlite: skipping malformed infohash row", log.Fields{"infoHash": hexHash})
			continue
		}
		torrents = append(torrents, storage.PersistentTorrent{InfoHash: ih, Completed: completed})
	}
	return torrents, classify(rows.Err())
}

func (d *database) SavePersistentTorrent(ih bittorrent.InfoHash, completed uint32) error {
	ctx, cancel := opCtx()
	defer cancel()

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO torrents (info_hash, completed) VALUES (?, ?)
		 ON CONFLICT(info_hash) DO UPDATE SET completed = excluded.completed`,
		ih.String(), completed)
	return classify(err)
}

// validUntilFromRow normalizes a stored expiry. Negative values should never
// occur; they are read via their magnitude and reported as corruption.
func validUntilFromRow(engine, key string, validUntil int64) int64 {
	if validUntil < 0 {
		log.Warn("storage: negative valid_until read, treating as magnitude", log.Fields{
			"engine":     engine,
			"key":        key,
			"validUntil": validUntil,
		})
		return -validUntil
	}
	return validUntil
}

func (d *database) LoadKeys() ([]storage.Key, error) {
	ctx, cancel := opCtx()
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `SELECT "key", valid_until FROM "keys"`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var keys []storage.Key
	for rows.Next() {
		var k storage.Key
		if err := rows.Scan(&k.Key, &k.ValidUntil); err != nil {
			return nil, classify(err)
		}
		k.ValidUntil = validUntilFromRow(Name, k.Key, k.ValidUntil)
		keys = append(keys, k)
	}
	return keys, classify(rows.Err())
}

func (d *database) AddKey(k storage.Key) error {
	ctx, cancel := opCtx()
	defer cancel()

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO "keys" ("key", valid_until) VALUES (?, ?)`, k.Key, k.ValidUntil)
	return classify(err)
}

func (d *database) RemoveKey(key string) error {
	ctx, cancel := opCtx()
	defer cancel()

	res, err := d.db.ExecContext(ctx, `DELETE FROM "keys" WHERE "key" = ?`, key)
	if err != nil {
		return classify(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (d *database) GetKey(key string) (storage.Key, error) {
	ctx, cancel := opCtx()
	defer cancel()

	var k storage.Key
	err := d.db.QueryRowContext(ctx,
		`SELECT "key", valid_until FROM "keys" WHERE "key" = ?`, key).
		Scan(&k.Key, &k.ValidUntil)
	if err != nil {
		return storage.Key{}, classify(err)
	}
	k.ValidUntil = validUntilFromRow(Name, k.Key, k.ValidUntil)
	return k, nil
}

func (d *database) LoadWhitelist() ([]bittorrent.InfoHash, error) {
	ctx, cancel := opCtx()
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `SELECT info_hash FROM whitelist`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var infoHashes []bittorrent.InfoHash
	for rows.Next() {
		var hexHash string
		if err := rows.Scan(&hexHash); err != nil {
			return nil, classify(err)
		}

		ih, err := bittorrent.InfoHashFromHex(hexHash)
		if err != nil {
			log.Warn("sqlite: skipping malformed whitelist row", log.Fields{"infoHash": hexHash})
			continue
		}
		infoHashes = append(infoHashes, ih)
	}
	return infoHashes, classify(rows.Err())
}

func (d *database) AddWhitelisted(ih bittorrent.InfoHash) error {
	ctx, cancel := opCtx()
	defer cancel()

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO whitelist (info_hash) VALUES (?)`, ih.String())
	return classify(err)
}

func (d *database) RemoveWhitelisted(ih bittorrent.InfoHash) error {
	ctx, cancel := opCtx()
	defer cancel()

	res, err := d.db.ExecContext(ctx,
		`DELETE FROM whitelist WHERE info_hash = ?`, ih.String())
	if err != nil {
		return classify(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (d *database) GetWhitelisted(infoHashHex string) (bittorrent.InfoHash, error) {
	ctx, cancel := opCtx()
	defer cancel()

	var stored string
	err := d.db.QueryRowContext(ctx,
		`SELECT info_hash FROM whitelist WHERE info_hash = ?`, infoHashHex).
		Scan(&stored)
	if err != nil {
		return bittorrent.InfoHash{}, classify(err)
	}
	return bittorrent.InfoHashFromHex(stored)
}
