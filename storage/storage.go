// Package storage implements the persistence contract of the tracker: the
// few rows that must survive a restart (completion counters, auth keys and
// the infohash whitelist) behind a driver-selectable Database interface.
package storage

import (
	"errors"
	"fmt"

	"github.com/torrust/torrust-tracker/bittorrent"
)

var (
	// ErrDatabaseUnavailable is returned when a connection cannot be
	// acquired from the underlying engine.
	ErrDatabaseUnavailable = errors.New("storage: database unavailable")

	// ErrInvalidQuery is returned when a write fails, including uniqueness
	// violations the caller did not expect.
	ErrInvalidQuery = errors.New("storage: invalid query")

	// ErrNotFound is returned when a single-row read returns nothing.
	ErrNotFound = errors.New("storage: not found")
)

// PersistentTorrent is one row of the torrents relation: the lifetime
// completion counter for an infohash.
type PersistentTorrent struct {
	InfoHash  bittorrent.InfoHash
	Completed uint32
}

// Key is one row of the keys relation. ValidUntil is seconds since the Unix
// Epoch; zero means the key never expires.
type Key struct {
	Key        string
	ValidUntil int64
}

// Database is the uniform contract over the persistence engines.
//
// All implementations share upsert semantics for SavePersistentTorrent: if
// the infohash exists, completed is overwritten with the supplied value.
type Database interface {
	// CreateSchema idempotently creates the torrents, keys and whitelist
	// relations. It tolerates any creation order.
	CreateSchema() error

	LoadPersistentTorrents() ([]PersistentTorrent, error)
	SavePersistentTorrent(ih bittorrent.InfoHash, completed uint32) error

	LoadKeys() ([]Key, error)
	AddKey(k Key) error
	RemoveKey(key string) error
	GetKey(key string) (Key, error)

	LoadWhitelist() ([]bittorrent.InfoHash, error)
	AddWhitelisted(ih bittorrent.InfoHash) error
	RemoveWhitelisted(ih bittorrent.InfoHash) error
	// GetWhitelisted resolves a 40-character hex string to the stored
	// InfoHash, or ErrNotFound.
	GetWhitelisted(infoHashHex string) (bittorrent.InfoHash, error)

	Close() error
}

// Config holds the configuration used to select and open a Database.
type Config struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// Driver is the interface used to initialize a registered Database.
type Driver interface {
	NewDatabase(cfg Config) (Database, error)
}

var drivers = make(map[string]Driver)

// RegisterDriver makes a Driver available by the provided name.
//
// If called twice with the same name or if driver is nil, it panics.
func RegisterDriver(name string, d Driver) {
	if d == nil {
		panic("storage: could not register nil Driver")
	}
	if _, dup := drivers[name]; dup {
		panic("storage: could not register duplicate Driver: " + name)
	}
	drivers[name] = d
}

// NewDatabase attempts to initialize a new Database instance from the list of
// registered Drivers.
func NewDatabase(cfg Config) (Database, error) {
	d, ok := drivers[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("storage: unknown driver %q (forgotten import?)", cfg.Driver)
	}
	return d.NewDatabase(cfg)
}
