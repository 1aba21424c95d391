// Package memory implements the storage.Database interface entirely in
// process memory. Nothing survives a restart; it exists for tests and for
// running a tracker without any persistence engine.
package memory

import (
	"sync"

	"github.com/torrust/torrust-tracker/bittorrent"
	"github.com/torrust/torrust-tracker/storage"
)

// Name is the name by which this database is registered with the tracker.
const Name = "memory"

func init() {
	storage.RegisterDriver(Name, driver{})
}

type driver struct{}

func (d driver) NewDatabase(_ storage.Config) (storage.Database, error) {
	return New(), nil
}

type database struct {
	mu        sync.RWMutex
	torrents  map[bittorrent.InfoHash]uint32
	keys      map[string]int64
	whitelist map[bittorrent.InfoHash]struct{}
}

// New creates an empty in-memory database.
func New() storage.Database {
	return &database{
		torrents:  make(map[bittorrent.InfoHash]uint32),
		keys:      make(map[string]int64),
		whitelist: make(map[bittorrent.InfoHash]struct{}),
	}
}

func (d *database) CreateSchema() error { return nil }

func (d *database) Close() error { return nil }

func (d *database) LoadPersistentTorrents() ([]storage.PersistentTorrent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	torrents := make([]storage.PersistentTorrent, 0, len(d.torrents))
	for ih, completed := range d.torrents {
		torrents = append(torrents, storage.PersistentTorrent{InfoHash: ih, Completed: completed})
	}
	return torrents, nil
}

func (d *database) SavePersistentTorrent(ih bittorrent.InfoHash, completed uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.torrents[ih] = completed
	return nil
}

func (d *database) LoadKeys() ([]storage.Key, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	keys := make([]storage.Key, 0, len(d.keys))
	for k, validUntil := range d.keys {
		keys = append(keys, storage.Key{Key: k, ValidUntil: validUntil})
	}
	return keys, nil
}

func (d *database) AddKey(k storage.Key) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, dup := d.keys[k.Key]; dup {
		return storage.ErrInvalidQuery
	}
	d.keys[k.Key] = k.ValidUntil
	return nil
}

func (d *database) RemoveKey(key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.keys[key]; !ok {
		return storage.ErrNotFound
	}
	delete(d.keys, key)
	return nil
}

func (d *database) GetKey(key string) (storage.Key, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	validUntil, ok := d.keys[key]
	if !ok {
		return storage.Key{}, storage.ErrNotFound
	}
	return storage.Key{Key: key, ValidUntil: validUntil}, nil
}

func (d *database) LoadWhitelist() ([]bittorrent.InfoHash, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	infoHashes := make([]bittorrent.InfoHash, 0, len(d.whitelist))
	for ih := range d.whitelist {
		infoHashes = append(infoHashes, ih)
	}
	return infoHashes, nil
}

func (d *database) AddWhitelisted(ih bittorrent.InfoHash) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, dup := d.whitelist[ih]; dup {
		return storage.ErrInvalidQuery
	}
	d.whitelist[ih] = struct{}{}
	return nil
}

func (d *database) RemoveWhitelisted(ih bittorrent.InfoHash) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.whitelist[ih]; !ok {
		return storage.ErrNotFound
	}
	delete(d.whitelist, ih)
	return nil
}

func (d *database) GetWhitelisted(infoHashHex string) (bittorrent.InfoHash, error) {
	ih, err := bittorrent.InfoHashFromHex(infoHashHex)
	if err != nil {
		return bittorrent.InfoHash{}, storage.ErrNotFound
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if _, ok := d.whitelist[ih]; !ok {
		return bittorrent.InfoHash{}, storage.ErrNotFound
	}
	return ih, nil
}
