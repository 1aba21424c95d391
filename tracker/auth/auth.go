// Package auth implements the time-bounded authentication keys a private
// tracker hands out to its users.
package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/torrust/torrust-tracker/pkg/log"
	"github.com/torrust/torrust-tracker/pkg/random"
	"github.com/torrust/torrust-tracker/pkg/timecache"
	"github.com/torrust/torrust-tracker/storage"
)

// KeyLength is the length of a generated key.
const KeyLength = 32

var (
	// ErrKeyUnknown is returned when a presented key is not known to the
	// tracker.
	ErrKeyUnknown = errors.New("auth: unknown key")

	// ErrKeyExpired is returned when a presented key is known but past its
	// expiry.
	ErrKeyExpired = errors.New("auth: key expired")
)

// Key is an authentication key. ValidUntil is an absolute expiry in seconds
// since the Unix Epoch; zero means the key never expires.
type Key struct {
	Key        string
	ValidUntil int64
}

// Expired reports whether the key is past its expiry at the given time.
func (k Key) Expired(now int64) bool {
	return k.ValidUntil != 0 && k.ValidUntil < now
}

// Service holds the in-memory key set. The set is authoritative for the
// lifetime of a process; the backing database is authoritative across
// restarts.
type Service struct {
	mu   sync.RWMutex
	keys map[string]Key

	db    storage.Database
	clock *timecache.TimeCache
}

// NewService creates a Service backed by db, initially empty.
//
// If clock is nil, the package-global time cache is used.
func NewService(db storage.Database, clock *timecache.TimeCache) *Service {
	return &Service{
		keys:  make(map[string]Key),
		db:    db,
		clock: clock,
	}
}

func (s *Service) now() int64 {
	if s.clock != nil {
		return s.clock.NowUnix()
	}
	return timecache.NowUnix()
}

// Generate produces a new random key, stores it in memory and in the
// database, and returns it. A zero lifetime yields a key that never expires.
func (s *Service) Generate(lifetime time.Duration) (Key, error) {
	var validUntil int64
	if lifetime > 0 {
		validUntil = s.now() + int64(lifetime/time.Second)
	}

	s.mu.Lock()
	var k Key
	for {
		k = Key{Key: random.AlphaNumericString(KeyLength), ValidUntil: validUntil}
		if _, taken := s.keys[k.Key]; !taken {
			break
		}
		// A 62^32 space collides essentially never; retrying costs nothing.
	}
	s.keys[k.Key] = k
	s.mu.Unlock()

	if err := s.db.AddKey(storage.Key{Key: k.Key, ValidUntil: k.ValidUntil}); err != nil {
		s.mu.Lock()
		delete(s.keys, k.Key)
		s.mu.Unlock()
		return Key{}, err
	}

	log.Info("generated auth key", log.Fields{"validUntil": validUntil})
	return k, nil
}

// Verify checks a presented key. It returns nil for a usable key,
// ErrKeyExpired for a known key past its expiry, and ErrKeyUnknown otherwise.
func (s *Service) Verify(key string) error {
	s.mu.RLock()
	k, ok := s.keys[key]
	s.mu.RUnlock()

	if !ok {
		return ErrKeyUnknown
	}
	if k.Expired(s.now()) {
		return ErrKeyExpired
	}
	return nil
}

// Remove deletes a key from memory and from the database.
func (s *Service) Remove(key string) error {
	s.mu.Lock()
	delete(s.keys, key)
	s.mu.Unlock()

	return s.db.RemoveKey(key)
}

// Reload replaces the in-memory set with the contents of the database.
func (s *Service) Reload() error {
	rows, err := s.db.LoadKeys()
	if err != nil {
		return err
	}

	keys := make(map[string]Key, len(rows))
	for _, row := range rows {
		keys[row.Key] = Key{Key: row.Key, ValidUntil: row.ValidUntil}
	}

	s.mu.Lock()
	s.keys = keys
	s.mu.Unlock()

	log.Info("loaded auth keys", log.Fields{"count": len(keys)})
	return nil
}

// Count returns the number of keys currently held in memory.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}
