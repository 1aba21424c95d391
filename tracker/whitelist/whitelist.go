// Package whitelist implements the operator-controlled set of infohashes a
// listed tracker will serve.
package whitelist

import (
	"sync"

	"github.com/torrust/torrust-tracker/bittorrent"
	"github.com/torrust/torrust-tracker/pkg/log"
	"github.com/torrust/torrust-tracker/storage"
)

// Service holds the in-memory whitelist, backed by the database across
// restarts. Mere presence authorizes an infohash.
type Service struct {
	mu  sync.RWMutex
	set map[bittorrent.InfoHash]struct{}

	db storage.Database
}

// NewService creates a Service backed by db, initially empty.
func NewService(db storage.Database) *Service {
	return &Service{
		set: make(map[bittorrent.InfoHash]struct{}),
		db:  db,
	}
}

// Contains reports whether the infohash is whitelisted.
func (s *Service) Contains(ih bittorrent.InfoHash) bool {
	s.mu.RLock()
	_, ok := s.set[ih]
	s.mu.RUnlock()
	return ok
}

// Add whitelists an infohash in memory and in the database.
func (s *Service) Add(ih bittorrent.InfoHash) error {
	s.mu.Lock()
	_, existed := s.set[ih]
	s.set[ih] = struct{}{}
	s.mu.Unlock()

	if existed {
		// Already persisted; re-inserting would violate uniqueness.
		return nil
	}

	if err := s.db.AddWhitelisted(ih); err != nil {
		s.mu.Lock()
		delete(s.set, ih)
		s.mu.Unlock()
		return err
	}
	return nil
}

// Remove deletes an infohash from memory and from the database.
func (s *Service) Remove(ih bittorrent.InfoHash) error {
	s.mu.Lock()
	delete(s.set, ih)
	s.mu.Unlock()

	return s.db.RemoveWhitelisted(ih)
}

// Reload replaces the in-memory set with the contents of the database.
func (s *Service) Reload() error {
	rows, err := s.db.LoadWhitelist()
	if err != nil {
		return err
	}

	set := make(map[bittorrent.InfoHash]struct{}, len(rows))
	for _, ih := range rows {
		set[ih] = struct{}{}
	}

	s.mu.Lock()
	s.set = set
	s.mu.Unlock()

	log.Info("loaded whitelist", log.Fields{"count": len(set)})
	return nil
}

// Count returns the number of whitelisted infohashes held in memory.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.set)
}
