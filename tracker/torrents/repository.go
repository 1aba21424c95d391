// Package torrents holds the live swarm for every known infohash and exposes
// safe, low-contention mutation under concurrent announces.
package torrents

import (
	"encoding/binary"
	"runtime"
	"sort"
	"sync"

	"github.com/torrust/torrust-tracker/bittorrent"
	"github.com/torrust/torrust-tracker/pkg/log"
	"github.com/torrust/torrust-tracker/pkg/timecache"
)

// Peer is the stored representation of one swarm member: the wire peer plus
// the counters and event it most recently reported.
type Peer struct {
	bittorrent.Peer
	Uploaded   uint64
	Downloaded uint64
	Left       uint64
	Event      bittorrent.Event

	// UpdatedAt is the last observation time in seconds since the Unix
	// Epoch. It is assigned by the repository on insertion.
	UpdatedAt int64
}

// Seeding reports whether the peer has all chunks.
func (p Peer) Seeding() bool { return p.Left == 0 }

// SwarmStats is the observable state of one swarm.
type SwarmStats struct {
	Seeders   uint32
	Completed uint32
	Leechers  uint32
}

// Torrent pairs an infohash with its swarm stats, for listings.
type Torrent struct {
	InfoHash bittorrent.InfoHash
	SwarmStats
}

// Default config constants.
const defaultShardCount = 1024

// Config holds the configuration of a Repository.
type Config struct {
	ShardCount int `yaml:"shard_count"`
}

// LogFields renders the current config as a set of logging fields.
func (cfg Config) LogFields() log.Fields {
	return log.Fields{"shardCount": cfg.ShardCount}
}

// Validate sanity checks values set in a config and returns a new config
// with default values replacing anything that is invalid.
func (cfg Config) Validate() Config {
	validcfg := cfg

	if cfg.ShardCount <= 0 {
		validcfg.ShardCount = defaultShardCount
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "torrents.ShardCount",
			"provided": cfg.ShardCount,
			"default":  validcfg.ShardCount,
		})
	}

	return validcfg
}

// A swarmEntry is the state kept for one infohash. Its mutex is the
// second-level lock of the repository: the owning shard's lock only protects
// the infohash slot, the entry lock protects the peer map and counters.
type swarmEntry struct {
	sync.RWMutex

	peers      map[bittorrent.PeerID]Peer
	numSeeders uint32
	completed  uint32

	// gone marks an entry that was unlinked from its shard while another
	// goroutine still holds a reference; such callers retry the lookup.
	gone bool
}

func (e *swarmEntry) statsLocked() SwarmStats {
	return SwarmStats{
		Seeders:   e.numSeeders,
		Completed: e.completed,
		Leechers:  uint32(len(e.peers)) - e.numSeeders,
	}
}

type shard struct {
	sync.RWMutex
	swarms map[bittorrent.InfoHash]*swarmEntry
}

// Repository is a sharded infohash → swarm map.
type Repository struct {
	cfg    Config
	shards []*shard
	clock  *timecache.TimeCache
}

// New creates an empty Repository.
//
// If clock is nil, the package-global time cache is used.
func New(provided Config, clock *timecache.TimeCache) *Repository {
	cfg := provided.Validate()

	r := &Repository{
		cfg:    cfg,
		shards: make([]*shard, cfg.ShardCount),
		clock:  clock,
	}
	for i := range r.shards {
		r.shards[i] = &shard{swarms: make(map[bittorrent.InfoHash]*swarmEntry)}
	}
	return r
}

func (r *Repository) now() int64 {
	if r.clock != nil {
		return r.clock.NowUnix()
	}
	return timecache.NowUnix()
}

func (r *Repository) shardOf(ih bittorrent.InfoHash) *shard {
	idx := binary.BigEndian.Uint32(ih[:4]) % uint32(len(r.shards))
	return r.shards[idx]
}

// entry returns the live swarm entry for ih, creating it when create is set.
// The caller must lock the returned entry and retry when it finds it gone.
func (r *Repository) entry(ih bittorrent.InfoHash, create bool) *swarmEntry {
	s := r.shardOf(ih)

	s.RLock()
	e := s.swarms[ih]
	s.RUnlock()
	if e != nil || !create {
		return e
	}

	s.Lock()
	e = s.swarms[ih]
	if e == nil {
		e = &swarmEntry{peers: make(map[bittorrent.PeerID]Peer)}
		s.swarms[ih] = e
	}
	s.Unlock()
	return e
}

// UpdatePeer inserts or replaces the peer in the swarm for ih and returns the
// post-update stats.
//
// A Stopped event removes the peer instead. The returned delta is 1 exactly
// when this call incremented the swarm's completion counter: the event is
// Completed and the peer was either absent or not previously recorded as
// Completed.
func (r *Repository) UpdatePeer(ih bittorrent.InfoHash, p Peer) (stats SwarmStats, delta uint32) {
	p.UpdatedAt = r.now()

	for {
		e := r.entry(ih, true)
		e.Lock()
		if e.gone {
			e.Unlock()
			continue
		}

		prev, existed := e.peers[p.ID]

		if p.Event == bittorrent.Stopped {
			if existed {
				if prev.Seeding() {
					e.numSeeders--
				}
				delete(e.peers, p.ID)
			}
		} else {
			if p.Event == bittorrent.Completed && (!existed || prev.Event != bittorrent.Completed) {
				e.completed++
				delta = 1
			}

			if existed && prev.Seeding() {
				e.numSeeders--
			}
			if p.Seeding() {
				e.numSeeders++
			}
			e.peers[p.ID] = p
		}

		stats = e.statsLocked()
		e.Unlock()
		return stats, delta
	}
}

// Restore seeds the completion counter for ih from persistence. It is meant
// to be called at boot, before any announce is served.
func (r *Repository) Restore(ih bittorrent.InfoHash, completed uint32) {
	for {
		e := r.entry(ih, true)
		e.Lock()
		if e.gone {
			e.Unlock()
			continue
		}
		e.completed = completed
		e.Unlock()
		return
	}
}

// GetPeers returns up to limit peers of the swarm for ih, excluding the
// holder of exclude. An unknown infohash yields no peers.
//
// Selection rides on Go's randomized map iteration order, which gives every
// stored peer an equal chance across repeated calls.
func (r *Repository) GetPeers(ih bittorrent.InfoHash, exclude bittorrent.PeerID, limit int) (peers []Peer) {
	e := r.entry(ih, false)
	if e == nil {
		return nil
	}

	e.RLock()
	for id, p := range e.peers {
		if len(peers) >= limit {
			break
		}
		if id == exclude {
			continue
		}
		peers = append(peers, p)
	}
	e.RUnlock()
	return peers
}

// Scrape returns the stats of the swarm for ih. Unknown infohashes scrape as
// zeros. The stats are read under one lock acquisition, so they are
// consistent for the swarm.
func (r *Repository) Scrape(ih bittorrent.InfoHash) (stats SwarmStats) {
	e := r.entry(ih, false)
	if e == nil {
		return stats
	}

	e.RLock()
	stats = e.statsLocked()
	e.RUnlock()
	return stats
}

// GetTorrents returns up to limit torrents ordered by infohash, skipping the
// first offset of them. The order is stable so callers can paginate.
func (r *Repository) GetTorrents(offset, limit int) []Torrent {
	var infoHashes []bittorrent.InfoHash
	for _, s := range r.shards {
		s.RLock()
		for ih := range s.swarms {
			infoHashes = append(infoHashes, ih)
		}
		s.RUnlock()
	}

	sort.Slice(infoHashes, func(i, j int) bool {
		return infoHashes[i].String() < infoHashes[j].String()
	})

	if offset >= len(infoHashes) {
		return nil
	}
	infoHashes = infoHashes[offset:]
	if limit < len(infoHashes) {
		infoHashes = infoHashes[:limit]
	}

	torrents := make([]Torrent, 0, len(infoHashes))
	for _, ih := range infoHashes {
		// A torrent can disappear between the walk and this read; skip it.
		if t, ok := r.GetTorrent(ih); ok {
			torrents = append(torrents, t)
		}
	}
	return torrents
}

// GetTorrent returns the stats for one known infohash.
func (r *Repository) GetTorrent(ih bittorrent.InfoHash) (Torrent, bool) {
	e := r.entry(ih, false)
	if e == nil {
		return Torrent{}, false
	}

	e.RLock()
	t := Torrent{InfoHash: ih, SwarmStats: e.statsLocked()}
	e.RUnlock()
	return t, true
}

// Stats aggregates swarm counts over the whole repository.
func (r *Repository) Stats() (torrents uint32, stats SwarmStats) {
	for _, s := range r.shards {
		s.RLock()
		entries := make([]*swarmEntry, 0, len(s.swarms))
		for _, e := range s.swarms {
			entries = append(entries, e)
		}
		s.RUnlock()

		for _, e := range entries {
			e.RLock()
			if !e.gone {
				torrents++
				es := e.statsLocked()
				stats.Seeders += es.Seeders
				stats.Leechers += es.Leechers
				stats.Completed += es.Completed
			}
			e.RUnlock()
		}
	}
	return torrents, stats
}

// Cleanup evicts every peer that has not announced since before the cutoff
// (seconds since the Unix Epoch).
//
// When removePeerless is set, swarm entries whose peer map drains are
// unlinked, except those with a non-zero completion counter while
// keepCompleted is set (their counter stays scrapeable).
//
// Shard locks are taken one at a time and released between shards so the
// stop-the-world footprint is a single shard.
func (r *Repository) Cleanup(cutoff int64, removePeerless, keepCompleted bool) {
	for _, s := range r.shards {
		s.RLock()
		infoHashes := make([]bittorrent.InfoHash, 0, len(s.swarms))
		for ih := range s.swarms {
			infoHashes = append(infoHashes, ih)
		}
		s.RUnlock()
		runtime.Gosched()

		for _, ih := range infoHashes {
			s.Lock()
			e, stillExists := s.swarms[ih]
			if !stillExists {
				s.Unlock()
				runtime.Gosched()
				continue
			}

			e.Lock()
			for id, p := range e.peers {
				if p.UpdatedAt < cutoff {
					if p.Seeding() {
						e.numSeeders--
					}
					delete(e.peers, id)
				}
			}

			if removePeerless && len(e.peers) == 0 && !(keepCompleted && e.completed > 0) {
				e.gone = true
				delete(s.swarms, ih)
			}
			e.Unlock()

			s.Unlock()
			runtime.Gosched()
		}
	}
}
