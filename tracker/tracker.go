// Package tracker composes the torrent repository, the auth-key service and
// the whitelist into the announce and scrape operations served by the
// frontends.
package tracker

import (
	"context"
	"net/netip"
	"time"

	"github.com/torrust/torrust-tracker/bittorrent"
	"github.com/torrust/torrust-tracker/pkg/log"
	"github.com/torrust/torrust-tracker/pkg/stop"
	"github.com/torrust/torrust-tracker/pkg/timecache"
	"github.com/torrust/torrust-tracker/storage"
	"github.com/torrust/torrust-tracker/tracker/auth"
	"github.com/torrust/torrust-tracker/tracker/torrents"
	"github.com/torrust/torrust-tracker/tracker/whitelist"
)

// Client-visible access-control rejections.
var (
	ErrAuthInvalid    = bittorrent.ClientError("invalid authentication key")
	ErrAuthExpired    = bittorrent.ClientError("authentication key expired")
	ErrNotWhitelisted = bittorrent.ClientError("infohash not whitelisted")
	ErrInvalidIP      = bittorrent.ClientError("invalid IP address")
)

// Default config constants.
const (
	defaultAnnounceInterval = 2 * time.Minute
	defaultMaxPeerTimeout   = 15 * time.Minute
	defaultCleanInterval    = 3 * time.Minute

	// persistInterval is the coalescing window of the background persister.
	persistInterval = 3 * time.Second

	// saveQueueLen bounds the persister backlog; saves beyond it are dropped
	// because in-memory state is authoritative during the session.
	saveQueueLen = 512
)

// Config holds the configuration of a Tracker.
type Config struct {
	Mode                           Mode            `yaml:"mode"`
	AnnounceInterval               time.Duration   `yaml:"announce_interval"`
	MinAnnounceInterval            time.Duration   `yaml:"min_announce_interval"`
	MaxPeerTimeout                 time.Duration   `yaml:"max_peer_timeout"`
	CleanInterval                  time.Duration   `yaml:"clean_interval"`
	RemovePeerlessTorrents         bool            `yaml:"remove_peerless_torrents"`
	PersistentTorrentCompletedStat bool            `yaml:"persistent_torrent_completed_stat"`
	Torrents                       torrents.Config `yaml:"torrents"`
}

// LogFields renders the current config as a set of logging fields.
func (cfg Config) LogFields() log.Fields {
	return log.Fields{
		"mode":                   cfg.Mode,
		"announceInterval":       cfg.AnnounceInterval,
		"minAnnounceInterval":    cfg.MinAnnounceInterval,
		"maxPeerTimeout":         cfg.MaxPeerTimeout,
		"cleanInterval":          cfg.CleanInterval,
		"removePeerlessTorrents": cfg.RemovePeerlessTorrents,
		"persistentCompleted":    cfg.PersistentTorrentCompletedStat,
	}
}

// Validate sanity checks values set in a config and returns a new config
// with default values replacing anything that is invalid.
func (cfg Config) Validate() Config {
	validcfg := cfg

	if cfg.Mode == "" {
		validcfg.Mode = ModePublic
		log.Warn("falling back to default configuration", log.Fields{
			"name":    "tracker.Mode",
			"default": validcfg.Mode,
		})
	}

	if cfg.AnnounceInterval <= 0 {
		validcfg.AnnounceInterval = defaultAnnounceInterval
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "tracker.AnnounceInterval",
			"provided": cfg.AnnounceInterval,
			"default":  validcfg.AnnounceInterval,
		})
	}

	if cfg.MinAnnounceInterval <= 0 {
		validcfg.MinAnnounceInterval = validcfg.AnnounceInterval
	}

	if cfg.MaxPeerTimeout <= 0 {
		validcfg.MaxPeerTimeout = defaultMaxPeerTimeout
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "tracker.MaxPeerTimeout",
			"provided": cfg.MaxPeerTimeout,
			"default":  validcfg.MaxPeerTimeout,
		})
	}

	if cfg.CleanInterval <= 0 {
		validcfg.CleanInterval = defaultCleanInterval
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "tracker.CleanInterval",
			"provided": cfg.CleanInterval,
			"default":  validcfg.CleanInterval,
		})
	}

	return validcfg
}

type saveRequest struct {
	infoHash  bittorrent.InfoHash
	completed uint32
}

// Tracker is the facade over all swarm state and access control.
type Tracker struct {
	cfg Config

	repo      *torrents.Repository
	keys      *auth.Service
	whitelist *whitelist.Service
	db        storage.Database
	clock     *timecache.TimeCache

	saves  chan saveRequest
	closed chan struct{}
	done   chan struct{}
}

// New creates a Tracker on top of db, repopulating in-memory state from it.
//
// Schema creation or state loading failures are fatal boot conditions and
// are returned as errors.
func New(provided Config, db storage.Database, clock *timecache.TimeCache) (*Tracker, error) {
	cfg := provided.Validate()
	if err := cfg.Mode.Validate(); err != nil {
		return nil, err
	}

	if err := db.CreateSchema(); err != nil {
		return nil, err
	}

	t := &Tracker{
		cfg:       cfg,
		repo:      torrents.New(cfg.Torrents, clock),
		keys:      auth.NewService(db, clock),
		whitelist: whitelist.NewService(db),
		db:        db,
		clock:     clock,
		saves:     make(chan saveRequest, saveQueueLen),
		closed:    make(chan struct{}),
		done:      make(chan struct{}),
	}

	if cfg.PersistentTorrentCompletedStat {
		persisted, err := db.LoadPersistentTorrents()
		if err != nil {
			return nil, err
		}
		for _, pt := range persisted {
			t.repo.Restore(pt.InfoHash, pt.Completed)
		}
		log.Info("loaded persistent torrents", log.Fields{"count": len(persisted)})
	}

	if err := t.keys.Reload(); err != nil {
		return nil, err
	}
	if err := t.whitelist.Reload(); err != nil {
		return nil, err
	}

	go t.run()

	log.Info("tracker started", cfg)
	return t, nil
}

func (t *Tracker) now() int64 {
	if t.clock != nil {
		return t.clock.NowUnix()
	}
	return timecache.NowUnix()
}

// run drives the background jobs: the repository GC and the coalescing
// persister. Both live on one goroutine; neither is allowed on the packet
// hot path.
func (t *Tracker) run() {
	defer close(t.done)

	gc := time.NewTicker(t.cfg.CleanInterval)
	defer gc.Stop()

	flush := time.NewTicker(persistInterval)
	defer flush.Stop()

	pending := make(map[bittorrent.InfoHash]uint32)

	for {
		select {
		case <-t.closed:
			for len(t.saves) > 0 {
				req := <-t.saves
				pending[req.infoHash] = req.completed
			}
			t.flush(pending)
			return

		case req := <-t.saves:
			pending[req.infoHash] = req.completed

		case <-flush.C:
			t.flush(pending)

		case <-gc.C:
			cutoff := t.now() - int64(t.cfg.MaxPeerTimeout/time.Second)
			log.Debug("tracker: purging peers with no announces since", log.Fields{"cutoff": cutoff})
			t.repo.Cleanup(cutoff, t.cfg.RemovePeerlessTorrents, t.cfg.PersistentTorrentCompletedStat)
		}
	}
}

// flush writes the coalesced completion counters. Failures are logged and
// dropped; in-memory state stays authoritative.
func (t *Tracker) flush(pending map[bittorrent.InfoHash]uint32) {
	for ih, completed := range pending {
		if err := t.db.SavePersistentTorrent(ih, completed); err != nil {
			log.Error("tracker: failed to persist completion counter", log.Fields{
				"infoHash": ih.String(),
			}, log.Err(err))
		}
		delete(pending, ih)
	}
}

// authorize enforces the mode policy for one request.
func (t *Tracker) authorize(ih bittorrent.InfoHash, key string) error {
	if t.cfg.Mode.RequiresKey() {
		switch err := t.keys.Verify(key); err {
		case nil:
		case auth.ErrKeyExpired:
			return ErrAuthExpired
		default:
			return ErrAuthInvalid
		}
	}

	if t.cfg.Mode.RequiresWhitelist() && !t.whitelist.Contains(ih) {
		return ErrNotWhitelisted
	}

	return nil
}

// canonicalAddr applies the IP substitution rule: a missing or unspecified
// declared address means the request's source address, and IPv4-mapped IPv6
// addresses collapse to their 4-byte form.
func canonicalAddr(declared, source netip.Addr) netip.Addr {
	addr := declared
	if !addr.IsValid() || addr.IsUnspecified() {
		addr = source
	}
	return addr.Unmap()
}

// HandleAnnounce generates a response for an Announce.
//
// Every failure is returned without mutating swarm state.
func (t *Tracker) HandleAnnounce(_ context.Context, req *bittorrent.AnnounceRequest) (*bittorrent.AnnounceResponse, error) {
	if err := t.authorize(req.InfoHash, req.Key); err != nil {
		return nil, err
	}

	addr := canonicalAddr(req.AddrPort.Addr(), req.SourceAddr)
	if !addr.IsValid() {
		return nil, ErrInvalidIP
	}

	peer := torrents.Peer{
		Peer: bittorrent.Peer{
			ID:       req.ID,
			AddrPort: netip.AddrPortFrom(addr, req.AddrPort.Port()),
		},
		Uploaded:   req.Uploaded,
		Downloaded: req.Downloaded,
		Left:       req.Left,
		Event:      req.Event,
	}

	stats, delta := t.repo.UpdatePeer(req.InfoHash, peer)
	if delta > 0 && t.cfg.PersistentTorrentCompletedStat {
		select {
		case t.saves <- saveRequest{infoHash: req.InfoHash, completed: stats.Completed}:
		default:
			log.Warn("tracker: persister backlog full, dropping save", log.Fields{
				"infoHash": req.InfoHash.String(),
			})
		}
	}

	resp := &bittorrent.AnnounceResponse{
		Compact:     req.Compact,
		Complete:    stats.Seeders,
		Incomplete:  stats.Leechers,
		Interval:    t.cfg.AnnounceInterval,
		MinInterval: t.cfg.MinAnnounceInterval,
	}

	for _, p := range t.repo.GetPeers(req.InfoHash, req.ID, int(req.NumWant)) {
		// Mixed swarms answer with the client's address family only.
		if p.AddrPort.Addr().Is4() == addr.Is4() {
			if addr.Is4() {
				resp.IPv4Peers = append(resp.IPv4Peers, p.Peer)
			} else {
				resp.IPv6Peers = append(resp.IPv6Peers, p.Peer)
			}
		}
	}

	log.Debug("generated announce response", log.Fields{
		"infoHash": req.InfoHash.String(),
		"seeders":  stats.Seeders,
		"leechers": stats.Leechers,
	})
	return resp, nil
}

// HandleScrape generates a response for a Scrape.
//
// By protocol convention an unauthorized scrape is answered with all-zero
// rows rather than an error; unlisted and unknown infohashes scrape as zeros
// too.
func (t *Tracker) HandleScrape(_ context.Context, req *bittorrent.ScrapeRequest) (*bittorrent.ScrapeResponse, error) {
	resp := &bittorrent.ScrapeResponse{
		Files: make([]bittorrent.Scrape, 0, len(req.InfoHashes)),
	}

	authorized := true
	if t.cfg.Mode.RequiresKey() && t.keys.Verify(req.Key) != nil {
		authorized = false
	}

	for _, ih := range req.InfoHashes {
		row := bittorrent.Scrape{InfoHash: ih}

		if authorized && (!t.cfg.Mode.RequiresWhitelist() || t.whitelist.Contains(ih)) {
			stats := t.repo.Scrape(ih)
			row.Complete = stats.Seeders
			row.Incomplete = stats.Leechers
			row.Snatches = stats.Completed
		}

		resp.Files = append(resp.Files, row)
	}

	return resp, nil
}

// Torrents exposes the swarm repository for the management API.
func (t *Tracker) Torrents() *torrents.Repository { return t.repo }

// Keys exposes the auth-key service for the management API.
func (t *Tracker) Keys() *auth.Service { return t.keys }

// Whitelist exposes the whitelist service for the management API.
func (t *Tracker) Whitelist() *whitelist.Service { return t.whitelist }

// Mode returns the access-control mode the tracker runs in.
func (t *Tracker) Mode() Mode { return t.cfg.Mode }

// Stop shuts down the background jobs, flushes outstanding saves and closes
// the database.
func (t *Tracker) Stop() stop.Result {
	select {
	case <-t.closed:
		return stop.AlreadyStopped
	default:
	}

	c := make(stop.Channel)
	go func() {
		close(t.closed)
		<-t.done
		c.Done(t.db.Close())
	}()

	return c.Result()
}
