package tracker

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/torrust/torrust-tracker/bittorrent"
	"github.com/torrust/torrust-tracker/storage"
	"github.com/torrust/torrust-tracker/storage/memory"
)

var testInfoHash = bittorrent.InfoHashFromString("00000000000000000001")

func newTestTracker(t *testing.T, cfg Config) (*Tracker, storage.Database) {
	t.Helper()

	db := memory.New()
	tkr, err := New(cfg, db, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		for err := range tkr.Stop() {
			t.Error(err)
		}
	})
	return tkr, db
}

func announceReq(id string, addrPort, source string, left uint64, event bittorrent.Event) *bittorrent.AnnounceRequest {
	return &bittorrent.AnnounceRequest{
		Event:      event,
		InfoHash:   testInfoHash,
		NumWant:    50,
		Left:       left,
		SourceAddr: netip.MustParseAddr(source),
		Peer: bittorrent.Peer{
			ID:       bittorrent.PeerIDFromString(id),
			AddrPort: netip.MustParseAddrPort(addrPort),
		},
	}
}

func TestAnnounceFreshSwarm(t *testing.T) {
	tkr, _ := newTestTracker(t, Config{})

	resp, err := tkr.HandleAnnounce(context.Background(), announceReq("peer1peer1peer1peer1", "1.2.3.4:6881", "1.2.3.4", 100, bittorrent.Started))
	require.NoError(t, err)
	require.Equal(t, uint32(0), resp.Complete)
	require.Equal(t, uint32(1), resp.Incomplete)
	require.Empty(t, resp.IPv4Peers)
	require.Empty(t, resp.IPv6Peers)
}

func TestAnnounceCompletionCounter(t *testing.T) {
	tkr, _ := newTestTracker(t, Config{})

	_, err := tkr.HandleAnnounce(context.Background(), announceReq("peer1peer1peer1peer1", "1.2.3.4:6881", "1.2.3.4", 100, bittorrent.Started))
	require.NoError(t, err)

	resp, err := tkr.HandleAnnounce(context.Background(), announceReq("peer1peer1peer1peer1", "1.2.3.4:6881", "1.2.3.4", 0, bittorrent.Completed))
	require.NoError(t, err)
	require.Equal(t, uint32(1), resp.Complete)
	require.Equal(t, uint32(0), resp.Incomplete)

	scrape, err := tkr.HandleScrape(context.Background(), &bittorrent.ScrapeRequest{InfoHashes: []bittorrent.InfoHash{testInfoHash}})
	require.NoError(t, err)
	require.Equal(t, uint32(1), scrape.Files[0].Snatches)

	// An identical repeated announce leaves the counter alone.
	_, err = tkr.HandleAnnounce(context.Background(), announceReq("peer1peer1peer1peer1", "1.2.3.4:6881", "1.2.3.4", 0, bittorrent.Completed))
	require.NoError(t, err)
	scrape, err = tkr.HandleScrape(context.Background(), &bittorrent.ScrapeRequest{InfoHashes: []bittorrent.InfoHash{testInfoHash}})
	require.NoError(t, err)
	require.Equal(t, uint32(1), scrape.Files[0].Snatches)
}

func TestAnnounceSecondPeerSeesFirst(t *testing.T) {
	tkr, _ := newTestTracker(t, Config{})

	_, err := tkr.HandleAnnounce(context.Background(), announceReq("peer1peer1peer1peer1", "1.2.3.4:6881", "1.2.3.4", 0, bittorrent.Completed))
	require.NoError(t, err)

	resp, err := tkr.HandleAnnounce(context.Background(), announceReq("peer2peer2peer2peer2", "5.6.7.8:6881", "5.6.7.8", 50, bittorrent.Started))
	require.NoError(t, err)
	require.Equal(t, uint32(1), resp.Complete)
	require.Equal(t, uint32(1), resp.Incomplete)
	require.Len(t, resp.IPv4Peers, 1)
	require.Equal(t, bittorrent.PeerIDFromString("peer1peer1peer1peer1"), resp.IPv4Peers[0].ID)
	require.Equal(t, netip.MustParseAddrPort("1.2.3.4:6881"), resp.IPv4Peers[0].AddrPort)
}

func TestAnnounceStopRemovesPeer(t *testing.T) {
	tkr, _ := newTestTracker(t, Config{})

	_, err := tkr.HandleAnnounce(context.Background(), announceReq("peer1peer1peer1peer1", "1.2.3.4:6881", "1.2.3.4", 0, bittorrent.Completed))
	require.NoError(t, err)
	_, err = tkr.HandleAnnounce(context.Background(), announceReq("peer2peer2peer2peer2", "5.6.7.8:6881", "5.6.7.8", 50, bittorrent.Started))
	require.NoError(t, err)

	resp, err := tkr.HandleAnnounce(context.Background(), announceReq("peer1peer1peer1peer1", "1.2.3.4:6881", "1.2.3.4", 0, bittorrent.Stopped))
	require.NoError(t, err)
	require.Equal(t, uint32(0), resp.Complete)
	require.Equal(t, uint32(1), resp.Incomplete)

	scrape, err := tkr.HandleScrape(context.Background(), &bittorrent.ScrapeRequest{InfoHashes: []bittorrent.InfoHash{testInfoHash}})
	require.NoError(t, err)
	require.Equal(t, uint32(1), scrape.Files[0].Snatches, "stopping must not change the counter")
	require.Equal(t, uint32(1), scrape.Files[0].Incomplete)
}

func TestAnnounceSourceIPSubstitution(t *testing.T) {
	tkr, _ := newTestTracker(t, Config{})

	// Declared address 0.0.0.0 means "use the source address".
	req := announceReq("peer1peer1peer1peer1", "0.0.0.0:6881", "9.9.9.9", 10, bittorrent.Started)
	_, err := tkr.HandleAnnounce(context.Background(), req)
	require.NoError(t, err)

	resp, err := tkr.HandleAnnounce(context.Background(), announceReq("peer2peer2peer2peer2", "5.6.7.8:6881", "5.6.7.8", 10, bittorrent.Started))
	require.NoError(t, err)
	require.Len(t, resp.IPv4Peers, 1)
	require.Equal(t, netip.MustParseAddrPort("9.9.9.9:6881"), resp.IPv4Peers[0].AddrPort)
}

func TestAnnounceFamilyFiltering(t *testing.T) {
	tkr, _ := newTestTracker(t, Config{})

	_, err := tkr.HandleAnnounce(context.Background(), announceReq("peer1peer1peer1peer1", "1.2.3.4:6881", "1.2.3.4", 10, bittorrent.Started))
	require.NoError(t, err)
	_, err = tkr.HandleAnnounce(context.Background(), announceReq("peer2peer2peer2peer2", "[2001:db8::1]:6881", "2001:db8::1", 10, bittorrent.Started))
	require.NoError(t, err)

	resp, err := tkr.HandleAnnounce(context.Background(), announceReq("peer3peer3peer3peer3", "[2001:db8::2]:6881", "2001:db8::2", 10, bittorrent.Started))
	require.NoError(t, err)
	require.Empty(t, resp.IPv4Peers)
	require.Len(t, resp.IPv6Peers, 1)
	require.Equal(t, bittorrent.PeerIDFromString("peer2peer2peer2peer2"), resp.IPv6Peers[0].ID)
}

func TestAnnounceWhitelistGate(t *testing.T) {
	tkr, _ := newTestTracker(t, Config{Mode: ModeListed})

	req := announceReq("peer1peer1peer1peer1", "1.2.3.4:6881", "1.2.3.4", 10, bittorrent.Started)
	_, err := tkr.HandleAnnounce(context.Background(), req)
	require.Equal(t, ErrNotWhitelisted, err)

	require.NoError(t, tkr.Whitelist().Add(testInfoHash))
	_, err = tkr.HandleAnnounce(context.Background(), req)
	require.NoError(t, err)
}

func TestAnnouncePrivateMode(t *testing.T) {
	tkr, _ := newTestTracker(t, Config{Mode: ModePrivate})

	req := announceReq("peer1peer1peer1peer1", "1.2.3.4:6881", "1.2.3.4", 10, bittorrent.Started)
	_, err := tkr.HandleAnnounce(context.Background(), req)
	require.Equal(t, ErrAuthInvalid, err)

	k, err := tkr.Keys().Generate(time.Hour)
	require.NoError(t, err)

	req.Key = k.Key
	_, err = tkr.HandleAnnounce(context.Background(), req)
	require.NoError(t, err)
}

func TestScrapeUnauthorizedIsAllZeros(t *testing.T) {
	tkr, _ := newTestTracker(t, Config{Mode: ModePrivate})

	k, err := tkr.Keys().Generate(time.Hour)
	require.NoError(t, err)

	req := announceReq("peer1peer1peer1peer1", "1.2.3.4:6881", "1.2.3.4", 0, bittorrent.Completed)
	req.Key = k.Key
	_, err = tkr.HandleAnnounce(context.Background(), req)
	require.NoError(t, err)

	// Without a key the scrape succeeds but reports nothing.
	resp, err := tkr.HandleScrape(context.Background(), &bittorrent.ScrapeRequest{InfoHashes: []bittorrent.InfoHash{testInfoHash}})
	require.NoError(t, err)
	require.Len(t, resp.Files, 1)
	require.Equal(t, bittorrent.Scrape{InfoHash: testInfoHash}, resp.Files[0])

	// With the key it reports the swarm.
	resp, err = tkr.HandleScrape(context.Background(), &bittorrent.ScrapeRequest{InfoHashes: []bittorrent.InfoHash{testInfoHash}, Key: k.Key})
	require.NoError(t, err)
	require.Equal(t, uint32(1), resp.Files[0].Complete)
	require.Equal(t, uint32(1), resp.Files[0].Snatches)
}

func TestPersistentCompletionSurvivesRestart(t *testing.T) {
	db := memory.New()
	cfg := Config{PersistentTorrentCompletedStat: true}

	tkr, err := New(cfg, db, nil)
	require.NoError(t, err)

	_, err = tkr.HandleAnnounce(context.Background(), announceReq("peer1peer1peer1peer1", "1.2.3.4:6881", "1.2.3.4", 0, bittorrent.Completed))
	require.NoError(t, err)

	// Stop flushes the coalesced counter; the memory database is shared
	// with the "restarted" tracker below.
	for err := range tkr.Stop() {
		require.NoError(t, err)
	}

	restarted, err := New(cfg, db, nil)
	require.NoError(t, err)
	defer restarted.Stop()

	scrape, err := restarted.HandleScrape(context.Background(), &bittorrent.ScrapeRequest{InfoHashes: []bittorrent.InfoHash{testInfoHash}})
	require.NoError(t, err)
	require.Equal(t, uint32(1), scrape.Files[0].Snatches)
}

func TestModePolicies(t *testing.T) {
	require.False(t, ModePublic.RequiresKey())
	require.False(t, ModePublic.RequiresWhitelist())
	require.True(t, ModeListed.RequiresWhitelist())
	require.True(t, ModePrivate.RequiresKey())
	require.True(t, ModePrivateListed.RequiresKey())
	require.True(t, ModePrivateListed.RequiresWhitelist())
	require.Error(t, Mode("open").Validate())
}
