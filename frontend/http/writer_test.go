package http

import (
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/torrust/torrust-tracker/bittorrent"
)

func TestWriteError(t *testing.T) {
	var table = []struct {
		reason, expected string
	}{
		{"hello world", "d14:failure reason11:hello worlde"},
		{"what's up", "d14:failure reason9:what's upe"},
	}

	for _, tt := range table {
		r := httptest.NewRecorder()
		err := WriteError(r, bittorrent.ClientError(tt.reason))
		require.NoError(t, err)
		require.Equal(t, tt.expected, r.Body.String())
	}
}

func TestWriteErrorHidesInternalErrors(t *testing.T) {
	r := httptest.NewRecorder()
	err := WriteError(r, bittorrent.ErrUnknownEvent)
	require.NoError(t, err)
	require.Equal(t, "d14:failure reason21:internal server errore", r.Body.String())
}

func TestWriteAnnounceResponseCompact(t *testing.T) {
	resp := &bittorrent.AnnounceResponse{
		Compact:     true,
		Complete:    1,
		Incomplete:  2,
		Interval:    2 * time.Minute,
		MinInterval: time.Minute,
		IPv4Peers: []bittorrent.Peer{
			{ID: bittorrent.PeerIDFromString("peer1peer1peer1peer1"), AddrPort: netip.MustParseAddrPort("1.2.3.4:6881")},
		},
	}

	r := httptest.NewRecorder()
	require.NoError(t, WriteAnnounceResponse(r, resp))
	require.Equal(t,
		"d8:completei1e10:incompletei2e8:intervali120e12:min intervali60e5:peers6:\x01\x02\x03\x04\x1a\xe1e",
		r.Body.String())
}

func TestWriteAnnounceResponseNonCompact(t *testing.T) {
	resp := &bittorrent.AnnounceResponse{
		Complete:   1,
		Incomplete: 0,
		Interval:   time.Minute,
		IPv4Peers: []bittorrent.Peer{
			{ID: bittorrent.PeerIDFromString("peer1peer1peer1peer1"), AddrPort: netip.MustParseAddrPort("1.2.3.4:6881")},
		},
	}

	r := httptest.NewRecorder()
	require.NoError(t, WriteAnnounceResponse(r, resp))
	require.Equal(t,
		"d8:completei1e10:incompletei0e8:intervali60e12:min intervali0e5:peersld2:ip7:1.2.3.47:peer id20:peer1peer1peer1peer14:porti6881eeee",
		r.Body.String())
}

func TestWriteScrapeResponse(t *testing.T) {
	ih := bittorrent.InfoHashFromString("AAAAAAAAAAAAAAAAAAAA")
	resp := &bittorrent.ScrapeResponse{
		Files: []bittorrent.Scrape{
			{InfoHash: ih, Complete: 4, Snatches: 8, Incomplete: 2},
		},
	}

	r := httptest.NewRecorder()
	require.NoError(t, WriteScrapeResponse(r, resp))
	require.Equal(t,
		"d5:filesd20:AAAAAAAAAAAAAAAAAAAAd8:completei4e10:downloadedi8e10:incompletei2eeee",
		r.Body.String())
}
