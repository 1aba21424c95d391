package udp

import (
	"bytes"
	"encoding/binary"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/torrust/torrust-tracker/bittorrent"
)

var testTxID = []byte{0, 0, 0, 1}

func TestWriteConnectionID(t *testing.T) {
	var buf bytes.Buffer
	connID := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	WriteConnectionID(&buf, testTxID, connID)

	out := buf.Bytes()
	require.Len(t, out, 16)
	require.Equal(t, connectActionID, binary.BigEndian.Uint32(out[0:4]))
	require.Equal(t, testTxID, out[4:8])
	require.Equal(t, connID, out[8:16])
}

func TestWriteAnnounceRoundTrip(t *testing.T) {
	resp := &bittorrent.AnnounceResponse{
		Complete:   7,
		Incomplete: 3,
		Interval:   2 * time.Minute,
		IPv4Peers: []bittorrent.Peer{
			{ID: bittorrent.PeerIDFromString("peer1peer1peer1peer1"), AddrPort: netip.MustParseAddrPort("1.2.3.4:6881")},
			{ID: bittorrent.PeerIDFromString("peer2peer2peer2peer2"), AddrPort: netip.MustParseAddrPort("5.6.7.8:51413")},
		},
	}

	var buf bytes.Buffer
	WriteAnnounce(&buf, testTxID, resp, false)

	out := buf.Bytes()
	require.Len(t, out, 8+12+2*6)
	require.Equal(t, announceActionID, binary.BigEndian.Uint32(out[0:4]))
	require.Equal(t, testTxID, out[4:8])

	// Decoding the fixed header yields the encoded structure.
	require.Equal(t, uint32(120), binary.BigEndian.Uint32(out[8:12]))
	require.Equal(t, resp.Incomplete, binary.BigEndian.Uint32(out[12:16]))
	require.Equal(t, resp.Complete, binary.BigEndian.Uint32(out[16:20]))

	// And the compact peer entries decode back to the peers.
	for i, peer := range resp.IPv4Peers {
		entry := out[20+6*i : 26+6*i]
		addr := netip.AddrFrom4([4]byte{entry[0], entry[1], entry[2], entry[3]})
		require.Equal(t, peer.AddrPort.Addr(), addr)
		require.Equal(t, peer.AddrPort.Port(), binary.BigEndian.Uint16(entry[4:6]))
	}
}

func TestWriteAnnounceV6(t *testing.T) {
	resp := &bittorrent.AnnounceResponse{
		Interval: time.Minute,
		IPv6Peers: []bittorrent.Peer{
			{ID: bittorrent.PeerIDFromString("peer1peer1peer1peer1"), AddrPort: netip.MustParseAddrPort("[2001:db8::1]:6881")},
		},
	}

	var buf bytes.Buffer
	WriteAnnounce(&buf, testTxID, resp, true)

	out := buf.Bytes()
	require.Len(t, out, 8+12+18)

	entry := out[20:38]
	var a [16]byte
	copy(a[:], entry[:16])
	require.Equal(t, netip.MustParseAddr("2001:db8::1"), netip.AddrFrom16(a))
	require.Equal(t, uint16(6881), binary.BigEndian.Uint16(entry[16:18]))
}

func TestWriteScrape(t *testing.T) {
	resp := &bittorrent.ScrapeResponse{
		Files: []bittorrent.Scrape{
			{Complete: 1, Snatches: 2, Incomplete: 3},
			{Complete: 0, Snatches: 0, Incomplete: 0},
		},
	}

	var buf bytes.Buffer
	WriteScrape(&buf, testTxID, resp)

	out := buf.Bytes()
	require.Len(t, out, 8+2*12)
	require.Equal(t, scrapeActionID, binary.BigEndian.Uint32(out[0:4]))

	require.Equal(t, uint32(1), binary.BigEndian.Uint32(out[8:12]))
	require.Equal(t, uint32(2), binary.BigEndian.Uint32(out[12:16]))
	require.Equal(t, uint32(3), binary.BigEndian.Uint32(out[16:20]))
	require.Equal(t, uint32(0), binary.BigEndian.Uint32(out[20:24]))
}

func TestWriteError(t *testing.T) {
	var buf bytes.Buffer
	WriteError(&buf, testTxID, bittorrent.ClientError("blocked"))

	out := buf.Bytes()
	require.Equal(t, errorActionID, binary.BigEndian.Uint32(out[0:4]))
	require.Equal(t, testTxID, out[4:8])
	require.Equal(t, "blocked\x00", string(out[8:]))
}

func TestWriteErrorHidesInternalErrors(t *testing.T) {
	var buf bytes.Buffer
	WriteError(&buf, testTxID, bytes.ErrTooLarge)

	require.True(t, bytes.HasPrefix(buf.Bytes()[8:], []byte("internal error occurred")))
}
