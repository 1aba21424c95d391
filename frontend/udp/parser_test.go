package udp

import (
	"encoding/binary"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/torrust/torrust-tracker/bittorrent"
)

var testOpts = ParseOptions{MaxNumWant: 74, DefaultNumWant: 74, MaxScrapeInfoHashes: 74}

// buildAnnouncePacket lays out a BEP 15 announce request.
func buildAnnouncePacket(infoHash, peerID string, downloaded, left, uploaded uint64, event uint32, ip [4]byte, numWant int32, port uint16, urlData string) []byte {
	p := make([]byte, 98)
	binary.BigEndian.PutUint64(p[0:8], 0xc0ffee)          // connection_id, validated elsewhere
	binary.BigEndian.PutUint32(p[8:12], announceActionID) // action
	binary.BigEndian.PutUint32(p[12:16], 0xdead)          // transaction_id
	copy(p[16:36], infoHash)
	copy(p[36:56], peerID)
	binary.BigEndian.PutUint64(p[56:64], downloaded)
	binary.BigEndian.PutUint64(p[64:72], left)
	binary.BigEndian.PutUint64(p[72:80], uploaded)
	binary.BigEndian.PutUint32(p[80:84], event)
	copy(p[84:88], ip[:])
	binary.BigEndian.PutUint32(p[88:92], 0xabad1dea) // key
	binary.BigEndian.PutUint32(p[92:96], uint32(numWant))
	binary.BigEndian.PutUint16(p[96:98], port)

	if urlData != "" {
		p = append(p, optionURLData, byte(len(urlData)))
		p = append(p, urlData...)
		p = append(p, optionEndOfOptions)
	}
	return p
}

func TestParseAnnounce(t *testing.T) {
	pkt := buildAnnouncePacket("00000000000000000001", "peer1peer1peer1peer1", 1234, 4321, 5678, 2, [4]byte{0, 0, 0, 0}, -1, 6881, "")
	src := netip.MustParseAddr("1.2.3.4")

	req, err := ParseAnnounce(Request{Packet: pkt, Addr: src}, false, testOpts)
	require.NoError(t, err)

	require.Equal(t, bittorrent.Started, req.Event)
	require.Equal(t, bittorrent.InfoHashFromString("00000000000000000001"), req.InfoHash)
	require.Equal(t, bittorrent.PeerIDFromString("peer1peer1peer1peer1"), req.ID)
	require.Equal(t, uint64(1234), req.Downloaded)
	require.Equal(t, uint64(4321), req.Left)
	require.Equal(t, uint64(5678), req.Uploaded)
	require.Equal(t, uint16(6881), req.AddrPort.Port())
	require.Equal(t, src, req.SourceAddr)

	// numWant == -1 means the configured default.
	require.Equal(t, uint32(74), req.NumWant)

	// The declared address was all zeros, so none was recorded.
	require.False(t, req.AddrPort.Addr().IsValid())
}

func TestParseAnnounceDeclaredIP(t *testing.T) {
	pkt := buildAnnouncePacket("00000000000000000001", "peer1peer1peer1peer1", 0, 0, 0, 0, [4]byte{5, 6, 7, 8}, 10, 6881, "")

	req, err := ParseAnnounce(Request{Packet: pkt, Addr: netip.MustParseAddr("1.2.3.4")}, false, testOpts)
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("5.6.7.8"), req.AddrPort.Addr())
	require.Equal(t, uint32(10), req.NumWant)
}

func TestParseAnnounceClampsNumWant(t *testing.T) {
	pkt := buildAnnouncePacket("00000000000000000001", "peer1peer1peer1peer1", 0, 0, 0, 0, [4]byte{}, 500, 6881, "")

	req, err := ParseAnnounce(Request{Packet: pkt, Addr: netip.MustParseAddr("1.2.3.4")}, false, testOpts)
	require.NoError(t, err)
	require.Equal(t, uint32(74), req.NumWant)
}

func TestParseAnnounceBadEvent(t *testing.T) {
	pkt := buildAnnouncePacket("00000000000000000001", "peer1peer1peer1peer1", 0, 0, 0, 9, [4]byte{}, 1, 6881, "")

	_, err := ParseAnnounce(Request{Packet: pkt, Addr: netip.MustParseAddr("1.2.3.4")}, false, testOpts)
	require.Equal(t, errMalformedEvent, err)
}

func TestParseAnnounceShortPacket(t *testing.T) {
	pkt := buildAnnouncePacket("00000000000000000001", "peer1peer1peer1peer1", 0, 0, 0, 0, [4]byte{}, 1, 6881, "")

	_, err := ParseAnnounce(Request{Packet: pkt[:90], Addr: netip.MustParseAddr("1.2.3.4")}, false, testOpts)
	require.Equal(t, errMalformedPacket, err)
}

func TestParseAnnounceURLDataKey(t *testing.T) {
	for _, urlData := range []string{"/announce?key=s3cr3tk3y", "/announce/s3cr3tk3y"} {
		pkt := buildAnnouncePacket("00000000000000000001", "peer1peer1peer1peer1", 0, 0, 0, 0, [4]byte{}, 1, 6881, urlData)

		req, err := ParseAnnounce(Request{Packet: pkt, Addr: netip.MustParseAddr("1.2.3.4")}, false, testOpts)
		require.NoError(t, err)
		require.Equal(t, "s3cr3tk3y", req.Key, "urlData: %s", urlData)
	}
}

func TestParseScrape(t *testing.T) {
	p := make([]byte, 16, 56)
	binary.BigEndian.PutUint32(p[8:12], scrapeActionID)
	p = append(p, "00000000000000000001"...)
	p = append(p, "00000000000000000002"...)

	req, err := ParseScrape(Request{Packet: p}, testOpts)
	require.NoError(t, err)
	require.Len(t, req.InfoHashes, 2)
	require.Equal(t, bittorrent.InfoHashFromString("00000000000000000001"), req.InfoHashes[0])
	require.Equal(t, bittorrent.InfoHashFromString("00000000000000000002"), req.InfoHashes[1])
}

func TestParseScrapeMalformed(t *testing.T) {
	// Too short.
	_, err := ParseScrape(Request{Packet: make([]byte, 20)}, testOpts)
	require.Equal(t, errMalformedPacket, err)

	// Trailing partial infohash.
	p := make([]byte, 16)
	p = append(p, "000000000000000000010000"...)
	_, err = ParseScrape(Request{Packet: p}, testOpts)
	require.Equal(t, errMalformedPacket, err)
}

func TestParseScrapeTruncatesToMax(t *testing.T) {
	opts := ParseOptions{MaxNumWant: 74, DefaultNumWant: 74, MaxScrapeInfoHashes: 2}

	p := make([]byte, 16)
	for i := 0; i < 4; i++ {
		p = append(p, "00000000000000000001"...)
	}

	req, err := ParseScrape(Request{Packet: p}, opts)
	require.NoError(t, err)
	require.Len(t, req.InfoHashes, 2)
}

func TestHandleOptionalParameters(t *testing.T) {
	tests := []struct {
		name     string
		packet   []byte
		params   map[string]string
		expected error
	}{
		{"nil", nil, nil, nil},
		{"empty", []byte{}, nil, nil},
		{"nop only", []byte{optionNOP, optionNOP, optionEndOfOptions}, nil, nil},
		{"urldata", append([]byte{optionURLData, 13}, "/?k1=yes&k2=no"[:13]...), map[string]string{"k1": "yes", "k2": "n"}, nil},
		{"truncated length", []byte{optionURLData}, nil, errMalformedPacket},
		{"overlong urldata", []byte{optionURLData, 10, 'a'}, nil, errMalformedPacket},
		{"unknown option", []byte{0x7f}, nil, errUnknownOptionType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, err := handleOptionalParameters(tt.packet)
			require.Equal(t, tt.expected, err)
			if err != nil {
				return
			}

			for key, want := range tt.params {
				got, ok := params.String(key)
				require.True(t, ok, "key %q missing", key)
				require.Equal(t, want, got)
			}
		})
	}
}
