package udp

import (
	"encoding/binary"
	"net/netip"
	"strings"

	"github.com/torrust/torrust-tracker/bittorrent"
)

const (
	connectActionID uint32 = iota
	announceActionID
	scrapeActionID
	errorActionID
	// action == 4 is the "old" IPv6 action used by opentracker, with a packet
	// format specified at
	// https://web.archive.org/web/20170503181830/http://opentracker.blog.h3q.com/2007/12/28/the-ipv6-situation/
	announceV6ActionID
)

// Option-Types as described in BEP 41 and BEP 45.
const (
	optionEndOfOptions byte = 0x0
	optionNOP          byte = 0x1
	optionURLData      byte = 0x2
)

// initialConnectionIDMagic is the protocol identifier a Connect request must
// carry in place of a connection ID.
const initialConnectionIDMagic uint64 = 0x41727101980

var (
	// eventIDs map values described in BEP 15 to Events.
	eventIDs = []bittorrent.Event{
		bittorrent.None,
		bittorrent.Completed,
		bittorrent.Started,
		bittorrent.Stopped,
	}

	errMalformedPacket   = bittorrent.ClientError("malformed packet")
	errMalformedEvent    = bittorrent.ClientError("malformed event ID")
	errUnknownAction     = bittorrent.ClientError("unknown action ID")
	errBadConnectionID   = bittorrent.ClientError("bad connection ID")
	errUnknownOptionType = bittorrent.ClientError("unknown option type")
)

// ParseOptions is the configuration used to parse an Announce Request.
type ParseOptions struct {
	MaxNumWant          uint32 `yaml:"max_numwant"`
	DefaultNumWant      uint32 `yaml:"default_numwant"`
	MaxScrapeInfoHashes uint32 `yaml:"max_scrape_infohashes"`
}

// Default parser config constants.
const (
	defaultMaxNumWant          uint32 = 74
	defaultDefaultNumWant      uint32 = 74
	defaultMaxScrapeInfoHashes uint32 = 74
)

// ParseAnnounce parses an AnnounceRequest from a UDP request.
//
// If v6Action is true, the announce is parsed the "old opentracker way" with
// a 16-byte declared address.
func ParseAnnounce(r Request, v6Action bool, opts ParseOptions) (*bittorrent.AnnounceRequest, error) {
	ipEnd := 84 + 4
	if v6Action {
		ipEnd = 84 + 16
	}

	if len(r.Packet) < ipEnd+10 {
		return nil, errMalformedPacket
	}

	infohash := r.Packet[16:36]
	peerID := r.Packet[36:56]
	downloaded := binary.BigEndian.Uint64(r.Packet[56:64])
	left := binary.BigEndian.Uint64(r.Packet[64:72])
	uploaded := binary.BigEndian.Uint64(r.Packet[72:80])

	eventID := int(binary.BigEndian.Uint32(r.Packet[80:84]))
	if eventID >= len(eventIDs) {
		return nil, errMalformedEvent
	}

	// The declared address; all zeros means "use the source address".
	var declared netip.Addr
	if v6Action {
		var a [16]byte
		copy(a[:], r.Packet[84:ipEnd])
		if a != [16]byte{} {
			declared = netip.AddrFrom16(a)
		}
	} else {
		var a [4]byte
		copy(a[:], r.Packet[84:ipEnd])
		if a != [4]byte{} {
			declared = netip.AddrFrom4(a)
		}
	}

	numWant := int32(binary.BigEndian.Uint32(r.Packet[ipEnd+4 : ipEnd+8]))
	port := binary.BigEndian.Uint16(r.Packet[ipEnd+8 : ipEnd+10])

	params, err := handleOptionalParameters(r.Packet[ipEnd+10:])
	if err != nil {
		return nil, err
	}

	request := &bittorrent.AnnounceRequest{
		Event:      eventIDs[eventID],
		InfoHash:   bittorrent.InfoHashFromBytes(infohash),
		NumWant:    clampNumWant(numWant, opts),
		Left:       left,
		Downloaded: downloaded,
		Uploaded:   uploaded,
		Key:        authKeyFromParams(params),
		SourceAddr: r.Addr,
		Peer: bittorrent.Peer{
			ID:       bittorrent.PeerIDFromBytes(peerID),
			AddrPort: netip.AddrPortFrom(declared, port),
		},
		Params: params,
	}

	return request, nil
}

// clampNumWant applies the default for negative values and the configured
// ceiling for everything else.
func clampNumWant(numWant int32, opts ParseOptions) uint32 {
	if numWant < 0 {
		return opts.DefaultNumWant
	}
	if uint32(numWant) > opts.MaxNumWant {
		return opts.MaxNumWant
	}
	return uint32(numWant)
}

// authKeyFromParams extracts the authentication key a private-mode client
// sent in BEP 41 URLData, either as a "key" query parameter or as the last
// path segment ("/announce/<key>").
func authKeyFromParams(params bittorrent.Params) string {
	if params == nil {
		return ""
	}
	if key, ok := params.String("key"); ok {
		return key
	}
	if path := params.RawPath(); path != "" {
		if i := strings.LastIndexByte(path[1:], '/'); i >= 0 {
			return path[i+2:]
		}
	}
	return ""
}

// handleOptionalParameters parses the optional parameters as described in
// BEP 41.
func handleOptionalParameters(packet []byte) (bittorrent.Params, error) {
	if len(packet) == 0 {
		return bittorrent.ParseURLData("")
	}

	var builder strings.Builder
	for i := 0; i < len(packet); {
		option := packet[i]
		switch option {
		case optionEndOfOptions:
			return bittorrent.ParseURLData(builder.String())
		case optionNOP:
			i++
		case optionURLData:
			if i+1 >= len(packet) {
				return nil, errMalformedPacket
			}

			length := int(packet[i+1])
			if i+2+length > len(packet) {
				return nil, errMalformedPacket
			}

			builder.Write(packet[i+2 : i+2+length])
			i += 2 + length
		default:
			return nil, errUnknownOptionType
		}
	}

	return bittorrent.ParseURLData(builder.String())
}

// ParseScrape parses a ScrapeRequest from a UDP request.
func ParseScrape(r Request, opts ParseOptions) (*bittorrent.ScrapeRequest, error) {
	// If a scrape isn't at least 36 bytes long, it's malformed.
	if len(r.Packet) < 36 {
		return nil, errMalformedPacket
	}

	// Skip past the initial headers and check that the bytes left equal the
	// length of a valid list of infohashes.
	r.Packet = r.Packet[16:]
	if len(r.Packet)%20 != 0 {
		return nil, errMalformedPacket
	}

	// Allocate a list of infohashes and append to it until we're out.
	var infohashes []bittorrent.InfoHash
	for len(r.Packet) >= 20 {
		infohashes = append(infohashes, bittorrent.InfoHashFromBytes(r.Packet[:20]))
		r.Packet = r.Packet[20:]
	}

	if len(infohashes) > int(opts.MaxScrapeInfoHashes) {
		infohashes = infohashes[:opts.MaxScrapeInfoHashes]
	}

	return &bittorrent.ScrapeRequest{InfoHashes: infohashes}, nil
}
