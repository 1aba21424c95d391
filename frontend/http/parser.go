package http

import (
	"net/http"
	"net/netip"

	"github.com/torrust/torrust-tracker/bittorrent"
)

// ParseOptions is the configuration used to parse an Announce Request.
type ParseOptions struct {
	RealIPHeader        string `yaml:"real_ip_header"`
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

// ParseAnnounce parses a bittorrent.AnnounceRequest from an http.Request.
//
// The routeKey is the authentication key extracted from the request path
// ("/announce/<key>"); a "key" query parameter is accepted as well.
func ParseAnnounce(r *http.Request, routeKey string, opts ParseOptions) (*bittorrent.AnnounceRequest, error) {
	qp, err := bittorrent.ParseURLData(r.RequestURI)
	if err != nil {
		return nil, err
	}

	request := &bittorrent.AnnounceRequest{Params: qp, Key: routeKey}
	if request.Key == "" {
		request.Key, _ = qp.String("key")
	}

	eventStr, _ := qp.String("event")
	request.Event, err = bittorrent.NewEvent(eventStr)
	if err != nil {
		return nil, bittorrent.ClientError("failed to provide valid client event")
	}

	compactStr, _ := qp.String("compact")
	request.Compact = compactStr != "" && compactStr != "0"

	infoHashes := qp.InfoHashes()
	if len(infoHashes) < 1 {
		return nil, bittorrent.ClientError("no info_hash parameter supplied")
	}
	if len(infoHashes) > 1 {
		return nil, bittorrent.ClientError("multiple info_hash parameters supplied")
	}
	request.InfoHash = infoHashes[0]

	peerID, ok := qp.String("peer_id")
	if !ok {
		return nil, bittorrent.ClientError("failed to parse parameter: peer_id")
	}
	if len(peerID) != 20 {
		return nil, bittorrent.ClientError("failed to provide valid peer_id")
	}
	request.ID = bittorrent.PeerIDFromString(peerID)

	request.Left, err = qp.Uint64("left")
	if err != nil {
		return nil, bittorrent.ClientError("failed to parse parameter: left")
	}

	request.Downloaded, err = qp.Uint64("downloaded")
	if err != nil {
		return nil, bittorrent.ClientError("failed to parse parameter: downloaded")
	}

	request.Uploaded, err = qp.Uint64("uploaded")
	if err != nil {
		return nil, bittorrent.ClientError("failed to parse parameter: uploaded")
	}

	numWant := opts.DefaultNumWant
	if nw, err := qp.Uint64("numwant"); err == nil {
		numWant = uint32(nw)
		if numWant > opts.MaxNumWant {
			numWant = opts.MaxNumWant
		}
	}
	request.NumWant = numWant

	port, err := qp.Uint64("port")
	if err != nil || port == 0 || port > 65535 {
		return nil, bittorrent.ClientError("failed to parse parameter: port")
	}

	request.AddrPort = netip.AddrPortFrom(declaredIP(qp), uint16(port))
	request.SourceAddr = sourceIP(r, opts.RealIPHeader)
	if !request.SourceAddr.IsValid() {
		return nil, bittorrent.ClientError("failed to parse source IP address")
	}

	return request, nil
}

// ParseScrape parses a bittorrent.ScrapeRequest from an http.Request.
func ParseScrape(r *http.Request, routeKey string, opts ParseOptions) (*bittorrent.ScrapeRequest, error) {
	qp, err := bittorrent.ParseURLData(r.RequestURI)
	if err != nil {
		return nil, err
	}

	infoHashes := qp.InfoHashes()
	if len(infoHashes) < 1 {
		return nil, bittorrent.ClientError("no info_hash parameter supplied")
	}
	if len(infoHashes) > int(opts.MaxScrapeInfoHashes) {
		infoHashes = infoHashes[:opts.MaxScrapeInfoHashes]
	}

	request := &bittorrent.ScrapeRequest{
		InfoHashes: infoHashes,
		Key:        routeKey,
		Params:     qp,
	}
	if request.Key == "" {
		request.Key, _ = qp.String("key")
	}

	return request, nil
}

// declaredIP extracts the address a client claims to announce from, if any.
func declaredIP(p bittorrent.Params) netip.Addr {
	for _, param := range []string{"ip", "ipv4", "ipv6"} {
		if ipstr, ok := p.String(param); ok {
			if addr, err := netip.ParseAddr(ipstr); err == nil {
				return addr
			}
		}
	}
	return netip.Addr{}
}

// sourceIP determines the address a request actually arrived from.
//
// If realIPHeader is not empty string, the first value of the HTTP Header
// with that name is trusted (for deployments behind a reverse proxy).
func sourceIP(r *http.Request, realIPHeader string) netip.Addr {
	if realIPHeader != "" {
		if ips, ok := r.Header[realIPHeader]; ok && len(ips) > 0 {
			if addr, err := netip.ParseAddr(ips[0]); err == nil {
				return addr.Unmap()
			}
		}
	}

	if addrPort, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		return addrPort.Addr().Unmap()
	}
	// Some test servers hand out a bare host without a port.
	if addr, err := netip.ParseAddr(r.RemoteAddr); err == nil {
		return addr.Unmap()
	}
	return netip.Addr{}
}
