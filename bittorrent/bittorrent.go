// Package bittorrent implements all of the abstractions used to decouple the
// protocol of a BitTorrent tracker from the logic of handling requests.
package bittorrent

import (
	"encoding/hex"
	"net/netip"
	"time"
)

// PeerID represents a peer ID.
type PeerID [20]byte

// PeerIDFromBytes creates a PeerID from a byte slice.
//
// It panics if b is not 20 bytes long.
func PeerIDFromBytes(b []byte) PeerID {
	if len(b) != 20 {
		panic("bittorrent: peer ID must be 20 bytes")
	}

	var buf [20]byte
	copy(buf[:], b)
	return PeerID(buf)
}

// PeerIDFromString creates a PeerID from a raw 20-byte string.
//
// It panics if s is not 20 bytes long.
func PeerIDFromString(s string) PeerID {
	if len(s) != 20 {
		panic("bittorrent: peer ID must be 20 bytes")
	}

	var buf [20]byte
	copy(buf[:], s)
	return PeerID(buf)
}

// String implements fmt.Stringer, returning the hex representation.
func (p PeerID) String() string {
	return hex.EncodeToString(p[:])
}

// RawString returns a 20-byte string of the raw bytes of the ID.
func (p PeerID) RawString() string {
	return string(p[:])
}

// InfoHash represents an infohash.
type InfoHash [20]byte

// ErrInvalidInfoHash is returned when a value cannot be parsed into an
// InfoHash.
var ErrInvalidInfoHash = ClientError("provided invalid infohash")

// InfoHashFromBytes creates an InfoHash from a byte slice.
//
// It panics if b is not 20 bytes long.
func InfoHashFromBytes(b []byte) InfoHash {
	if len(b) != 20 {
		panic("bittorrent: infohash must be 20 bytes")
	}

	var buf [20]byte
	copy(buf[:], b)
	return InfoHash(buf)
}

// InfoHashFromString creates an InfoHash from a raw 20-byte string.
//
// It panics if s is not 20 bytes long.
func InfoHashFromString(s string) InfoHash {
	if len(s) != 20 {
		panic("bittorrent: infohash must be 20 bytes")
	}

	var buf [20]byte
	copy(buf[:], s)
	return InfoHash(buf)
}

// InfoHashFromHex creates an InfoHash from a 40-character hex string.
// Both upper- and lowercase digits are accepted.
func InfoHashFromHex(s string) (InfoHash, error) {
	var ih InfoHash
	if len(s) != 40 {
		return ih, ErrInvalidInfoHash
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return ih, ErrInvalidInfoHash
	}

	copy(ih[:], b)
	return ih, nil
}

// String implements fmt.Stringer, returning the lowercase hex representation.
func (ih InfoHash) String() string {
	return hex.EncodeToString(ih[:])
}

// RawString returns a 20-byte string of the raw bytes of the InfoHash.
func (ih InfoHash) RawString() string {
	return string(ih[:])
}

// Peer represents the connection details of a peer that is returned in an
// announce response.
type Peer struct {
	ID       PeerID
	AddrPort netip.AddrPort
}

// Equal reports whether p and x are the same.
func (p Peer) Equal(x Peer) bool { return p.EqualEndpoint(x) && p.ID == x.ID }

// EqualEndpoint reports whether p and x have the same endpoint.
func (p Peer) EqualEndpoint(x Peer) bool { return p.AddrPort == x.AddrPort }

// AnnounceRequest represents the parsed parameters from an announce request.
//
// Peer.AddrPort holds the address the client declared, if it declared one;
// SourceAddr is always the address the request arrived from. The tracker
// substitutes the source address before any peer is stored whenever the
// declared address is missing or unspecified.
type AnnounceRequest struct {
	Event      Event
	InfoHash   InfoHash
	Compact    bool
	NumWant    uint32
	Left       uint64
	Downloaded uint64
	Uploaded   uint64

	// Key is the authentication key presented by the client, if any.
	Key string

	SourceAddr netip.Addr

	Peer
	Params Params
}

// AnnounceResponse represents the parameters used to create an announce
// response.
type AnnounceResponse struct {
	Compact     bool
	Complete    uint32
	Incomplete  uint32
	Interval    time.Duration
	MinInterval time.Duration
	IPv4Peers   []Peer
	IPv6Peers   []Peer
}

// ScrapeRequest represents the parsed parameters from a scrape request.
type ScrapeRequest struct {
	InfoHashes []InfoHash
	Key        string
	Params     Params
}

// ScrapeResponse represents the parameters used to create a scrape response.
type ScrapeResponse struct {
	Files []Scrape
}

// Scrape represents the state of a swarm that is returned in a scrape
// response.
type Scrape struct {
	InfoHash   InfoHash
	Complete   uint32
	Snatches   uint32
	Incomplete uint32
}

// ClientError represents an error that should be exposed to the client over
// the BitTorrent protocol implementation.
type ClientError string

// Error implements the error interface for ClientError.
func (c ClientError) Error() string { return string(c) }
