package udp

import (
	"crypto/hmac"
	"encoding/binary"
	"hash"
	"time"

	sha256 "github.com/minio/sha256-simd"
)

// slotLength is the granularity of connection-ID time slots. The current and
// the previous slot are accepted, so an ID stays valid between one and two
// minutes after issue.
const slotLength = time.Minute

// A ConnectionIDGenerator is a reusable generator and validator for
// connection IDs as described in BEP 15.
//
// A connection ID is the first 8 bytes of HMAC(secret, client_ip || slot)
// where slot is the issue time quantized to slotLength. The server keeps no
// table of outstanding IDs: validity is proved by recomputing the MAC, which
// bounds per-client state to zero and stops address spoofing, since forging
// an ID without the secret succeeds with probability 2^-64.
//
// The generator is not thread safe, but is safe to be pooled and reused by
// other goroutines. It manages its state itself, so it can be taken from and
// returned to a pool without any cleanup. After initial creation, it can
// generate connection IDs without allocating.
type ConnectionIDGenerator struct {
	// mac is a keyed HMAC that can be reused for subsequent connection ID
	// generations.
	mac hash.Hash

	// connID is an 8-byte slice that holds the generated connection ID
	// after a call to Generate.
	// It must not be referenced after the generator is returned to a pool.
	// It will be overwritten by subsequent calls to Generate.
	connID []byte

	// scratch is used as a scratchpad for the generated MACs.
	scratch []byte
}

// NewConnectionIDGenerator creates a new connection ID generator.
func NewConnectionIDGenerator(key string) *ConnectionIDGenerator {
	return &ConnectionIDGenerator{
		mac:     hmac.New(sha256.New, []byte(key)),
		connID:  make([]byte, 8),
		scratch: make([]byte, 0, sha256.Size),
	}
}

func (g *ConnectionIDGenerator) reset() {
	g.mac.Reset()
	g.connID = g.connID[:8]
	g.scratch = g.scratch[:0]
}

// compute MACs the (ip, slot) pair into dst, which must be 8 bytes.
//
// IPv4 addresses are MAC'd in their 4-byte form so a client always produces
// the same ID regardless of socket family representation.
func (g *ConnectionIDGenerator) compute(ip []byte, slot int64, dst []byte) {
	g.reset()

	g.mac.Write(ip)

	var slotBytes [8]byte
	binary.BigEndian.PutUint64(slotBytes[:], uint64(slot))
	g.mac.Write(slotBytes[:])

	g.scratch = g.mac.Sum(g.scratch)
	copy(dst, g.scratch[:8])
}

// Generate generates an 8-byte connection ID as described in BEP 15 for the
// given IP and the current time.
//
// The generated ID is written to g.connID, which is also returned. g.connID
// will be reused, so it must not be referenced after returning the generator
// to a pool and will be overwritten by subsequent calls to Generate!
func (g *ConnectionIDGenerator) Generate(ip []byte, now time.Time) []byte {
	g.compute(ip, now.Unix()/int64(slotLength/time.Second), g.connID)
	return g.connID
}

// Validate validates the given connection ID for an IP and the current time.
// IDs from the current and the previous slot are accepted.
func (g *ConnectionIDGenerator) Validate(connectionID, ip []byte, now time.Time) bool {
	if len(connectionID) != 8 {
		return false
	}

	slot := now.Unix() / int64(slotLength/time.Second)
	var expected [8]byte

	for _, s := range [2]int64{slot, slot - 1} {
		g.compute(ip, s, expected[:])
		if hmac.Equal(expected[:], connectionID) {
			return true
		}
	}
	return false
}
