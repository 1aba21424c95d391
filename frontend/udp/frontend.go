// Package udp implements a BitTorrent tracker via the UDP protocol as
// described in BEP 15.
package udp

import (
	"context"
	"encoding/binary"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/torrust/torrust-tracker/bittorrent"
	"github.com/torrust/torrust-tracker/frontend"
	"github.com/torrust/torrust-tracker/frontend/udp/bytepool"
	"github.com/torrust/torrust-tracker/pkg/log"
	"github.com/torrust/torrust-tracker/pkg/random"
	"github.com/torrust/torrust-tracker/pkg/stop"
	"github.com/torrust/torrust-tracker/pkg/timecache"
)

// maxPacketSize is the largest inbound datagram the tracker accepts; larger
// packets are dropped without a response.
const maxPacketSize = 1496

// defaultRequestTimeout bounds the handling of one packet; past the deadline
// the response is dropped and the client retries.
const defaultRequestTimeout = 2 * time.Second

// Config represents all of the configurable options for a UDP BitTorrent
// Tracker.
type Config struct {
	Addr                string        `yaml:"bind_address"`
	PrivateKey          string        `yaml:"private_key"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
	EnableRequestTiming bool          `yaml:"enable_request_timing"`
	ParseOptions        `yaml:",inline"`
}

// LogFields renders the current config as a set of logging fields.
func (cfg Config) LogFields() log.Fields {
	return log.Fields{
		"addr":                cfg.Addr,
		"requestTimeout":      cfg.RequestTimeout,
		"enableRequestTiming": cfg.EnableRequestTiming,
		"maxNumWant":          cfg.MaxNumWant,
		"defaultNumWant":      cfg.DefaultNumWant,
		"maxScrapeInfoHashes": cfg.MaxScrapeInfoHashes,
	}
}

// Validate sanity checks values set in a config and returns a new config
// with default values replacing anything that is invalid.
//
// This function warns to the logger when it replaces the private key or a
// parse limit; the request timeout default is applied without a warning.
func (cfg Config) Validate() Config {
	validcfg := cfg

	// Generate a server secret if one isn't provided by the user.
	if cfg.PrivateKey == "" {
		validcfg.PrivateKey = random.AlphaNumericString(64)
		log.Warn("UDP private key was not provided, using generated key")
	}

	if cfg.RequestTimeout <= 0 {
		validcfg.RequestTimeout = defaultRequestTimeout
	}

	if cfg.MaxNumWant <= 0 {
		validcfg.MaxNumWant = defaultMaxNumWant
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "udp.MaxNumWant",
			"provided": cfg.MaxNumWant,
			"default":  validcfg.MaxNumWant,
		})
	}

	if cfg.DefaultNumWant <= 0 {
		validcfg.DefaultNumWant = defaultDefaultNumWant
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "udp.DefaultNumWant",
			"provided": cfg.DefaultNumWant,
			"default":  validcfg.DefaultNumWant,
		})
	}

	if cfg.MaxScrapeInfoHashes <= 0 {
		validcfg.MaxScrapeInfoHashes = defaultMaxScrapeInfoHashes
		log.Warn("falling back to default configuration", log.Fields{
			"name":     "udp.MaxScrapeInfoHashes",
			"provided": cfg.MaxScrapeInfoHashes,
			"default":  validcfg.MaxScrapeInfoHashes,
		})
	}

	return validcfg
}

// Frontend holds the state of a UDP BitTorrent Frontend.
type Frontend struct {
	socket  *net.UDPConn
	closing chan struct{}
	wg      sync.WaitGroup

	genPool *sync.Pool

	logic frontend.TrackerLogic
	Config
}

// NewFrontend creates a new instance of a UDP Frontend that asynchronously
// serves requests. The listening socket is bound before NewFrontend returns;
// a bind failure is reported as an error so boot can fail loudly.
func NewFrontend(logic frontend.TrackerLogic, provided Config) (*Frontend, error) {
	cfg := provided.Validate()

	f := &Frontend{
		closing: make(chan struct{}),
		logic:   logic,
		Config:  cfg,
		genPool: &sync.Pool{
			New: func() interface{} {
				return NewConnectionIDGenerator(cfg.PrivateKey)
			},
		},
	}

	if err := f.listen(); err != nil {
		return nil, err
	}

	go func() {
		if err := f.serve(); err != nil {
			log.Fatal("failed while serving udp", log.Err(err))
		}
	}()

	log.Info("udp tracker listening", cfg)
	return f, nil
}

// Stop provides a thread-safe way to shutdown a currently running Frontend.
func (t *Frontend) Stop() stop.Result {
	select {
	case <-t.closing:
		return stop.AlreadyStopped
	default:
	}

	c := make(stop.Channel)
	go func() {
		close(t.closing)
		_ = t.socket.SetReadDeadline(time.Now())
		t.wg.Wait()
		c.Done(t.socket.Close())
	}()

	return c.Result()
}

// LocalAddr returns the address the listening socket is bound to.
func (t *Frontend) LocalAddr() net.Addr {
	return t.socket.LocalAddr()
}

// listen resolves the address and binds the server socket.
func (t *Frontend) listen() error {
	udpAddr, err := net.ResolveUDPAddr("udp", t.Addr)
	if err != nil {
		return err
	}
	t.socket, err = net.ListenUDP("udp", udpAddr)
	return err
}

// serve blocks while listening and serving UDP BitTorrent requests
// until Stop() is called or an error is returned.
func (t *Frontend) serve() error {
	pool := bytepool.New(2048)

	t.wg.Add(1)
	defer t.wg.Done()

	for {
		// Check to see if we need to shutdown.
		select {
		case <-t.closing:
			log.Debug("udp serve() received shutdown signal")
			return nil
		default:
		}

		// Read a UDP packet into a reusable buffer.
		buffer := pool.Get()
		n, addrPort, err := t.socket.ReadFromUDPAddrPort(*buffer)
		if err != nil {
			pool.Put(buffer)
			if netErr, ok := err.(net.Error); ok && netErr.Temporary() {
				// A temporary failure is not fatal; just pretend it never happened.
				continue
			}
			// A deadline failure during shutdown is not fatal either.
			select {
			case <-t.closing:
				return nil
			default:
			}
			return err
		}

		// We got nothin', or we got too much.
		if n == 0 || n > maxPacketSize {
			pool.Put(buffer)
			continue
		}

		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			defer pool.Put(buffer)

			var start time.Time
			if t.EnableRequestTiming {
				start = time.Now()
			}
			action, af, err := t.handleRequest(
				Request{Packet: (*buffer)[:n], Addr: addrPort.Addr().Unmap()},
				ResponseWriter{t.socket, addrPort},
			)
			if t.EnableRequestTiming {
				recordResponseDuration(action, af, err, time.Since(start))
			} else {
				recordResponseDuration(action, af, err, time.Duration(0))
			}
		}()
	}
}

// Request represents a UDP payload received by a Tracker.
type Request struct {
	Packet []byte
	Addr   netip.Addr
}

// ResponseWriter implements the ability to respond to a Request via the
// io.Writer interface.
type ResponseWriter struct {
	socket   *net.UDPConn
	addrPort netip.AddrPort
}

// Write implements the io.Writer interface for a ResponseWriter.
func (w ResponseWriter) Write(b []byte) (int, error) {
	_, _ = w.socket.WriteToUDPAddrPort(b, w.addrPort)
	return len(b), nil
}

// ipBytes returns the form of the address the connection-ID MAC runs over.
func ipBytes(addr netip.Addr) []byte {
	if addr.Is4() || addr.Is4In6() {
		a := addr.As4()
		return a[:]
	}
	a := addr.As16()
	return a[:]
}

// handleRequest parses and responds to a UDP Request.
func (t *Frontend) handleRequest(r Request, w ResponseWriter) (actionName, af string, err error) {
	if len(r.Packet) < 16 {
		// Malformed, no client packets are less than 16 bytes.
		// We explicitly return nothing in case this is a DoS attempt.
		err = errMalformedPacket
		return
	}

	af = "ipv4"
	if !r.Addr.Is4() && !r.Addr.Is4In6() {
		af = "ipv6"
	}

	// Parse the headers of the UDP packet.
	connID := r.Packet[0:8]
	actionID := binary.BigEndian.Uint32(r.Packet[8:12])
	txID := r.Packet[12:16]

	// Get a connection ID generator/validator from the pool.
	gen := t.genPool.Get().(*ConnectionIDGenerator)
	defer t.genPool.Put(gen)

	// If this isn't requesting a new connection ID and the connection ID is
	// invalid, then fail.
	if actionID != connectActionID && !gen.Validate(connID, ipBytes(r.Addr), timecache.Now()) {
		err = errBadConnectionID
		WriteError(w, txID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.RequestTimeout)
	defer cancel()

	// Handle the requested action.
	switch actionID {
	case connectActionID:
		actionName = "connect"

		if binary.BigEndian.Uint64(connID) != initialConnectionIDMagic {
			err = errMalformedPacket
			return
		}

		WriteConnectionID(w, txID, gen.Generate(ipBytes(r.Addr), timecache.Now()))

	case announceActionID, announceV6ActionID:
		actionName = "announce"

		var req *bittorrent.AnnounceRequest
		req, err = ParseAnnounce(r, actionID == announceV6ActionID, t.ParseOptions)
		if err != nil {
			WriteError(w, txID, err)
			return
		}

		var resp *bittorrent.AnnounceResponse
		resp, err = t.logic.HandleAnnounce(ctx, req)
		if err != nil {
			WriteError(w, txID, err)
			return
		}

		if ctx.Err() != nil {
			// Past the per-packet deadline; the client has already retried.
			err = ctx.Err()
			return
		}

		WriteAnnounce(w, txID, resp, af == "ipv6")

	case scrapeActionID:
		actionName = "scrape"

		var req *bittorrent.ScrapeRequest
		req, err = ParseScrape(r, t.ParseOptions)
		if err != nil {
			WriteError(w, txID, err)
			return
		}

		var resp *bittorrent.ScrapeResponse
		resp, err = t.logic.HandleScrape(ctx, req)
		if err != nil {
			WriteError(w, txID, err)
			return
		}

		if ctx.Err() != nil {
			err = ctx.Err()
			return
		}

		WriteScrape(w, txID, resp)

	default:
		err = errUnknownAction
		WriteError(w, txID, err)
	}

	return
}
