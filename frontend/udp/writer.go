package udp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/torrust/torrust-tracker/bittorrent"
)

// WriteError writes the failure reason as a null-terminated string.
func WriteError(w io.Writer, txID []byte, err error) {
	// If the client wasn't at fault, acknowledge it.
	if _, ok := err.(bittorrent.ClientError); !ok {
		err = fmt.Errorf("internal error occurred: %s", err.Error())
	}

	var buf bytes.Buffer
	writeHeader(&buf, txID, errorActionID)
	buf.WriteString(err.Error())
	buf.WriteRune('\000')
	_, _ = w.Write(buf.Bytes())
}

// WriteAnnounce encodes an announce response according to BEP 15.
//
// IPv4 peers are written as 6-byte entries, IPv6 peers as 18-byte entries;
// only the peers matching the client's socket family are present in resp.
func WriteAnnounce(w io.Writer, txID []byte, resp *bittorrent.AnnounceResponse, v6 bool) {
	var buf bytes.Buffer

	writeHeader(&buf, txID, announceActionID)
	_ = binary.Write(&buf, binary.BigEndian, uint32(resp.Interval/time.Second))
	_ = binary.Write(&buf, binary.BigEndian, resp.Incomplete)
	_ = binary.Write(&buf, binary.BigEndian, resp.Complete)

	if v6 {
		for _, peer := range resp.IPv6Peers {
			ip := peer.AddrPort.Addr().As16()
			buf.Write(ip[:])
			_ = binary.Write(&buf, binary.BigEndian, peer.AddrPort.Port())
		}
	} else {
		for _, peer := range resp.IPv4Peers {
			ip := peer.AddrPort.Addr().As4()
			buf.Write(ip[:])
			_ = binary.Write(&buf, binary.BigEndian, peer.AddrPort.Port())
		}
	}

	_, _ = w.Write(buf.Bytes())
}

// WriteScrape encodes a scrape response according to BEP 15.
func WriteScrape(w io.Writer, txID []byte, resp *bittorrent.ScrapeResponse) {
	var buf bytes.Buffer

	writeHeader(&buf, txID, scrapeActionID)

	for _, scrape := range resp.Files {
		_ = binary.Write(&buf, binary.BigEndian, scrape.Complete)
		_ = binary.Write(&buf, binary.BigEndian, scrape.Snatches)
		_ = binary.Write(&buf, binary.BigEndian, scrape.Incomplete)
	}

	_, _ = w.Write(buf.Bytes())
}

// WriteConnectionID encodes a new connection response according to BEP 15.
func WriteConnectionID(w io.Writer, txID, connID []byte) {
	var buf bytes.Buffer

	writeHeader(&buf, txID, connectActionID)
	buf.Write(connID)

	_, _ = w.Write(buf.Bytes())
}

// writeHeader writes the action and transaction ID to the provided response
// buffer.
func writeHeader(w io.Writer, txID []byte, action uint32) {
	_ = binary.Write(w, binary.BigEndian, action)
	_, _ = w.Write(txID)
}
