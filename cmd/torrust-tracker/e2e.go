package main

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/anacrolix/torrent/tracker"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/torrust/torrust-tracker/pkg/log"
)

// EndToEndRunCmdFunc implements a Cobra command that runs the end-to-end
// test suite against a running build of the tracker.
func EndToEndRunCmdFunc(cmd *cobra.Command, args []string) error {
	delay, err := cmd.Flags().GetDuration("delay")
	if err != nil {
		return err
	}

	// Test the HTTP tracker.
	httpAddr, err := cmd.Flags().GetString("httpaddr")
	if err != nil {
		return err
	}

	if len(httpAddr) != 0 {
		log.Info("testing HTTP...")
		if err := test(httpAddr, delay); err != nil {
			return err
		}
		log.Info("success")
	}

	// Test the UDP tracker.
	udpAddr, err := cmd.Flags().GetString("udpaddr")
	if err != nil {
		return err
	}

	if len(udpAddr) != 0 {
		log.Info("testing UDP...")
		if err := test(udpAddr, delay); err != nil {
			return err
		}
		log.Info("success")
	}

	return nil
}

func generateInfohash() [20]byte {
	var ih [20]byte

	n, err := rand.Read(ih[:])
	if err != nil {
		panic(err)
	}
	if n != 20 {
		panic(fmt.Errorf("not enough randomness? Got %d bytes", n))
	}

	return ih
}

func test(addr string, delay time.Duration) error {
	ih := generateInfohash()
	return testWithInfohash(ih, addr, delay)
}

func testWithInfohash(infoHash [20]byte, url string, delay time.Duration) error {
	req := tracker.AnnounceRequest{
		InfoHash:   infoHash,
		PeerId:     [20]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20},
		Downloaded: 50,
		Left:       100,
		Uploaded:   50,
		Event:      tracker.Started,
		IPAddress:  uint32(50<<24 | 10<<16 | 12<<8 | 1),
		NumWant:    50,
		Port:       10001,
	}

	_, err := tracker.Announce{
		TrackerUrl: url,
		Request:    req,
		UserAgent:  "torrust-tracker-e2e",
	}.Do()
	if err != nil {
		return errors.Wrap(err, "announce failed")
	}

	time.Sleep(delay)

	req = tracker.AnnounceRequest{
		InfoHash:   infoHash,
		PeerId:     [20]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 21},
		Downloaded: 50,
		Left:       100,
		Uploaded:   50,
		Event:      tracker.Started,
		IPAddress:  uint32(50<<24 | 10<<16 | 12<<8 | 2),
		NumWant:    50,
		Port:       10002,
	}

	resp, err := tracker.Announce{
		TrackerUrl: url,
		Request:    req,
		UserAgent:  "torrust-tracker-e2e",
	}.Do()
	if err != nil {
		return errors.Wrap(err, "announce failed")
	}

	if len(resp.Peers) != 1 {
		return fmt.Errorf("expected one peer, got %d", len(resp.Peers))
	}

	if resp.Peers[0].Port != 10001 {
		return fmt.Errorf("expected port 10001, got %d ", resp.Peers[0].Port)
	}

	return nil
}
