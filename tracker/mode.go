package tracker

import "fmt"

// Mode is the access-control policy of a tracker, fixed at startup.
type Mode string

const (
	// ModePublic trackers serve any infohash to anyone.
	ModePublic Mode = "public"

	// ModeListed trackers only serve whitelisted infohashes.
	ModeListed Mode = "listed"

	// ModePrivate trackers require a valid authentication key.
	ModePrivate Mode = "private"

	// ModePrivateListed trackers require both.
	ModePrivateListed Mode = "private_listed"
)

// RequiresKey reports whether announces must present a valid auth key.
func (m Mode) RequiresKey() bool {
	return m == ModePrivate || m == ModePrivateListed
}

// RequiresWhitelist reports whether announced infohashes must be
// whitelisted.
func (m Mode) RequiresWhitelist() bool {
	return m == ModeListed || m == ModePrivateListed
}

// Validate returns an error for unknown modes.
func (m Mode) Validate() error {
	switch m {
	case ModePublic, ModeListed, ModePrivate, ModePrivateListed:
		return nil
	}
	return fmt.Errorf("tracker: unknown mode %q", string(m))
}
