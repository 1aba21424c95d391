package udp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/torrust/torrust-tracker/pkg/random"
)

var (
	ip4 = []byte{1, 2, 3, 4}
	ip6 = []byte{0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}
)

func TestGenerateValidates(t *testing.T) {
	gen := NewConnectionIDGenerator("testsecret")
	now := time.Unix(1_000_000, 0)

	for _, ip := range [][]byte{ip4, ip6} {
		id := make([]byte, 8)
		copy(id, gen.Generate(ip, now))
		require.True(t, gen.Validate(id, ip, now))
	}
}

func TestValidateAcrossSlots(t *testing.T) {
	gen := NewConnectionIDGenerator("testsecret")
	issued := time.Unix(1_000_000_000, 0).Truncate(slotLength)

	id := make([]byte, 8)
	copy(id, gen.Generate(ip4, issued))

	// Valid throughout the issuing slot and the following one.
	require.True(t, gen.Validate(id, ip4, issued))
	require.True(t, gen.Validate(id, ip4, issued.Add(59*time.Second)))
	require.True(t, gen.Validate(id, ip4, issued.Add(115*time.Second)))

	// Two slots later it expires.
	require.False(t, gen.Validate(id, ip4, issued.Add(130*time.Second)))
	require.False(t, gen.Validate(id, ip4, issued.Add(24*time.Hour)))
}

func TestValidateRejectsOtherIP(t *testing.T) {
	gen := NewConnectionIDGenerator("testsecret")
	now := time.Unix(1_000_000, 0)

	id := make([]byte, 8)
	copy(id, gen.Generate(ip4, now))

	require.False(t, gen.Validate(id, []byte{9, 9, 9, 9}, now))
	require.False(t, gen.Validate(id, ip6, now))
}

func TestValidateRejectsOtherSecret(t *testing.T) {
	now := time.Unix(1_000_000, 0)

	id := make([]byte, 8)
	copy(id, NewConnectionIDGenerator("secret one").Generate(ip4, now))

	require.False(t, NewConnectionIDGenerator("secret two").Validate(id, ip4, now))
}

func TestValidateRejectsBadLength(t *testing.T) {
	gen := NewConnectionIDGenerator("testsecret")
	require.False(t, gen.Validate([]byte{1, 2, 3}, ip4, time.Now()))
	require.False(t, gen.Validate(nil, ip4, time.Now()))
}

func TestGeneratorIsReusable(t *testing.T) {
	gen := NewConnectionIDGenerator(random.AlphaNumericString(64))
	now := time.Now()

	first := make([]byte, 8)
	copy(first, gen.Generate(ip4, now))
	second := make([]byte, 8)
	copy(second, gen.Generate(ip6, now))

	require.True(t, gen.Validate(first, ip4, now))
	require.True(t, gen.Validate(second, ip6, now))
	require.NotEqual(t, first, second)
}

func BenchmarkGenerate(b *testing.B) {
	gen := NewConnectionIDGenerator("testsecret")
	now := time.Now()

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = gen.Generate(ip4, now)
	}
}

func BenchmarkValidate(b *testing.B) {
	gen := NewConnectionIDGenerator("testsecret")
	now := time.Now()
	id := make([]byte, 8)
	copy(id, gen.Generate(ip4, now))

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = gen.Validate(id, ip4, now)
	}
}
