// Package random implements the generation of random strings from a
// cryptographically strong source of entropy.
package random

import (
	"crypto/rand"
	"math/big"
)

// AlphaNumeric is an alphabet with all lower- and uppercase letters and
// numbers.
const AlphaNumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// AlphaNumericString is a shorthand for String(l, AlphaNumeric).
func AlphaNumericString(l int) string {
	return String(l, AlphaNumeric)
}

// String generates a random string of length l, containing only runes from
// the alphabet, using crypto/rand as its source of entropy.
//
// It panics if the source fails, as no caller can make progress without
// randomness.
func String(l int, alphabet string) string {
	max := big.NewInt(int64(len(alphabet)))

	b := make([]byte, l)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("random: entropy source failed: " + err.Error())
		}
		b[i] = alphabet[n.Int64()]
	}
	return string(b)
}
