package whitelist

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/torrust/torrust-tracker/bittorrent"
	"github.com/torrust/torrust-tracker/storage"
	"github.com/torrust/torrust-tracker/storage/memory"
)

var testInfoHash = bittorrent.InfoHashFromString("00000000000000000001")

func TestAddContainsRemove(t *testing.T) {
	db := memory.New()
	s := NewService(db)

	require.False(t, s.Contains(testInfoHash))

	require.NoError(t, s.Add(testInfoHash))
	require.True(t, s.Contains(testInfoHash))

	// Adding again is a no-op, not a uniqueness violation.
	require.NoError(t, s.Add(testInfoHash))
	require.Equal(t, 1, s.Count())

	// Persisted too.
	_, err := db.GetWhitelisted(testInfoHash.String())
	require.NoError(t, err)

	require.NoError(t, s.Remove(testInfoHash))
	require.False(t, s.Contains(testInfoHash))
	_, err = db.GetWhitelisted(testInfoHash.String())
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReload(t *testing.T) {
	db := memory.New()
	require.NoError(t, db.AddWhitelisted(testInfoHash))

	s := NewService(db)
	require.False(t, s.Contains(testInfoHash))

	require.NoError(t, s.Reload())
	require.True(t, s.Contains(testInfoHash))

	// Reload drops anything no longer in persistence.
	require.NoError(t, db.RemoveWhitelisted(testInfoHash))
	require.NoError(t, s.Reload())
	require.False(t, s.Contains(testInfoHash))
}
