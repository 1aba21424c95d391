package sqlite

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/torrust/torrust-tracker/bittorrent"
	"github.com/torrust/torrust-tracker/storage"
)

// newTestDatabase opens a fresh in-memory database. The shared-cache DSN
// keeps every pooled connection on the same memory store.
func newTestDatabase(t *testing.T) storage.Database {
	t.Helper()

	db, err := New("file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.CreateSchema())
	// Schema creation must be idempotent.
	require.NoError(t, db.CreateSchema())
	return db
}

func testInfoHash(t *testing.T, hex string) bittorrent.InfoHash {
	t.Helper()
	ih, err := bittorrent.InfoHashFromHex(hex)
	require.NoError(t, err)
	return ih
}

func TestPersistentTorrentUpsert(t *testing.T) {
	db := newTestDatabase(t)
	ih := testInfoHash(t, "aa00000000000000000000000000000000000000")

	require.NoError(t, db.SavePersistentTorrent(ih, 1))
	require.NoError(t, db.SavePersistentTorrent(ih, 5))
	// Idempotent under equal arguments.
	require.NoError(t, db.SavePersistentTorrent(ih, 5))

	torrents, err := db.LoadPersistentTorrents()
	require.NoError(t, err)
	require.Len(t, torrents, 1)
	require.Equal(t, ih, torrents[0].InfoHash)
	require.Equal(t, uint32(5), torrents[0].Completed)
}

func TestKeyLifecycle(t *testing.T) {
	db := newTestDatabase(t)

	k := storage.Key{Key: "0123456789abcdefghijABCDEFGHIJkl", ValidUntil: 1000}
	require.NoError(t, db.AddKey(k))

	got, err := db.GetKey(k.Key)
	require.NoError(t, err)
	require.Equal(t, k, got)

	keys, err := db.LoadKeys()
	require.NoError(t, err)
	require.Equal(t, []storage.Key{k}, keys)

	require.NoError(t, db.RemoveKey(k.Key))
	_, err = db.GetKey(k.Key)
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.ErrorIs(t, db.RemoveKey(k.Key), storage.ErrNotFound)
}

func TestDuplicateKeyIsInvalidQuery(t *testing.T) {
	db := newTestDatabase(t)

	k := storage.Key{Key: "0123456789abcdefghijABCDEFGHIJkl"}
	require.NoError(t, db.AddKey(k))
	require.ErrorIs(t, db.AddKey(k), storage.ErrInvalidQuery)
}

func TestNegativeValidUntilReadAsMagnitude(t *testing.T) {
	db := newTestDatabase(t)

	require.NoError(t, db.AddKey(storage.Key{Key: "corrupted0000000000000000000000k", ValidUntil: -42}))

	keys, err := db.LoadKeys()
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.Equal(t, int64(42), keys[0].ValidUntil)
}

func TestWhitelistLifecycle(t *testing.T) {
	db := newTestDatabase(t)
	ih := testInfoHash(t, "BB00000000000000000000000000000000000001")

	require.NoError(t, db.AddWhitelisted(ih))

	got, err := db.GetWhitelisted(ih.String())
	require.NoError(t, err)
	require.Equal(t, ih, got)

	list, err := db.LoadWhitelist()
	require.NoError(t, err)
	require.Equal(t, []bittorrent.InfoHash{ih}, list)

	require.NoError(t, db.RemoveWhitelisted(ih))
	_, err = db.GetWhitelisted(ih.String())
	require.ErrorIs(t, err, storage.ErrNotFound)
}
