package resumer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dog4ik/mediatorrent/internal/bitfield"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.db")
	r, err := New(path)
	require.NoError(t, err)
	defer r.Close()

	var infoHash [20]byte
	copy(infoHash[:], "aaaaaaaaaaaaaaaaaaaa")

	bf := bitfield.New(10)
	bf.Set(1)
	bf.Set(5)
	stats := Stats{BytesDownloaded: 1024, BytesUploaded: 512}

	require.NoError(t, r.Save(infoHash, bf, stats))

	got, gotStats, ok, err := r.Load(infoHash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, bf.Pieces(), got.Pieces())
	require.Equal(t, stats, gotStats)
}

func TestLoadMissingReturnsNotOK(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.db")
	r, err := New(path)
	require.NoError(t, err)
	defer r.Close()

	var infoHash [20]byte
	_, _, ok, err := r.Load(infoHash)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteRemovesEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.db")
	r, err := New(path)
	require.NoError(t, err)
	defer r.Close()

	var infoHash [20]byte
	copy(infoHash[:], "bbbbbbbbbbbbbbbbbbbb")
	bf := bitfield.New(4)
	require.NoError(t, r.Save(infoHash, bf, Stats{}))
	require.NoError(t, r.Delete(infoHash))

	_, _, ok, err := r.Load(infoHash)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestListReturnsAllKnownInfoHashes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.db")
	r, err := New(path)
	require.NoError(t, err)
	defer r.Close()

	var h1, h2 [20]byte
	copy(h1[:], "aaaaaaaaaaaaaaaaaaaa")
	copy(h2[:], "bbbbbbbbbbbbbbbbbbbb")
	bf := bitfield.New(1)
	require.NoError(t, r.Save(h1, bf, Stats{}))
	require.NoError(t, r.Save(h2, bf, Stats{}))

	list, err := r.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
}
