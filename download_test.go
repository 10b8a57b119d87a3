package mediatorrent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dog4ik/mediatorrent/internal/logger"
	"github.com/dog4ik/mediatorrent/internal/metainfo"
)

func testInfo() *metainfo.Info {
	return &metainfo.Info{
		Name:        "t",
		PieceLength: 16 * 1024,
		Pieces:      make([][metainfo.HashSize]byte, 3),
		Files:       []metainfo.File{{Path: []string{"f"}, Length: 3 * 16 * 1024}},
		Bytes:       []byte("dummy info dict"),
	}
}

func TestEncodeDecodeCompactAddrsRoundTrip(t *testing.T) {
	addrs := []string{"1.2.3.4:6881", "10.0.0.1:51413"}
	packed := encodeCompactAddrs(addrs)
	require.Equal(t, len(addrs)*6, len(packed))
	require.Equal(t, addrs, compactAddrs(packed))
}

func TestEncodeCompactAddrsSkipsMalformed(t *testing.T) {
	packed := encodeCompactAddrs([]string{"not-an-addr", "1.2.3.4:99999", "5.6.7.8:80"})
	require.Equal(t, []string{"5.6.7.8:80"}, compactAddrs(packed))
}

func TestNewPersistsAndReloadsResumeState(t *testing.T) {
	dataDir := t.TempDir()
	outputDir := t.TempDir()
	info := testInfo()
	var peerID [20]byte
	copy(peerID[:], "-MT0001-abcdefghijkl")
	cfg := Config{DataDir: dataDir}
	l := logger.New("test")

	d := New(Params{Info: info, OutputDir: outputDir}, cfg, peerID, l)
	require.NotNil(t, d.resumer)

	d.scheduler.AddPiece(0)
	d.scheduler.AddPiece(1)
	d.downloadedTotal = 4096
	d.saveResume()
	d.shutdown()

	d2 := New(Params{Info: info, OutputDir: outputDir}, cfg, peerID, l)
	defer d2.shutdown()
	require.True(t, d2.scheduler.Bitfield().Has(0))
	require.True(t, d2.scheduler.Bitfield().Has(1))
	require.False(t, d2.scheduler.Bitfield().Has(2))
}

func TestNewWithoutDataDirSkipsResumer(t *testing.T) {
	info := testInfo()
	var peerID [20]byte
	d := New(Params{Info: info, OutputDir: t.TempDir()}, Config{}, peerID, logger.New("test"))
	defer d.shutdown()
	require.Nil(t, d.resumer)
}

func TestSeededForAccumulatesAcrossStateChanges(t *testing.T) {
	info := testInfo()
	var peerID [20]byte
	d := New(Params{Info: info, OutputDir: t.TempDir()}, Config{}, peerID, logger.New("test"))
	defer d.shutdown()

	require.Equal(t, time.Duration(0), d.seededFor())
	d.setState(StateSeeding)
	d.setState(StatePending)
	require.Greater(t, d.seededFor(), time.Duration(0))
}
