package metainfo

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/bencode"
)

func encodeTestTorrent(t *testing.T, info map[string]interface{}, extra map[string]interface{}) []byte {
	t.Helper()
	infoBytes, err := bencode.EncodeBytes(info)
	require.NoError(t, err)

	dict := map[string]interface{}{
		"info":     bencode.RawMessage(infoBytes),
		"announce": "http://tracker.example/announce",
	}
	for k, v := range extra {
		dict[k] = v
	}
	b, err := bencode.EncodeBytes(dict)
	require.NoError(t, err)
	return b
}

func TestNewSingleFile(t *testing.T) {
	raw := encodeTestTorrent(t, map[string]interface{}{
		"name":         "file.bin",
		"piece length": int64(16),
		"pieces":       string(make([]byte, HashSize*3)),
		"length":       int64(40),
	}, nil)

	mi, err := New(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, "file.bin", mi.Info.Name)
	require.Equal(t, 3, mi.Info.NumPieces())
	require.Equal(t, int64(40), mi.Info.TotalSize())
	require.Equal(t, int64(16), mi.Info.PieceLen(0))
	require.Equal(t, int64(8), mi.Info.PieceLen(2))
}

func TestNewMultiFile(t *testing.T) {
	raw := encodeTestTorrent(t, map[string]interface{}{
		"name":         "pack",
		"piece length": int64(10),
		"pieces":       string(make([]byte, HashSize*2)),
		"files": []map[string]interface{}{
			{"path": []string{"a.txt"}, "length": int64(6)},
			{"path": []string{"sub", "b.txt"}, "length": int64(14)},
		},
	}, nil)

	mi, err := New(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, mi.Info.Files, 2)
	require.Equal(t, int64(20), mi.Info.TotalSize())

	ranges := mi.Info.PieceFileRanges(0)
	require.Len(t, ranges, 2)
	require.Equal(t, 0, ranges[0].FileIndex)
	require.Equal(t, int64(0), ranges[0].Offset)
	require.Equal(t, int64(6), ranges[0].Length)
	require.Equal(t, 1, ranges[1].FileIndex)
	require.Equal(t, int64(0), ranges[1].Offset)
	require.Equal(t, int64(4), ranges[1].Length)
}

func TestMissingInfoDict(t *testing.T) {
	raw, err := bencode.EncodeBytes(map[string]interface{}{"announce": "x"})
	require.NoError(t, err)
	_, err = New(bytes.NewReader(raw))
	require.Error(t, err)
}

func TestFilePieceRangeMultiFile(t *testing.T) {
	raw := encodeTestTorrent(t, map[string]interface{}{
		"name":         "pack",
		"piece length": int64(10),
		"pieces":       string(make([]byte, HashSize*3)),
		"files": []map[string]interface{}{
			{"path": []string{"a.txt"}, "length": int64(6)},  // piece 0
			{"path": []string{"b.txt"}, "length": int64(14)}, // spans pieces 0-1 (bytes 6..20)
		},
	}, nil)

	mi, err := New(bytes.NewReader(raw))
	require.NoError(t, err)

	start, end := mi.Info.FilePieceRange(0)
	require.Equal(t, 0, start)
	require.Equal(t, 0, end)

	start, end = mi.Info.FilePieceRange(1)
	require.Equal(t, 0, start)
	require.Equal(t, 1, end)
}

func TestGetTrackersDeduplicatesAnnounceFirst(t *testing.T) {
	raw := encodeTestTorrent(t, map[string]interface{}{
		"name":         "f",
		"piece length": int64(1),
		"pieces":       string(make([]byte, HashSize)),
		"length":       int64(1),
	}, map[string]interface{}{
		"announce-list": [][]string{
			{"http://tracker.example/announce", "http://backup1.example"},
			{"http://backup2.example"},
		},
	})

	mi, err := New(bytes.NewReader(raw))
	require.NoError(t, err)
	trackers := mi.GetTrackers()
	require.Equal(t, []string{
		"http://tracker.example/announce",
		"http://backup1.example",
		"http://backup2.example",
	}, trackers)
}
