package storage

import (
	"crypto/sha1"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dog4ik/mediatorrent/internal/logger"
	"github.com/dog4ik/mediatorrent/internal/metainfo"
)

func testInfo(pieceLen int64, fileLengths ...int64) *metainfo.Info {
	var total int64
	files := make([]metainfo.File, len(fileLengths))
	for i, l := range fileLengths {
		files[i] = metainfo.File{Path: []string{fileNameFor(i)}, Length: l}
		total += l
	}
	numPieces := int((total + pieceLen - 1) / pieceLen)
	return &metainfo.Info{
		Name:        "t",
		PieceLength: pieceLen,
		Pieces:      make([][metainfo.HashSize]byte, numPieces),
		Files:       files,
	}
}

func fileNameFor(i int) string {
	return string(rune('a' + i))
}

func waitFeedback(t *testing.T, h *Handle) Feedback {
	t.Helper()
	select {
	case f := <-h.Results():
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for storage feedback")
		return Feedback{}
	}
}

func TestSaveAndReadBackSingleFilePiece(t *testing.T) {
	dir := t.TempDir()
	info := testInfo(8, 16)
	data := []byte("0123456789ABCDEF")
	info.Pieces[0] = sha1.Sum(data[0:8])
	info.Pieces[1] = sha1.Sum(data[8:16])

	h := New(dir, info, logger.New("test"))
	defer h.Close()

	require.True(t, h.TrySavePiece(0, data[0:8]))
	fb := waitFeedback(t, h)
	require.NotNil(t, fb.Saved)
	require.Equal(t, 0, *fb.Saved)

	require.True(t, h.RequestRead(0))
	fb = waitFeedback(t, h)
	require.NotNil(t, fb.Data)
	require.Equal(t, data[0:8], fb.Data.Bytes)
}

func TestSaveRejectsHashMismatch(t *testing.T) {
	dir := t.TempDir()
	info := testInfo(8, 8)
	info.Pieces[0] = sha1.Sum([]byte("correct!"))

	h := New(dir, info, logger.New("test"))
	defer h.Close()

	require.True(t, h.TrySavePiece(0, []byte("wrongdat")))
	fb := waitFeedback(t, h)
	require.NotNil(t, fb.StorageError)
	require.Equal(t, ErrHash, fb.StorageError.Kind)
}

func TestReadMissingFileReportsMissingPiece(t *testing.T) {
	dir := t.TempDir()
	info := testInfo(8, 8)

	h := New(dir, info, logger.New("test"))
	defer h.Close()

	require.True(t, h.RequestRead(0))
	fb := waitFeedback(t, h)
	require.NotNil(t, fb.StorageError)
	require.Equal(t, ErrMissingPiece, fb.StorageError.Kind)
}

func TestPieceSpanningTwoFiles(t *testing.T) {
	dir := t.TempDir()
	info := testInfo(10, 6, 14) // piece 0: bytes 0-9 -> file a[0:6], file b[0:4]
	full := make([]byte, 20)
	for i := range full {
		full[i] = byte(i)
	}
	info.Pieces[0] = sha1.Sum(full[0:10])
	info.Pieces[1] = sha1.Sum(full[10:20])

	h := New(dir, info, logger.New("test"))
	defer h.Close()

	require.True(t, h.TrySavePiece(0, full[0:10]))
	fb := waitFeedback(t, h)
	require.NotNil(t, fb.Saved)

	require.True(t, h.RequestRead(0))
	fb = waitFeedback(t, h)
	require.NotNil(t, fb.Data)
	require.Equal(t, full[0:10], fb.Data.Bytes)
}
