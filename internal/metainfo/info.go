package metainfo

import (
	"crypto/sha1"
	"errors"
	"path/filepath"

	"github.com/zeebo/bencode"
)

// HashSize is the length of a SHA-1 piece hash and of the info-hash.
const HashSize = 20

// File describes one output file inside a (possibly multi-file) torrent.
type File struct {
	Path   []string `bencode:"path"`
	Length int64    `bencode:"length"`
}

// FullPath joins the file's path components under dir.
func (f File) FullPath(dir string) string {
	parts := append([]string{dir}, f.Path...)
	return filepath.Join(parts...)
}

type rawInfo struct {
	Name        string `bencode:"name"`
	PieceLength int64  `bencode:"piece length"`
	Pieces      string `bencode:"pieces"`
	Private     int64  `bencode:"private"`
	Length      int64  `bencode:"length"`
	Files       []File `bencode:"files"`
}

// Info is the torrent descriptor: total size, ordered piece hashes, uniform
// piece length (the last piece may be shorter), and the list of output
// files.
type Info struct {
	Name        string
	PieceLength int64
	Pieces      [][HashSize]byte
	Private     int64
	Files       []File
	Bytes       []byte // raw bencoded info dict; needed for ut_metadata serving and the info-hash
	Hash        [HashSize]byte
}

// NewInfo parses a raw bencoded info dictionary.
func NewInfo(b []byte) (*Info, error) {
	var raw rawInfo
	if err := bencode.DecodeBytes(b, &raw); err != nil {
		return nil, err
	}
	if len(raw.Pieces)%HashSize != 0 {
		return nil, errors.New("metainfo: invalid pieces length")
	}
	numPieces := len(raw.Pieces) / HashSize
	pieces := make([][HashSize]byte, numPieces)
	for i := 0; i < numPieces; i++ {
		copy(pieces[i][:], raw.Pieces[i*HashSize:(i+1)*HashSize])
	}
	files := raw.Files
	if len(files) == 0 {
		files = []File{{Path: []string{raw.Name}, Length: raw.Length}}
	}
	return &Info{
		Name:        raw.Name,
		PieceLength: raw.PieceLength,
		Pieces:      pieces,
		Private:     raw.Private,
		Files:       files,
		Bytes:       b,
		Hash:        sha1.Sum(b),
	}, nil
}

// NumPieces returns the total piece count.
func (info *Info) NumPieces() int {
	return len(info.Pieces)
}

// TotalSize returns the sum of all output file lengths.
func (info *Info) TotalSize() int64 {
	var total int64
	for _, f := range info.Files {
		total += f.Length
	}
	return total
}

// PieceLen returns the exact byte length of piece i, accounting for a
// shorter trailing piece.
func (info *Info) PieceLen(i int) int64 {
	if i == info.NumPieces()-1 {
		if rem := info.TotalSize() % info.PieceLength; rem != 0 {
			return rem
		}
	}
	return info.PieceLength
}

// InfoSize is the byte length of the raw info dictionary, used to size
// ut_metadata transfers and advertised in the extension handshake's
// metadata_size field.
func (info *Info) InfoSize() uint32 {
	return uint32(len(info.Bytes))
}

// FileRange locates where piece i lands inside one output file, as a byte
// range within that file.
type FileRange struct {
	FileIndex int
	Offset    int64 // offset within the file
	Length    int64 // bytes of the piece that land in this file
}

// PieceFileRanges returns the file ranges piece i spans, in file order.
func (info *Info) PieceFileRanges(i int) []FileRange {
	pieceStart := int64(i) * info.PieceLength
	pieceEnd := pieceStart + info.PieceLen(i)

	var ranges []FileRange
	var cursor int64
	for fi, f := range info.Files {
		fileStart := cursor
		fileEnd := cursor + f.Length
		cursor = fileEnd

		overlapStart := max64(pieceStart, fileStart)
		overlapEnd := min64(pieceEnd, fileEnd)
		if overlapStart >= overlapEnd {
			continue
		}
		ranges = append(ranges, FileRange{
			FileIndex: fi,
			Offset:    overlapStart - fileStart,
			Length:    overlapEnd - overlapStart,
		})
	}
	return ranges
}

// FilePieceRange returns the inclusive range of piece indices file i spans.
func (info *Info) FilePieceRange(i int) (start, end int) {
	var cursor int64
	for fi, f := range info.Files {
		fileStart := cursor
		fileEnd := cursor + f.Length
		cursor = fileEnd
		if fi != i {
			continue
		}
		start = int(fileStart / info.PieceLength)
		last := fileEnd - 1
		if last < fileStart {
			last = fileStart
		}
		end = int(last / info.PieceLength)
		return start, end
	}
	return 0, 0
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
