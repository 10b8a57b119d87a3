// Package seeder serves incoming block requests: it asks storage for a
// piece's bytes, slices out the requested block, and caches a handful of
// recently-served pieces so a burst of requests for the same piece doesn't
// all hit disk.
package seeder

import (
	"container/list"

	"github.com/dog4ik/mediatorrent/internal/piece"
)

// cacheSize is the number of whole pieces kept in the LRU.
const cacheSize = 8

type cacheEntry struct {
	piece int
	data  []byte
}

// Seeder tracks pending block requests awaiting a storage read and caches
// recently-read pieces.
type Seeder struct {
	cache    map[int]*list.Element
	lru      *list.List
	pendingReads map[int][]pendingRequest
}

type pendingRequest struct {
	peerID string
	block  piece.Block
}

// New returns an empty seeder.
func New() *Seeder {
	return &Seeder{
		cache:        make(map[int]*list.Element),
		lru:          list.New(),
		pendingReads: make(map[int][]pendingRequest),
	}
}

// RequestBlock registers that peerID asked for block. If the piece is
// cached, the block is returned immediately and no storage read is needed.
// Otherwise ok is false and the caller must issue a storage read; the
// request is remembered and will be resolved when FulfillRead is called.
func (s *Seeder) RequestBlock(peerID string, block piece.Block) (data []byte, ok bool) {
	if e, hit := s.cache[block.Index]; hit {
		s.lru.MoveToFront(e)
		entry := e.Value.(*cacheEntry)
		return sliceBlock(entry.data, block), true
	}
	s.pendingReads[block.Index] = append(s.pendingReads[block.Index], pendingRequest{peerID: peerID, block: block})
	return nil, false
}

// FulfillRead is called once storage returns a piece's bytes for a cache
// miss. It returns every pending request for that piece, each paired with
// its requested block's slice of data, so the caller can send them out and
// clear the pending set.
func (s *Seeder) FulfillRead(pieceIndex int, data []byte) []Reply {
	pending := s.pendingReads[pieceIndex]
	delete(s.pendingReads, pieceIndex)

	s.put(pieceIndex, data)

	out := make([]Reply, len(pending))
	for i, p := range pending {
		out[i] = Reply{PeerID: p.peerID, Block: p.block, Data: sliceBlock(data, p.block)}
	}
	return out
}

// FulfillReadError clears pending requests for a piece that failed to read
// back from storage, returning the peer IDs that must instead be told the
// request failed.
func (s *Seeder) FulfillReadError(pieceIndex int) []string {
	pending := s.pendingReads[pieceIndex]
	delete(s.pendingReads, pieceIndex)
	out := make([]string, len(pending))
	for i, p := range pending {
		out[i] = p.peerID
	}
	return out
}

// Reply is one resolved block ready to send to a peer.
type Reply struct {
	PeerID string
	Block  piece.Block
	Data   []byte
}

// HandleRetrieve puts a freshly-saved piece into the cache proactively, so
// an immediate re-request (common right after a finish) hits the cache.
func (s *Seeder) HandleRetrieve(pieceIndex int, data []byte) {
	s.put(pieceIndex, data)
}

func (s *Seeder) put(pieceIndex int, data []byte) {
	if e, ok := s.cache[pieceIndex]; ok {
		e.Value.(*cacheEntry).data = data
		s.lru.MoveToFront(e)
		return
	}
	e := s.lru.PushFront(&cacheEntry{piece: pieceIndex, data: data})
	s.cache[pieceIndex] = e
	if s.lru.Len() > cacheSize {
		oldest := s.lru.Back()
		s.lru.Remove(oldest)
		delete(s.cache, oldest.Value.(*cacheEntry).piece)
	}
}

func sliceBlock(pieceData []byte, b piece.Block) []byte {
	end := b.Begin + b.Length
	if end > len(pieceData) {
		end = len(pieceData)
	}
	if b.Begin > len(pieceData) {
		return nil
	}
	out := make([]byte, end-b.Begin)
	copy(out, pieceData[b.Begin:end])
	return out
}
