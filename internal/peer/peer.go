// Package peer holds the engine-side record the scheduler keeps for each
// connected peer task: advertised bitfield, choke/interest state, byte
// counters, and a rolling performance history used for rechoke ranking.
package peer

import (
	"net"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/dog4ik/mediatorrent/internal/bitfield"
)

// Extensions is the set of BEP 10 extension ids a peer advertised in its
// handshake.
type Extensions struct {
	Supported    bool
	PexID        int64
	UtMetadataID int64
	ClientName   string
}

// Active is the engine's in-memory record for one connected peer, cross-
// referenced by the peer task's UUID.
type Active struct {
	ID   string
	Addr net.Addr

	Bitfield *bitfield.BitField

	// Choke/interest state: "In" is them -> us, "Out" is us -> them.
	PeerChokingUs   bool
	PeerInterested  bool
	WeAreChoking    bool
	WeAreInterested bool

	Downloaded int64
	Uploaded   int64

	downloadSpeed metrics.EWMA
	uploadSpeed   metrics.EWMA

	InFlightBlocks int
	Interested     map[int]struct{} // pieces we want and this peer has
	Extensions     Extensions
	PexCursor      int

	ConnectedAt time.Time
	Reputation  int
}

// NewActive returns a freshly connected peer record: both sides start
// choked and not interested, per the wire protocol's default state.
func NewActive(id string, addr net.Addr, numPieces int) *Active {
	return &Active{
		ID:            id,
		Addr:          addr,
		Bitfield:      bitfield.New(numPieces),
		PeerChokingUs: true,
		WeAreChoking:  true,
		downloadSpeed: metrics.NewEWMA1(),
		uploadSpeed:   metrics.NewEWMA1(),
		Interested:    make(map[int]struct{}),
		ConnectedAt:   time.Now(),
	}
}

// RecordDownloaded adds n bytes to the downloaded counter and the download
// speed sample.
func (a *Active) RecordDownloaded(n int64) {
	a.Downloaded += n
	a.downloadSpeed.Update(n)
}

// RecordUploaded adds n bytes to the uploaded counter and the upload speed
// sample.
func (a *Active) RecordUploaded(n int64) {
	a.Uploaded += n
	a.uploadSpeed.Update(n)
}

// Tick advances both EWMAs by one sampling interval; call once per choke
// interval tick.
func (a *Active) Tick() {
	a.downloadSpeed.Tick()
	a.uploadSpeed.Tick()
}

// DownloadRate returns the current smoothed download rate in bytes/sec.
func (a *Active) DownloadRate() float64 {
	return a.downloadSpeed.Rate()
}

// UploadRate returns the current smoothed upload rate in bytes/sec.
func (a *Active) UploadRate() float64 {
	return a.uploadSpeed.Rate()
}

// SetInterestedPieces replaces the interested-pieces set with pieces, as
// computed by the caller.
func (a *Active) SetInterestedPieces(pieces map[int]struct{}) {
	a.Interested = pieces
}

// AddInterested marks piece i as one we'd request from this peer.
func (a *Active) AddInterested(i int) {
	a.Interested[i] = struct{}{}
}

// RemoveInterested clears piece i from the interested set.
func (a *Active) RemoveInterested(i int) {
	delete(a.Interested, i)
}

// InterestedCount is the number of pieces we'd currently request from this
// peer.
func (a *Active) InterestedCount() int {
	return len(a.Interested)
}
