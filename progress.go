package mediatorrent

import (
	"time"

	"github.com/dog4ik/mediatorrent/internal/bitfield"
	"github.com/dog4ik/mediatorrent/internal/piece"
	"github.com/dog4ik/mediatorrent/internal/trackermanager"
)

// PeerChangeKind is the kind of per-peer state transition recorded since
// the previous tick.
type PeerChangeKind int

const (
	PeerConnect PeerChangeKind = iota
	PeerDisconnect
	PeerInChoke
	PeerOutChoke
	PeerInInterested
	PeerOutInterested
)

// PeerStateChange records one peer transition, with Value meaningful only
// for the boolean-flag kinds (InChoke, OutChoke, InInterested,
// OutInterested).
type PeerStateChange struct {
	Addr  string
	Kind  PeerChangeKind
	Value bool
}

// StateChange is one tagged event accumulated since the previous progress
// tick.
type StateChange struct {
	FinishedPiece      *int
	DownloadStateChange *State
	TrackerAnnounce    *string
	FilePriorityChange *FilePriority
	PeerStateChange    *PeerStateChange
}

// PeerStats is one connected peer's counters, as reported in Progress.
type PeerStats struct {
	Addr              string
	Downloaded        int64
	Uploaded          int64
	DownloadRate      float64
	UploadRate        float64
	InterestedPieces  int
	InFlightBlocks    int
}

// Progress is emitted once per engine tick.
type Progress struct {
	Tick    uint64
	Percent float64
	Peers   []PeerStats
	Changes []StateChange
}

// FileEntry describes one output file in a FullState snapshot.
type FileEntry struct {
	Index      int
	Path       string
	Size       int64
	StartPiece int
	EndPiece   int
	Priority   piece.Priority
}

// FullState is an on-demand complete snapshot of the engine, requested via
// PostFullState.
type FullState struct {
	Name           string
	TotalPieces    int
	Percent        float64
	TotalSize      int64
	InfoHash       [20]byte
	Trackers       []trackermanager.State
	Peers          []PeerStats
	Files          []FileEntry
	Bitfield       *bitfield.BitField
	State          State
	PendingPieces  []int
	Tick           uint64
	CapturedAt     time.Time

	// Cumulative transfer counters, the same figures persisted to the
	// resume database.
	BytesDownloaded int64
	BytesUploaded   int64
	BytesWasted     int64
	SeededFor       time.Duration
}
