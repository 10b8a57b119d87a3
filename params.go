package mediatorrent

import (
	"github.com/dog4ik/mediatorrent/internal/bitfield"
	"github.com/dog4ik/mediatorrent/internal/metainfo"
	"github.com/dog4ik/mediatorrent/internal/piece"
)

// FilePriority pairs an output file with its scheduling priority.
type FilePriority struct {
	FileIndex int
	Priority  piece.Priority
}

// Params is the engine construction input: everything a Download needs to
// start working on a torrent.
type Params struct {
	Info *metainfo.Info

	// Have is the starting bitfield for resumption; nil or empty means
	// start from scratch.
	Have *bitfield.BitField

	FilePriorities []FilePriority
	KnownPeers     []string
	TrackerURLs    []string

	// OutputDir is where files are written; paths are joined from Info's
	// file list.
	OutputDir string

	// ExternalAddr is stored with the parameters; it is not sent in tracker
	// announces.
	ExternalAddr string

	// MaxConnections caps simultaneous peer connections; 0 means use the
	// engine default.
	MaxConnections int
}

// DefaultMaxConnections is used when Params.MaxConnections is zero.
const DefaultMaxConnections = 80
