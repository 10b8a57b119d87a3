// Package trackermanager drives periodic announces to every tracker URL a
// torrent was given, retrying failed trackers with exponential backoff and
// surfacing newly discovered peer addresses to the engine.
package trackermanager

import (
	"context"
	"time"

	"github.com/dog4ik/mediatorrent/internal/logger"
	"github.com/dog4ik/mediatorrent/internal/tracker"
)

const (
	minBackoff = 5 * time.Second
	maxBackoff = 30 * time.Minute
)

// State is a snapshot of one tracker's announce history, as surfaced in the
// engine's FullState.
type State struct {
	URL            string
	LastAnnounced  time.Time
	Interval       time.Duration
	Seeders        int
	Leechers       int
	LastError      error
	ConsecutiveErr int
}

// PeersFound is emitted when an announce returns new peer addresses.
type PeersFound struct {
	TrackerURL string
	Addrs      []string
}

type entry struct {
	client   tracker.Client
	state    State
	nextTime time.Time
	backoff  time.Duration
}

// Manager owns one Client per tracker URL and multiplexes their results.
type Manager struct {
	log      logger.Logger
	entries  []*entry
	foundC   chan PeersFound
	countReq func() (uploaded, downloaded, left int64)
	infoHash [20]byte
	peerID   [20]byte
	port     uint16
}

// New builds a manager for the given tracker URLs. Invalid URLs are logged
// and skipped rather than failing construction, since one bad tracker
// should never block the others.
func New(urls []string, infoHash, peerID [20]byte, port uint16, l logger.Logger) *Manager {
	m := &Manager{
		log:      l,
		foundC:   make(chan PeersFound, 16),
		infoHash: infoHash,
		peerID:   peerID,
		port:     port,
	}
	for _, u := range urls {
		c, err := tracker.New(u)
		if err != nil {
			l.Warningf("trackermanager: skipping tracker %q: %v", u, err)
			continue
		}
		m.entries = append(m.entries, &entry{client: c, state: State{URL: u}, backoff: minBackoff})
	}
	return m
}

// Found returns the channel of newly discovered peer addresses.
func (m *Manager) Found() <-chan PeersFound {
	return m.foundC
}

// States returns a snapshot of every tracker's current state.
func (m *Manager) States() []State {
	out := make([]State, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.state
	}
	return out
}

// Tick re-announces to every tracker whose nextTime has elapsed. uploaded,
// downloaded and left are the current byte totals sent in the announce.
func (m *Manager) Tick(ctx context.Context, now time.Time, event tracker.Event, uploaded, downloaded, left int64) {
	for _, e := range m.entries {
		if now.Before(e.nextTime) {
			continue
		}
		m.announce(ctx, e, now, event, uploaded, downloaded, left)
	}
}

func (m *Manager) announce(ctx context.Context, e *entry, now time.Time, event tracker.Event, uploaded, downloaded, left int64) {
	resp, err := e.client.Announce(ctx, tracker.AnnounceRequest{
		InfoHash:   m.infoHash,
		PeerID:     m.peerID,
		Port:       m.port,
		Uploaded:   uploaded,
		Downloaded: downloaded,
		Left:       left,
		Event:      event,
		NumWant:    50,
	})
	if err != nil {
		e.state.LastError = err
		e.state.ConsecutiveErr++
		e.backoff = nextBackoff(e.backoff)
		e.nextTime = now.Add(e.backoff)
		m.log.WithField("tracker", e.client.URL()).Warningf("announce failed: %v", err)
		return
	}

	e.state.LastAnnounced = now
	e.state.Interval = resp.Interval
	e.state.Seeders = resp.Seeders
	e.state.Leechers = resp.Leechers
	e.state.LastError = nil
	e.state.ConsecutiveErr = 0
	e.backoff = minBackoff
	interval := resp.Interval
	if interval <= 0 {
		interval = minBackoff
	}
	e.nextTime = now.Add(interval)

	if len(resp.Peers) > 0 {
		select {
		case m.foundC <- PeersFound{TrackerURL: e.client.URL(), Addrs: resp.Peers}:
		default:
		}
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
