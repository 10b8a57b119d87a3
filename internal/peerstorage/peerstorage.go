// Package peerstorage is the engine's address book: known peer endpoints
// with a reputation score, admission control (connecting/connected sets),
// and source tagging (listener, tracker, pex) used to bias which address to
// dial next.
package peerstorage

import "sort"

// Source identifies where an address was learned from.
type Source int

const (
	SourceListener Source = iota
	SourceTracker
	SourcePEX
)

// initialReputation is the starting score for a freshly learned address;
// PEX-sourced addresses start lower since they are unverified third-hand
// reports.
const (
	initialReputationDefault = 0
	initialReputationPEX     = -5
)

const (
	reputationGoodDelta = 1
	reputationBadDelta  = -10
)

type entry struct {
	addr       string
	source     Source
	reputation int
	connecting bool
	connected  bool
}

// Storage tracks every known peer address for one torrent.
type Storage struct {
	byAddr map[string]*entry
}

// New returns an empty address book.
func New() *Storage {
	return &Storage{byAddr: make(map[string]*entry)}
}

// Add records addr as known, from source, if not already present. Returns
// false if addr was already known.
func (s *Storage) Add(addr string, source Source) bool {
	if _, ok := s.byAddr[addr]; ok {
		return false
	}
	rep := initialReputationDefault
	if source == SourcePEX {
		rep = initialReputationPEX
	}
	s.byAddr[addr] = &entry{addr: addr, source: source, reputation: rep}
	return true
}

// AddValidated records addr as known with a positive starting reputation,
// e.g. an address that has successfully connected before (resume data).
func (s *Storage) AddValidated(addr string, source Source) {
	if _, ok := s.byAddr[addr]; ok {
		return
	}
	s.byAddr[addr] = &entry{addr: addr, source: source, reputation: reputationGoodDelta}
}

// MarkConnecting reserves addr so it isn't dialed twice concurrently.
func (s *Storage) MarkConnecting(addr string) {
	if e, ok := s.byAddr[addr]; ok {
		e.connecting = true
	}
}

// JoinConnected moves addr from connecting to connected, e.g. once the
// handshake succeeds.
func (s *Storage) JoinConnected(addr string) {
	if e, ok := s.byAddr[addr]; ok {
		e.connecting = false
		e.connected = true
	}
}

// DiscardConnecting clears the connecting flag without marking connected,
// e.g. on dial failure.
func (s *Storage) DiscardConnecting(addr string) {
	if e, ok := s.byAddr[addr]; ok {
		e.connecting = false
	}
}

// DiscardConnected clears the connected flag, e.g. on disconnect.
func (s *Storage) DiscardConnected(addr string) {
	if e, ok := s.byAddr[addr]; ok {
		e.connected = false
	}
}

// IncrementReputation rewards addr for good behavior (e.g. delivering a
// valid piece block).
func (s *Storage) IncrementReputation(addr string) {
	if e, ok := s.byAddr[addr]; ok {
		e.reputation += reputationGoodDelta
	}
}

// DecrementReputation penalizes addr, e.g. for contributing to a piece that
// failed its hash check.
func (s *Storage) DecrementReputation(addr string) {
	if e, ok := s.byAddr[addr]; ok {
		e.reputation += reputationBadDelta
	}
}

// PendingAmount returns how many addresses are known but neither connecting
// nor connected, i.e. available to dial.
func (s *Storage) PendingAmount() int {
	n := 0
	for _, e := range s.byAddr {
		if !e.connecting && !e.connected {
			n++
		}
	}
	return n
}

// ConnectBest returns up to n addresses to dial next, best reputation
// first, marking each as connecting.
func (s *Storage) ConnectBest(n int) []string {
	var candidates []*entry
	for _, e := range s.byAddr {
		if !e.connecting && !e.connected {
			candidates = append(candidates, e)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].reputation > candidates[j].reputation
	})
	if n > len(candidates) {
		n = len(candidates)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		candidates[i].connecting = true
		out[i] = candidates[i].addr
	}
	return out
}
