// Package scheduler is the engine's central bookkeeping: it owns the piece
// table, decides what to request from which peer, applies choke/interest
// transitions, and runs the periodic rechoke algorithm.
package scheduler

import (
	"sort"
	"time"

	"github.com/dog4ik/mediatorrent/internal/bitfield"
	"github.com/dog4ik/mediatorrent/internal/metainfo"
	"github.com/dog4ik/mediatorrent/internal/peer"
	"github.com/dog4ik/mediatorrent/internal/piece"
	"github.com/dog4ik/mediatorrent/internal/piecepicker"
)

// ChokeInterval / OptimisticInterval are the periods at which the rechoke
// algorithm re-ranks peers and picks a fresh optimistic unchoke.
const (
	ChokeInterval      = 15 * time.Second
	OptimisticInterval = 30 * time.Second

	// UnchokeSlots is how many peers the ranking unchokes outright.
	UnchokeSlots = 4

	// MaxRequestsPerPeer bounds how many blocks may be in flight to one
	// peer at once.
	MaxRequestsPerPeer = 10

	// EndgameThreshold: once fewer than this many blocks remain overall,
	// the scheduler allows duplicate in-flight requests for the same
	// block across multiple peers, to squeeze out the last stragglers.
	EndgameThreshold = 20
)

// RequestPlan is one block to request from a specific peer.
type RequestPlan struct {
	PeerID string
	Block  piece.Block
}

// ChokeTransition is a choke/unchoke decision the caller must send as a wire
// message exactly once.
type ChokeTransition struct {
	PeerID string
	Choke  bool
}

// Scheduler owns the piece table and per-peer scheduling state for one
// torrent.
type Scheduler struct {
	info   *metainfo.Info
	pieces []*piece.Piece
	picker *piecepicker.Picker

	peers map[string]*peer.Active

	lastChoke      time.Time
	lastOptimistic time.Time
}

// New builds a scheduler from the torrent's info dict and a starting
// bitfield (for resumption; may be all-zero).
func New(info *metainfo.Info, have *bitfield.BitField) *Scheduler {
	s := &Scheduler{
		info:   info,
		pieces: make([]*piece.Piece, info.NumPieces()),
		picker: piecepicker.New(),
		peers:  make(map[string]*peer.Active),
	}
	for i := range s.pieces {
		p := piece.New(i, info.PieceLen(i))
		if have != nil && have.Has(i) {
			p.IsFinished = true
		}
		s.pieces[i] = p
	}
	return s
}

// SetStrategy switches the piece picker's selection strategy.
func (s *Scheduler) SetStrategy(strategy piecepicker.Strategy) {
	s.picker.SetStrategy(strategy)
}

// SetRequestRange narrows scheduling to a [start, end] window, e.g. when a
// media player seeks ahead of the sequential read position.
func (s *Scheduler) SetRequestRange(start, end int) {
	s.picker.SetRequestRange(start, end)
}

// ChangeFilePriority updates the priority of every piece touched by fileIdx.
func (s *Scheduler) ChangeFilePriority(fileIdx int, priority piece.Priority) {
	for i, p := range s.pieces {
		for _, r := range s.info.PieceFileRanges(i) {
			if r.FileIndex == fileIdx {
				p.Priority = priority
				break
			}
		}
	}
}

// AddPeer registers a newly connected peer.
func (s *Scheduler) AddPeer(a *peer.Active) {
	s.peers[a.ID] = a
}

// Peers returns every currently connected peer's record.
func (s *Scheduler) Peers() map[string]*peer.Active {
	return s.peers
}

// RecordUploaded credits n bytes sent to peerID, for rechoke ranking while
// seeding and for cumulative upload stats.
func (s *Scheduler) RecordUploaded(peerID string, n int64) {
	if a, ok := s.peers[peerID]; ok {
		a.RecordUploaded(n)
	}
}

// RemovePeer drops a disconnected peer, reverting any blocks it had in
// flight back to not-requested.
func (s *Scheduler) RemovePeer(peerID string) {
	for _, p := range s.pieces {
		p.CancelPeerBlocks(peerID)
	}
	delete(s.peers, peerID)
}

// HandlePeerBitfield stores an initial bitfield advertisement and recomputes
// the peer's interested set from it.
func (s *Scheduler) HandlePeerBitfield(peerID string, bf *bitfield.BitField) {
	a, ok := s.peers[peerID]
	if !ok {
		return
	}
	a.Bitfield = bf
	s.recomputeInterest(a)
}

// HandlePeerHaveMsg applies a single Have(i) update.
func (s *Scheduler) HandlePeerHaveMsg(peerID string, index int) {
	a, ok := s.peers[peerID]
	if !ok {
		return
	}
	a.Bitfield.Set(index)
	if s.wantPiece(index) {
		a.AddInterested(index)
	}
}

func (s *Scheduler) wantPiece(index int) bool {
	if index < 0 || index >= len(s.pieces) {
		return false
	}
	p := s.pieces[index]
	return !p.IsFinished && p.Priority != piece.PriorityDisabled
}

func (s *Scheduler) recomputeInterest(a *peer.Active) {
	interested := make(map[int]struct{})
	for i := 0; i < a.Bitfield.Len(); i++ {
		if a.Bitfield.Has(i) && s.wantPiece(i) {
			interested[i] = struct{}{}
		}
	}
	a.SetInterestedPieces(interested)
}

// OnPieceFinished marks piece i finished and removes it from every peer's
// interested set; called once a piece is verified and saved.
func (s *Scheduler) OnPieceFinished(index int) {
	s.pieces[index].IsFinished = true
	for _, a := range s.peers {
		a.RemoveInterested(index)
	}
}

// OnPriorityActivated re-adds a piece to every advertising peer's interested
// set, e.g. after raising a file's priority from disabled.
func (s *Scheduler) OnPriorityActivated(index int) {
	for _, a := range s.peers {
		if a.Bitfield.Has(index) && s.wantPiece(index) {
			a.AddInterested(index)
		}
	}
}

// HandlePeerChoke drops all outstanding requests assigned to peerID.
func (s *Scheduler) HandlePeerChoke(peerID string) {
	if a, ok := s.peers[peerID]; ok {
		a.PeerChokingUs = true
	}
	for _, p := range s.pieces {
		p.CancelPeerBlocks(peerID)
	}
}

// HandlePeerUnchoke records that peerID will now serve our requests; the
// caller should immediately call Schedule for this peer.
func (s *Scheduler) HandlePeerUnchoke(peerID string) {
	if a, ok := s.peers[peerID]; ok {
		a.PeerChokingUs = false
	}
}

func (s *Scheduler) HandlePeerInterested(peerID string) {
	if a, ok := s.peers[peerID]; ok {
		a.PeerInterested = true
	}
}

func (s *Scheduler) HandlePeerUninterested(peerID string) {
	if a, ok := s.peers[peerID]; ok {
		a.PeerInterested = false
	}
}

// refreshRarity recomputes each piece's Rarity field from current peer bitfields.
// Cheap enough to call once per tick; the piece table size is bounded by
// the torrent's piece count, not the peer count squared.
func (s *Scheduler) refreshRarity() {
	counts := make([]int, len(s.pieces))
	for _, a := range s.peers {
		for i := 0; i < a.Bitfield.Len(); i++ {
			if a.Bitfield.Has(i) {
				counts[i]++
			}
		}
	}
	for i, p := range s.pieces {
		p.Rarity = counts[i]
	}
}

func (s *Scheduler) pendingBlocksRemaining() int {
	n := 0
	for _, p := range s.pieces {
		if p.IsFinished {
			continue
		}
		for i := 0; i < p.NumBlocks(); i++ {
			if _, assigned := p.AssignedTo(i); !assigned {
				n++
			}
		}
	}
	return n
}

// Schedule fills peerID's request window: it picks candidate pieces by the
// active strategy, then the first not-yet-requested block of each (one
// block per piece per call), up to MaxRequestsPerPeer in flight. Only called for peers we are unchoked by
// and that are reachable (caller enforces that).
func (s *Scheduler) Schedule(peerID string) []RequestPlan {
	a, ok := s.peers[peerID]
	if !ok || a.PeerChokingUs {
		return nil
	}

	s.refreshRarity()

	available := make(map[int]bool, len(a.Interested))
	for i := range a.Interested {
		available[i] = true
	}

	startedCount := 0
	for _, p := range s.pieces {
		if !p.IsFinished && p.Priority != piece.PriorityDisabled && p.HasStarted() {
			startedCount++
		}
	}
	atCap := startedCount >= s.picker.MaxPendingPieces()

	views := make([]piecepicker.PieceView, 0, len(s.pieces))
	for _, p := range s.pieces {
		if p.IsFinished || p.Priority == piece.PriorityDisabled {
			continue
		}
		dispatched := !p.PendingBlocks() && p.IsSaving
		newPieceBlockedByCap := atCap && !p.HasStarted()
		views = append(views, piecepicker.PieceView{
			Index:    p.Index,
			Rarity:   p.Rarity,
			Finished: p.IsFinished,
			Pending:  dispatched || newPieceBlockedByCap,
			Disabled: p.Priority == piece.PriorityDisabled,
		})
	}

	endgame := s.pendingBlocksRemaining() < EndgameThreshold

	var plans []RequestPlan
	inFlight := a.InFlightBlocks
	for _, idx := range s.picker.Candidates(available, views) {
		if inFlight >= MaxRequestsPerPeer {
			break
		}
		p := s.pieces[idx]
		blockIdx, hasNew := p.NextNotRequested()
		if !hasNew {
			if !endgame {
				continue
			}
			blockIdx, hasNew = s.anyInFlightBlock(p, peerID)
			if !hasNew {
				continue
			}
		}
		p.MarkRequested(blockIdx, peerID)
		plans = append(plans, RequestPlan{PeerID: peerID, Block: p.BlockAt(blockIdx)})
		inFlight++
	}
	a.InFlightBlocks = inFlight
	return plans
}

// anyInFlightBlock picks a block already assigned to a different peer, for
// end-game duplicate requesting.
func (s *Scheduler) anyInFlightBlock(p *piece.Piece, excludePeer string) (int, bool) {
	for i := 0; i < p.NumBlocks(); i++ {
		assignee, assigned := p.AssignedTo(i)
		if assigned && assignee != excludePeer {
			return i, true
		}
	}
	return 0, false
}

// SavedBlockResult reports what happened after a Piece message was applied.
type SavedBlockResult struct {
	PieceComplete bool
	Piece         int
	Data          []byte
}

// SaveBlock applies an arrived block to its piece's assembly buffer.
func (s *Scheduler) SaveBlock(peerID string, index, begin int, data []byte) (SavedBlockResult, error) {
	if a, ok := s.peers[peerID]; ok {
		a.RecordDownloaded(int64(len(data)))
		if a.InFlightBlocks > 0 {
			a.InFlightBlocks--
		}
	}
	p := s.pieces[index]
	if err := p.PutBlock(begin, data); err != nil {
		return SavedBlockResult{}, err
	}
	p.SetContributor(peerID)
	if p.IsComplete() && !p.IsSaving {
		p.IsSaving = true
		return SavedBlockResult{PieceComplete: true, Piece: index, Data: p.Bytes()}, nil
	}
	return SavedBlockResult{}, nil
}

// FailPiece reverts a piece to pending after a hash mismatch, so it can be
// requested again, and returns which peer most recently contributed a block
// to it (for a reputation penalty), if known.
func (s *Scheduler) FailPiece(index int) (string, bool) {
	p := s.pieces[index]
	contributor, ok := p.Contributor()
	p.Reset()
	return contributor, ok
}

// AddPiece marks a piece index finished directly, e.g. from validation.
func (s *Scheduler) AddPiece(index int) {
	s.pieces[index].IsFinished = true
}

// IsTorrentFinished reports whether every non-disabled piece is finished.
func (s *Scheduler) IsTorrentFinished() bool {
	for _, p := range s.pieces {
		if p.Priority == piece.PriorityDisabled {
			continue
		}
		if !p.IsFinished {
			return false
		}
	}
	return true
}

// Bitfield returns the engine's current have-set as a fresh bitfield.
func (s *Scheduler) Bitfield() *bitfield.BitField {
	bf := bitfield.New(len(s.pieces))
	for _, p := range s.pieces {
		if p.IsFinished {
			bf.Set(p.Index)
		}
	}
	return bf
}

// PendingPieceIndices returns indices of pieces with at least one block in
// flight or saving, for the FullState snapshot.
func (s *Scheduler) PendingPieceIndices() []int {
	var out []int
	for _, p := range s.pieces {
		if p.IsFinished {
			continue
		}
		if p.IsSaving || !p.PendingBlocks() {
			out = append(out, p.Index)
			continue
		}
		for i := 0; i < p.NumBlocks(); i++ {
			if _, assigned := p.AssignedTo(i); assigned {
				out = append(out, p.Index)
				break
			}
		}
	}
	return out
}

// ShouldRechoke / ShouldOptimisticUnchoke report whether enough time has
// elapsed since the last run of each policy, given now.
func (s *Scheduler) ShouldRechoke(now time.Time) bool {
	return now.Sub(s.lastChoke) >= ChokeInterval
}

func (s *Scheduler) ShouldOptimisticUnchoke(now time.Time) bool {
	return now.Sub(s.lastOptimistic) >= OptimisticInterval
}

// Rechoke re-ranks connected, interested peers by recent rate and unchokes
// the top UnchokeSlots, choking the rest; a peer not interested in us is
// never worth an unchoke slot and is always choked. seeding selects whether
// ranking is by our download rate from each peer (leeching) or our upload
// rate to each peer (seeding).
// Returns only the transitions that actually change a peer's choke state.
func (s *Scheduler) Rechoke(now time.Time, seeding bool) []ChokeTransition {
	s.lastChoke = now
	ranked := s.rankedPeers(seeding)

	var transitions []ChokeTransition
	slot := 0
	for _, a := range ranked {
		shouldUnchoke := a.PeerInterested && slot < UnchokeSlots
		if shouldUnchoke {
			slot++
		}
		if shouldUnchoke == a.WeAreChoking {
			transitions = append(transitions, ChokeTransition{PeerID: a.ID, Choke: !shouldUnchoke})
			a.WeAreChoking = !shouldUnchoke
		}
	}
	return transitions
}

// OptimisticUnchoke picks one additional currently-choked peer to unchoke,
// independent of rank. The caller is responsible for supplying
// deterministic-but-varying randomness across calls (e.g. via pickIndex).
func (s *Scheduler) OptimisticUnchoke(now time.Time, pickIndex func(n int) int) *ChokeTransition {
	s.lastOptimistic = now
	var choked []*peer.Active
	for _, a := range s.peers {
		if a.WeAreChoking {
			choked = append(choked, a)
		}
	}
	if len(choked) == 0 {
		return nil
	}
	sort.Slice(choked, func(i, j int) bool { return choked[i].ID < choked[j].ID })
	chosen := choked[pickIndex(len(choked))%len(choked)]
	chosen.WeAreChoking = false
	return &ChokeTransition{PeerID: chosen.ID, Choke: false}
}

func (s *Scheduler) rankedPeers(seeding bool) []*peer.Active {
	out := make([]*peer.Active, 0, len(s.peers))
	for _, a := range s.peers {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].DownloadRate(), out[j].DownloadRate()
		if seeding {
			ri, rj = out[i].UploadRate(), out[j].UploadRate()
		}
		if ri != rj {
			return ri > rj
		}
		return out[i].ID < out[j].ID
	})
	return out
}
