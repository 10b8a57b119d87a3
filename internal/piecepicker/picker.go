// Package piecepicker implements piece selection strategy: rarest-first
// (default), sequential, and request-range, each over a shared rarity table
// maintained from peer bitfield/have updates.
package piecepicker

import "sort"

// Strategy selects which not-yet-finished, non-disabled pieces to prefer.
type Strategy int

const (
	StrategyRarestFirst Strategy = iota
	StrategySequential
	StrategyRequestRange
)

// DefaultMaxPendingPieces bounds how many pieces may be concurrently in
// flight; reduced for a narrow request-range strategy.
const DefaultMaxPendingPieces = 40

// RequestRangeMaxPendingPieces is used instead of DefaultMaxPendingPieces
// when a request range is active, to bias completion toward the requested
// window (e.g. a media player seeking ahead).
const RequestRangeMaxPendingPieces = 2

// PieceView is the subset of piece-table state the picker needs.
type PieceView struct {
	Index      int
	Rarity     int
	Finished   bool
	Pending    bool // already dispatched to storage or fully requested
	Disabled   bool
}

// Picker selects candidate piece indices to request next.
type Picker struct {
	strategy   Strategy
	rangeStart int
	rangeEnd   int
}

// New returns a picker defaulting to rarest-first.
func New() *Picker {
	return &Picker{strategy: StrategyRarestFirst}
}

func (p *Picker) SetStrategy(s Strategy) {
	p.strategy = s
}

func (p *Picker) Strategy() Strategy {
	return p.strategy
}

// SetRequestRange switches to the request-range strategy over [start, end]
// inclusive.
func (p *Picker) SetRequestRange(start, end int) {
	p.strategy = StrategyRequestRange
	p.rangeStart, p.rangeEnd = start, end
}

// MaxPendingPieces returns the pending-piece cap for the active strategy.
func (p *Picker) MaxPendingPieces() int {
	if p.strategy == StrategyRequestRange {
		return RequestRangeMaxPendingPieces
	}
	return DefaultMaxPendingPieces
}

// Candidates returns eligible piece indices (peer-available, unfinished, not
// already pending, priority enabled), ordered by preference under the
// active strategy.
func (p *Picker) Candidates(available map[int]bool, pieces []PieceView) []int {
	eligible := make([]PieceView, 0, len(pieces))
	for _, pv := range pieces {
		if pv.Finished || pv.Pending || pv.Disabled {
			continue
		}
		if !available[pv.Index] {
			continue
		}
		if p.strategy == StrategyRequestRange && (pv.Index < p.rangeStart || pv.Index > p.rangeEnd) {
			continue
		}
		eligible = append(eligible, pv)
	}

	switch p.strategy {
	case StrategySequential:
		sort.Slice(eligible, func(i, j int) bool { return eligible[i].Index < eligible[j].Index })
	case StrategyRequestRange:
		sort.Slice(eligible, func(i, j int) bool { return eligible[i].Index < eligible[j].Index })
	default: // rarest-first
		sort.Slice(eligible, func(i, j int) bool {
			if eligible[i].Rarity != eligible[j].Rarity {
				return eligible[i].Rarity < eligible[j].Rarity
			}
			return eligible[i].Index < eligible[j].Index
		})
	}

	out := make([]int, len(eligible))
	for i, pv := range eligible {
		out[i] = pv.Index
	}
	return out
}
