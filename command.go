package mediatorrent

import "github.com/dog4ik/mediatorrent/internal/piecepicker"

// commandType tags which field of command is populated, since Go has no
// sum types; the engine's select loop switches on this.
type commandType int

const (
	cmdSetStrategy commandType = iota
	cmdSetFilePriority
	cmdPostFullState
	cmdValidate
	cmdAbort
	cmdPause
	cmdResume
)

type command struct {
	kind commandType

	strategy piecepicker.Strategy

	filePriority FilePriority

	fullStateReply chan FullState
}

// SetStrategy switches the active piece-picker strategy.
func (d *Download) SetStrategy(strategy piecepicker.Strategy) {
	d.commandC <- command{kind: cmdSetStrategy, strategy: strategy}
}

// SetFilePriority changes one file's scheduling priority.
func (d *Download) SetFilePriority(fp FilePriority) {
	d.commandC <- command{kind: cmdSetFilePriority, filePriority: fp}
}

// PostFullState blocks until the engine produces a full state snapshot.
func (d *Download) PostFullState() FullState {
	reply := make(chan FullState, 1)
	d.commandC <- command{kind: cmdPostFullState, fullStateReply: reply}
	return <-reply
}

// Validate requests the engine re-enter the Validation state and recompute
// its bitfield from disk.
func (d *Download) Validate() {
	d.commandC <- command{kind: cmdValidate}
}

// Abort requests a fatal shutdown of the engine.
func (d *Download) Abort() {
	d.commandC <- command{kind: cmdAbort}
}

// Pause requests the engine stop accepting new frames and cancel peer
// sessions, without discarding progress.
func (d *Download) Pause() {
	d.commandC <- command{kind: cmdPause}
}

// Resume requests the engine leave the Paused state.
func (d *Download) Resume() {
	d.commandC <- command{kind: cmdResume}
}
