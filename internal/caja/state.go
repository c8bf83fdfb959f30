package caja

import (
	"gymspace/internal/core"
)

// Phase is where the selected shift's session stands. Transitions out of
// Opening and Closing happen only when the backend answers.
type Phase int

const (
	PhaseUnknown Phase = iota
	PhaseClosed
	PhaseOpen
	PhaseOpening
	PhaseClosing
)

func (p Phase) String() string {
	switch p {
	case PhaseClosed:
		return "closed"
	case PhaseOpen:
		return "open"
	case PhaseOpening:
		return "opening"
	case PhaseClosing:
		return "closing"
	default:
		return "unknown"
	}
}

func (p Phase) inFlight() bool {
	return p == PhaseOpening || p == PhaseClosing
}

// Snapshot is a copy of the session state for the selected shift.
type Snapshot struct {
	Shift         core.Shift
	Phase         Phase
	SessionID     string // empty when no session is held
	InitialAmount string
	Responsible   string
	IsOpen        bool
	IsClosed      bool
	Exists        bool
	JustClosed    bool
	LastError     string
}

// holder is the mutable session state. Callers hold Workflow.mu.
type holder struct {
	Snapshot
	// epoch changes whenever the state is replaced wholesale, so results of
	// calls started under an older epoch can be recognised and dropped.
	epoch uint64
}

func newHolder(shift core.Shift) holder {
	return holder{Snapshot: Snapshot{Shift: shift, Phase: PhaseUnknown}}
}

// reset drops everything known about the current shift and moves to shift.
func (h *holder) reset(shift core.Shift) {
	epoch := h.epoch + 1
	*h = newHolder(shift)
	h.epoch = epoch
}

func (h *holder) markNotExisting() {
	h.Exists, h.IsOpen, h.IsClosed = false, false, false
	h.SessionID, h.InitialAmount, h.Responsible = "", "", ""
	h.Phase = PhaseClosed
}

func (h *holder) markOpen(sessionID, initialAmount string) {
	h.Exists, h.IsOpen, h.IsClosed = true, true, false
	h.SessionID, h.InitialAmount = sessionID, initialAmount
	h.JustClosed = false
	h.Phase = PhaseOpen
}

func (h *holder) markClosed() {
	h.Exists, h.IsOpen, h.IsClosed = true, false, true
	h.SessionID, h.InitialAmount, h.Responsible = "", "", ""
	h.Phase = PhaseClosed
}
