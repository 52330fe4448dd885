package memo

// State is an operation's memoization status.
type State int

const (
	// NoMemo is the initial state: the operation runs normal analysis.
	NoMemo State = iota

	// MemoReq means memoization was requested; the record/replay decision
	// is still pending until analysis starts.
	MemoReq

	// Record means the operation analyses normally while its trace builds
	// a template.
	Record

	// Replay means the operation skipped analysis and replays a template.
	Replay
)

var stateNames = [...]string{
	NoMemo:  "NO_MEMO",
	MemoReq: "MEMO_REQ",
	Record:  "RECORD",
	Replay:  "REPLAY",
}

// String returns the canonical upper-case name of the state.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is legal from s.
func (s State) Terminal() bool {
	return s == Record || s == Replay
}

// Memoized reports whether the operation holds a template reference.
func (s State) Memoized() bool {
	return s.Terminal()
}

// ParseState is the inverse of State.String.
func ParseState(name string) (State, bool) {
	for i, n := range stateNames {
		if n == name {
			return State(i), true
		}
	}
	return NoMemo, false
}

// canAdvance reports whether from → to is a legal transition.
func canAdvance(from, to State) bool {
	switch from {
	case NoMemo:
		return to == MemoReq
	case MemoReq:
		return to == Record || to == Replay
	default:
		return false
	}
}
