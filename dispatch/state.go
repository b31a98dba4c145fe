package dispatch

// State is how far one unit got through a run.
type State int

const (
	StateUnprocessed State = iota
	StateRead
	StatePlanned
	StateRewritten
	StateWritten
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateUnprocessed: "unprocessed",
	StateRead:        "read",
	StatePlanned:     "planned",
	StateRewritten:   "rewritten",
	StateWritten:     "written",
	StateDone:        "done",
	StateFailed:      "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
