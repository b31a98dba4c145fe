package dispatch

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wippyai/classinject/inject"
)

// Failure records why one unit was not written.
type Failure struct {
	Err      error
	Language string
	Path     string
	// Reached is the last state the unit completed before failing.
	Reached State
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Path, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Summary reports the outcome of one run.
type Summary struct {
	Started   time.Time
	Failed    []Failure
	Duration  time.Duration
	Scanned   int // units read or attempted
	Matched   int // units with at least one matched method
	Rewritten int // units whose code changed
	Unchanged int // units no policy applied to
	Skipped   int // matched units whose every site was already injected
	Inserted  int // fragments spliced in across all units
	RunID     uuid.UUID
}

func newSummary() *Summary {
	return &Summary{RunID: uuid.New(), Started: time.Now()}
}

// UnitReport is passed to Options.OnUnit when a unit reaches a final state.
type UnitReport struct {
	Err      error
	Result   *inject.Result
	Language string
	Path     string
	State    State
	// Reached is the last state completed before a failure.
	Reached State
	// Dest is where the unit was written; empty when nothing was.
	Dest   string
	Digest [sha256.Size]byte
}

func (s *Summary) add(r UnitReport) {
	s.Scanned++
	if r.Result != nil {
		if r.Result.Matched > 0 {
			s.Matched++
		}
	}
	if r.State == StateFailed {
		s.Failed = append(s.Failed, Failure{Err: r.Err, Language: r.Language, Path: r.Path, Reached: r.Reached})
		return
	}
	switch {
	case r.Result.Changed():
		s.Rewritten++
		s.Inserted += r.Result.Inserted
	case r.Result.Skipped > 0:
		s.Skipped++
	default:
		s.Unchanged++
	}
}

// OK reports whether every scanned unit succeeded.
func (s *Summary) OK() bool { return len(s.Failed) == 0 }

func (s *Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %d scanned, %d matched, %d rewritten, %d unchanged, %d already injected, %d failed",
		s.RunID, s.Scanned, s.Matched, s.Rewritten, s.Unchanged, s.Skipped, len(s.Failed))
	for _, f := range s.Failed {
		b.WriteString("\n  ")
		b.WriteString(f.Error())
	}
	return b.String()
}
