// Package pipeline sequences one repackaging run: workspace preparation,
// archive assembly, alignment, signing and delivery. A controller owns
// exactly one run; partial progress is never reusable.
package pipeline

import "fmt"

// State is the lifecycle position of a run.
type State int

const (
	StateInit State = iota
	StatePrepared
	StateAssembled
	StateAligned
	StateSigned
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StatePrepared:
		return "prepared"
	case StateAssembled:
		return "assembled"
	case StateAligned:
		return "aligned"
	case StateSigned:
		return "signed"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether the run is finished.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// isAllowedTransition encodes the run lifecycle. Failure is reachable from
// any live state; the aligned state completes directly when no signing was
// requested.
func isAllowedTransition(from, to State) bool {
	if to == StateFailed {
		return !from.Terminal()
	}
	switch from {
	case StateInit:
		return to == StatePrepared
	case StatePrepared:
		return to == StateAssembled
	case StateAssembled:
		return to == StateAligned
	case StateAligned:
		return to == StateSigned || to == StateDone
	case StateSigned:
		return to == StateDone
	default:
		return false
	}
}

// machine performs validated transitions for a single run.
type machine struct {
	cur State
}

func (m *machine) to(next State) error {
	if !isAllowedTransition(m.cur, next) {
		return fmt.Errorf("disallowed transition: %s -> %s", m.cur, next)
	}
	m.cur = next
	return nil
}
