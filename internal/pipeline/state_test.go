package pipeline

import "testing"

func TestStateTransitions(t *testing.T) {
	cases := []struct {
		from, to State
		ok       bool
	}{
		{StateInit, StatePrepared, true},
		{StatePrepared, StateAssembled, true},
		{StateAssembled, StateAligned, true},
		{StateAligned, StateSigned, true},
		{StateAligned, StateDone, true}, // signing not requested
		{StateSigned, StateDone, true},
		{StateInit, StateFailed, true},
		{StateSigned, StateFailed, true},
		{StateInit, StateAssembled, false},
		{StatePrepared, StateAligned, false},
		{StateAssembled, StateSigned, false},
		{StateDone, StateFailed, false},
		{StateFailed, StatePrepared, false},
		{StateFailed, StateFailed, false},
		{StateDone, StateDone, false},
	}
	for _, tc := range cases {
		m := machine{cur: tc.from}
		err := m.to(tc.to)
		if tc.ok && err != nil {
			t.Errorf("%s -> %s rejected: %v", tc.from, tc.to, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s -> %s allowed, want rejection", tc.from, tc.to)
		}
		if tc.ok && m.cur != tc.to {
			t.Errorf("machine stuck at %s after transition to %s", m.cur, tc.to)
		}
		if !tc.ok && m.cur != tc.from {
			t.Errorf("rejected transition mutated state to %s", m.cur)
		}
	}
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateInit, StatePrepared, StateAssembled, StateAligned, StateSigned} {
		if s.Terminal() {
			t.Errorf("%s reported terminal", s)
		}
	}
	for _, s := range []State{StateDone, StateFailed} {
		if !s.Terminal() {
			t.Errorf("%s not reported terminal", s)
		}
	}
}
