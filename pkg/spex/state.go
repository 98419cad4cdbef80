package spex

import (
	"fmt"
	"time"
)

// State is the scanner state shown to the operator by the LED cadence.
type State int

// Scanner states.
const (
	Stopped State = iota
	Scanning
	Paused
)

var stateNames = [...]string{"stopped", "scanning", "paused"}

// String implements fmt.Stringer.
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ParseState parses a state name.
func ParseState(name string) (State, error) {
	for n, str := range stateNames {
		if str == name {
			return State(n), nil
		}
	}
	return Stopped, fmt.Errorf("unknown state %q", name)
}

// Duty is one LED blink cycle.
type Duty struct {
	On  time.Duration
	Off time.Duration
}

var dutyCycles = [...]Duty{
	Stopped:  {On: 50 * time.Millisecond, Off: 2000 * time.Millisecond},
	Scanning: {On: 2000 * time.Millisecond, Off: 50 * time.Millisecond},
	Paused:   {On: 100 * time.Millisecond, Off: 100 * time.Millisecond},
}

// Duty returns the blink cycle signalling the state.
func (s State) Duty() Duty {
	if s >= 0 && int(s) < len(dutyCycles) {
		return dutyCycles[s]
	}
	return dutyCycles[Stopped]
}

// TransitionError rejects a scan control request.
type TransitionError struct {
	Op    string
	State State
}

// Error implements error.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.Op, e.State)
}
