package spex

import (
	"time"
)

// Telemetry is the live data decoded from readbacks.
type Telemetry struct {
	EMVolts   string
	REFVolts  string
	Counters  map[int]uint64
	UpdatedAt time.Time
}

func (t Telemetry) clone() Telemetry {
	if t.Counters != nil {
		counters := make(map[int]uint64, len(t.Counters))
		for k, v := range t.Counters {
			counters[k] = v
		}
		t.Counters = counters
	}
	return t
}

// Info describes the bound device.
type Info struct {
	Port     string
	Firmware string
	Online   bool
}

// EventKind identifies an Event.
type EventKind int

// Event kinds.
const (
	EventConnected EventKind = iota
	EventStateChanged
	EventTelemetry
	EventAlert
	EventButton
	EventFatal
)

var eventKindNames = [...]string{"connected", "state", "telemetry", "alert", "button", "fatal"}

// String implements fmt.Stringer.
func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return "unknown"
}

// Event is emitted to listeners on the loop goroutine.
type Event struct {
	Kind EventKind
	Time time.Time

	Info      Info
	From, To  State
	Telemetry Telemetry
	// Line is the raw unsolicited line for alerts and button events.
	Line string
	Err  error
}

// Listener receives events. It must not block.
type Listener interface {
	HandleEvent(Event)
}

// HandleEventFunc is the func form of Listener.
type HandleEventFunc func(Event)

// HandleEvent implements Listener.
func (f HandleEventFunc) HandleEvent(e Event) {
	f(e)
}
