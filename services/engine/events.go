package engine

import "time"

type EventType int

const (
	EventPositionOpened EventType = iota
	EventPositionClosed
	EventForcedClose
	EventSignalIgnored
)

func (t EventType) String() string {
	switch t {
	case EventPositionOpened:
		return "position_opened"
	case EventPositionClosed:
		return "position_closed"
	case EventForcedClose:
		return "forced_close"
	case EventSignalIgnored:
		return "signal_ignored"
	default:
		return "unknown"
	}
}

type Event struct {
	Ts      time.Time
	Type    EventType
	Symbol  string
	Details map[string]string
}

// EventLog is the append-only audit trail of ledger changes during a run.
type EventLog struct {
	Events []Event
}

func (l *EventLog) Append(e Event) { l.Events = append(l.Events, e) }

// Count returns how many events of type t were recorded.
func (l *EventLog) Count(t EventType) int {
	n := 0
	for _, e := range l.Events {
		if e.Type == t {
			n++
		}
	}
	return n
}
