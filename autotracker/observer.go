package autotracker

type EventKind int

const (
	StateChanged EventKind = iota
	// DataChanged means console memory changed while the state stayed the same.
	DataChanged
	// VariablesChanged means remote variables changed while the state stayed the same.
	VariablesChanged
	// Error carries a message a person should see, such as a protocol violation.
	Error
)

var eventKindNames = [...]string{"state changed", "data changed", "variables changed", "error"}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventKindNames) {
		return "unknown"
	}
	return eventKindNames[k]
}

type Event struct {
	Kind    EventKind
	State   State
	Message string
}

// Observer receives events on the goroutine that calls DoStuff, Enable or Disable.
// There is at most one observer per AutoTracker.
type Observer interface {
	Notify(ev Event)
}

type ObserverFunc func(ev Event)

func (f ObserverFunc) Notify(ev Event) { f(ev) }
