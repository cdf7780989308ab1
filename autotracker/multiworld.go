package autotracker

// Multiworld is an externally provided game session backend. Its methods are called from
// the goroutine that drives the AutoTracker and must not block, except Connect.
type Multiworld interface {
	// Connect attempts a connection and reports whether the server accepted it.
	Connect(uri, slot, password string) bool
	Disconnect()
	// Poll reports whether anything changed since the last call.
	Poll() bool
	State() State
}
