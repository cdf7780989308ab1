package autotracker

type State int

const (
	// Unavailable means no backend fits the configuration. It never changes.
	Unavailable State = iota
	Disabled
	Disconnected
	// BridgeConnected means the bridge or server is reachable but no game is.
	BridgeConnected
	ConsoleConnected
)

var stateNames = [...]string{"unavailable", "disabled", "disconnected", "bridge connected", "console connected"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

type backendKind int

const (
	backendNone backendKind = iota
	backendSNES
	backendUAT
	backendMultiworld
)
