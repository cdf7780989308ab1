package usb2snes

// Tuning bounds coalesced reads for one device firmware.
type Tuning struct {
	// Version is the exact device version string this entry applies to. Empty matches any.
	Version string
	// BlockSize is the largest single GetAddress request.
	BlockSize int
	// HoleSize is the largest run of unwatched bytes a request may read through.
	HoleSize int
}

var DefaultTuning = Tuning{BlockSize: 2048, HoleSize: 32}

// KnownTunings pins smaller reads to firmware whose large reads are slow.
var KnownTunings = []Tuning{
	{Version: "1.10.3", BlockSize: 512, HoleSize: 8},
}

func tuningFor(version string, table []Tuning) Tuning {
	for _, t := range table {
		if t.Version != "" && t.Version == version {
			return t
		}
	}
	return DefaultTuning
}
