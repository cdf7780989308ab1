// Package autotracker picks one live game state backend and exposes it through a single
// polling, read and watch API.
//
// An AutoTracker is not safe for concurrent use. It is meant to be driven from one
// goroutine which calls DoStuff once per tick; none of its methods wait on the network.
package autotracker

import (
	"log"
	"strings"
	"time"

	"tracker/snes"
	"tracker/snes/usb2snes"
	"tracker/uat"
)

type Options struct {
	// AppName identifies this application to a usb2snes bridge.
	AppName string

	SnesAddresses []string
	UATAddresses  []string
	Interval      time.Duration
	Tuning        []usb2snes.Tuning

	// Multiworld backs the "ap" flag. Without it that flag leaves the tracker unavailable.
	Multiworld Multiworld

	Logger *log.Logger
}

// Range is a run of consecutive watched addresses.
type Range struct {
	Addr uint32
	Len  int
}

type AutoTracker struct {
	log  *log.Logger
	opts Options

	kind  backendKind
	snes  *usb2snes.Client
	uat   *uat.Client
	multi Multiworld

	mapping snes.Mapping
	// watches are kept as logical addresses so they can be remapped
	watches *snes.WatchSet

	state    State
	enabled  bool
	reported bool
	observer Observer
}

func New(platform string, flags []string, opts Options) *AutoTracker {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	a := &AutoTracker{
		log:     opts.Logger,
		opts:    opts,
		watches: snes.NewWatchSet(false),
		state:   Disabled,
	}

	switch {
	case hasFlag(flags, "ap"):
		if opts.Multiworld == nil {
			a.log.Printf("autotracker: ap requested without a multiworld backend\n")
			break
		}
		a.kind = backendMultiworld
		a.multi = opts.Multiworld
	case strings.EqualFold(strings.TrimSpace(platform), "snes"):
		a.kind = backendSNES
		a.mapping, _ = snes.MappingFromFlags(flags)
		a.snes = a.newSNES()
	case hasFlag(flags, "uat"):
		a.kind = backendUAT
		a.uat = uat.NewClient(uat.Options{URIs: opts.UATAddresses, Logger: opts.Logger})
	}

	if a.kind == backendNone {
		a.state = Unavailable
	}
	a.log.Printf("autotracker: platform %q flags %q: %s\n", platform, flags, a.Name())
	return a
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if strings.EqualFold(strings.TrimSpace(f), flag) {
			return true
		}
	}
	return false
}

func (a *AutoTracker) newSNES() *usb2snes.Client {
	c := usb2snes.NewClient(usb2snes.Options{
		AppName:   a.opts.AppName,
		Addresses: a.opts.SnesAddresses,
		Interval:  a.opts.Interval,
		Tuning:    a.opts.Tuning,
		Logger:    a.opts.Logger,
	})
	if a.watches.Len() > 0 {
		c.ReplaceWatches(a.physical())
	}
	return c
}

// Observe sets the single observer, replacing any previous one.
func (a *AutoTracker) Observe(o Observer) { a.observer = o }

func (a *AutoTracker) notify(ev Event) {
	if a.observer != nil {
		a.observer.Notify(ev)
	}
}

func (a *AutoTracker) setState(s State) bool {
	if s == a.state {
		return false
	}
	a.log.Printf("autotracker: %s -> %s\n", a.state, s)
	a.state = s
	a.notify(Event{Kind: StateChanged, State: s})
	return true
}

func (a *AutoTracker) State() State { return a.state }

// Name identifies the backend.
func (a *AutoTracker) Name() string {
	switch a.kind {
	case backendSNES:
		return "usb2snes"
	case backendUAT:
		return "UAT"
	case backendMultiworld:
		return "AP"
	}
	return ""
}

// SubName identifies what the backend is connected to, if anything.
func (a *AutoTracker) SubName() string {
	switch a.kind {
	case backendSNES:
		return a.snes.DeviceName()
	case backendUAT:
		if a.uat.State() == uat.GameConnected {
			return a.uat.Info().Name
		}
	}
	return ""
}

// Enable starts connecting. Console and UAT backends connect in the background from the next
// DoStuff; a multiworld backend connects now and Enable fails if it is refused.
func (a *AutoTracker) Enable(uri, slot, password string) bool {
	if a.kind == backendNone {
		return false
	}
	if a.enabled {
		return true
	}

	switch a.kind {
	case backendSNES:
		if uri != "" {
			a.SetSnesAddresses([]string{uri})
		}
	case backendUAT:
		if uri != "" {
			a.uat.SetURIs([]string{uri})
		}
		a.uat.Connect()
	case backendMultiworld:
		if !a.multi.Connect(uri, slot, password) {
			a.log.Printf("autotracker: multiworld connection to %q refused\n", uri)
			return false
		}
	}

	a.enabled = true
	if a.kind == backendMultiworld {
		a.setState(a.multi.State())
	} else {
		a.setState(Disconnected)
	}
	return true
}

// Disable drops the connection. The console client is replaced by a fresh one carrying the
// same configuration and watches.
func (a *AutoTracker) Disable() bool {
	if a.kind == backendNone {
		return false
	}
	if !a.enabled {
		return true
	}

	switch a.kind {
	case backendSNES:
		old := a.snes
		a.snes = a.newSNES()
		old.Close()
	case backendUAT:
		a.uat.Disconnect()
	case backendMultiworld:
		a.multi.Disconnect()
	}

	a.enabled = false
	a.setState(Disabled)
	return true
}

// Close stops the backend for good.
func (a *AutoTracker) Close() {
	switch a.kind {
	case backendSNES:
		a.snes.Close()
	case backendUAT:
		a.uat.Close()
	case backendMultiworld:
		a.multi.Disconnect()
	}
}

// DoStuff polls the backend and notifies the observer. It reports whether anything happened.
// The first call always reports the current state.
func (a *AutoTracker) DoStuff() (happened bool) {
	if a.kind == backendNone {
		return false
	}
	if !a.reported {
		a.reported = true
		a.notify(Event{Kind: StateChanged, State: a.state})
		happened = true
	}
	if !a.enabled {
		return
	}

	var polled bool
	var next State
	dataKind := DataChanged
	switch a.kind {
	case backendSNES:
		a.snes.Connect()
		polled = a.snes.Poll()
		switch {
		case a.snes.SNESConnected():
			next = ConsoleConnected
		case a.snes.WSConnected():
			next = BridgeConnected
		default:
			next = Disconnected
		}
	case backendUAT:
		polled = a.uat.Poll()
		for _, msg := range a.uat.Errors() {
			a.notify(Event{Kind: Error, State: a.state, Message: msg})
			happened = true
		}
		switch a.uat.State() {
		case uat.GameConnected:
			next = ConsoleConnected
		case uat.SocketConnected:
			next = BridgeConnected
		default:
			next = Disconnected
		}
		dataKind = VariablesChanged
	case backendMultiworld:
		polled = a.multi.Poll()
		next = a.multi.State()
		dataKind = VariablesChanged
	}

	if a.setState(next) {
		return true
	}
	if polled {
		a.notify(Event{Kind: dataKind, State: a.state})
		return true
	}
	return
}

func validRange(addr, n int) bool {
	return n >= 0 && addr >= 0 && addr <= snes.MaxBusAddress && addr+n <= snes.MaxBusAddress+1
}

// AddWatch keeps n bytes from logical address addr refreshed. Without a console backend it
// accepts and ignores valid requests, except on an unavailable tracker.
func (a *AutoTracker) AddWatch(addr, n int) bool {
	if a.kind == backendNone || !validRange(addr, n) {
		return false
	}
	if a.kind != backendSNES {
		return true
	}
	if a.watches.Add(uint32(addr), n) {
		a.snes.ReplaceWatches(a.physical())
	}
	return true
}

func (a *AutoTracker) RemoveWatch(addr, n int) bool {
	if a.kind == backendNone || !validRange(addr, n) {
		return false
	}
	if a.kind != backendSNES {
		return true
	}
	if a.watches.Remove(uint32(addr), n) {
		a.snes.ReplaceWatches(a.physical())
	}
	return true
}

// physical maps the logical watches under the current mapping.
func (a *AutoTracker) physical() []uint32 {
	logical := a.watches.Addresses(false)
	out := make([]uint32, len(logical))
	for i, addr := range logical {
		out[i] = snes.MapAddress(addr, a.mapping)
	}
	return out
}

// Watches returns the logical watches as runs of consecutive addresses.
func (a *AutoTracker) Watches() (ranges []Range) {
	for _, addr := range a.watches.Addresses(false) {
		if n := len(ranges); n > 0 && ranges[n-1].Addr+uint32(ranges[n-1].Len) == addr {
			ranges[n-1].Len++
			continue
		}
		ranges = append(ranges, Range{Addr: addr, Len: 1})
	}
	return
}

func (a *AutoTracker) Mapping() snes.Mapping { return a.mapping }

// SetMapping changes how logical addresses map to the console and remaps existing watches.
func (a *AutoTracker) SetMapping(m snes.Mapping) {
	if m == a.mapping {
		return
	}
	a.log.Printf("autotracker: mapping %s -> %s\n", a.mapping, m)
	a.mapping = m
	if a.kind == backendSNES {
		a.snes.ReplaceWatches(a.physical())
	}
}

// SetInterval limits how often the console watch list is refreshed. Zero means unlimited.
func (a *AutoTracker) SetInterval(ms int) {
	if ms < 0 {
		ms = 0
	}
	a.opts.Interval = time.Duration(ms) * time.Millisecond
	if a.kind == backendSNES {
		a.snes.SetInterval(a.opts.Interval)
	}
}

func (a *AutoTracker) ClearCache() {
	if a.kind == backendSNES {
		a.snes.ClearCache()
	}
}

// SetSnesAddresses replaces the usb2snes bridge candidates; see usb2snes.NormalizeAddresses.
func (a *AutoTracker) SetSnesAddresses(addresses []string) {
	a.opts.SnesAddresses = append([]string(nil), addresses...)
	if a.kind == backendSNES {
		a.snes.SetAddresses(addresses)
	}
}

func (a *AutoTracker) SetUATAddresses(uris []string) {
	a.opts.UATAddresses = append([]string(nil), uris...)
	if a.kind == backendUAT {
		a.uat.SetURIs(uris)
	}
}

// Stats returns console polling statistics; ok is false for other backends.
func (a *AutoTracker) Stats() (stats usb2snes.Stats, ok bool) {
	if a.kind != backendSNES {
		return
	}
	return a.snes.Stats(), true
}

// read returns n bytes from logical address addr, little-endian, watching them if needed.
func (a *AutoTracker) read(addr uint32, n int) (v uint32) {
	if a.kind != backendSNES {
		return 0
	}
	if !validRange(int(addr), n) {
		return 0
	}
	for i := 0; i < n; i++ {
		if !a.watches.Contains(addr + uint32(i)) {
			a.AddWatch(int(addr), n)
			break
		}
	}
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint32(a.snes.Read(snes.MapAddress(addr+uint32(i), a.mapping)))
	}
	return
}

// ReadUInt8 returns the byte at logical address addr, or 0 if it is not known yet.
// Reading an unwatched address starts watching it.
func (a *AutoTracker) ReadUInt8(addr uint32) uint8   { return uint8(a.read(addr, 1)) }
func (a *AutoTracker) ReadUInt16(addr uint32) uint16 { return uint16(a.read(addr, 2)) }
func (a *AutoTracker) ReadUInt24(addr uint32) uint32 { return a.read(addr, 3) }
func (a *AutoTracker) ReadUInt32(addr uint32) uint32 { return a.read(addr, 4) }

func (a *AutoTracker) ReadU8(base, offset uint32) uint8   { return a.ReadUInt8(base + offset) }
func (a *AutoTracker) ReadU16(base, offset uint32) uint16 { return a.ReadUInt16(base + offset) }
func (a *AutoTracker) ReadU24(base, offset uint32) uint32 { return a.ReadUInt24(base + offset) }
func (a *AutoTracker) ReadU32(base, offset uint32) uint32 { return a.ReadUInt32(base + offset) }

// ReadVariable returns a UAT variable of the selected slot, or nil.
func (a *AutoTracker) ReadVariable(name string) interface{} {
	if a.kind != backendUAT {
		return nil
	}
	v, _ := a.uat.Read(name)
	return v
}

// Variables lists the names of the UAT variables known for the selected slot.
func (a *AutoTracker) Variables() []string {
	if a.kind != backendUAT {
		return nil
	}
	return a.uat.Variables()
}
