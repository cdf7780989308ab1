// Package usb2snes mirrors console memory through a usb2snes compatible websocket bridge.
//
// A Client owns one worker goroutine that performs all network I/O. The goroutine calling
// Poll owns the watch set and the byte cache; the two sides only exchange messages, so Poll
// and the read accessors never wait on the network.
package usb2snes

import (
	"log"
	"time"

	"tracker/snes"
	"tracker/wsclient"
)

const (
	mailboxSize = 16
	eventsSize  = 64

	historySize = 256

	disconnectDrain = 100 * time.Millisecond
)

type Options struct {
	// AppName identifies this application to the bridge.
	AppName string
	// Addresses are candidate bridge URLs, tried in order. See NormalizeAddresses.
	Addresses []string
	// Interval is the minimum time between the starts of two passes over the watch list.
	Interval time.Duration
	// Tuning overrides KnownTunings.
	Tuning []Tuning
	Logger *log.Logger
}

// Stats describes polling throughput.
type Stats struct {
	LastPass         snes.PassStats
	UpdatesPerSecond float64
	// History holds recent pass durations, oldest first.
	History []time.Duration
}

type Client struct {
	log *log.Logger

	watches *snes.WatchSet
	cache   *snes.Cache

	addresses []string
	interval  time.Duration

	wsConnected   bool
	snesConnected bool
	changed       bool
	device        DeviceInfo
	stats         Stats

	open   bool
	closed bool

	ctl     chan control
	watchCh chan watchSnapshot
	events  chan event
	quit    chan struct{}
	done    chan struct{}
	ws      *wsclient.Client
}

func NewClient(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	if opts.AppName == "" {
		opts.AppName = "tracker"
	}
	addresses := NormalizeAddresses(opts.Addresses)
	if len(addresses) == 0 {
		addresses = DefaultAddresses
	}
	tunings := opts.Tuning
	if tunings == nil {
		tunings = KnownTunings
	}

	c := &Client{
		log:       logger,
		watches:   snes.NewWatchSet(true),
		cache:     snes.NewCache(),
		addresses: addresses,
		interval:  opts.Interval,
		ctl:       make(chan control, mailboxSize),
		watchCh:   make(chan watchSnapshot, 1),
		events:    make(chan event, eventsSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		ws:        wsclient.New("usb2snes", logger),
	}

	w := &worker{
		log:       logger,
		appName:   opts.AppName,
		ws:        c.ws,
		ctl:       c.ctl,
		watchCh:   c.watchCh,
		events:    c.events,
		quit:      c.quit,
		addresses: addresses,
		interval:  opts.Interval,
		tunings:   tunings,
	}
	go w.run(c.done)

	return c
}

// Connect asks the worker to start connecting to the bridge. It does not wait.
func (c *Client) Connect() {
	if c.closed || c.open {
		return
	}
	c.open = true
	c.post(control{kind: ctlOpen})
}

// Disconnect closes the bridge connection on the worker and waits briefly for it to happen.
func (c *Client) Disconnect() {
	if c.closed {
		return
	}
	c.open = false
	ack := make(chan struct{})
	c.post(control{kind: ctlClose, ack: ack})
	c.ws.Interrupt()

	select {
	case <-ack:
	case <-time.After(disconnectDrain):
		c.log.Printf("usb2snes: disconnect still pending\n")
	}
}

// Close stops the worker. The client cannot be used afterwards.
func (c *Client) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.open = false
	close(c.quit)
	c.ws.Interrupt()

	if !detachWorker {
		<-c.done
	}
}

func (c *Client) post(msg control) {
	select {
	case c.ctl <- msg:
	default:
		c.log.Printf("usb2snes: mailbox full; dropped %v request\n", msg.kind)
	}
}

func (c *Client) postWatches() {
	snap := watchSnapshot{
		all:   c.watches.Addresses(false),
		noROM: c.watches.Addresses(true),
	}
	// only the latest snapshot matters:
	select {
	case <-c.watchCh:
	default:
	}
	c.watchCh <- snap
}

// Poll applies everything the worker reported since the last call and reports whether the
// connection flags or any cached byte changed.
func (c *Client) Poll() (changed bool) {
	for {
		select {
		case ev := <-c.events:
			c.apply(ev)
			continue
		default:
		}
		break
	}

	changed, c.changed = c.changed, false
	return
}

func (c *Client) apply(ev event) {
	switch ev.kind {
	case evSocketUp:
		if !c.wsConnected {
			c.wsConnected = true
			c.changed = true
		}
	case evSocketDown:
		if c.wsConnected || c.snesConnected {
			c.changed = true
		}
		c.wsConnected = false
		c.snesConnected = false
		c.device = DeviceInfo{}
		c.cache.Clear()
	case evAttached:
		if !c.snesConnected {
			c.changed = true
		}
		c.snesConnected = true
		c.device = ev.device
	case evData:
		if c.cache.Store(ev.addr, ev.data) {
			c.changed = true
		}
	case evPass:
		c.stats.LastPass = ev.pass
		if ev.pass.Duration > 0 {
			c.stats.UpdatesPerSecond = float64(ev.pass.Updates) / ev.pass.Duration.Seconds()
		}
		c.stats.History = append(c.stats.History, ev.pass.Duration)
		if n := len(c.stats.History); n > historySize {
			c.stats.History = append(c.stats.History[:0], c.stats.History[n-historySize:]...)
		}
	}
}

func (c *Client) WSConnected() bool   { return c.wsConnected }
func (c *Client) SNESConnected() bool { return c.snesConnected }

func (c *Client) Device() DeviceInfo { return c.device }

func (c *Client) DeviceName() string    { return c.device.Name }
func (c *Client) DeviceVersion() string { return c.device.Version }

func (c *Client) Features() []string { return append([]string(nil), c.device.Features...) }

func (c *Client) Stats() Stats {
	s := c.stats
	s.History = append([]time.Duration(nil), c.stats.History...)
	return s
}

// AddWatch keeps n bytes at bridge address addr refreshed.
func (c *Client) AddWatch(addr uint32, n int) bool {
	if n < 0 || addr > snes.MaxBusAddress {
		return false
	}
	if c.watches.Add(addr, n) {
		c.postWatches()
	}
	return true
}

func (c *Client) RemoveWatch(addr uint32, n int) bool {
	if n < 0 || addr > snes.MaxBusAddress {
		return false
	}
	if c.watches.Remove(addr, n) {
		c.postWatches()
	}
	return true
}

// ReplaceWatches discards all watches in favor of addrs.
func (c *Client) ReplaceWatches(addrs []uint32) {
	c.watches.Replace(addrs)
	c.postWatches()
}

func (c *Client) IsWatched(addr uint32) bool { return c.watches.Contains(addr) }

func (c *Client) Watches() []uint32 { return c.watches.Addresses(false) }

// Read returns the cached byte at bridge address addr, or 0 if it was never read.
func (c *Client) Read(addr uint32) byte { return c.cache.Get(addr) }

func (c *Client) ClearCache() { c.cache.Clear() }

func (c *Client) Interval() time.Duration { return c.interval }

func (c *Client) SetInterval(d time.Duration) {
	if d < 0 {
		d = 0
	}
	if d == c.interval {
		return
	}
	c.interval = d
	c.post(control{kind: ctlInterval, interval: d})
}

func (c *Client) Addresses() []string { return append([]string(nil), c.addresses...) }

// SetAddresses replaces the candidate bridge URLs; see NormalizeAddresses.
func (c *Client) SetAddresses(addresses []string) {
	addresses = NormalizeAddresses(addresses)
	if len(addresses) == 0 {
		addresses = DefaultAddresses
	}
	c.addresses = addresses
	c.post(control{kind: ctlAddresses, addresses: append([]string(nil), addresses...)})
}
