// Package uat follows game state published by a UAT server: a websocket speaking arrays of
// JSON commands, where the server describes itself with Info and then streams Var updates.
package uat

import (
	"log"
	"strings"
	"time"

	"tracker/wsclient"
)

const (
	DefaultURI = "ws://localhost:65399"
	LegacyURI  = "ws://localhost:44444"

	ConnectTimeout  = 5 * time.Second
	ReconnectWindow = 5 * time.Second

	mailboxSize = 8
	eventsSize  = 64
)

var DefaultURIs = []string{DefaultURI, LegacyURI}

type State int

const (
	Disconnected State = iota
	Connecting
	SocketConnected
	GameConnected
	Disconnecting
)

var stateNames = [...]string{"disconnected", "connecting", "socket connected", "game connected", "disconnecting"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

type Options struct {
	URIs   []string
	Logger *log.Logger
}

type Client struct {
	log *log.Logger
	now func() time.Time

	uris  []string
	state State
	store *Store
	info  ServerInfo
	uri   string

	wanted       bool
	burstStart   time.Time
	attemptStart time.Time
	changed      bool
	errs         []string
	closed       bool
	gen          int

	ctl    chan control
	events chan event
	quit   chan struct{}
	done   chan struct{}
	ws     *wsclient.Client
}

func NewClient(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	c := &Client{
		log:    logger,
		now:    time.Now,
		uris:   normalizeURIs(opts.URIs),
		store:  NewStore(),
		ctl:    make(chan control, mailboxSize),
		events: make(chan event, eventsSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		ws:     wsclient.New("uat", logger),
	}

	w := &worker{
		log:    logger,
		ws:     c.ws,
		ctl:    c.ctl,
		events: c.events,
		quit:   c.quit,
	}
	go w.run(c.done)

	return c
}

// normalizeURIs adds ws:// to entries without a scheme and falls back to DefaultURIs.
func normalizeURIs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !strings.Contains(s, "://") {
			s = "ws://" + s
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return append(out, DefaultURIs...)
	}
	return out
}

func (c *Client) URIs() []string { return append([]string(nil), c.uris...) }

// SetURIs replaces the candidate server addresses and lifts the reconnect throttle.
func (c *Client) SetURIs(uris []string) {
	next := normalizeURIs(uris)
	if equal(next, c.uris) {
		return
	}
	c.uris = next
	c.burstStart = time.Time{}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Connect asks for a connection; the attempt starts on the next Poll.
func (c *Client) Connect() {
	if c.closed {
		return
	}
	c.wanted = true
}

func (c *Client) Disconnect() {
	if c.closed {
		return
	}
	c.wanted = false
	c.burstStart = time.Time{}
	if c.state != Disconnected {
		c.forceDisconnect()
	}
}

func (c *Client) forceDisconnect() {
	c.setState(Disconnecting)
	c.post(control{kind: ctlDisconnect})
	c.ws.Interrupt()
}

// Close stops the worker.
func (c *Client) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.wanted = false
	close(c.quit)
	c.ws.Interrupt()
	<-c.done
}

func (c *Client) post(msg control) {
	c.gen++
	msg.gen = c.gen
	select {
	case c.ctl <- msg:
	default:
		c.log.Printf("uat: mailbox full; dropped request\n")
	}
}

func (c *Client) setState(s State) {
	if c.state != s {
		c.state = s
		c.changed = true
	}
}

// Poll applies worker events, enforces the connect timeout and starts throttled connection
// attempts. It reports whether the state or any variable changed.
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

	now := c.now()
	if c.wanted {
		switch c.state {
		case Connecting, SocketConnected:
			if now.Sub(c.attemptStart) >= ConnectTimeout {
				c.log.Printf("uat: connect timed out after %v\n", ConnectTimeout)
				c.forceDisconnect()
				c.attemptStart = now
			}
		case Disconnected:
			if c.burstStart.IsZero() || now.Sub(c.burstStart) >= ReconnectWindow {
				c.burstStart = now
				c.attemptStart = now
				c.setState(Connecting)
				c.post(control{kind: ctlConnect, uris: c.URIs()})
			}
		}
	}

	changed, c.changed = c.changed, false
	return
}

func (c *Client) apply(ev event) {
	if ev.gen != c.gen {
		return
	}
	switch ev.kind {
	case evSocketUp:
		if c.state == Connecting {
			c.uri = ev.uri
			c.setState(SocketConnected)
		}
	case evSocketDown, evBurstFailed:
		if c.state != Disconnected {
			c.uri = ""
			c.setState(Disconnected)
		}
	case evInfo:
		if c.state != SocketConnected {
			return
		}
		c.info = ev.info
		c.store.Reset(ev.slot)
		c.setState(GameConnected)
	case evVar:
		if c.state == GameConnected && c.store.Set(ev.v) {
			c.changed = true
		}
	case evViolation:
		c.errs = append(c.errs, ev.reason)
	}
}

func (c *Client) State() State { return c.state }

// URI is the address of the current connection.
func (c *Client) URI() string { return c.uri }

func (c *Client) Info() ServerInfo { return c.info }

func (c *Client) Slot() string { return c.store.Slot() }

// Read returns the last value of variable name in the selected slot.
func (c *Client) Read(name string) (interface{}, bool) { return c.store.Get(name) }

func (c *Client) Variables() []string { return c.store.Names() }

// Errors returns and forgets the protocol violations seen since the last call.
func (c *Client) Errors() []string {
	errs := c.errs
	c.errs = nil
	return errs
}
