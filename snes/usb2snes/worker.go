package usb2snes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gobwas/ws"

	"tracker/snes"
	"tracker/wsclient"
)

const (
	dialTimeout    = 2 * time.Second
	replyTimeout   = 5 * time.Second
	writeTimeout   = 5 * time.Second
	reconnectPause = time.Second
	idlePause      = 100 * time.Millisecond
	maxIntervalNap = time.Second
)

type controlKind int

const (
	ctlOpen controlKind = iota
	ctlClose
	ctlInterval
	ctlAddresses
)

func (k controlKind) String() string {
	switch k {
	case ctlOpen:
		return "open"
	case ctlClose:
		return "close"
	case ctlInterval:
		return "interval"
	case ctlAddresses:
		return "addresses"
	}
	return fmt.Sprintf("control(%d)", int(k))
}

type control struct {
	kind      controlKind
	ack       chan struct{}
	interval  time.Duration
	addresses []string
}

type watchSnapshot struct {
	all   []uint32
	noROM []uint32
}

type eventKind int

const (
	evSocketUp eventKind = iota
	evSocketDown
	evAttached
	evData
	evPass
)

type event struct {
	kind   eventKind
	device DeviceInfo
	addr   uint32
	data   []byte
	pass   snes.PassStats
}

// worker owns the websocket and everything learned from it.
type worker struct {
	log     *log.Logger
	appName string
	ws      *wsclient.Client
	ctx     context.Context

	ctl     <-chan control
	watchCh <-chan watchSnapshot
	events  chan<- event
	quit    <-chan struct{}

	addresses []string
	interval  time.Duration
	tunings   []Tuning

	open      bool
	connected bool
	attached  bool
	lastDev   int

	info      DeviceInfo
	tuning    Tuning
	noROMRead bool

	watches    watchSnapshot
	scanner    snes.Scanner
	lastPassAt time.Time
}

func (w *worker) run(done chan<- struct{}) {
	defer close(done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-w.quit:
			cancel()
		case <-ctx.Done():
		}
	}()
	w.ctx = ctx

	defer w.drop()

	for {
		if !w.service(!w.open) {
			return
		}
		if !w.open {
			continue
		}

		if !w.connected {
			w.connect()
			continue
		}

		if err := w.step(); err != nil {
			if w.quitting() {
				return
			}
			w.log.Printf("usb2snes: %v\n", err)
			if snes.IsTerminal(err) {
				w.drop()
			} else {
				w.sleep(idlePause)
			}
		}
	}
}

func (w *worker) quitting() bool {
	select {
	case <-w.quit:
		return true
	default:
		return false
	}
}

// service handles pending requests from the client. With block set it waits for one.
// It returns false once the client has quit.
func (w *worker) service(block bool) bool {
	if block {
		select {
		case <-w.quit:
			return false
		case msg := <-w.ctl:
			w.handle(msg)
		case snap := <-w.watchCh:
			w.setWatches(snap)
		}
	}

	for {
		select {
		case <-w.quit:
			return false
		case msg := <-w.ctl:
			w.handle(msg)
		case snap := <-w.watchCh:
			w.setWatches(snap)
		default:
			return true
		}
	}
}

func (w *worker) handle(msg control) {
	switch msg.kind {
	case ctlOpen:
		w.open = true
	case ctlClose:
		w.open = false
		w.drop()
	case ctlInterval:
		w.interval = msg.interval
	case ctlAddresses:
		w.addresses = msg.addresses
		if w.connected && !contains(w.addresses, w.ws.URL()) {
			w.log.Printf("usb2snes: %s no longer configured\n", w.ws.URL())
			w.drop()
		}
	}
	if msg.ack != nil {
		close(msg.ack)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (w *worker) setWatches(snap watchSnapshot) {
	w.watches = snap
	w.scanner.SetAddresses(w.active())
}

func (w *worker) active() []uint32 {
	if w.noROMRead {
		return w.watches.noROM
	}
	return w.watches.all
}

// sleep waits for d, returning early when a control request arrives or the client quits.
func (w *worker) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	for {
		select {
		case <-w.quit:
			return false
		case msg := <-w.ctl:
			w.handle(msg)
			return true
		case snap := <-w.watchCh:
			w.setWatches(snap)
		case <-t.C:
			return true
		}
	}
}

func (w *worker) emit(ev event) bool {
	select {
	case w.events <- ev:
		return true
	case <-w.quit:
		return false
	}
}

// connect tries each address once, pausing after a full round of failures.
func (w *worker) connect() {
	addresses := w.addresses
	for _, u := range addresses {
		if !w.service(false) || !w.open {
			return
		}

		ctx, cancel := context.WithTimeout(w.ctx, dialTimeout)
		err := w.ws.Dial(ctx, u, dialTimeout)
		cancel()
		if err != nil {
			w.log.Printf("usb2snes: %v\n", err)
			continue
		}

		if err = w.handshake(); err != nil {
			w.log.Printf("usb2snes: handshake with %s: %v\n", u, err)
			_ = w.ws.Close()
			continue
		}

		w.log.Printf("usb2snes: connected to %s\n", u)
		w.connected = true
		w.emit(event{kind: evSocketUp})
		return
	}

	w.sleep(reconnectPause)
}

func (w *worker) handshake() (err error) {
	if err = w.ws.SendJSON(nameCommand(w.appName), writeTimeout); err != nil {
		return
	}
	var results []string
	if results, err = w.request(newCommand("AppVersion")); err != nil {
		return
	}
	if len(results) > 0 {
		w.log.Printf("usb2snes: bridge version %s\n", results[0])
	}
	return
}

// drop closes the websocket and forgets the device. Watches and lastDev are kept.
func (w *worker) drop() {
	_ = w.ws.Close()
	if w.connected {
		w.connected = false
		w.emit(event{kind: evSocketDown})
	}
	w.attached = false
	w.info = DeviceInfo{}
	w.tuning = DefaultTuning
	w.noROMRead = false
	w.scanner.Reset()
	w.scanner.SetAddresses(w.active())
	w.lastPassAt = time.Time{}
}

func (w *worker) step() (err error) {
	if !w.attached {
		return w.attach()
	}

	if w.scanner.Len() == 0 {
		if !w.sleep(idlePause) {
			return nil
		}
		// keep the bridge from timing us out while idle:
		_, err = w.request(newCommand("Info"))
		return
	}

	if w.scanner.AtPassStart() {
		if w.interval > 0 && !w.lastPassAt.IsZero() {
			if wait := w.interval - time.Since(w.lastPassAt); wait > 0 {
				w.sleep(min(wait, maxIntervalNap))
				return nil
			}
		}
		w.lastPassAt = time.Now()
	}

	addr, n, wrapped := w.scanner.Next(w.tuning.HoleSize, w.tuning.BlockSize, time.Now())
	var data []byte
	if data, err = w.readAddress(addr, n); err != nil {
		return
	}
	w.emit(event{kind: evData, addr: addr, data: data})
	if wrapped {
		w.emit(event{kind: evPass, pass: w.scanner.LastPass()})
	}
	return
}

func (w *worker) attach() (err error) {
	var devices []string
	if devices, err = w.request(newCommand("DeviceList")); err != nil {
		return
	}
	if len(devices) == 0 {
		w.sleep(idlePause)
		return nil
	}

	name := devices[w.lastDev%len(devices)]
	w.log.Printf("usb2snes: attach to %q\n", name)
	if err = w.ws.SendJSON(newCommand("Attach", name), writeTimeout); err != nil {
		return
	}

	var results []string
	if results, err = w.request(newCommand("Info")); err != nil {
		// try the next device on the following attempt:
		w.lastDev++
		if !snes.IsTerminal(err) {
			err = snes.NewTerminalError(fmt.Errorf("%v: %w", err, snes.ErrDeviceDisconnected))
		}
		return fmt.Errorf("attach %q: %w", name, err)
	}

	w.info = parseInfo(name, results)
	w.tuning = tuningFor(w.info.Version, w.tunings)
	w.noROMRead = w.info.HasFeature(featureNoROMRead)
	w.attached = true
	w.log.Printf("usb2snes: attached %q version %q type %q; block %d hole %d\n",
		name, w.info.Version, w.info.Type, w.tuning.BlockSize, w.tuning.HoleSize)

	w.scanner.Reset()
	w.scanner.SetAddresses(w.active())
	w.emit(event{kind: evAttached, device: w.info})
	return
}

var errUnexpectedText = errors.New("usb2snes: unexpected text reply")

// request sends cmd and decodes the JSON reply. Transport failures are terminal; a reply
// that does not decode is not.
func (w *worker) request(cmd qusbCommand) (results []string, err error) {
	if err = w.ws.SendJSON(cmd, writeTimeout); err != nil {
		return nil, snes.NewTerminalError(err)
	}

	for {
		var p []byte
		var op ws.OpCode
		if p, op, err = w.ws.ReadMessage(replyTimeout); err != nil {
			return nil, snes.NewTerminalError(err)
		}
		if op != ws.OpText {
			w.log.Printf("usb2snes: %s: ignoring %d byte binary message\n", cmd.Opcode, len(p))
			continue
		}

		var rsp qusbResult
		if err = json.Unmarshal(p, &rsp); err != nil {
			return nil, fmt.Errorf("usb2snes: %s reply: %w", cmd.Opcode, err)
		}
		return rsp.Results, nil
	}
}

// readAddress issues GetAddress and gathers binary frames until n bytes arrived. Every
// failure is terminal since the reply stream can no longer be trusted.
func (w *worker) readAddress(addr uint32, n int) (data []byte, err error) {
	if err = w.ws.SendJSON(getAddressCommand(addr, n), writeTimeout); err != nil {
		return nil, snes.NewTerminalError(err)
	}

	data = make([]byte, 0, n)
	for len(data) < n {
		var p []byte
		var op ws.OpCode
		if p, op, err = w.ws.ReadMessage(replyTimeout); err != nil {
			return nil, snes.NewTerminalError(err)
		}
		if op == ws.OpText {
			return nil, snes.NewTerminalError(fmt.Errorf("%w while reading $%06x", errUnexpectedText, addr))
		}
		data = append(data, p...)
	}
	return data[:n], nil
}
