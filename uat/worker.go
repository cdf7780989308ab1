package uat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	"github.com/gobwas/ws"

	"tracker/wsclient"
)

const (
	// per uri, so a fallback uri is still tried within ConnectTimeout:
	dialTimeout  = 2 * time.Second
	writeTimeout = 5 * time.Second

	// close frame payload is 125 bytes including the status code:
	maxCloseReason = 123
)

type controlKind int

const (
	ctlConnect controlKind = iota
	ctlDisconnect
)

type control struct {
	kind controlKind
	gen  int
	uris []string
}

type eventKind int

const (
	evSocketUp eventKind = iota
	evSocketDown
	evBurstFailed
	evInfo
	evVar
	evViolation
)

// event carries the generation of the request that caused it so the client can ignore
// reports about connections it already gave up on.
type event struct {
	kind   eventKind
	gen    int
	uri    string
	info   ServerInfo
	slot   string
	v      *Var
	reason string
}

// worker owns the websocket. It dials only when asked and reads until the socket fails
// or the client interrupts it.
type worker struct {
	log *log.Logger
	ws  *wsclient.Client
	ctx context.Context

	ctl    <-chan control
	events chan<- event
	quit   <-chan struct{}

	gen int
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

	defer func() { _ = w.ws.Close() }()

	for {
		var msg control
		select {
		case <-w.quit:
			return
		case msg = <-w.ctl:
		}

		w.handleControl(msg)
	}
}

func (w *worker) handleControl(msg control) {
	for {
		w.gen = msg.gen
		if msg.kind == ctlDisconnect {
			_ = w.ws.Close()
			w.emit(event{kind: evSocketDown})
			return
		}

		next, ok := w.burst(msg.uris)
		if !ok {
			return
		}
		msg = next
	}
}

// pending returns the most recent queued request, if any, without waiting.
func (w *worker) pending() (msg control, ok bool) {
	for {
		select {
		case m := <-w.ctl:
			msg, ok = m, true
		default:
			return
		}
	}
}

func (w *worker) emit(ev event) bool {
	ev.gen = w.gen
	select {
	case w.events <- ev:
		return true
	case <-w.quit:
		return false
	}
}

// burst tries each uri in order and serves the first that accepts. A request arriving
// meanwhile ends the burst and is returned to be handled next.
func (w *worker) burst(uris []string) (next control, ok bool) {
	for _, uri := range uris {
		if next, ok = w.pending(); ok {
			return
		}

		ctx, cancel := context.WithTimeout(w.ctx, dialTimeout)
		err := w.ws.Dial(ctx, uri, dialTimeout)
		cancel()
		if err != nil {
			if w.ctx.Err() != nil {
				return
			}
			w.log.Printf("uat: %v\n", err)
			continue
		}

		if next, ok = w.pending(); ok {
			_ = w.ws.Close()
			return
		}

		w.log.Printf("uat: connected to %s\n", uri)
		w.emit(event{kind: evSocketUp, uri: uri})
		w.serve()
		return
	}

	w.emit(event{kind: evBurstFailed})
	return
}

// serve reads messages until the connection ends.
func (w *worker) serve() {
	defer func() {
		_ = w.ws.Close()
		w.emit(event{kind: evSocketDown})
	}()

	gotInfo := false
	for {
		p, op, err := w.ws.ReadMessage(0)
		if err != nil {
			switch {
			case errors.Is(err, wsclient.ErrInterrupted):
			case wsclient.IsClosed(err):
				if code, reason, ok := wsclient.CloseStatus(err); ok {
					w.log.Printf("uat: server closed connection: %d %s\n", code, reason)
				} else {
					w.log.Printf("uat: server closed connection\n")
				}
			default:
				w.log.Printf("uat: %v\n", err)
			}
			return
		}
		if op != ws.OpText {
			w.log.Printf("uat: ignoring %d byte binary message\n", len(p))
			continue
		}

		if err = w.handle(p, &gotInfo); err != nil {
			var perr *ProtocolError
			if errors.As(err, &perr) {
				w.log.Printf("uat: %v\n", perr)
				w.emit(event{kind: evViolation, reason: perr.Reason})
				_ = w.ws.CloseWithReason(ws.StatusProtocolError, closeReason(perr.Reason))
			} else {
				w.log.Printf("uat: %v\n", err)
			}
			return
		}
	}
}

func (w *worker) handle(p []byte, gotInfo *bool) error {
	cmds, err := ParseMessage(p)
	if err != nil {
		return err
	}

	for _, cmd := range cmds {
		if !*gotInfo && cmd.Cmd != cmdInfo {
			return violation("expected Info as first command, got %q", cmd.Cmd)
		}

		switch {
		case cmd.Info != nil:
			if *gotInfo {
				return violation("repeated Info on an established connection")
			}
			*gotInfo = true
			slot := ""
			if len(cmd.Info.Slots) > 0 {
				slot = cmd.Info.Slots[0]
			}
			w.log.Printf("uat: server %q version %q protocol %v; slot %q\n",
				cmd.Info.Name, cmd.Info.Version, cmd.Info.Protocol, slot)
			w.emit(event{kind: evInfo, info: *cmd.Info, slot: slot})
			if err = w.ws.SendJSON(syncMessage(slot), writeTimeout); err != nil {
				return fmt.Errorf("send Sync: %w", err)
			}
		case cmd.Var != nil:
			w.emit(event{kind: evVar, v: cmd.Var})
		case cmd.Error != nil:
			w.log.Printf("uat: server error for %s: %s %s\n", cmd.Error.Name, cmd.Error.Reason, cmd.Error.Description)
		default:
			w.log.Printf("uat: ignoring unknown command %q\n", cmd.Cmd)
		}
	}
	return nil
}

// closeReason cuts reason to fit a close frame without splitting a UTF-8 sequence.
func closeReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	n := maxCloseReason
	for n > 0 && !utf8.RuneStart(reason[n]) {
		n--
	}
	return reason[:n]
}
