// Package mock serves a fake usb2snes bridge with one flat memory map.
package mock

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"tracker/snes"
)

// FrameCounter is the WRAM byte the ticker increments once per frame.
const FrameCounter = snes.WRAMBase + 0x1A

// 5,369,317.5/89,341.5 ~= 60.0988 frames / sec ~= 16,639,265.605 ns / frame
const framePeriod = 16_639_265 * time.Nanosecond

type command struct {
	Opcode   string   `json:"Opcode"`
	Space    string   `json:"Space"`
	Operands []string `json:"Operands"`
}

type result struct {
	Results []string `json:"Results"`
}

// Read records one GetAddress request.
type Read struct {
	Addr uint32
	Size int
}

type Server struct {
	Logger *log.Logger

	mu       sync.Mutex
	mem      map[uint32]byte
	devices  []string
	version  string
	romName  string
	features []string
	fragment int
	delay    time.Duration
	appNames []string
	attached []string
	reads    []Read
	infos    int
	accepted int

	// failAttach is the device whose connections drop on Info:
	failAttach string
	// conns maps each open websocket to its attached device:
	conns      map[net.Conn]string

	httpServer *httptest.Server
	ticker     *time.Ticker
	tickerDone chan struct{}
}

// New starts a bridge listening on a loopback port.
func New() *Server {
	s := newServer()
	s.httpServer = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	return s
}

// Listen starts a bridge on addr, for use outside of tests.
func Listen(addr string) (*Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("mock: listen: %w", err)
	}
	s := newServer()
	s.httpServer = httptest.NewUnstartedServer(http.HandlerFunc(s.serveHTTP))
	_ = s.httpServer.Listener.Close()
	s.httpServer.Listener = l
	s.httpServer.Start()
	return s, nil
}

func newServer() *Server {
	return &Server{
		Logger:  log.Default(),
		mem:     make(map[uint32]byte),
		devices: []string{"Mock SNES"},
		version: "1.11.0",
		romName: "MOCK",
		conns:   make(map[net.Conn]string),
	}
}

// URL is the websocket address of the bridge.
func (s *Server) URL() string {
	return "ws://" + s.httpServer.Listener.Addr().String()
}

func (s *Server) Close() {
	s.StopFrames()
	s.DropConnections()
	s.httpServer.Close()
}

// StartFrames increments FrameCounter at the console's frame rate.
func (s *Server) StartFrames() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker != nil {
		return
	}
	s.ticker = time.NewTicker(framePeriod)
	s.tickerDone = make(chan struct{})
	go func(t *time.Ticker, done chan struct{}) {
		for {
			select {
			case <-t.C:
				s.mu.Lock()
				s.mem[FrameCounter]++
				s.mu.Unlock()
			case <-done:
				return
			}
		}
	}(s.ticker, s.tickerDone)
}

func (s *Server) StopFrames() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.tickerDone)
	s.ticker = nil
}

// Write stores data at FX Pak address addr.
func (s *Server) Write(addr uint32, data ...byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, b := range data {
		s.mem[addr+uint32(i)] = b
	}
}

func (s *Server) SetDevices(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = append([]string(nil), names...)
}

func (s *Server) SetVersion(version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = version
}

func (s *Server) SetFeatures(features ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.features = append([]string(nil), features...)
}

// SetFragment splits GetAddress replies into binary messages of at most n bytes.
func (s *Server) SetFragment(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fragment = n
}

// SetDelay holds every GetAddress reply back for d.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// SetFailAttach makes the bridge close the socket instead of answering Info once device
// name is attached.
func (s *Server) SetFailAttach(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAttach = name
}

// Infos counts Info requests answered so far.
func (s *Server) Infos() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infos
}

func (s *Server) Reads() []Read {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Read(nil), s.reads...)
}

func (s *Server) AppNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.appNames...)
}

func (s *Server) Attached() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.attached...)
}

// Accepted counts websocket connections served so far.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// DropConnections closes every open websocket without a close frame.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

func (s *Server) serveHTTP(rw http.ResponseWriter, req *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(req, rw)
	if err != nil {
		s.Logger.Println(fmt.Errorf("mock: upgrade: %w", err))
		return
	}

	s.mu.Lock()
	s.conns[conn] = ""
	s.accepted++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		p, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}
		if op != ws.OpText {
			continue
		}

		var cmd command
		if err = json.Unmarshal(p, &cmd); err != nil {
			s.Logger.Println(fmt.Errorf("mock: decode command: %w", err))
			return
		}
		if err = s.handle(conn, &cmd); err != nil {
			s.Logger.Println(fmt.Errorf("mock: %s: %w", cmd.Opcode, err))
			return
		}
	}
}

func (s *Server) reply(conn net.Conn, results ...string) error {
	if results == nil {
		results = []string{}
	}
	p, err := json.Marshal(result{Results: results})
	if err != nil {
		return err
	}
	return wsutil.WriteServerText(conn, p)
}

func (s *Server) handle(conn net.Conn, cmd *command) error {
	switch cmd.Opcode {
	case "Name":
		s.mu.Lock()
		s.appNames = append(s.appNames, strings.Join(cmd.Operands, " "))
		s.mu.Unlock()
		return nil
	case "AppVersion":
		return s.reply(conn, "mock-1.0")
	case "DeviceList":
		s.mu.Lock()
		devices := append([]string(nil), s.devices...)
		s.mu.Unlock()
		return s.reply(conn, devices...)
	case "Attach":
		if len(cmd.Operands) != 1 {
			return fmt.Errorf("expected 1 operand")
		}
		s.mu.Lock()
		s.attached = append(s.attached, cmd.Operands[0])
		s.conns[conn] = cmd.Operands[0]
		s.mu.Unlock()
		return nil
	case "Info":
		s.mu.Lock()
		if device := s.conns[conn]; device != "" && device == s.failAttach {
			s.mu.Unlock()
			return fmt.Errorf("device %q failed", device)
		}
		s.infos++
		results := append([]string{s.version, "mock", s.romName}, s.features...)
		s.mu.Unlock()
		return s.reply(conn, results...)
	case "GetAddress":
		return s.getAddress(conn, cmd.Operands)
	}
	return nil
}

func (s *Server) getAddress(conn net.Conn, operands []string) error {
	if len(operands) != 2 {
		return fmt.Errorf("expected 2 operands, got %d", len(operands))
	}
	addr, err := strconv.ParseUint(operands[0], 16, 32)
	if err != nil {
		return err
	}
	size, err := strconv.ParseUint(operands[1], 16, 32)
	if err != nil {
		return err
	}

	s.mu.Lock()
	data := make([]byte, size)
	for i := range data {
		data[i] = s.mem[uint32(addr)+uint32(i)]
	}
	s.reads = append(s.reads, Read{Addr: uint32(addr), Size: int(size)})
	fragment, delay := s.fragment, s.delay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if fragment <= 0 {
		fragment = len(data)
	}
	for len(data) > 0 {
		n := min(fragment, len(data))
		if err = wsutil.WriteServerBinary(conn, data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}
