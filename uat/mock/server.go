// Package mock serves a scripted UAT server.
package mock

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Close is a close frame received from a client.
type Close struct {
	Code   ws.StatusCode
	Reason string
}

type Server struct {
	Logger *log.Logger

	mu       sync.Mutex
	greeting []string
	received []string
	closes   []Close
	conns    map[net.Conn]struct{}
	accepted int

	httpServer *httptest.Server
}

func New() *Server {
	s := newServer()
	s.httpServer = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	return s
}

// Listen starts a server on addr, for use outside of tests.
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
		Logger: log.Default(),
		conns:  make(map[net.Conn]struct{}),
	}
}

func (s *Server) URL() string {
	return "ws://" + s.httpServer.Listener.Addr().String()
}

func (s *Server) Close() {
	s.DropConnections()
	s.httpServer.Close()
}

// Greet sets the messages sent to every new connection.
func (s *Server) Greet(messages ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.greeting = append([]string(nil), messages...)
}

// Send writes message to every open connection.
func (s *Server) Send(message string) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		if werr := wsutil.WriteServerText(conn, []byte(message)); werr != nil {
			err = fmt.Errorf("mock: send: %w", werr)
		}
	}
	return
}

// Received lists the text messages clients sent, in order.
func (s *Server) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

func (s *Server) Closes() []Close {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Close(nil), s.closes...)
}

func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Connections counts open websockets.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

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
	s.conns[conn] = struct{}{}
	s.accepted++
	for _, m := range s.greeting {
		if err = wsutil.WriteServerText(conn, []byte(m)); err != nil {
			break
		}
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()
	if err != nil {
		return
	}

	// frames are read one by one so a close frame is recorded even if the client hangs up
	// without waiting for the reply:
	for {
		f, err := ws.ReadFrame(conn)
		if err != nil {
			return
		}
		if f.Header.Masked {
			ws.Cipher(f.Payload, f.Header.Mask, 0)
		}

		switch f.Header.OpCode {
		case ws.OpClose:
			code, reason := ws.ParseCloseFrameData(f.Payload)
			s.mu.Lock()
			s.closes = append(s.closes, Close{Code: code, Reason: reason})
			s.mu.Unlock()
			return
		case ws.OpPing:
			_ = wsutil.WriteServerMessage(conn, ws.OpPong, f.Payload)
		case ws.OpText:
			s.mu.Lock()
			s.received = append(s.received, string(f.Payload))
			s.mu.Unlock()
		}
	}
}
