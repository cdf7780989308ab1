// Package webui publishes engine view models to browsers over a websocket and forwards
// their JSON commands back to the engine.
package webui

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"net"
	"net/http"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"tracker/engine"
)

//go:embed static
var static embed.FS

// CommandSubmitter queues commands for the goroutine that owns the view models.
type CommandSubmitter interface {
	Submit(req engine.CommandRequest) error
}

type WebServer struct {
	listenAddr string

	commands CommandSubmitter

	mux *http.ServeMux

	socketsRw sync.RWMutex
	sockets   []*Socket
	// last encoded update per view, sent to new sockets:
	latest map[string][]byte
}

type Socket struct {
	ws   *WebServer
	conn net.Conn

	// write channel:
	q    chan []byte
	done chan struct{}
}

type ViewModelUpdate struct {
	View      string      `json:"v"`
	ViewModel interface{} `json:"m"`
}

// NewWebServer serves the status page on / and the view model websocket on /ws/.
func NewWebServer(listenAddr string, commands CommandSubmitter) *WebServer {
	s := &WebServer{
		listenAddr: listenAddr,
		commands:   commands,
		mux:        http.NewServeMux(),
		sockets:    make([]*Socket, 0, 2),
		latest:     make(map[string][]byte),
	}

	// handle websockets:
	s.mux.Handle("/ws/", http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(req, rw)
		if err != nil {
			log.Printf("webui: upgrade: %v\n", err)
			return
		}

		// start by sending all view models to this new socket:
		socket := NewSocket(s, conn)
		s.appendSocket(socket)
	}))

	content, err := fs.Sub(static, "static")
	if err != nil {
		panic(err)
	}
	s.mux.Handle("/", MaxAge(http.FileServer(http.FS(content))))

	return s
}

func (s *WebServer) Handler() http.Handler { return s.mux }

func (s *WebServer) Serve() error {
	return http.ListenAndServe(s.listenAddr, s.mux)
}

func (s *WebServer) ServeListener(l net.Listener) error {
	return http.Serve(l, s.mux)
}

func (s *WebServer) appendSocket(socket *Socket) {
	s.socketsRw.Lock()
	defer s.socketsRw.Unlock()

	views := make([]string, 0, len(s.latest))
	for view := range s.latest {
		views = append(views, view)
	}
	sort.Strings(views)
	for _, view := range views {
		socket.send(s.latest[view])
	}

	s.sockets = append(s.sockets, socket)
}

func (s *WebServer) removeSocket(k *Socket) {
	s.socketsRw.Lock()
	defer s.socketsRw.Unlock()

	for i, sk := range s.sockets {
		if sk == k {
			s.sockets = append(s.sockets[:i], s.sockets[i+1:]...)
			break
		}
	}
}

// Sockets returns the number of connected websockets.
func (s *WebServer) Sockets() int {
	s.socketsRw.RLock()
	defer s.socketsRw.RUnlock()
	return len(s.sockets)
}

// NotifyView implements engine.ViewNotifier. The view model is encoded before returning so
// the caller may keep mutating it.
func (s *WebServer) NotifyView(view string, viewModel interface{}) {
	b, err := json.Marshal(&ViewModelUpdate{View: view, ViewModel: viewModel})
	if err != nil {
		log.Printf("webui: encode view '%s': %v\n", view, err)
		return
	}

	s.socketsRw.Lock()
	defer s.socketsRw.Unlock()

	s.latest[view] = b
	// broadcast to all connected sockets:
	for _, k := range s.sockets {
		k.send(b)
	}
}

func NewSocket(s *WebServer, conn net.Conn) *Socket {
	k := &Socket{
		ws:   s,
		conn: conn,
		q:    make(chan []byte, 32),
		done: make(chan struct{}),
	}

	go k.readHandler()
	go k.writeHandler()

	return k
}

// send drops the update if the socket is not keeping up; a later update of the same view
// supersedes it.
func (k *Socket) send(b []byte) {
	select {
	case k.q <- b:
	default:
		log.Printf("webui: socket %s is slow; dropping update\n", k.conn.RemoteAddr())
	}
}

func (k *Socket) readHandler() {
	// the reader is in control of the lifetime of the socket:
	defer func() {
		_ = k.conn.Close()
		close(k.done)

		// remove self from sockets array:
		k.ws.removeSocket(k)
	}()

	for {
		data, op, err := wsutil.ReadClientData(k.conn)
		if err != nil {
			if _, ok := err.(wsutil.ClosedError); !ok {
				log.Printf("webui: read: %v\n", err)
			}
			return
		}

		if op != ws.OpText {
			log.Printf("webui: ignoring %v frame\n", op)
			continue
		}

		// read a JSON command request:
		var creq engine.CommandRequest
		if err = json.Unmarshal(data, &creq); err != nil {
			log.Println(fmt.Errorf("webui: error reading json command request: %w", err))
			continue
		}

		if k.ws.commands == nil {
			log.Println("webui: no command handler provided!")
			continue
		}
		if err = k.ws.commands.Submit(creq); err != nil {
			log.Printf("webui: command '%s/%s': %v\n", creq.View, creq.Command, err)
		}
	}
}

func (k *Socket) writeHandler() {
	for {
		select {
		case <-k.done:
			return
		case b := <-k.q:
			_ = k.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := wsutil.WriteServerText(k.conn, b); err != nil {
				log.Printf("webui: write: %v\n", err)
				_ = k.conn.Close()
				return
			}
		}
	}
}

// MaxAge sets Cache-Control for static assets by extension.
func MaxAge(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var age time.Duration
		ext := filepath.Ext(r.URL.Path)

		switch ext {
		case ".css", ".js":
			age = (time.Hour * 24 * 30) / time.Second
		case ".ico", ".png", ".svg":
			age = (time.Hour * 24 * 365) / time.Second
		default:
			age = 0
		}

		if age > 0 {
			w.Header().Add("Cache-Control", fmt.Sprintf("max-age=%d, public, must-revalidate, proxy-revalidate", age))
		}

		h.ServeHTTP(w, r)
	})
}
