package uat

import (
	"net"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"

	"tracker/uat/mock"
	"tracker/util"
)

func newTestClient(t *testing.T, uris ...string) *Client {
	t.Helper()
	c := NewClient(Options{URIs: uris, Logger: util.NewTestingLogger(t, "")})
	t.Cleanup(c.Close)
	return c
}

func newTestServer(t *testing.T) *mock.Server {
	t.Helper()
	srv := mock.New()
	t.Cleanup(srv.Close)
	return srv
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestClient_InfoThenVar(t *testing.T) {
	srv := newTestServer(t)
	srv.Greet(`[{"cmd":"Info","protocol":1,"name":"test","slots":["1"]}]`)

	c := newTestClient(t, srv.URL())
	if c.State() != Disconnected {
		t.Fatalf("state actual = %v, expected = %v", c.State(), Disconnected)
	}
	c.Connect()
	waitFor(t, "game connected", func() bool { c.Poll(); return c.State() == GameConnected })

	if actual, expected := c.Slot(), "1"; actual != expected {
		t.Fatalf("slot actual = %q, expected = %q", actual, expected)
	}
	if actual, expected := c.Info().Name, "test"; actual != expected {
		t.Fatalf("name actual = %q, expected = %q", actual, expected)
	}

	waitFor(t, "Sync", func() bool { return len(srv.Received()) > 0 })
	if actual, expected := srv.Received()[0], `[{"cmd":"Sync","slot":"1"}]`; actual != expected {
		t.Fatalf("actual = %s, expected = %s", actual, expected)
	}

	if err := srv.Send(`[{"cmd":"Var","name":"x","value":5}]`); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "variable", func() bool { c.Poll(); _, ok := c.Read("x"); return ok })
	if v, _ := c.Read("x"); v != float64(5) {
		t.Fatalf("actual = %v, expected = 5", v)
	}
}

func TestClient_VarBeforeInfo(t *testing.T) {
	srv := newTestServer(t)
	srv.Greet(`[{"cmd":"Var","name":"x","value":1}]`)

	c := newTestClient(t, srv.URL())
	c.Connect()
	c.Poll()

	waitFor(t, "close frame", func() bool { c.Poll(); return len(srv.Closes()) > 0 })
	cl := srv.Closes()[0]
	if cl.Code != ws.StatusProtocolError {
		t.Fatalf("close code actual = %d, expected = %d", cl.Code, ws.StatusProtocolError)
	}
	if cl.Reason == "" {
		t.Fatal("close reason must describe the violation")
	}

	var errs []string
	waitFor(t, "error", func() bool { c.Poll(); errs = append(errs, c.Errors()...); return len(errs) > 0 })
	if errs[0] != cl.Reason {
		t.Fatalf("error actual = %q, expected = %q", errs[0], cl.Reason)
	}
	if c.State() == GameConnected {
		t.Fatal("must not reach game connected")
	}
	if _, ok := c.Read("x"); ok {
		t.Fatal("variable from violating message must not be stored")
	}
}

func TestClient_SchemaViolationCloseReason(t *testing.T) {
	srv := newTestServer(t)
	srv.Greet(`[{"cmd":"Info","protocol":"1"}]`)

	c := newTestClient(t, srv.URL())
	c.Connect()

	waitFor(t, "close frame", func() bool { c.Poll(); return len(srv.Closes()) > 0 })
	cl := srv.Closes()[0]
	if cl.Code != ws.StatusProtocolError {
		t.Fatalf("close code actual = %d, expected = %d", cl.Code, ws.StatusProtocolError)
	}
	if expected := "/protocol: expected number"; !strings.Contains(cl.Reason, expected) {
		t.Fatalf("close reason actual = %q, expected to contain %q", cl.Reason, expected)
	}

	var errs []string
	waitFor(t, "error", func() bool { c.Poll(); errs = append(errs, c.Errors()...); return len(errs) > 0 })
	if errs[0] != cl.Reason {
		t.Fatalf("error actual = %q, expected = %q", errs[0], cl.Reason)
	}
}

func TestClient_RepeatedInfo(t *testing.T) {
	srv := newTestServer(t)
	srv.Greet(`[{"cmd":"Info","protocol":1,"slots":["1"]}]`)

	c := newTestClient(t, srv.URL())
	c.Connect()
	waitFor(t, "game connected", func() bool { c.Poll(); return c.State() == GameConnected })
	waitFor(t, "Sync", func() bool { return len(srv.Received()) > 0 })

	if err := srv.Send(`[{"cmd":"Info","protocol":1,"slots":["2"]}]`); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "close frame", func() bool { c.Poll(); return len(srv.Closes()) > 0 })
	if cl := srv.Closes()[0]; cl.Code != ws.StatusProtocolError || !strings.Contains(cl.Reason, "Info") {
		t.Fatalf("close actual = %d %q, expected = %d about Info", cl.Code, cl.Reason, ws.StatusProtocolError)
	}
	// no Sync for the second slot:
	if actual := srv.Received(); len(actual) != 1 {
		t.Fatalf("received actual = %q, expected a single Sync", actual)
	}
	waitFor(t, "disconnected", func() bool { c.Poll(); return c.State() != GameConnected })
	if actual, expected := c.Slot(), "1"; actual != expected {
		t.Fatalf("slot actual = %q, expected = %q", actual, expected)
	}
}

func TestClient_SlotFiltering(t *testing.T) {
	srv := newTestServer(t)
	srv.Greet(`[{"cmd":"Info","protocol":1,"slots":["a","b"]}]`)

	c := newTestClient(t, srv.URL())
	c.Connect()
	waitFor(t, "game connected", func() bool { c.Poll(); return c.State() == GameConnected })

	if err := srv.Send(`[{"cmd":"Var","name":"x","value":1,"slot":"b"},{"cmd":"Var","name":"y","value":2,"slot":"a"},{"cmd":"Var","name":"z","value":3}]`); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "variables", func() bool { c.Poll(); return len(c.Variables()) == 2 })
	if actual, expected := c.Variables(), []string{"y", "z"}; !reflect.DeepEqual(actual, expected) {
		t.Fatalf("actual = %q, expected = %q", actual, expected)
	}
}

func TestClient_EmptySlotAcceptsAll(t *testing.T) {
	srv := newTestServer(t)
	srv.Greet(`[{"cmd":"Info","protocol":1},{"cmd":"Var","name":"x","value":"on","slot":"9"}]`)

	c := newTestClient(t, srv.URL())
	c.Connect()
	waitFor(t, "variable", func() bool { c.Poll(); _, ok := c.Read("x"); return ok })
	waitFor(t, "Sync", func() bool { return len(srv.Received()) > 0 })
	if actual, expected := srv.Received()[0], `[{"cmd":"Sync","slot":""}]`; actual != expected {
		t.Fatalf("actual = %s, expected = %s", actual, expected)
	}
}

func TestClient_DisconnectAndThrottle(t *testing.T) {
	srv := newTestServer(t)
	srv.Greet(`[{"cmd":"Info","protocol":1}]`)

	c := newTestClient(t, srv.URL())
	c.Connect()
	waitFor(t, "game connected", func() bool { c.Poll(); return c.State() == GameConnected })

	c.Disconnect()
	if c.State() != Disconnecting {
		t.Fatalf("state actual = %v, expected = %v", c.State(), Disconnecting)
	}
	waitFor(t, "disconnected", func() bool { c.Poll(); return c.State() == Disconnected })
	waitFor(t, "server side close", func() bool { return srv.Connections() == 0 })

	// a dropped connection is retried only after the reconnect window:
	base := time.Now()
	c.now = func() time.Time { return base }
	c.Connect()
	waitFor(t, "game connected", func() bool { c.Poll(); return c.State() == GameConnected })
	accepted := srv.Accepted()

	srv.DropConnections()
	waitFor(t, "disconnected", func() bool { c.Poll(); return c.State() == Disconnected })
	c.Poll()
	time.Sleep(20 * time.Millisecond)
	if srv.Accepted() != accepted || c.State() != Disconnected {
		t.Fatal("reconnected inside the throttle window")
	}

	c.now = func() time.Time { return base.Add(ReconnectWindow) }
	waitFor(t, "reconnect", func() bool { c.Poll(); return c.State() == GameConnected })
}

func TestClient_SetURIsLiftsThrottle(t *testing.T) {
	srv := newTestServer(t)
	srv.Greet(`[{"cmd":"Info","protocol":1}]`)

	base := time.Now()
	c := newTestClient(t, srv.URL())
	c.now = func() time.Time { return base }
	c.Connect()
	waitFor(t, "game connected", func() bool { c.Poll(); return c.State() == GameConnected })
	accepted := srv.Accepted()

	srv.DropConnections()
	waitFor(t, "disconnected", func() bool { c.Poll(); return c.State() == Disconnected })
	c.Poll()
	time.Sleep(20 * time.Millisecond)
	c.Poll()
	if srv.Accepted() != accepted || c.State() != Disconnected {
		t.Fatal("reconnected inside the throttle window")
	}

	// still inside the window:
	c.SetURIs([]string{srv.URL(), "ws://127.0.0.1:1"})
	waitFor(t, "reconnect", func() bool { c.Poll(); return c.State() == GameConnected })
	if srv.Accepted() != accepted+1 {
		t.Fatalf("accepted actual = %d, expected = %d", srv.Accepted(), accepted+1)
	}

	// unchanged addresses keep the throttle:
	srv.DropConnections()
	waitFor(t, "disconnected", func() bool { c.Poll(); return c.State() == Disconnected })
	c.SetURIs([]string{srv.URL(), "ws://127.0.0.1:1"})
	c.Poll()
	time.Sleep(20 * time.Millisecond)
	c.Poll()
	if srv.Accepted() != accepted+1 || c.State() != Disconnected {
		t.Fatal("unchanged addresses must not lift the throttle")
	}
}

func TestDialTimeout_LeavesRoomForFallback(t *testing.T) {
	if 2*dialTimeout > ConnectTimeout {
		t.Fatalf("dialTimeout = %v, expected two dials to fit in ConnectTimeout = %v", dialTimeout, ConnectTimeout)
	}
}

func TestClient_FallbackAfterStalledURI(t *testing.T) {
	// accepts TCP but never answers the handshake:
	stall, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer stall.Close()
	go func() {
		for {
			conn, err := stall.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	srv := newTestServer(t)
	srv.Greet(`[{"cmd":"Info","protocol":1}]`)

	c := newTestClient(t, "ws://"+stall.Addr().String(), srv.URL())
	start := time.Now()
	c.Connect()
	waitFor(t, "game connected", func() bool { c.Poll(); return c.State() == GameConnected })
	if elapsed := time.Since(start); elapsed >= ConnectTimeout {
		t.Fatalf("elapsed actual = %v, expected < %v", elapsed, ConnectTimeout)
	}
	if actual, expected := c.URI(), srv.URL(); actual != expected {
		t.Fatalf("actual = %q, expected = %q", actual, expected)
	}
}

func TestClient_ConnectTimeout(t *testing.T) {
	// the server never sends Info:
	srv := newTestServer(t)

	base := time.Now()
	c := newTestClient(t, srv.URL())
	c.now = func() time.Time { return base }
	c.Connect()
	waitFor(t, "socket connected", func() bool { c.Poll(); return c.State() == SocketConnected })

	c.now = func() time.Time { return base.Add(ConnectTimeout) }
	c.Poll()
	if c.State() != Disconnecting {
		t.Fatalf("state actual = %v, expected = %v", c.State(), Disconnecting)
	}
	waitFor(t, "server side close", func() bool { return srv.Connections() == 0 })
}

func TestClient_FallbackURI(t *testing.T) {
	srv := newTestServer(t)
	srv.Greet(`[{"cmd":"Info","protocol":1}]`)

	// nothing listens on the first address:
	c := newTestClient(t, "ws://127.0.0.1:1", srv.URL())
	c.Connect()
	waitFor(t, "game connected", func() bool { c.Poll(); return c.State() == GameConnected })
	if actual, expected := c.URI(), srv.URL(); actual != expected {
		t.Fatalf("actual = %q, expected = %q", actual, expected)
	}
}

func TestNormalizeURIs(t *testing.T) {
	if actual, expected := normalizeURIs(nil), DefaultURIs; !reflect.DeepEqual(actual, expected) {
		t.Fatalf("actual = %q, expected = %q", actual, expected)
	}
	if actual, expected := normalizeURIs([]string{"host:1234", " wss://x "}), []string{"ws://host:1234", "wss://x"}; !reflect.DeepEqual(actual, expected) {
		t.Fatalf("actual = %q, expected = %q", actual, expected)
	}
}
