package engine

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"tracker/autotracker"
	"tracker/snes/mock"
	"tracker/util"
)

type notification struct {
	view  string
	state string
}

type recordingNotifier struct {
	notified []notification
}

func (r *recordingNotifier) NotifyView(view string, viewModel interface{}) {
	n := notification{view: view}
	if vm, ok := viewModel.(*TrackerViewModel); ok {
		n.state = vm.State
	}
	r.notified = append(r.notified, n)
}

func (r *recordingNotifier) views() map[string]int {
	m := make(map[string]int)
	for _, n := range r.notified {
		m[n.view]++
	}
	return m
}

func newController(t *testing.T) (*Controller, *mock.Server) {
	t.Helper()
	srv := mock.New()
	t.Cleanup(srv.Close)
	a := autotracker.New("snes", []string{"lorom"}, autotracker.Options{
		SnesAddresses: []string{srv.URL()},
		Logger:        util.NewTestingLogger(t, ""),
	})
	t.Cleanup(a.Close)
	return NewController(a), srv
}

func tickUntil(t *testing.T, c *Controller, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		c.Tick()
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestController_HandleCommand(t *testing.T) {
	c, _ := newController(t)

	ce, err := c.CommandFor("tracker", "watch")
	if err != nil {
		t.Fatal(err)
	}

	args := ce.CreateArgs()
	err = json.Unmarshal([]byte(`{"addr":"$7E0010","len":2}`), args)
	if err != nil {
		t.Fatal(err)
	}

	err = ce.Execute(args)
	if err != nil {
		t.Fatal(err)
	}

	if actual, expected := c.Tracker().Watches(), []autotracker.Range{{Addr: 0x7E0010, Len: 2}}; !reflect.DeepEqual(actual, expected) {
		t.Fatalf("watches actual = %v, expected = %v", actual, expected)
	}

	// len defaults to 1:
	if err = c.Handle(CommandRequest{View: "tracker", Command: "unwatch", Args: json.RawMessage(`{"addr":8257553}`)}); err != nil {
		t.Fatal(err)
	}
	if actual, expected := c.Tracker().Watches(), []autotracker.Range{{Addr: 0x7E0010, Len: 1}}; !reflect.DeepEqual(actual, expected) {
		t.Fatalf("watches actual = %v, expected = %v", actual, expected)
	}
}

func TestController_HandleErrors(t *testing.T) {
	c, _ := newController(t)

	tests := []struct {
		name string
		req  CommandRequest
	}{
		{"unknown view", CommandRequest{View: "rom", Command: "load"}},
		{"status has no commands", CommandRequest{View: "status", Command: "set"}},
		{"unknown command", CommandRequest{View: "tracker", Command: "reboot"}},
		{"bad args", CommandRequest{View: "tracker", Command: "watch", Args: json.RawMessage(`{"addr":true}`)}},
		{"bad address", CommandRequest{View: "tracker", Command: "watch", Args: json.RawMessage(`{"addr":"zz"}`)}},
		{"address out of range", CommandRequest{View: "tracker", Command: "watch", Args: json.RawMessage(`{"addr":"$1000000"}`)}},
		{"negative len", CommandRequest{View: "tracker", Command: "watch", Args: json.RawMessage(`{"addr":16,"len":-1}`)}},
		{"negative interval", CommandRequest{View: "tracker", Command: "interval", Args: json.RawMessage(`{"ms":-5}`)}},
		{"unknown mapping", CommandRequest{View: "tracker", Command: "mapping", Args: json.RawMessage(`{"mapping":"superfx"}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Handle(tt.req); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestController_NotifiesView(t *testing.T) {
	c, srv := newController(t)
	srv.Write(0xF50010, 0x34, 0x12)

	r := &recordingNotifier{}
	c.NotifyViewTo(r)
	if actual, expected := r.views(), map[string]int{"status": 1, "tracker": 1}; !reflect.DeepEqual(actual, expected) {
		t.Fatalf("views actual = %v, expected = %v", actual, expected)
	}

	// nothing dirty, nothing sent:
	r.notified = nil
	c.NotifyView()
	if len(r.notified) != 0 {
		t.Fatalf("notified actual = %v, expected none", r.notified)
	}

	if err := c.Handle(CommandRequest{View: "tracker", Command: "watch", Args: json.RawMessage(`{"addr":"0x7E0010","len":2}`)}); err != nil {
		t.Fatal(err)
	}
	if err := c.Handle(CommandRequest{View: "tracker", Command: "enable"}); err != nil {
		t.Fatal(err)
	}

	vm := c.TrackerViewModel()
	tickUntil(t, c, "data", func() bool {
		return len(vm.Watches) == 1 && reflect.DeepEqual(vm.Watches[0].Data, HexBytes{0x34, 0x12})
	})

	if !vm.Connected {
		t.Fatal("view model must be connected")
	}
	if actual, expected := vm.Name, "usb2snes"; actual != expected {
		t.Fatalf("name actual = %q, expected = %q", actual, expected)
	}
	if actual, expected := vm.Mapping, "lorom"; actual != expected {
		t.Fatalf("mapping actual = %q, expected = %q", actual, expected)
	}
	if actual, expected := c.Status(), "usb2snes console connected"; actual != expected {
		t.Fatalf("status actual = %q, expected = %q", actual, expected)
	}
	if vm.IsDirty() {
		t.Fatal("view model must be clean after notifying")
	}

	// data changes flow through to the view:
	srv.Write(0xF50011, 0x56)
	tickUntil(t, c, "update", func() bool {
		return reflect.DeepEqual(vm.Watches[0].Data, HexBytes{0x34, 0x56})
	})

	if err := c.Handle(CommandRequest{View: "tracker", Command: "disable"}); err != nil {
		t.Fatal(err)
	}
	if actual, expected := vm.State, "disabled"; actual != expected {
		t.Fatalf("state actual = %q, expected = %q", actual, expected)
	}
	if vm.Connected {
		t.Fatal("view model must not be connected")
	}
}

func TestController_Run(t *testing.T) {
	c, _ := newController(t)

	states := make(chan string, 64)
	c.NotifyViewTo(ViewNotifierFunc(func(view string, viewModel interface{}) {
		if vm, ok := viewModel.(*TrackerViewModel); ok {
			select {
			case states <- vm.State:
			default:
			}
		}
	}))
	// drain the initial notification:
	<-states

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, 5*time.Millisecond) }()

	if err := c.Submit(CommandRequest{View: "tracker", Command: "enable"}); err != nil {
		t.Fatal(err)
	}

wait:
	for {
		select {
		case state := <-states:
			if state == "console connected" {
				break wait
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for console")
		}
	}
	cancel()

	if err := <-done; err != context.Canceled {
		t.Fatalf("run actual = %v, expected = %v", err, context.Canceled)
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    uint32
		wantErr bool
	}{
		{"$7E0010", 0x7E0010, false},
		{"0x7e0010", 0x7E0010, false},
		{"0X10", 0x10, false},
		{"7E0010h", 0x7E0010, false},
		{"7E0010", 0x7E0010, false},
		{"#16", 16, false},
		{" $10 ", 0x10, false},
		{"", 0, true},
		{"$", 0, true},
		{"#1a", 0, true},
		{"$1FFFFFFFF", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAddress(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err actual = %v, wantErr = %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("actual = %#x, expected = %#x", got, tt.want)
			}
		})
	}
}

func TestWatchViewModel_JSON(t *testing.T) {
	b, err := json.Marshal(WatchViewModel{Addr: 0x7E0010, Len: 2, Data: HexBytes{0x34, 0x12}})
	if err != nil {
		t.Fatal(err)
	}
	if actual, expected := string(b), `{"addr":"$7E0010","len":2,"data":"3412"}`; actual != expected {
		t.Fatalf("actual = %s, expected = %s", actual, expected)
	}
}
