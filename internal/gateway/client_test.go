package gateway

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/heathdorn/overseer/internal/fault"
)

// stubDialer hands each dial to a per-connection handler over net.Pipe.
type stubDialer struct {
	mu       sync.Mutex
	dials    int
	lastAddr string
	serve    func(dial int, tr Transport)
}

func (d *stubDialer) DialContext(_ context.Context, addr string) (Transport, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	d.lastAddr = addr
	d.mu.Unlock()

	client, server := net.Pipe()
	go d.serve(n, NewTransport(server))
	return NewTransport(client), nil
}

func (d *stubDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *stubDialer) dialedAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastAddr
}

// serveHandshake plays the gateway side of the handshake and returns the
// connect request it received.
func serveHandshake(tr Transport) (*Frame, error) {
	challenge, _ := json.Marshal(Challenge{Nonce: "n-1", TS: time.Now().UnixMilli()})
	if err := tr.WriteFrame(&Frame{Type: FrameEvent, Event: EventChallenge, Payload: challenge}); err != nil {
		return nil, err
	}
	var req Frame
	if err := tr.ReadFrame(&req); err != nil {
		return nil, err
	}
	if req.Type != FrameRequest || req.Method != "connect" {
		return nil, fmt.Errorf("expected connect request, got type=%s method=%s", req.Type, req.Method)
	}
	hello, _ := json.Marshal(HelloOK{
		Type:     "hello-ok",
		Protocol: 3,
		Server:   ServerInfo{Name: "stub", Version: "1.0"},
		Policy:   Policy{TickIntervalMs: 15000},
	})
	if err := tr.WriteFrame(&Frame{Type: FrameResponse, ID: req.ID, OK: true, Payload: hello}); err != nil {
		return nil, err
	}
	return &req, nil
}

func testClient(t *testing.T, d Dialer) *Client {
	t.Helper()
	c := NewClient(Config{
		Addr:       "stub:0",
		Token:      "secret",
		ClientID:   "test",
		Version:    "0.0.1",
		Dialer:     d,
		BackoffMin: 5 * time.Millisecond,
		BackoffMax: 20 * time.Millisecond,
	})
	t.Cleanup(func() { c.Close() })
	return c
}

func waitForState(t *testing.T, c *Client, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", c.State(), want)
}

func TestTransportRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	ta, tb := NewTransport(a), NewTransport(b)
	defer ta.Close()
	defer tb.Close()

	go func() {
		ta.WriteFrame(&Frame{Type: FrameRequest, ID: "42", Method: "status", Params: json.RawMessage(`{"k":1}`)})
	}()

	var got Frame
	if err := tb.ReadFrame(&got); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.Type != FrameRequest || got.ID != "42" || got.Method != "status" {
		t.Fatalf("got frame %+v", got)
	}
	if string(got.Params) != `{"k":1}` {
		t.Fatalf("params = %s", got.Params)
	}
}

func TestTransportRejectsOversizeFrame(t *testing.T) {
	a, b := net.Pipe()
	tb := NewTransport(b)
	defer a.Close()
	defer tb.Close()

	go func() {
		var header [4]byte
		binary.BigEndian.PutUint32(header[:], maxFrameSize+1)
		a.Write(header[:])
	}()

	var f Frame
	err := tb.ReadFrame(&f)
	if fault.KindOf(err) != fault.KindProtocol {
		t.Fatalf("err = %v, want protocol kind", err)
	}
}

func TestHandshakeConnects(t *testing.T) {
	params := make(chan HelloParams, 1)
	d := &stubDialer{serve: func(_ int, tr Transport) {
		req, err := serveHandshake(tr)
		if err != nil {
			return
		}
		var p HelloParams
		json.Unmarshal(req.Params, &p)
		params <- p
	}}
	dir := t.TempDir()
	dev, err := LoadOrCreateDevice(dir + "/device.json")
	if err != nil {
		t.Fatalf("LoadOrCreateDevice: %v", err)
	}

	c := NewClient(Config{Addr: "stub:0", Token: "secret", ClientID: "test", Device: dev, Dialer: d})
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if c.State() != StateConnected {
		t.Fatalf("state = %s, want connected", c.State())
	}
	h := c.Hello()
	if h == nil || h.Protocol != 3 || h.Server.Name != "stub" {
		t.Fatalf("hello = %+v", h)
	}
	connectParams := <-params
	if connectParams.MinProtocol != MinProtocol || connectParams.MaxProtocol != MaxProtocol {
		t.Fatalf("protocol range = [%d,%d]", connectParams.MinProtocol, connectParams.MaxProtocol)
	}
	if connectParams.Auth.Token != "secret" {
		t.Fatalf("token = %q", connectParams.Auth.Token)
	}
	if connectParams.Device == nil || connectParams.Device.Nonce != "n-1" {
		t.Fatalf("device = %+v", connectParams.Device)
	}
}

func TestHandshakeRejection(t *testing.T) {
	d := &stubDialer{serve: func(_ int, tr Transport) {
		challenge, _ := json.Marshal(Challenge{Nonce: "n-1"})
		tr.WriteFrame(&Frame{Type: FrameEvent, Event: EventChallenge, Payload: challenge})
		var req Frame
		if err := tr.ReadFrame(&req); err != nil {
			return
		}
		tr.WriteFrame(&Frame{Type: FrameResponse, ID: req.ID, OK: false,
			Error: &WireError{Code: "AUTH_FAILED", Message: "bad token"}})
	}}

	c := NewClient(Config{Addr: "stub:0", Dialer: d})
	defer c.Close()

	err := c.Connect(context.Background())
	if fault.KindOf(err) != fault.KindRemote {
		t.Fatalf("err = %v, want remote kind", err)
	}
	if c.State() != StateError {
		t.Fatalf("state = %s, want error", c.State())
	}
}

func TestHandshakeUnsupportedProtocol(t *testing.T) {
	d := &stubDialer{serve: func(_ int, tr Transport) {
		challenge, _ := json.Marshal(Challenge{Nonce: "n-1"})
		tr.WriteFrame(&Frame{Type: FrameEvent, Event: EventChallenge, Payload: challenge})
		var req Frame
		if err := tr.ReadFrame(&req); err != nil {
			return
		}
		hello, _ := json.Marshal(HelloOK{Protocol: 9})
		tr.WriteFrame(&Frame{Type: FrameResponse, ID: req.ID, OK: true, Payload: hello})
	}}

	c := NewClient(Config{Addr: "stub:0", Dialer: d})
	defer c.Close()

	err := c.Connect(context.Background())
	if fault.KindOf(err) != fault.KindProtocol {
		t.Fatalf("err = %v, want protocol kind", err)
	}
}

func TestCallCorrelationOutOfOrder(t *testing.T) {
	// The stub answers the two pending requests in reverse arrival order;
	// each caller must still receive its own payload.
	d := &stubDialer{serve: func(_ int, tr Transport) {
		if _, err := serveHandshake(tr); err != nil {
			return
		}
		var first, second Frame
		if err := tr.ReadFrame(&first); err != nil {
			return
		}
		if err := tr.ReadFrame(&second); err != nil {
			return
		}
		tr.WriteFrame(&Frame{Type: FrameResponse, ID: second.ID, OK: true,
			Payload: json.RawMessage(`{"for":"` + second.Method + `"}`)})
		tr.WriteFrame(&Frame{Type: FrameResponse, ID: first.ID, OK: true,
			Payload: json.RawMessage(`{"for":"` + first.Method + `"}`)})
	}}

	c := testClient(t, d)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	results := make(map[string]string, 2)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, method := range []string{"alpha", "beta"} {
		wg.Add(1)
		go func(method string) {
			defer wg.Done()
			raw, err := c.Call(context.Background(), method, nil)
			if err != nil {
				t.Errorf("Call(%s): %v", method, err)
				return
			}
			var res struct {
				For string `json:"for"`
			}
			json.Unmarshal(raw, &res)
			mu.Lock()
			results[method] = res.For
			mu.Unlock()
		}(method)
		// Serialize sends so the stub reads alpha before beta.
		time.Sleep(20 * time.Millisecond)
	}
	wg.Wait()

	if results["alpha"] != "alpha" || results["beta"] != "beta" {
		t.Fatalf("results = %v", results)
	}
}

func TestUnknownResponseDropped(t *testing.T) {
	d := &stubDialer{serve: func(_ int, tr Transport) {
		if _, err := serveHandshake(tr); err != nil {
			return
		}
		var req Frame
		if err := tr.ReadFrame(&req); err != nil {
			return
		}
		tr.WriteFrame(&Frame{Type: FrameResponse, ID: "never-sent", OK: true, Payload: json.RawMessage(`{}`)})
		tr.WriteFrame(&Frame{Type: FrameResponse, ID: req.ID, OK: true, Payload: json.RawMessage(`{"ok":true}`)})
	}}

	c := testClient(t, d)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	raw, err := c.Call(context.Background(), "status", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(raw) != `{"ok":true}` {
		t.Fatalf("payload = %s", raw)
	}
}

func TestRemoteErrorSurfaced(t *testing.T) {
	d := &stubDialer{serve: func(_ int, tr Transport) {
		if _, err := serveHandshake(tr); err != nil {
			return
		}
		var req Frame
		if err := tr.ReadFrame(&req); err != nil {
			return
		}
		tr.WriteFrame(&Frame{Type: FrameResponse, ID: req.ID, OK: false,
			Error: &WireError{Code: "RATE_LIMITED", Message: "slow down", Retryable: true}})
	}}

	c := testClient(t, d)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	_, err := c.Call(context.Background(), "chat.send", nil)
	if fault.KindOf(err) != fault.KindRemote {
		t.Fatalf("err = %v, want remote kind", err)
	}
	if !fault.IsRetryable(err) {
		t.Fatalf("err = %v, want retryable", err)
	}
}

func TestDisconnectFailsPendingAndReconnects(t *testing.T) {
	d := &stubDialer{}
	d.serve = func(dial int, tr Transport) {
		if _, err := serveHandshake(tr); err != nil {
			return
		}
		if dial == 1 {
			// Drop the connection with one request still pending.
			var req Frame
			if err := tr.ReadFrame(&req); err != nil {
				return
			}
			tr.Close()
			return
		}
		// Later dials stay connected and answer everything.
		for {
			var req Frame
			if err := tr.ReadFrame(&req); err != nil {
				return
			}
			tr.WriteFrame(&Frame{Type: FrameResponse, ID: req.ID, OK: true, Payload: json.RawMessage(`{}`)})
		}
	}

	c := testClient(t, d)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	_, err := c.Call(context.Background(), "status", nil)
	if fault.KindOf(err) != fault.KindTransport || !fault.IsRetryable(err) {
		t.Fatalf("err = %v, want retryable transport kind", err)
	}

	waitForState(t, c, StateConnected)
	if d.dialCount() < 2 {
		t.Fatalf("dials = %d, want at least 2", d.dialCount())
	}
	if _, err := c.Call(context.Background(), "status", nil); err != nil {
		t.Fatalf("Call after reconnect: %v", err)
	}
}

func TestCloseCancelsPendingTerminally(t *testing.T) {
	requestSeen := make(chan struct{})
	d := &stubDialer{serve: func(_ int, tr Transport) {
		if _, err := serveHandshake(tr); err != nil {
			return
		}
		var req Frame
		if err := tr.ReadFrame(&req); err != nil {
			return
		}
		close(requestSeen)
		// Never answer.
		var drain Frame
		tr.ReadFrame(&drain)
	}}

	c := testClient(t, d)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "status", nil)
		errc <- err
	}()
	<-requestSeen
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	err := <-errc
	if fault.KindOf(err) != fault.KindTransport {
		t.Fatalf("err = %v, want transport kind", err)
	}
	if fault.IsRetryable(err) {
		t.Fatalf("err = %v, want non-retryable after explicit close", err)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state = %s, want disconnected", c.State())
	}

	// No reconnect after explicit close.
	time.Sleep(50 * time.Millisecond)
	if d.dialCount() != 1 {
		t.Fatalf("dials = %d, want 1", d.dialCount())
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestEventDeliveryGapAndStateVersion(t *testing.T) {
	seq1, seq3 := int64(1), int64(3)
	d := &stubDialer{serve: func(_ int, tr Transport) {
		if _, err := serveHandshake(tr); err != nil {
			return
		}
		tr.WriteFrame(&Frame{Type: FrameEvent, Event: EventPresence, Seq: &seq1,
			Payload: json.RawMessage(`{"n":1}`)})
		tr.WriteFrame(&Frame{Type: FrameEvent, Event: EventPresence, Seq: &seq3,
			StateVersion: &StateVersion{Presence: 7, Health: 2},
			Payload:      json.RawMessage(`{"n":3}`)})
		var drain Frame
		tr.ReadFrame(&drain)
	}}

	c := testClient(t, d)
	sub := c.Subscribe()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	first := recvEvent(t, sub.C)
	if first.Name != EventPresence || first.Seq != 1 || first.Gap {
		t.Fatalf("first = %+v", first)
	}
	second := recvEvent(t, sub.C)
	if second.Seq != 3 || !second.Gap {
		t.Fatalf("second = %+v, want seq 3 with gap", second)
	}
	if second.StateVersion == nil || second.StateVersion.Presence != 7 {
		t.Fatalf("stateVersion = %+v", second.StateVersion)
	}
	if sv := c.CachedStateVersion(); sv.Presence != 7 || sv.Health != 2 {
		t.Fatalf("cached stateVersion = %+v", sv)
	}

	sub.Unsubscribe()
	sub.Unsubscribe()
	if _, open := <-sub.C; open {
		t.Fatal("channel still open after unsubscribe")
	}
}

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestDecodeChatEvent(t *testing.T) {
	cases := []struct {
		name     string
		payload  string
		state    ChatState
		terminal bool
		errMsg   string
	}{
		{"delta", `{"state":"delta","runId":"r1","text":"hi"}`, ChatDelta, false, ""},
		{"final", `{"state":"final","runId":"r1","text":"done"}`, ChatFinal, true, ""},
		{"aborted", `{"state":"aborted","runId":"r1"}`, ChatAborted, true, ""},
		{"error nested", `{"state":"error","runId":"r1","error":{"message":"boom"}}`, ChatError, true, "boom"},
		{"error flat", `{"state":"error","runId":"r1","message":"flat"}`, ChatError, true, "flat"},
		{"error bare", `{"state":"error","runId":"r1"}`, ChatError, true, "agent run failed"},
		{"future state", `{"state":"thinking","runId":"r1","depth":2}`, ChatUnrecognized, false, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := DecodeChatEvent(json.RawMessage(tc.payload))
			if err != nil {
				t.Fatalf("DecodeChatEvent: %v", err)
			}
			if ev.State != tc.state {
				t.Fatalf("state = %s, want %s", ev.State, tc.state)
			}
			if ev.Terminal() != tc.terminal {
				t.Fatalf("Terminal() = %v, want %v", ev.Terminal(), tc.terminal)
			}
			if ev.ErrMessage != tc.errMsg {
				t.Fatalf("errMessage = %q, want %q", ev.ErrMessage, tc.errMsg)
			}
		})
	}

	if ev, err := DecodeChatEvent(json.RawMessage(`{"state":"thinking","depth":2}`)); err != nil {
		t.Fatalf("DecodeChatEvent: %v", err)
	} else if ev.Attrs["depth"] != float64(2) {
		t.Fatalf("attrs = %v", ev.Attrs)
	}

	if _, err := DecodeChatEvent(json.RawMessage(`{"runId":"r1"}`)); fault.KindOf(err) != fault.KindProtocol {
		t.Fatalf("missing state: err = %v, want protocol kind", err)
	}
	if _, err := DecodeChatEvent(json.RawMessage(`not json`)); fault.KindOf(err) != fault.KindProtocol {
		t.Fatalf("malformed: err = %v, want protocol kind", err)
	}
}

func TestConfigureRetargetsNextDial(t *testing.T) {
	params := make(chan HelloParams, 1)
	d := &stubDialer{serve: func(_ int, tr Transport) {
		req, err := serveHandshake(tr)
		if err != nil {
			return
		}
		var p HelloParams
		json.Unmarshal(req.Params, &p)
		params <- p
	}}
	c := testClient(t, d)

	c.Configure("stub:1", "rotated")
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if got := d.dialedAddr(); got != "stub:1" {
		t.Errorf("dialed %q, want stub:1", got)
	}
	if p := <-params; p.Auth.Token != "rotated" {
		t.Errorf("auth token = %q, want rotated", p.Auth.Token)
	}
}
