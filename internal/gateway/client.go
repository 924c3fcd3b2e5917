package gateway

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heathdorn/overseer/internal/fault"
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// Config configures a Client.
type Config struct {
	Addr  string
	Token string

	ClientID string
	Version  string
	Platform string
	Mode     string
	Role     string
	Scopes   []string

	// Device enables device-bound authentication when set.
	Device *Device

	Dialer           Dialer
	HandshakeTimeout time.Duration
	BackoffMin       time.Duration
	BackoffMax       time.Duration
	Logger           *log.Logger
}

func (c *Config) fillDefaults() {
	if c.Dialer == nil {
		c.Dialer = NetDialer{Timeout: 10 * time.Second}
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.BackoffMin == 0 {
		c.BackoffMin = 500 * time.Millisecond
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = log.New(os.Stderr, "[gateway] ", log.LstdFlags)
	}
	if c.Role == "" {
		c.Role = "operator"
	}
	if c.Platform == "" {
		c.Platform = "server"
	}
	if c.Mode == "" {
		c.Mode = "executor"
	}
}

// Event is one inbound gateway event as delivered to subscribers. Gap is
// set when this event's category skipped sequence numbers, meaning events
// were dropped and the subscriber may need to resynchronize.
type Event struct {
	Name         string
	Payload      json.RawMessage
	Seq          int64
	Gap          bool
	StateVersion *StateVersion
}

// EventSub is one subscriber's event channel. Unsubscribe is idempotent.
type EventSub struct {
	C <-chan Event

	client *Client
	id     int
	once   sync.Once
}

// Unsubscribe detaches the subscriber and closes C.
func (s *EventSub) Unsubscribe() {
	s.once.Do(func() {
		if s.client != nil {
			s.client.removeSub(s.id)
		}
	})
}

type callResult struct {
	payload json.RawMessage
	err     error
}

// Client holds one persistent gateway connection. Requests are correlated
// to responses strictly by id; transport loss fails all pending calls with
// a retryable error and triggers bounded-backoff reconnection.
type Client struct {
	cfg Config
	log *log.Logger

	mu           sync.Mutex
	state        State
	tr           Transport
	gen          int
	pending      map[string]chan callResult
	seqs         map[string]int64
	stateVersion StateVersion
	hello        *HelloOK
	subs         map[int]chan Event
	nextSub      int
	closed       bool
	reconnecting bool
}

// NewClient creates a client; it does not connect.
func NewClient(cfg Config) *Client {
	cfg.fillDefaults()
	return &Client{
		cfg:     cfg,
		log:     cfg.Logger,
		state:   StateDisconnected,
		pending: make(map[string]chan callResult),
		seqs:    make(map[string]int64),
		subs:    make(map[int]chan Event),
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Hello returns the last handshake result, or nil before first connect.
func (c *Client) Hello() *HelloOK {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hello
}

// Configure retargets the client. The new address and token apply to the
// next dial; a connection already established or mid-handshake keeps its
// original target until it drops.
func (c *Client) Configure(addr, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if addr != "" {
		c.cfg.Addr = addr
	}
	if token != "" {
		c.cfg.Token = token
	}
}

// CachedStateVersion returns the latest stateVersion counters seen.
func (c *Client) CachedStateVersion() StateVersion {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateVersion
}

// Subscribe registers an event subscriber. Delivery is in arrival order;
// a slow subscriber drops events (the per-category Seq lets it notice).
func (c *Client) Subscribe() *EventSub {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan Event, 256)
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	return &EventSub{C: ch, client: c, id: id}
}

func (c *Client) removeSub(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.subs[id]; ok {
		delete(c.subs, id)
		close(ch)
	}
}

// Connect dials the gateway and performs the handshake. On success the
// client is connected and the read loop is running; on failure the state
// is error and the caller may retry.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fault.Cancelled("gateway client is closed")
	}
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		c.mu.Lock()
		if !c.closed {
			c.state = StateError
		}
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	addr := c.cfg.Addr
	c.mu.Unlock()

	tr, err := c.cfg.Dialer.DialContext(ctx, addr)
	if err != nil {
		return err
	}

	hello, err := c.handshake(tr)
	if err != nil {
		tr.Close()
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		tr.Close()
		return fault.Cancelled("gateway client is closed")
	}
	c.tr = tr
	c.gen++
	gen := c.gen
	c.state = StateConnected
	c.hello = hello
	c.mu.Unlock()

	c.log.Printf("connected to %s (protocol %d, server %s %s)",
		addr, hello.Protocol, hello.Server.Name, hello.Server.Version)
	go c.readLoop(tr, gen)
	return nil
}

// handshake runs the challenge/connect/hello-ok exchange with a watchdog:
// on timeout the transport is closed to unblock the pending read.
func (c *Client) handshake(tr Transport) (*HelloOK, error) {
	type result struct {
		hello *HelloOK
		err   error
	}
	done := make(chan result, 1)
	go func() {
		h, err := c.doHandshake(tr)
		done <- result{h, err}
	}()

	select {
	case r := <-done:
		return r.hello, r.err
	case <-time.After(c.cfg.HandshakeTimeout):
		tr.Close()
		<-done
		return nil, fault.Transport(nil, "handshake timed out after %s", c.cfg.HandshakeTimeout)
	}
}

func (c *Client) doHandshake(tr Transport) (*HelloOK, error) {
	var f Frame
	if err := tr.ReadFrame(&f); err != nil {
		return nil, fault.Transport(err, "read challenge")
	}
	if f.Type != FrameEvent || f.Event != EventChallenge {
		return nil, fault.Protocol("expected %s event, got type=%s event=%s", EventChallenge, f.Type, f.Event)
	}
	var challenge Challenge
	if err := json.Unmarshal(f.Payload, &challenge); err != nil {
		return nil, fault.Protocol("malformed challenge payload: %v", err)
	}

	c.mu.Lock()
	token := c.cfg.Token
	c.mu.Unlock()

	params := HelloParams{
		MinProtocol: MinProtocol,
		MaxProtocol: MaxProtocol,
		Client: ClientInfo{
			ID:       c.cfg.ClientID,
			Version:  c.cfg.Version,
			Platform: c.cfg.Platform,
			Mode:     c.cfg.Mode,
		},
		Role:      c.cfg.Role,
		Scopes:    c.cfg.Scopes,
		Auth:      AuthInfo{Token: token},
		Locale:    "en-US",
		UserAgent: "overseer/" + c.cfg.Version,
	}
	if c.cfg.Device != nil {
		params.Device = c.cfg.Device.Info(challenge.Nonce)
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fault.Protocol("marshal connect params: %v", err)
	}

	id := uuid.NewString()
	if err := tr.WriteFrame(&Frame{Type: FrameRequest, ID: id, Method: "connect", Params: raw}); err != nil {
		return nil, fault.Transport(err, "send connect")
	}

	for {
		var res Frame
		if err := tr.ReadFrame(&res); err != nil {
			return nil, fault.Transport(err, "read connect response")
		}
		if res.Type == FrameEvent {
			// Events before hello-ok carry nothing we can act on yet.
			continue
		}
		if res.Type != FrameResponse || res.ID != id {
			continue
		}
		if !res.OK {
			we := res.Error
			if we == nil {
				return nil, fault.Protocol("connect rejected with no error detail")
			}
			return nil, fault.Remote(we.Code, we.Message, we.Retryable)
		}
		var hello HelloOK
		if err := json.Unmarshal(res.Payload, &hello); err != nil {
			return nil, fault.Protocol("malformed hello-ok: %v", err)
		}
		if hello.Protocol < MinProtocol || hello.Protocol > MaxProtocol {
			return nil, fault.Protocol("gateway negotiated unsupported protocol %d", hello.Protocol)
		}
		return &hello, nil
	}
}

func (c *Client) readLoop(tr Transport, gen int) {
	for {
		var f Frame
		if err := tr.ReadFrame(&f); err != nil {
			c.handleDisconnect(gen, err)
			return
		}
		switch f.Type {
		case FrameResponse:
			c.resolve(&f)
		case FrameEvent:
			c.handleEvent(&f)
		default:
			c.log.Printf("dropping frame with unknown type %q", f.Type)
		}
	}
}

func (c *Client) resolve(f *Frame) {
	c.mu.Lock()
	ch, ok := c.pending[f.ID]
	if ok {
		delete(c.pending, f.ID)
	}
	c.mu.Unlock()

	if !ok {
		// Responses for unknown ids are dropped by contract.
		c.log.Printf("dropping response for unknown request id %s", f.ID)
		return
	}
	if f.OK {
		ch <- callResult{payload: f.Payload}
		return
	}
	we := f.Error
	if we == nil {
		we = &WireError{Code: "UNKNOWN", Message: "gateway returned ok=false without detail"}
	}
	ch <- callResult{err: fault.Remote(we.Code, we.Message, we.Retryable)}
}

func (c *Client) handleEvent(f *Frame) {
	ev := Event{Name: f.Event, Payload: f.Payload}

	c.mu.Lock()
	if f.Seq != nil {
		ev.Seq = *f.Seq
		if last, seen := c.seqs[f.Event]; seen && *f.Seq > last+1 {
			ev.Gap = true
		}
		c.seqs[f.Event] = *f.Seq
	}
	if f.StateVersion != nil {
		c.stateVersion = *f.StateVersion
		ev.StateVersion = f.StateVersion
	}
	targets := make([]chan Event, 0, len(c.subs))
	for _, ch := range c.subs {
		targets = append(targets, ch)
	}
	c.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (c *Client) handleDisconnect(gen int, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		// A newer connection replaced this one; nothing to do.
		c.mu.Unlock()
		return
	}
	if c.tr != nil {
		c.tr.Close()
		c.tr = nil
	}
	if c.closed {
		c.failPendingLocked(fault.Cancelled("gateway client is closed"))
		c.state = StateDisconnected
		c.mu.Unlock()
		return
	}

	c.failPendingLocked(fault.Transport(cause, "connection lost"))
	c.state = StateError
	already := c.reconnecting
	c.reconnecting = true
	c.mu.Unlock()

	c.log.Printf("connection lost: %v", cause)
	if !already {
		go c.reconnectLoop()
	}
}

// failPendingLocked rejects every in-flight call. Callers hold c.mu.
func (c *Client) failPendingLocked(err error) {
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- callResult{err: err}
	}
}

func (c *Client) reconnectLoop() {
	backoff := c.cfg.BackoffMin
	for {
		time.Sleep(backoff)

		c.mu.Lock()
		if c.closed {
			c.reconnecting = false
			c.mu.Unlock()
			return
		}
		c.state = StateConnecting
		c.mu.Unlock()

		err := c.connect(context.Background())
		if err == nil {
			c.mu.Lock()
			c.reconnecting = false
			c.mu.Unlock()
			return
		}

		c.mu.Lock()
		if !c.closed {
			c.state = StateError
		}
		stop := c.closed
		c.mu.Unlock()
		if stop {
			return
		}

		c.log.Printf("reconnect failed (next attempt in %s): %v", backoff, err)
		backoff *= 2
		if backoff > c.cfg.BackoffMax {
			backoff = c.cfg.BackoffMax
		}
	}
}

// Call sends a request and waits for the matching response. Responses are
// matched strictly by id, never by send order.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fault.Validation("marshal %s params: %v", method, err)
		}
		raw = data
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fault.Cancelled("gateway client is closed")
	}
	if c.state != StateConnected || c.tr == nil {
		c.mu.Unlock()
		return nil, fault.Transport(nil, "not connected to gateway")
	}
	id := uuid.NewString()
	ch := make(chan callResult, 1)
	c.pending[id] = ch
	tr := c.tr
	c.mu.Unlock()

	if err := tr.WriteFrame(&Frame{Type: FrameRequest, ID: id, Method: method, Params: raw}); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fault.Transport(err, "send %s", method)
	}

	select {
	case r := <-ch:
		return r.payload, r.err
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Close tears down the connection, cancels all pending requests
// terminally, and disables automatic reconnection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	tr := c.tr
	c.tr = nil
	c.failPendingLocked(fault.Cancelled("gateway client is closed"))
	c.state = StateDisconnected
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.mu.Unlock()

	if tr != nil {
		tr.Close()
	}
	return nil
}
