// Package gateway implements the client side of the gateway wire protocol:
// a single persistent framed connection carrying requests, responses, and
// unsolicited events, with an authenticated handshake and automatic
// reconnect.
package gateway

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/heathdorn/overseer/internal/fault"
)

// Protocol versions this client can speak.
const (
	MinProtocol = 1
	MaxProtocol = 3
)

// Frame types on the wire.
const (
	FrameRequest  = "req"
	FrameResponse = "res"
	FrameEvent    = "event"
)

// Well-known event names.
const (
	EventChallenge = "connect.challenge"
	EventChat      = "chat"
	EventPresence  = "presence"
	EventHealth    = "health"
)

// Frame is the single wire envelope; Type selects which fields are
// meaningful.
type Frame struct {
	Type string `json:"type"`

	// Request and response correlation.
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	// Response fields.
	OK      bool            `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *WireError      `json:"error,omitempty"`

	// Event fields.
	Event        string        `json:"event,omitempty"`
	Seq          *int64        `json:"seq,omitempty"`
	StateVersion *StateVersion `json:"stateVersion,omitempty"`
}

// WireError is the gateway's structured error. Retryable=true means the
// caller may safely resend the same request.
type WireError struct {
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	Details   json.RawMessage `json:"details,omitempty"`
	Retryable bool            `json:"retryable,omitempty"`
}

// StateVersion carries the gateway's derived-view counters. A subscriber
// compares these against its cached values to decide whether a derived
// view is stale without re-fetching full state.
type StateVersion struct {
	Presence int64 `json:"presence"`
	Health   int64 `json:"health"`
}

// Challenge is the payload of the connect.challenge event the gateway
// sends immediately after the transport opens.
type Challenge struct {
	Nonce string `json:"nonce"`
	TS    int64  `json:"ts"`
}

// HelloParams is the body of the connect request.
type HelloParams struct {
	MinProtocol int         `json:"minProtocol"`
	MaxProtocol int         `json:"maxProtocol"`
	Client      ClientInfo  `json:"client"`
	Role        string      `json:"role"`
	Scopes      []string    `json:"scopes"`
	Auth        AuthInfo    `json:"auth"`
	Device      *DeviceInfo `json:"device,omitempty"`
	Locale      string      `json:"locale,omitempty"`
	UserAgent   string      `json:"userAgent,omitempty"`
}

// ClientInfo identifies this client to the gateway.
type ClientInfo struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Mode     string `json:"mode"`
}

// AuthInfo carries the shared token.
type AuthInfo struct {
	Token string `json:"token"`
}

// DeviceInfo proves possession of the persisted device key pair by signing
// the handshake nonce.
type DeviceInfo struct {
	ID        string `json:"id"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
	SignedAt  int64  `json:"signedAt"`
	Nonce     string `json:"nonce,omitempty"`
}

// HelloOK is the gateway's handshake result.
type HelloOK struct {
	Type     string     `json:"type"`
	Protocol int        `json:"protocol"`
	Server   ServerInfo `json:"server"`
	Features Features   `json:"features"`
	Snapshot Snapshot   `json:"snapshot"`
	Policy   Policy     `json:"policy"`
}

// ServerInfo names the gateway implementation.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Features lists what the negotiated protocol supports.
type Features struct {
	Methods []string `json:"methods"`
	Events  []string `json:"events"`
}

// Snapshot is the initial state delivered with hello-ok.
type Snapshot struct {
	Presence        []json.RawMessage `json:"presence,omitempty"`
	Health          json.RawMessage   `json:"health,omitempty"`
	SessionDefaults json.RawMessage   `json:"sessionDefaults,omitempty"`
}

// Policy is the connection policy block.
type Policy struct {
	TickIntervalMs int `json:"tickIntervalMs"`
}

// maxFrameSize caps a single frame payload.
const maxFrameSize = 10 * 1024 * 1024

// Transport moves frames over some byte stream. Implementations must allow
// one concurrent reader plus concurrent writers.
type Transport interface {
	ReadFrame(*Frame) error
	WriteFrame(*Frame) error
	Close() error
}

// Dialer opens transports. Tests substitute an in-memory implementation.
type Dialer interface {
	DialContext(ctx context.Context, addr string) (Transport, error)
}

// NetDialer dials TCP and wraps the connection in the framed transport.
type NetDialer struct {
	Timeout time.Duration
}

// DialContext implements Dialer.
func (d NetDialer) DialContext(ctx context.Context, addr string) (Transport, error) {
	nd := net.Dialer{Timeout: d.Timeout}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fault.Transport(err, "dial gateway %s", addr)
	}
	return NewTransport(conn), nil
}

// NewTransport wraps a net.Conn in the length-prefixed JSON framing:
// [4-byte big-endian length][JSON payload].
func NewTransport(conn net.Conn) Transport {
	return &netTransport{conn: conn}
}

type netTransport struct {
	conn net.Conn
	wmu  sync.Mutex
}

func (t *netTransport) WriteFrame(f *Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()

	if err := binary.Write(t.conn, binary.BigEndian, uint32(len(data))); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	// io.Copy handles short writes.
	if _, err := io.Copy(t.conn, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

func (t *netTransport) ReadFrame(f *Frame) error {
	var length uint32
	if err := binary.Read(t.conn, binary.BigEndian, &length); err != nil {
		return fmt.Errorf("read frame length: %w", err)
	}
	if length > maxFrameSize {
		return fault.Protocol("frame too large: %d bytes", length)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(t.conn, buf); err != nil {
		return fmt.Errorf("read frame payload: %w", err)
	}
	if err := json.Unmarshal(buf, f); err != nil {
		return fault.Protocol("malformed frame: %v", err)
	}
	return nil
}

func (t *netTransport) Close() error {
	return t.conn.Close()
}
