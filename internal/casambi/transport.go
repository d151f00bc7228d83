package casambi

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport timeouts.
const (
	// handshakeTimeout bounds the websocket upgrade.
	handshakeTimeout = 10 * time.Second

	// writeTimeout bounds individual frame writes.
	writeTimeout = 10 * time.Second
)

// Transport is one established socket to the cloud. The concrete
// implementation is a websocket; tests substitute an in-memory fake.
type Transport interface {
	// ReadMessage blocks until the next data frame arrives or the
	// transport fails.
	ReadMessage() ([]byte, error)

	// WriteMessage sends one data frame. Writes are serialized: the
	// transport is a single ordered stream.
	WriteMessage(data []byte) error

	// WritePing sends a liveness probe.
	WritePing() error

	// SetPongHandler registers the liveness acknowledgment callback.
	// The callback runs on the read pump goroutine.
	SetPongHandler(fn func())

	// Close tears the socket down. Safe to call concurrently with reads.
	Close() error
}

// Dialer establishes Transports. The Connection redials through it
// after every loss.
type Dialer interface {
	DialContext(ctx context.Context) (Transport, error)
}

// NewWebsocketDialer returns a Dialer for the cloud websocket
// endpoint. The API key travels as the websocket subprotocol, which is
// how the service authenticates the socket itself; wires carry their
// own session tokens.
func NewWebsocketDialer(socketURL, apiKey string) Dialer {
	return &wsDialer{url: socketURL, apiKey: apiKey}
}

type wsDialer struct {
	url    string
	apiKey string
}

func (d *wsDialer) DialContext(ctx context.Context) (Transport, error) {
	dialer := websocket.Dialer{
		Subprotocols:     []string{d.apiKey},
		HandshakeTimeout: handshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, d.url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing %s: %w (status %d)", d.url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing %s: %w", d.url, err)
	}
	if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
		_ = conn.Close()
		return nil, fmt.Errorf("dialing %s: unexpected status %d", d.url, resp.StatusCode)
	}

	return newWSTransport(conn), nil
}

// wsTransport adapts a gorilla websocket connection to Transport.
// writeMu serializes data and control writes; gorilla allows one
// concurrent writer only.
type wsTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *wsTransport) WriteMessage(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) WritePing() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (t *wsTransport) SetPongHandler(fn func()) {
	t.conn.SetPongHandler(func(string) error {
		fn()
		return nil
	})
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
