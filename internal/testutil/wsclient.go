package testutil

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/steven-mosley/idleverse/internal/protocol"
)

// WSClient is a websocket test client speaking the game protocol.
type WSClient struct {
	conn *websocket.Conn
	t    *testing.T
}

// NewWSClient dials url, rewriting http:// to ws://, and returns a test client.
//
// Precondition: url must point at a listening game websocket endpoint.
// Postcondition: Returns a connected WSClient or fails the test.
func NewWSClient(t *testing.T, url string, header http.Header) *WSClient {
	t.Helper()
	start := time.Now()
	url = "ws" + strings.TrimPrefix(url, "http")

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(url, header)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", url, err, time.Since(start))
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	t.Logf("websocket client connected to %s [%s]", url, time.Since(start))
	return &WSClient{conn: conn, t: t}
}

// Send writes one frame.
//
// Postcondition: {"type": typ, "data": data} is written, or the test fails.
func (c *WSClient) Send(typ string, data any) {
	c.t.Helper()
	b, err := protocol.Encode(typ, data)
	if err != nil {
		c.t.Fatalf("encoding %s: %v", typ, err)
	}
	c.SendRaw(b)
}

// SendRaw writes b as one text frame.
func (c *WSClient) SendRaw(b []byte) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		c.t.Fatalf("sending %q: %v", b, err)
	}
}

// Read returns the next frame or fails the test on timeout.
func (c *WSClient) Read(timeout time.Duration) protocol.Envelope {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, b, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("reading frame: %v", err)
	}
	var env protocol.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		c.t.Fatalf("decoding frame %q: %v", b, err)
	}
	return env
}

// ReadUntil skips frames until one of type typ arrives and returns it.
//
// Postcondition: Returns the matching frame, or fails on timeout.
func (c *WSClient) ReadUntil(typ string, timeout time.Duration) protocol.Envelope {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	var seen []string
	for {
		left := time.Until(deadline)
		if left <= 0 {
			c.t.Fatalf("reading until %q: saw %v", typ, seen)
		}
		_ = c.conn.SetReadDeadline(deadline)
		_, b, err := c.conn.ReadMessage()
		if err != nil {
			c.t.Fatalf("reading until %q: saw %v, error: %v", typ, seen, err)
		}
		var env protocol.Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			c.t.Fatalf("decoding frame %q: %v", b, err)
		}
		if env.Type == typ {
			return env
		}
		seen = append(seen, env.Type)
	}
}

// Closed reports whether the server closes the connection within timeout.
func (c *WSClient) Closed(timeout time.Duration) bool {
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return false
			}
			return true
		}
	}
}

// Close closes the underlying connection.
func (c *WSClient) Close() {
	_ = c.conn.Close()
}
