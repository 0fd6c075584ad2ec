// Package ws adapts a WebSocket connection to the transport.Stream interface
// so endpoints can run the same framing over WebSocket as over TCP.
//
// WebSocket is message-oriented; the adapter flattens binary messages into a
// byte stream, buffering any bytes a Read does not consume.
package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// ErrTextMessage signals a text frame on what must be a binary stream.
var ErrTextMessage = errors.New("ws: unexpected text message")

// Stream presents a websocket connection as a byte stream. It satisfies
// transport.Stream.
type Stream struct {
	c *websocket.Conn

	// pending holds bytes from the last message not yet consumed by Read.
	pending []byte
}

// UpgraderOptions exposes a small set of websocket upgrader controls.
type UpgraderOptions struct {
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// Upgrade upgrades an HTTP request and wraps the connection as a Stream.
func Upgrade(w http.ResponseWriter, r *http.Request, opts UpgraderOptions) (*Stream, error) {
	up := websocket.Upgrader{
		ReadBufferSize:  opts.ReadBufferSize,
		WriteBufferSize: opts.WriteBufferSize,
		CheckOrigin:     opts.CheckOrigin,
	}
	c, err := up.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &Stream{c: c}, nil
}

// Dial opens a websocket connection and wraps it as a Stream.
func Dial(ctx context.Context, urlStr string, header http.Header) (*Stream, *http.Response, error) {
	d := websocket.Dialer{}
	if deadline, ok := ctx.Deadline(); ok {
		d.HandshakeTimeout = time.Until(deadline)
	}
	c, resp, err := d.DialContext(ctx, urlStr, header)
	if err != nil {
		return nil, resp, err
	}
	return &Stream{c: c}, resp, nil
}

// Read returns buffered bytes first, then blocks for the next binary message.
func (s *Stream) Read(p []byte) (int, error) {
	if len(s.pending) > 0 {
		n := copy(p, s.pending)
		s.pending = s.pending[n:]
		return n, nil
	}
	for {
		mt, b, err := s.c.ReadMessage()
		if err != nil {
			return 0, err
		}
		switch mt {
		case websocket.BinaryMessage:
			n := copy(p, b)
			if n < len(b) {
				s.pending = append(s.pending, b[n:]...)
			}
			return n, nil
		case websocket.TextMessage:
			return 0, ErrTextMessage
		default:
			continue
		}
	}
}

// Write sends p as one binary message.
func (s *Stream) Write(p []byte) (int, error) {
	if err := s.c.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close closes the underlying websocket connection.
func (s *Stream) Close() error { return s.c.Close() }

// SetReadDeadline forwards to the underlying websocket connection.
func (s *Stream) SetReadDeadline(t time.Time) error { return s.c.SetReadDeadline(t) }

// SetWriteDeadline forwards to the underlying websocket connection.
func (s *Stream) SetWriteDeadline(t time.Time) error { return s.c.SetWriteDeadline(t) }
