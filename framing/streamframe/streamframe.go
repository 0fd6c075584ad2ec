// Package streamframe implements the frame codec: it restores message
// boundaries on a byte stream with an explicit length header, a per-frame
// acknowledgement exchange, and chunked transfer of oversized bodies.
//
// Wire format per frame:
//
//	header  length of the body in ASCII decimal digits; '\n'-terminated on
//	        plaintext connections, or sealed and prefixed with a 2-byte
//	        big-endian blob length when a key is active
//	sync    receiver sends the 4-byte ack token, sender verifies it and
//	        echoes it back, receiver verifies the echo
//	body    the (possibly sealed) payload, sent in chunks of at most
//	        MaxChunkBytes
//
// The acknowledgement turns every frame into two round trips. That cost buys
// a hard guarantee: if sender and receiver ever disagree about where a frame
// ends, the next exchange surfaces ErrDesync instead of silently parsing
// payload bytes as the next frame's header.
package streamframe

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/supersockets/supersockets-go/crypto/seal"
	"github.com/supersockets/supersockets-go/observability"
	"github.com/supersockets/supersockets-go/transport"
)

const (
	// MaxChunkBytes is the maximum single-transfer size; larger bodies are
	// split into successive chunks on the wire.
	MaxChunkBytes = 64 * 1024

	// DefaultMaxFrameBytes bounds the declared body length accepted from a
	// peer. Raise it via Options for larger payloads.
	DefaultMaxFrameBytes = 16 << 20

	// ackToken is the literal synchronization sentinel exchanged after the
	// header. Fixed length so both sides read exactly len(ackToken) bytes.
	ackToken = "SYN\n"

	headerDelim     = '\n'
	maxHeaderDigits = 19
)

var (
	// ErrDesync indicates an acknowledgement token mismatch. There is no
	// automatic resync; the caller must tear down and reopen the connection.
	ErrDesync = errors.New("streamframe: sync token mismatch")
	// ErrHeaderMalformed indicates a length header that cannot be parsed.
	ErrHeaderMalformed = errors.New("streamframe: malformed length header")
	// ErrFrameTooLarge indicates a declared length above the configured bound.
	ErrFrameTooLarge = errors.New("streamframe: frame too large")
)

// Options configures a Codec.
type Options struct {
	// Sealer encrypts headers and bodies when non-nil.
	Sealer *seal.Sealer
	// MaxFrameBytes guards declared lengths; 0 means DefaultMaxFrameBytes.
	MaxFrameBytes int
	// Observer receives frame metrics; nil means no-op.
	Observer observability.ConnObserver
}

// Codec frames logical messages over a transport.Stream. A Codec carries no
// stream state of its own, only the key and limits, so the connection's codec
// can be swapped after the handshake adopts a session key.
type Codec struct {
	sealer   *seal.Sealer
	maxFrame int
	obs      observability.ConnObserver
}

// New builds a Codec from opts.
func New(opts Options) *Codec {
	maxFrame := opts.MaxFrameBytes
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameBytes
	}
	obs := opts.Observer
	if obs == nil {
		obs = observability.NoopConnObserver
	}
	return &Codec{sealer: opts.Sealer, maxFrame: maxFrame, obs: obs}
}

// Sealed reports whether the codec encrypts frames.
func (c *Codec) Sealed() bool { return c.sealer != nil }

// Write sends one payload as a frame, honoring the context deadline.
func (c *Codec) Write(ctx context.Context, s transport.Stream, payload []byte) error {
	err := c.write(ctx, s, payload)
	if err != nil {
		c.obs.FrameError(observability.DirSend, classifyFrameError(err))
		return err
	}
	c.obs.Frame(observability.DirSend, len(payload))
	return nil
}

func (c *Codec) write(ctx context.Context, s transport.Stream, payload []byte) error {
	body := payload
	if c.sealer != nil {
		sealed, err := c.sealer.Seal(payload)
		if err != nil {
			return err
		}
		body = sealed
	}

	header, err := c.encodeHeader(len(body))
	if err != nil {
		return err
	}
	if err := transport.WithWriteDeadline(ctx, s, func() error {
		_, werr := s.Write(header)
		return werr
	}); err != nil {
		return err
	}

	// Wait for the receiver's ack before the body, then echo it back.
	if err := readAck(ctx, s); err != nil {
		return err
	}
	if err := writeAck(ctx, s); err != nil {
		return err
	}

	return transport.WithWriteDeadline(ctx, s, func() error {
		return writeChunked(s, body)
	})
}

// Read receives one frame and returns its payload, honoring the context
// deadline.
func (c *Codec) Read(ctx context.Context, s transport.Stream) ([]byte, error) {
	payload, err := c.read(ctx, s)
	if err != nil {
		c.obs.FrameError(observability.DirReceive, classifyFrameError(err))
		return nil, err
	}
	c.obs.Frame(observability.DirReceive, len(payload))
	return payload, nil
}

func (c *Codec) read(ctx context.Context, s transport.Stream) ([]byte, error) {
	var n int
	if err := transport.WithReadDeadline(ctx, s, func() error {
		var herr error
		n, herr = c.readHeader(s)
		return herr
	}); err != nil {
		return nil, err
	}
	if n > c.maxFrame {
		return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrFrameTooLarge, n, c.maxFrame)
	}

	// Acknowledge the header, then require the sender's echo before the body.
	if err := writeAck(ctx, s); err != nil {
		return nil, err
	}
	if err := readAck(ctx, s); err != nil {
		return nil, err
	}

	body := make([]byte, n)
	if err := transport.WithReadDeadline(ctx, s, func() error {
		return readChunked(s, body)
	}); err != nil {
		return nil, err
	}

	if c.sealer != nil {
		return c.sealer.Open(body)
	}
	return body, nil
}

// encodeHeader renders the length header for a body of n bytes.
func (c *Codec) encodeHeader(n int) ([]byte, error) {
	digits := strconv.AppendInt(nil, int64(n), 10)
	if c.sealer == nil {
		return append(digits, headerDelim), nil
	}
	sealed, err := c.sealer.Seal(digits)
	if err != nil {
		return nil, err
	}
	// Sealed headers have variable ciphertext length, so they carry their
	// own fixed-size length prefix instead of a delimiter.
	out := make([]byte, 2, 2+len(sealed))
	binary.BigEndian.PutUint16(out, uint16(len(sealed)))
	return append(out, sealed...), nil
}

// readHeader consumes exactly one length header from the stream and returns
// the declared body length.
func (c *Codec) readHeader(s transport.Stream) (int, error) {
	var digits []byte
	if c.sealer == nil {
		// Read byte-by-byte up to the delimiter so no body bytes are
		// consumed by accident.
		var buf [1]byte
		for {
			if _, err := io.ReadFull(s, buf[:]); err != nil {
				return 0, err
			}
			if buf[0] == headerDelim {
				break
			}
			if len(digits) >= maxHeaderDigits {
				return 0, fmt.Errorf("%w: no delimiter within %d digits", ErrHeaderMalformed, maxHeaderDigits)
			}
			digits = append(digits, buf[0])
		}
	} else {
		var prefix [2]byte
		if _, err := io.ReadFull(s, prefix[:]); err != nil {
			return 0, err
		}
		sealed := make([]byte, binary.BigEndian.Uint16(prefix[:]))
		if _, err := io.ReadFull(s, sealed); err != nil {
			return 0, err
		}
		plain, err := c.sealer.Open(sealed)
		if err != nil {
			return 0, err
		}
		digits = plain
	}
	n, err := strconv.ParseInt(string(digits), 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrHeaderMalformed, digits)
	}
	return int(n), nil
}

func writeAck(ctx context.Context, s transport.Stream) error {
	return transport.WithWriteDeadline(ctx, s, func() error {
		_, err := io.WriteString(s, ackToken)
		return err
	})
}

func readAck(ctx context.Context, s transport.Stream) error {
	var got [len(ackToken)]byte
	if err := transport.WithReadDeadline(ctx, s, func() error {
		_, err := io.ReadFull(s, got[:])
		return err
	}); err != nil {
		return err
	}
	if string(got[:]) != ackToken {
		return fmt.Errorf("%w: got %q", ErrDesync, got[:])
	}
	return nil
}

// writeChunked writes body in slices of at most MaxChunkBytes. The length
// header already describes the full body, so chunking never changes framing.
func writeChunked(s transport.Stream, body []byte) error {
	for len(body) > 0 {
		n := len(body)
		if n > MaxChunkBytes {
			n = MaxChunkBytes
		}
		if _, err := s.Write(body[:n]); err != nil {
			return err
		}
		body = body[n:]
	}
	return nil
}

// readChunked fills buf, accumulating partial reads until the running total
// equals the declared length.
func readChunked(s transport.Stream, buf []byte) error {
	for off := 0; off < len(buf); {
		n := len(buf) - off
		if n > MaxChunkBytes {
			n = MaxChunkBytes
		}
		m, err := io.ReadFull(s, buf[off:off+n])
		off += m
		if err != nil {
			return err
		}
	}
	return nil
}

func classifyFrameError(err error) observability.FrameErrorKind {
	switch {
	case errors.Is(err, ErrDesync):
		return observability.FrameErrorDesync
	case errors.Is(err, seal.ErrDecrypt), errors.Is(err, seal.ErrCiphertextTooShort):
		return observability.FrameErrorDecrypt
	case errors.Is(err, ErrHeaderMalformed):
		return observability.FrameErrorHeader
	case errors.Is(err, ErrFrameTooLarge):
		return observability.FrameErrorTooLarge
	default:
		return observability.FrameErrorTransport
	}
}
