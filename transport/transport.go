// Package transport defines the byte-stream surface the frame codec runs on
// and bridges context deadlines onto net.Conn-style I/O deadlines.
package transport

import (
	"context"
	"io"
	"net"
	"sync/atomic"
	"time"
)

// Stream is a bidirectional, ordered, reliable byte stream with deadline
// support. *net.TCPConn and net.Pipe conns satisfy it directly.
type Stream interface {
	io.Reader
	io.Writer
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// WithReadDeadline applies the context deadline to the stream's read side,
// arranges for cancellation to wake an in-flight read, and runs fn.
//
// net.Conn reads do not unblock on context cancellation by themselves;
// cancellation forces the blocked read awake by moving the deadline to now,
// and the resulting timeout is mapped back to ctx.Err() for a stable error
// contract.
func WithReadDeadline(ctx context.Context, s Stream, fn func() error) error {
	return withDeadline(ctx, s.SetReadDeadline, fn)
}

// WithWriteDeadline is WithReadDeadline for the write side.
func WithWriteDeadline(ctx context.Context, s Stream, fn func() error) error {
	return withDeadline(ctx, s.SetWriteDeadline, fn)
}

func withDeadline(ctx context.Context, set func(time.Time) error, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		_ = set(deadline)
	} else {
		_ = set(time.Time{})
	}
	if ctx.Done() != nil {
		var active atomic.Bool
		active.Store(true)
		stop := context.AfterFunc(ctx, func() {
			if !active.Load() {
				return
			}
			_ = set(time.Now())
		})
		defer func() {
			active.Store(false)
			stop()
		}()
	}
	err := fn()
	if err == nil {
		return nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		// The I/O timeout can race slightly ahead of the context timer.
		if hasDeadline && !time.Now().Before(deadline) {
			return context.DeadlineExceeded
		}
	}
	return err
}
