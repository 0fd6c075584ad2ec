package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

func TestReadPassesThrough(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	go func() {
		_, _ = a.Write([]byte("ping"))
	}()

	buf := make([]byte, 4)
	err := WithReadDeadline(context.Background(), b, func() error {
		_, err := b.Read(buf)
		return err
	})
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(buf) != "ping" {
		t.Fatalf("unexpected payload %q", buf)
	}
}

func TestReadWakesOnCancel(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := WithReadDeadline(ctx, b, func() error {
		_, err := b.Read(make([]byte, 1))
		return err
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestReadMapsDeadlineToContextError(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := WithReadDeadline(ctx, b, func() error {
		_, err := b.Read(make([]byte, 1))
		return err
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestWriteWakesOnCancel(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	// Nothing reads from the peer, so the write blocks until cancellation
	// moves the deadline.
	err := WithWriteDeadline(ctx, b, func() error {
		_, err := b.Write(make([]byte, 1))
		return err
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPreCanceledContext(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := WithReadDeadline(ctx, b, func() error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Fatalf("fn must not run under a canceled context")
	}
}

func TestUnrelatedErrorsPassThrough(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	a.Close()

	err := WithReadDeadline(context.Background(), b, func() error {
		_, err := b.Read(make([]byte, 1))
		return err
	})
	// net.Pipe reports io.EOF when the peer closes; it must not be rewritten
	// into a context error.
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}
