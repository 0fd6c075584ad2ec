package endpoint

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/supersockets/supersockets-go/handshake"
	"github.com/supersockets/supersockets-go/sserrors"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// openPair binds an ephemeral port, accepts in the background, and dials it.
// Both endpoints share the same option set.
func openPair(t *testing.T, opts ...Option) (listener, initiator *Endpoint) {
	t.Helper()
	ctx := testContext(t)

	b, err := Bind("127.0.0.1", 0, opts...)
	require.NoError(t, err)

	type accepted struct {
		ep  *Endpoint
		err error
	}
	acceptCh := make(chan accepted, 1)
	go func() {
		ep, err := b.Accept(ctx)
		acceptCh <- accepted{ep, err}
	}()

	initiator, err = Open(ctx, RoleInitiator, "127.0.0.1", b.Port(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { initiator.Close() })

	acc := <-acceptCh
	require.NoError(t, acc.err)
	listener = acc.ep
	t.Cleanup(func() { listener.Close() })
	return listener, initiator
}

func requireCode(t *testing.T, err error, code sserrors.Code) {
	t.Helper()
	var se *sserrors.Error
	require.ErrorAs(t, err, &se)
	require.Equal(t, code, se.Code)
}

func TestPlaintextSendReceive(t *testing.T) {
	l, i := openPair(t)
	require.False(t, l.Sealed())
	require.False(t, i.Sealed())

	require.NoError(t, i.Send("hello"))
	v, err := l.Receive()
	require.NoError(t, err)
	require.Equal(t, "hello", v)

	require.NoError(t, l.Send(int64(42)))
	v, err = i.Receive()
	require.NoError(t, err)
	require.Equal(t, int64(42), v)
}

func TestLargeValueSpansChunks(t *testing.T) {
	l, i := openPair(t, WithTimeout(10*time.Second))

	payload := strings.Repeat("z", 200_000)
	require.NoError(t, i.Send(payload))
	v, err := l.Receive()
	require.NoError(t, err)
	require.Equal(t, payload, v)
}

func TestNegotiatedEncryption(t *testing.T) {
	l, i := openPair(t, WithNegotiation())
	require.True(t, l.Sealed())
	require.True(t, i.Sealed())

	lRes, iRes := l.HandshakeResult(), i.HandshakeResult()
	require.Equal(t, handshake.OutcomeConfirmed, lRes.Outcome)
	require.Equal(t, handshake.OutcomeConfirmed, iRes.Outcome)
	require.NotNil(t, lRes.Key)
	require.NotNil(t, iRes.Key)
	require.Equal(t, *lRes.Key, *iRes.Key)

	require.NoError(t, i.Send("over the sealed channel"))
	v, err := l.Receive()
	require.NoError(t, err)
	require.Equal(t, "over the sealed channel", v)
}

func TestPresharedKey(t *testing.T) {
	l, i := openPair(t, WithPresharedKey("hunter2"))
	require.True(t, l.Sealed())
	require.True(t, i.Sealed())
	// No negotiation ran, the key came from configuration.
	require.Equal(t, handshake.OutcomeDisabled, l.HandshakeResult().Outcome)

	require.NoError(t, i.Send(map[string]any{"op": "ping"}))
	v, err := l.Receive()
	require.NoError(t, err)
	require.Equal(t, map[string]any{"op": "ping"}, v)
}

func TestBindPortInUse(t *testing.T) {
	b, err := Bind("127.0.0.1", 0)
	require.NoError(t, err)
	defer b.Close()

	_, err = Bind("127.0.0.1", b.Port())
	requireCode(t, err, sserrors.CodePortInUse)
	require.Contains(t, err.Error(), "already in use")
}

func TestBindInvalidAddress(t *testing.T) {
	_, err := Bind("203.0.113.7", 0)
	requireCode(t, err, sserrors.CodeInvalidAddress)
}

func TestDialUnreachable(t *testing.T) {
	// Grab a port that nothing listens on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	ctx := testContext(t)
	_, err = Open(ctx, RoleInitiator, "127.0.0.1", port,
		WithDialRetry(300*time.Millisecond, 50*time.Millisecond))
	requireCode(t, err, sserrors.CodeUnreachable)
	require.ErrorIs(t, err, ErrUnreachable)
}

func TestHandshakeTimeoutAgainstSilentListener(t *testing.T) {
	// A raw listener that accepts and then says nothing never produces the
	// handshake marker.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(2 * time.Second)
	}()

	ctx := testContext(t)
	_, err = Open(ctx, RoleInitiator, "127.0.0.1", ln.Addr().(*net.TCPAddr).Port,
		WithMarkerWait(300*time.Millisecond, 50*time.Millisecond))
	requireCode(t, err, sserrors.CodeHandshakeTimeout)
	require.ErrorIs(t, err, handshake.ErrTimeout)
}

func TestReceiveTimesOutWithoutTraffic(t *testing.T) {
	l, _ := openPair(t, WithTimeout(200*time.Millisecond))

	_, err := l.Receive()
	requireCode(t, err, sserrors.CodeTimeout)
}

func TestCloseIsIdempotent(t *testing.T) {
	l, i := openPair(t)
	require.NoError(t, i.Close())
	require.NoError(t, i.Close())

	err := i.Send("after close")
	requireCode(t, err, sserrors.CodeClosed)
	require.ErrorIs(t, err, ErrClosed)

	_, err = i.Receive()
	requireCode(t, err, sserrors.CodeClosed)
	require.NoError(t, l.Close())
}

func TestOpenRejectsUnknownRole(t *testing.T) {
	ctx := testContext(t)
	_, err := Open(ctx, Role("spectator"), "127.0.0.1", 0)
	requireCode(t, err, sserrors.CodeInvalidOption)
	require.ErrorIs(t, err, ErrInvalidRole)
}

func TestEndpointIdentity(t *testing.T) {
	l, i := openPair(t)
	require.Equal(t, RoleListener, l.Role())
	require.Equal(t, RoleInitiator, i.Role())
	require.NotEmpty(t, l.ID())
	require.NotEmpty(t, i.ID())
	require.NotEqual(t, l.ID(), i.ID())
}
