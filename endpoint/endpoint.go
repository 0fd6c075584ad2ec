// Package endpoint owns one connection: the socket, the negotiated key slot,
// and the role. It exposes Open/Send/Receive/Close to application code; the
// frame codec and handshake protocol do the wire work.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/supersockets/supersockets-go/codec"
	"github.com/supersockets/supersockets-go/crypto/seal"
	"github.com/supersockets/supersockets-go/framing/streamframe"
	"github.com/supersockets/supersockets-go/handshake"
	"github.com/supersockets/supersockets-go/internal/retry"
	"github.com/supersockets/supersockets-go/sserrors"
	"github.com/supersockets/supersockets-go/transport"
)

// Role selects the connection establishment behavior.
type Role string

const (
	RoleListener  Role = "listener"
	RoleInitiator Role = "initiator"
)

// Endpoint is one side of an established connection. It is not reentrant:
// concurrent Send/Receive calls must be serialized by the caller, because the
// framing protocol's ack sequence assumes no interleaving.
type Endpoint struct {
	role   Role
	id     string
	stream transport.Stream
	fc     *streamframe.Codec
	cfg    config

	result handshake.Result

	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
}

// Open establishes a connection in the given role and runs the handshake.
//
// A listener binds and accepts exactly one peer; use Bind/Accept instead when
// the bound port must be known before the peer arrives (port 0). An initiator
// dials with a bounded retry budget to absorb listener startup races.
func Open(ctx context.Context, role Role, address string, port int, opts ...Option) (*Endpoint, error) {
	switch role {
	case RoleListener:
		b, err := Bind(address, port, opts...)
		if err != nil {
			return nil, err
		}
		return b.Accept(ctx)
	case RoleInitiator:
		return dial(ctx, address, port, opts...)
	default:
		return nil, sserrors.Wrap(sserrors.Role(role), sserrors.StageSetup, sserrors.CodeInvalidOption, ErrInvalidRole)
	}
}

// Binding is a bound listener socket waiting for its single peer.
type Binding struct {
	ln  net.Listener
	cfg config
}

// Bind binds the listener socket without accepting yet. Bind failures carry
// distinct codes for ports in use, privileged ports, and invalid addresses.
func Bind(address string, port int, opts ...Option) (*Binding, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	ln, err := listenReuse(address, port)
	if err != nil {
		code := sserrors.ClassifySetupCode(err)
		return nil, sserrors.Wrap(sserrors.RoleListener, sserrors.StageSetup, code, describeSetup(code, address, port, err))
	}
	return &Binding{ln: ln, cfg: cfg}, nil
}

// Addr returns the bound address, useful after binding port 0.
func (b *Binding) Addr() net.Addr { return b.ln.Addr() }

// Port returns the bound TCP port.
func (b *Binding) Port() int {
	if a, ok := b.ln.Addr().(*net.TCPAddr); ok {
		return a.Port
	}
	return 0
}

// Close releases the listener socket without accepting.
func (b *Binding) Close() error { return b.ln.Close() }

// Accept waits for the single peer connection, closes the listener, and runs
// the handshake. The Binding is spent afterwards.
func (b *Binding) Accept(ctx context.Context) (*Endpoint, error) {
	if tl, ok := b.ln.(*net.TCPListener); ok {
		if deadline, has := ctx.Deadline(); has {
			_ = tl.SetDeadline(deadline)
		}
	}
	conn, err := b.ln.Accept()
	// One endpoint serves exactly one peer; stop listening either way.
	lnErr := b.ln.Close()
	if err != nil {
		return nil, sserrors.Wrap(sserrors.RoleListener, sserrors.StageSetup, sserrors.ClassifyConnectCode(err),
			multierr.Append(err, lnErr))
	}
	return newEndpoint(ctx, RoleListener, conn, b.cfg)
}

func dial(ctx context.Context, address string, port int, opts ...Option) (*Endpoint, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	target := net.JoinHostPort(address, strconv.Itoa(port))
	policy := retry.Policy{Interval: cfg.dialInterval, Budget: cfg.dialBudget, Clock: cfg.clock}

	var conn net.Conn
	err := policy.Do(ctx, func() (bool, error) {
		d := net.Dialer{Timeout: cfg.timeout}
		c, derr := d.DialContext(ctx, "tcp", target)
		if derr != nil {
			// A refused connection usually means the listener is still
			// starting; anything else is permanent.
			return isConnRefused(derr), derr
		}
		conn = c
		return false, nil
	})
	if err != nil {
		code := sserrors.ClassifyConnectCode(err)
		if code == sserrors.CodeUnreachable {
			err = multierr.Append(ErrUnreachable, err)
		}
		return nil, sserrors.Wrap(sserrors.RoleInitiator, sserrors.StageConnect, code,
			fmt.Errorf("dial %s: %w", target, err))
	}
	return newEndpoint(ctx, RoleInitiator, conn, cfg)
}

// newEndpoint wires the accepted/dialed socket, runs the handshake, and
// installs the resulting frame codec.
func newEndpoint(ctx context.Context, role Role, conn net.Conn, cfg config) (*Endpoint, error) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	e := &Endpoint{
		role:   role,
		id:     uuid.NewString(),
		stream: conn,
		cfg:    cfg,
	}
	log := cfg.logger.With(
		zap.String("conn_id", e.id),
		zap.String("role", string(role)),
		zap.String("remote", conn.RemoteAddr().String()),
	)

	hsOpts := handshake.Options{
		Negotiate:      cfg.negotiate,
		Suite:          cfg.suite,
		MarkerWait:     cfg.markerWait,
		MarkerInterval: cfg.markerInterval,
		Clock:          cfg.clock,
		Observer:       cfg.observer,
	}
	var (
		res handshake.Result
		err error
	)
	hsCtx, cancel := handshakeContext(ctx, cfg, role)
	defer cancel()
	switch role {
	case RoleListener:
		res, err = handshake.Listener(hsCtx, e.stream, hsOpts)
	default:
		res, err = handshake.Initiator(hsCtx, e.stream, hsOpts)
	}
	if err != nil {
		_ = conn.Close()
		log.Warn("handshake failed", zap.Error(err))
		return nil, sserrors.Wrap(sserrors.Role(role), sserrors.StageHandshake, sserrors.ClassifyHandshakeCode(err), err)
	}
	e.result = res

	key := res.Key
	if key == nil {
		key = cfg.presharedKey
	}
	var sealer *seal.Sealer
	if key != nil {
		sealer, err = seal.NewSealer(*key, cfg.suite)
		if err != nil {
			_ = conn.Close()
			return nil, sserrors.Wrap(sserrors.Role(role), sserrors.StageHandshake, sserrors.CodeInvalidOption, err)
		}
	}
	e.fc = streamframe.New(streamframe.Options{
		Sealer:        sealer,
		MaxFrameBytes: cfg.maxFrameBytes,
		Observer:      cfg.observer,
	})

	cfg.observer.ConnOpened(string(role))
	log.Debug("connection established",
		zap.String("handshake_outcome", string(res.Outcome)),
		zap.Bool("sealed", sealer != nil),
	)
	return e, nil
}

// Send transmits one value to the peer, blocking up to the configured timeout.
func (e *Endpoint) Send(v any) error {
	if e.closed.Load() {
		return sserrors.Wrap(sserrors.Role(e.role), sserrors.StageFrame, sserrors.CodeClosed, ErrClosed)
	}
	b, err := codec.Marshal(v)
	if err != nil {
		return sserrors.Wrap(sserrors.Role(e.role), sserrors.StageCodec, sserrors.CodeSerialization, err)
	}
	ctx, cancel := e.opContext()
	defer cancel()
	if err := e.fc.Write(ctx, e.stream, b); err != nil {
		return sserrors.Wrap(sserrors.Role(e.role), sserrors.StageFrame, sserrors.ClassifyFrameCode(err), err)
	}
	return nil
}

// Receive blocks for the next value from the peer, up to the configured
// timeout.
func (e *Endpoint) Receive() (any, error) {
	if e.closed.Load() {
		return nil, sserrors.Wrap(sserrors.Role(e.role), sserrors.StageFrame, sserrors.CodeClosed, ErrClosed)
	}
	ctx, cancel := e.opContext()
	defer cancel()
	b, err := e.fc.Read(ctx, e.stream)
	if err != nil {
		return nil, sserrors.Wrap(sserrors.Role(e.role), sserrors.StageFrame, sserrors.ClassifyFrameCode(err), err)
	}
	v, err := codec.Unmarshal(b)
	if err != nil {
		return nil, sserrors.Wrap(sserrors.Role(e.role), sserrors.StageCodec, sserrors.CodeSerialization, err)
	}
	return v, nil
}

// Close releases the socket. It is idempotent; operations after Close fail
// deterministically with a closed error.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		e.closeErr = e.stream.Close()
		e.cfg.observer.ConnClosed(string(e.role))
		e.cfg.logger.Debug("connection closed", zap.String("conn_id", e.id))
	})
	return e.closeErr
}

// Role returns the endpoint's role.
func (e *Endpoint) Role() Role { return e.role }

// ID returns the endpoint's connection identifier.
func (e *Endpoint) ID() string { return e.id }

// Sealed reports whether application frames are encrypted.
func (e *Endpoint) Sealed() bool { return e.fc.Sealed() }

// HandshakeResult reports the negotiation outcome for this connection.
func (e *Endpoint) HandshakeResult() handshake.Result { return e.result }

func (e *Endpoint) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), e.cfg.timeout)
}

// handshakeContext bounds the whole handshake. The initiator's budget covers
// the marker wait; everything after the marker uses the operation timeout.
func handshakeContext(ctx context.Context, cfg config, role Role) (context.Context, context.CancelFunc) {
	budget := cfg.timeout
	if role == RoleInitiator {
		wait := cfg.markerWait
		if wait <= 0 {
			wait = handshake.DefaultMarkerWait
		}
		budget = wait + cfg.timeout
	}
	return context.WithTimeout(ctx, budget)
}

// listenReuse binds with SO_REUSEADDR so rapid reconnects do not trip over
// sockets in TIME_WAIT.
func listenReuse(address string, port int) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(network, addr string, c syscall.RawConn) error {
			var serr error
			err := c.Control(func(fd uintptr) {
				serr = setReuseAddr(fd)
			})
			if err != nil {
				return err
			}
			return serr
		},
	}
	return lc.Listen(context.Background(), "tcp", net.JoinHostPort(address, strconv.Itoa(port)))
}

func isConnRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

// describeSetup attaches the attempted bind and a remedy to setup failures.
func describeSetup(code sserrors.Code, address string, port int, err error) error {
	switch code {
	case sserrors.CodePortInUse:
		return fmt.Errorf("port %d is already in use by another service, pick a different port: %w", port, err)
	case sserrors.CodePortPrivileged:
		return fmt.Errorf("binding port %d requires elevated privileges, try a port above 1023: %w", port, err)
	case sserrors.CodeInvalidAddress:
		return fmt.Errorf("%q is not a local address of this host: %w", address, err)
	default:
		return fmt.Errorf("bind %s:%d: %w", address, port, err)
	}
}
