// Package observability defines the metric hooks the endpoint emits. The
// default observer is a no-op; observability/prom exports to Prometheus.
package observability

// Direction labels frame events by transfer direction.
type Direction string

const (
	DirSend    Direction = "send"
	DirReceive Direction = "receive"
)

// FrameErrorKind classifies frame-level failures.
type FrameErrorKind string

const (
	FrameErrorDesync    FrameErrorKind = "desync"
	FrameErrorDecrypt   FrameErrorKind = "decrypt"
	FrameErrorHeader    FrameErrorKind = "header"
	FrameErrorTooLarge  FrameErrorKind = "too_large"
	FrameErrorCodec     FrameErrorKind = "codec"
	FrameErrorTransport FrameErrorKind = "transport"
)

// HandshakeOutcome labels how the key negotiation ended.
type HandshakeOutcome string

const (
	HandshakeConfirmed HandshakeOutcome = "confirmed"
	HandshakeDisabled  HandshakeOutcome = "disabled"
	HandshakeMismatch  HandshakeOutcome = "mismatch"
	HandshakeFailed    HandshakeOutcome = "failed"
)

// ConnObserver receives connection-level metric events.
type ConnObserver interface {
	ConnOpened(role string)
	ConnClosed(role string)
	Handshake(outcome HandshakeOutcome)
	Frame(dir Direction, bytes int)
	FrameError(dir Direction, kind FrameErrorKind)
}

type noopConnObserver struct{}

func (noopConnObserver) ConnOpened(string)                    {}
func (noopConnObserver) ConnClosed(string)                    {}
func (noopConnObserver) Handshake(HandshakeOutcome)           {}
func (noopConnObserver) Frame(Direction, int)                 {}
func (noopConnObserver) FrameError(Direction, FrameErrorKind) {}

// NoopConnObserver is a zero-cost observer used when metrics are disabled.
var NoopConnObserver ConnObserver = noopConnObserver{}
