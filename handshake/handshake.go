// Package handshake negotiates the connection's encryption state directly
// after the socket is established, before any application traffic.
//
// The listener decides whether encryption is used and announces it with a
// marker frame on the unkeyed frame codec. When enabled, the listener's
// transient asymmetric keypair carries a random session key from the
// initiator back to the listener, and a sealed confirmation value proves to
// both sides that they hold the same key before either adopts it.
//
// Both peers must finish in the same terminal state: Confirmed with
// byte-identical keys, or Disabled with no key. A confirmation mismatch is a
// hard failure on both sides rather than a silent fallback to plaintext.
package handshake

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/supersockets/supersockets-go/codec"
	"github.com/supersockets/supersockets-go/crypto/seal"
	"github.com/supersockets/supersockets-go/framing/streamframe"
	"github.com/supersockets/supersockets-go/internal/retry"
	"github.com/supersockets/supersockets-go/observability"
	"github.com/supersockets/supersockets-go/transport"
)

// Marker tokens announcing the listener's encryption decision.
const (
	MarkerEnabled  = "encryption enabled"
	MarkerDisabled = "encryption disabled"
)

const (
	// DefaultMarkerWait bounds the initiator's total wait for the marker frame.
	DefaultMarkerWait = 30 * time.Second
	// DefaultMarkerInterval is the pause between marker read attempts.
	DefaultMarkerInterval = time.Second

	confirmationBytes = 16
)

var (
	// ErrTimeout indicates no handshake marker arrived within the wait budget.
	ErrTimeout = errors.New("handshake: no marker within wait budget")
	// ErrConfirmationMismatch indicates the key confirmation failed; the
	// session key is not adopted and the connection must be torn down.
	ErrConfirmationMismatch = errors.New("handshake: confirmation mismatch")
	// ErrProtocol indicates an unexpected message during the exchange.
	ErrProtocol = errors.New("handshake: unexpected message")
)

// State is the handshake progress on one side. Transitions are strictly
// sequential and never revisited after connection setup.
type State string

const (
	StateInit        State = "init"
	StateOffered     State = "offered"
	StateKeyReceived State = "key_received"
	StateConfirmed   State = "confirmed"
	StateDisabled    State = "disabled"
)

// Outcome is the observable terminal result of a handshake.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeDisabled  Outcome = "disabled"
	OutcomeMismatch  Outcome = "mismatch"
)

// Result reports how the negotiation ended. Key is nil unless Outcome is
// OutcomeConfirmed.
type Result struct {
	Outcome Outcome
	State   State
	Key     *seal.Key
}

// Options configures one side of the handshake.
type Options struct {
	// Negotiate requests encryption. Only the listener's value decides; the
	// initiator follows the received marker.
	Negotiate bool
	// Suite selects the AEAD for the session sealer; zero means AES-256-GCM.
	Suite seal.Suite
	// MarkerWait is the initiator's total wait budget for the marker frame.
	MarkerWait time.Duration
	// MarkerInterval is the pause between marker read attempts.
	MarkerInterval time.Duration
	// Clock is injectable for tests; nil means the real clock.
	Clock clock.Clock
	// Observer receives the handshake outcome; nil means no-op.
	Observer observability.ConnObserver
}

func (o Options) observer() observability.ConnObserver {
	if o.Observer == nil {
		return observability.NoopConnObserver
	}
	return o.Observer
}

// confirmMessage is the key-confirmation frame: the confirmation value sealed
// under the candidate session key, plus its cleartext hash.
type confirmMessage struct {
	Message string `json:"message"` // sealed confirmation, base64url
	Hash    string `json:"hash"`    // sha256 hex of the confirmation value
}

// Listener runs the listener side of the handshake.
func Listener(ctx context.Context, s transport.Stream, opts Options) (Result, error) {
	obs := opts.observer()
	res, err := listener(ctx, s, opts)
	obs.Handshake(outcomeLabel(res, err))
	return res, err
}

func listener(ctx context.Context, s transport.Stream, opts Options) (Result, error) {
	fc := streamframe.New(streamframe.Options{})

	if !opts.Negotiate {
		if err := sendValue(ctx, fc, s, MarkerDisabled); err != nil {
			return Result{State: StateInit}, err
		}
		return Result{Outcome: OutcomeDisabled, State: StateDisabled}, nil
	}

	kp, err := seal.GenerateExchangeKeypair()
	if err != nil {
		return Result{State: StateInit}, err
	}
	pubPEM, err := kp.PublicPEM()
	if err != nil {
		return Result{State: StateInit}, err
	}
	if err := sendValue(ctx, fc, s, MarkerEnabled); err != nil {
		return Result{State: StateInit}, err
	}
	if err := sendValue(ctx, fc, s, pubPEM); err != nil {
		return Result{State: StateInit}, err
	}
	state := StateOffered

	wrapped, err := recvBytes(ctx, fc, s)
	if err != nil {
		return Result{State: state}, err
	}
	sessionKey, err := kp.UnwrapKey(wrapped)
	if err != nil {
		return Result{State: state}, err
	}

	sealer, err := seal.NewSealer(sessionKey, opts.Suite)
	if err != nil {
		return Result{State: state}, err
	}
	confirmation, err := newConfirmation()
	if err != nil {
		return Result{State: state}, err
	}
	sealedConf, err := sealer.Seal([]byte(confirmation))
	if err != nil {
		return Result{State: state}, err
	}
	msg := confirmMessage{
		Message: base64.RawURLEncoding.EncodeToString(sealedConf),
		Hash:    seal.HashHex([]byte(confirmation)),
	}
	if err := sendValue(ctx, fc, s, msg); err != nil {
		return Result{State: state}, err
	}
	state = StateKeyReceived

	ack, err := recvString(ctx, fc, s)
	if err != nil {
		return Result{State: state}, err
	}
	if ack != confirmation {
		return Result{Outcome: OutcomeMismatch, State: state}, ErrConfirmationMismatch
	}
	return Result{Outcome: OutcomeConfirmed, State: StateConfirmed, Key: &sessionKey}, nil
}

// Initiator runs the initiator side of the handshake.
func Initiator(ctx context.Context, s transport.Stream, opts Options) (Result, error) {
	obs := opts.observer()
	res, err := initiator(ctx, s, opts)
	obs.Handshake(outcomeLabel(res, err))
	return res, err
}

func initiator(ctx context.Context, s transport.Stream, opts Options) (Result, error) {
	fc := streamframe.New(streamframe.Options{})

	marker, err := waitForMarker(ctx, fc, s, opts)
	if err != nil {
		return Result{State: StateInit}, err
	}
	switch marker {
	case MarkerDisabled:
		return Result{Outcome: OutcomeDisabled, State: StateDisabled}, nil
	case MarkerEnabled:
	default:
		return Result{State: StateInit}, fmt.Errorf("%w: marker %q", ErrProtocol, marker)
	}

	pubPEM, err := recvString(ctx, fc, s)
	if err != nil {
		return Result{State: StateInit}, err
	}
	sessionKey, err := seal.NewSessionKey()
	if err != nil {
		return Result{State: StateInit}, err
	}
	wrapped, err := seal.WrapKey(pubPEM, sessionKey)
	if err != nil {
		return Result{State: StateInit}, err
	}
	if err := sendValue(ctx, fc, s, wrapped); err != nil {
		return Result{State: StateInit}, err
	}
	state := StateOffered

	var msg confirmMessage
	if err := recvConfirm(ctx, fc, s, &msg); err != nil {
		return Result{State: state}, err
	}
	sealedConf, err := base64.RawURLEncoding.DecodeString(msg.Message)
	if err != nil {
		return Result{State: state}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	sealer, err := seal.NewSealer(sessionKey, opts.Suite)
	if err != nil {
		return Result{State: state}, err
	}
	confirmation, err := sealer.Open(sealedConf)
	if err != nil {
		return Result{State: state}, err
	}
	if seal.HashHex(confirmation) != msg.Hash {
		// Echo a deliberately wrong ack so the listener reaches the same
		// mismatch outcome instead of timing out.
		_ = sendValue(ctx, fc, s, "")
		return Result{Outcome: OutcomeMismatch, State: state}, ErrConfirmationMismatch
	}

	// Return the confirmation value in the clear; receipt tells the listener
	// the key survived the round trip.
	if err := sendValue(ctx, fc, s, string(confirmation)); err != nil {
		return Result{State: state}, err
	}
	return Result{Outcome: OutcomeConfirmed, State: StateConfirmed, Key: &sessionKey}, nil
}

// waitForMarker polls for the listener's marker frame with a deadline-based
// retry budget. Each attempt blocks for at most the marker interval.
func waitForMarker(ctx context.Context, fc *streamframe.Codec, s transport.Stream, opts Options) (string, error) {
	wait := opts.MarkerWait
	if wait <= 0 {
		wait = DefaultMarkerWait
	}
	interval := opts.MarkerInterval
	if interval <= 0 {
		interval = DefaultMarkerInterval
	}
	policy := retry.Policy{Interval: interval, Budget: wait, Clock: opts.Clock}

	var marker string
	err := policy.Do(ctx, func() (bool, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		v, err := recvValue(attemptCtx, fc, s)
		if err != nil {
			// Only a quiet peer is worth retrying; anything already on the
			// wire that failed to parse is a protocol error.
			return errors.Is(err, context.DeadlineExceeded), err
		}
		str, ok := v.(string)
		if !ok {
			return false, fmt.Errorf("%w: marker frame is %T", ErrProtocol, v)
		}
		marker = str
		return false, nil
	})
	if err != nil {
		if errors.Is(err, retry.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w (waited %s)", ErrTimeout, wait)
		}
		return "", err
	}
	return marker, nil
}

func newConfirmation() (string, error) {
	b := make([]byte, confirmationBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func sendValue(ctx context.Context, fc *streamframe.Codec, s transport.Stream, v any) error {
	b, err := codec.Marshal(v)
	if err != nil {
		return err
	}
	return fc.Write(ctx, s, b)
}

func recvValue(ctx context.Context, fc *streamframe.Codec, s transport.Stream) (any, error) {
	b, err := fc.Read(ctx, s)
	if err != nil {
		return nil, err
	}
	return codec.Unmarshal(b)
}

func recvString(ctx context.Context, fc *streamframe.Codec, s transport.Stream) (string, error) {
	v, err := recvValue(ctx, fc, s)
	if err != nil {
		return "", err
	}
	str, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: expected string frame, got %T", ErrProtocol, v)
	}
	return str, nil
}

func recvBytes(ctx context.Context, fc *streamframe.Codec, s transport.Stream) ([]byte, error) {
	v, err := recvValue(ctx, fc, s)
	if err != nil {
		return nil, err
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: expected bytes frame, got %T", ErrProtocol, v)
	}
	return b, nil
}

func recvConfirm(ctx context.Context, fc *streamframe.Codec, s transport.Stream, out *confirmMessage) error {
	v, err := recvValue(ctx, fc, s)
	if err != nil {
		return err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: expected confirmation frame, got %T", ErrProtocol, v)
	}
	msg, _ := m["message"].(string)
	hash, _ := m["hash"].(string)
	if msg == "" || hash == "" {
		return fmt.Errorf("%w: incomplete confirmation frame", ErrProtocol)
	}
	out.Message = msg
	out.Hash = hash
	return nil
}

func outcomeLabel(res Result, err error) observability.HandshakeOutcome {
	switch {
	case err == nil && res.Outcome == OutcomeConfirmed:
		return observability.HandshakeConfirmed
	case err == nil && res.Outcome == OutcomeDisabled:
		return observability.HandshakeDisabled
	case res.Outcome == OutcomeMismatch:
		return observability.HandshakeMismatch
	default:
		return observability.HandshakeFailed
	}
}
