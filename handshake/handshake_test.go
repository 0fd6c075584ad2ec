package handshake

import (
	"context"
	"encoding/base64"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/supersockets/supersockets-go/crypto/seal"
	"github.com/supersockets/supersockets-go/framing/streamframe"
	"github.com/supersockets/supersockets-go/transport"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// runBoth drives both sides of the handshake over an in-memory pipe.
func runBoth(t *testing.T, listenerOpts, initiatorOpts Options) (Result, Result, error, error) {
	t.Helper()
	ctx := testContext(t)
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	type outcome struct {
		res Result
		err error
	}
	lCh := make(chan outcome, 1)
	go func() {
		res, err := Listener(ctx, a, listenerOpts)
		lCh <- outcome{res, err}
	}()
	iRes, iErr := Initiator(ctx, b, initiatorOpts)
	l := <-lCh
	return l.res, iRes, l.err, iErr
}

func TestNegotiatedHandshakeAgreesOnKey(t *testing.T) {
	lRes, iRes, lErr, iErr := runBoth(t, Options{Negotiate: true}, Options{})
	if lErr != nil || iErr != nil {
		t.Fatalf("handshake failed: listener=%v initiator=%v", lErr, iErr)
	}
	if lRes.Outcome != OutcomeConfirmed || iRes.Outcome != OutcomeConfirmed {
		t.Fatalf("expected both confirmed, got %v and %v", lRes.Outcome, iRes.Outcome)
	}
	if lRes.State != StateConfirmed || iRes.State != StateConfirmed {
		t.Fatalf("expected terminal state confirmed, got %v and %v", lRes.State, iRes.State)
	}
	if lRes.Key == nil || iRes.Key == nil {
		t.Fatalf("expected both sides to hold a key")
	}
	if *lRes.Key != *iRes.Key {
		t.Fatalf("negotiated keys differ")
	}
}

func TestDisabledHandshakeLeavesNoKey(t *testing.T) {
	lRes, iRes, lErr, iErr := runBoth(t, Options{Negotiate: false}, Options{})
	if lErr != nil || iErr != nil {
		t.Fatalf("handshake failed: listener=%v initiator=%v", lErr, iErr)
	}
	if lRes.Outcome != OutcomeDisabled || iRes.Outcome != OutcomeDisabled {
		t.Fatalf("expected both disabled, got %v and %v", lRes.Outcome, iRes.Outcome)
	}
	if lRes.Key != nil || iRes.Key != nil {
		t.Fatalf("disabled handshake must not set a key")
	}
}

func TestInitiatorTimesOutWithoutMarker(t *testing.T) {
	ctx := testContext(t)
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	_, err := Initiator(ctx, b, Options{
		MarkerWait:     200 * time.Millisecond,
		MarkerInterval: 50 * time.Millisecond,
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

// scripted listener that presents a valid key exchange but lies about the
// confirmation hash.
func corruptHashListener(t *testing.T, ctx context.Context, s transport.Stream) {
	t.Helper()
	fc := streamframe.New(streamframe.Options{})

	if err := sendValue(ctx, fc, s, MarkerEnabled); err != nil {
		return
	}
	kp, err := seal.GenerateExchangeKeypair()
	if err != nil {
		return
	}
	pubPEM, err := kp.PublicPEM()
	if err != nil {
		return
	}
	if err := sendValue(ctx, fc, s, pubPEM); err != nil {
		return
	}
	wrapped, err := recvBytes(ctx, fc, s)
	if err != nil {
		return
	}
	sessionKey, err := kp.UnwrapKey(wrapped)
	if err != nil {
		return
	}
	sealer, err := seal.NewSealer(sessionKey, 0)
	if err != nil {
		return
	}
	sealed, err := sealer.Seal([]byte("confirmation-value"))
	if err != nil {
		return
	}
	msg := map[string]string{
		"message": encodeB64u(sealed),
		"hash":    seal.HashHex([]byte("a different value")),
	}
	_ = sendValue(ctx, fc, s, msg)
	_, _ = recvValue(ctx, fc, s)
}

func TestInitiatorRejectsCorruptConfirmationHash(t *testing.T) {
	ctx := testContext(t)
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		corruptHashListener(t, ctx, a)
	}()

	res, err := Initiator(ctx, b, Options{})
	if !errors.Is(err, ErrConfirmationMismatch) {
		t.Fatalf("expected ErrConfirmationMismatch, got %v", err)
	}
	if res.Outcome != OutcomeMismatch {
		t.Fatalf("expected OutcomeMismatch, got %v", res.Outcome)
	}
	if res.Key != nil {
		t.Fatalf("mismatch must not adopt a key")
	}
	<-done
}

func TestListenerRejectsWrongConfirmationAck(t *testing.T) {
	ctx := testContext(t)
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	type outcome struct {
		res Result
		err error
	}
	lCh := make(chan outcome, 1)
	go func() {
		res, err := Listener(ctx, a, Options{Negotiate: true})
		lCh <- outcome{res, err}
	}()

	// Scripted initiator: complete the key exchange but return the wrong
	// confirmation value.
	fc := streamframe.New(streamframe.Options{})
	marker, err := recvString(ctx, fc, b)
	if err != nil || marker != MarkerEnabled {
		t.Fatalf("marker receive failed: %q %v", marker, err)
	}
	pubPEM, err := recvString(ctx, fc, b)
	if err != nil {
		t.Fatalf("public key receive failed: %v", err)
	}
	sessionKey, err := seal.NewSessionKey()
	if err != nil {
		t.Fatalf("NewSessionKey failed: %v", err)
	}
	wrapped, err := seal.WrapKey(pubPEM, sessionKey)
	if err != nil {
		t.Fatalf("WrapKey failed: %v", err)
	}
	if err := sendValue(ctx, fc, b, wrapped); err != nil {
		t.Fatalf("session key send failed: %v", err)
	}
	var msg confirmMessage
	if err := recvConfirm(ctx, fc, b, &msg); err != nil {
		t.Fatalf("confirmation receive failed: %v", err)
	}
	if err := sendValue(ctx, fc, b, "wrong confirmation"); err != nil {
		t.Fatalf("ack send failed: %v", err)
	}

	l := <-lCh
	if !errors.Is(l.err, ErrConfirmationMismatch) {
		t.Fatalf("expected ErrConfirmationMismatch, got %v", l.err)
	}
	if l.res.Outcome != OutcomeMismatch || l.res.Key != nil {
		t.Fatalf("mismatch must not adopt a key: %+v", l.res)
	}
}

func encodeB64u(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
