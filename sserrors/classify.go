package sserrors

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"

	"github.com/supersockets/supersockets-go/codec"
	"github.com/supersockets/supersockets-go/crypto/seal"
	"github.com/supersockets/supersockets-go/framing/streamframe"
	"github.com/supersockets/supersockets-go/handshake"
)

// ClassifySetupCode maps a bind/listen error to a stable Code.
//
// Distinguishing these matters for the caller's remedy: a port in use wants a
// different port, a privileged port wants one above 1023, and an invalid
// address wants a local one.
func ClassifySetupCode(err error) Code {
	var addrErr *net.AddrError
	switch {
	case errors.Is(err, syscall.EADDRINUSE):
		return CodePortInUse
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return CodePortPrivileged
	case errors.Is(err, syscall.EADDRNOTAVAIL), errors.As(err, &addrErr):
		return CodeInvalidAddress
	default:
		return CodeSetupFailed
	}
}

// ClassifyConnectCode maps a dial error to a stable Code.
func ClassifyConnectCode(err error) Code {
	switch {
	case errors.Is(err, context.DeadlineExceeded), isTimeout(err):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	default:
		return CodeUnreachable
	}
}

// ClassifyHandshakeCode maps a handshake error to a stable Code.
func ClassifyHandshakeCode(err error) Code {
	switch {
	case errors.Is(err, handshake.ErrTimeout):
		return CodeHandshakeTimeout
	case errors.Is(err, handshake.ErrConfirmationMismatch):
		return CodeConfirmationMismatch
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	case errors.Is(err, context.DeadlineExceeded), isTimeout(err):
		return CodeTimeout
	default:
		return CodeHandshakeFailed
	}
}

// ClassifyFrameCode maps a frame-level send/receive error to a stable Code.
func ClassifyFrameCode(err error) Code {
	switch {
	case errors.Is(err, streamframe.ErrDesync):
		return CodeDesync
	case errors.Is(err, seal.ErrDecrypt), errors.Is(err, seal.ErrCiphertextTooShort):
		return CodeDecryptFailed
	case errors.Is(err, streamframe.ErrFrameTooLarge):
		return CodeFrameTooLarge
	case errors.Is(err, streamframe.ErrHeaderMalformed),
		errors.Is(err, codec.ErrMalformedEnvelope),
		errors.Is(err, codec.ErrUnsupportedValue):
		return CodeSerialization
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	case errors.Is(err, context.DeadlineExceeded), isTimeout(err):
		return CodeTimeout
	default:
		return CodeTransportFailed
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
