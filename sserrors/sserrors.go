package sserrors

import "fmt"

// Role identifies which side of the connection produced the error.
type Role string

const (
	RoleListener  Role = "listener"
	RoleInitiator Role = "initiator"
)

// Stage identifies which step of the protocol stack failed.
type Stage string

const (
	StageSetup     Stage = "setup"
	StageConnect   Stage = "connect"
	StageHandshake Stage = "handshake"
	StageFrame     Stage = "frame"
	StageCodec     Stage = "codec"
	StageClose     Stage = "close"
)

// Code is a stable, programmatic error identifier for user-facing operations.
type Code string

const (
	CodeTimeout              Code = "timeout"
	CodeCanceled             Code = "canceled"
	CodeInvalidAddress       Code = "invalid_address"
	CodePortInUse            Code = "port_in_use"
	CodePortPrivileged       Code = "port_privileged"
	CodeUnreachable          Code = "unreachable"
	CodeHandshakeTimeout     Code = "handshake_timeout"
	CodeHandshakeFailed      Code = "handshake_failed"
	CodeConfirmationMismatch Code = "confirmation_mismatch"
	CodeDesync               Code = "desync"
	CodeDecryptFailed        Code = "decrypt_failed"
	CodeSerialization        Code = "serialization"
	CodeFrameTooLarge        Code = "frame_too_large"
	CodeTransportFailed      Code = "transport_failed"
	CodeSetupFailed          Code = "setup_failed"
	CodeClosed               Code = "closed"
	CodeInvalidOption        Code = "invalid_option"
)

// Error is a structured, programmatically identifiable error for endpoint operations.
type Error struct {
	Role  Role
	Stage Stage
	Code  Code
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s (%s): %v", e.Role, e.Stage, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s (%s)", e.Role, e.Stage, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

func Wrap(role Role, stage Stage, code Code, err error) error {
	return &Error{Role: role, Stage: stage, Code: code, Err: err}
}
