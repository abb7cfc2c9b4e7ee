package tftpd

import (
	"fmt"

	"github.com/pkg/errors"
)

// FailureKind classifies why a session moved to StateInError, per spec.md §7.
type FailureKind int

const (
	FailureMalformed FailureKind = iota
	FailureBadTransferMode
	FailureFileNotFound
	FailureOpenFailed
	FailureUnexpectedOpcode
	FailureWrongBlock
	FailureRetryExhausted
	FailureSocketIO
)

func (k FailureKind) String() string {
	switch k {
	case FailureMalformed:
		return "Malformed"
	case FailureBadTransferMode:
		return "BadTransferMode"
	case FailureFileNotFound:
		return "FileNotFound"
	case FailureOpenFailed:
		return "OpenFailed"
	case FailureUnexpectedOpcode:
		return "UnexpectedOpcode"
	case FailureWrongBlock:
		return "WrongBlock"
	case FailureRetryExhausted:
		return "RetryExhausted"
	case FailureSocketIO:
		return "SocketIO"
	}
	return "Unknown"
}

// SessionError is the error reported to a Sink when a session enters
// StateInError. It keeps the TFTP-level classification alongside
// whatever underlying cause (if any) pkg/errors wrapped onto it.
type SessionError struct {
	Kind FailureKind
	Code errorCode
	err  error
}

func (e *SessionError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.err)
	}
	return e.Kind.String()
}

func (e *SessionError) Unwrap() error { return e.err }

func newFailure(kind FailureKind, code errorCode, msg string) *SessionError {
	return &SessionError{Kind: kind, Code: code, err: errors.New(msg)}
}

func wrapFailure(kind FailureKind, code errorCode, cause error, msg string) *SessionError {
	return &SessionError{Kind: kind, Code: code, err: errors.Wrap(cause, msg)}
}

// encodeError builds an ERROR packet: opcode(5), 2-byte code, Latin-1
// message, NUL terminator. Per spec.md §4.7.
func encodeError(code errorCode, message string) []byte {
	msg := toLatin1(message)
	out := make([]byte, 4+len(msg)+1)
	putUint16(out[0:2], uint16(opERROR))
	putUint16(out[2:4], uint16(code))
	copy(out[4:], msg)
	out[len(out)-1] = 0
	return out
}

// toLatin1 truncates each rune to its low byte, which is exact for the
// ASCII/Latin-1 range TFTP error strings stay within in this server.
func toLatin1(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		out = append(out, byte(r))
	}
	return out
}
