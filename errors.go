package sftp

import (
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/pkg/errors"

	sshfx "github.com/pkg/sftpclient/encoding/ssh/filexfer"
)

// Kind classifies the errors returned from a Client,
// so that callers can decide whether an operation may be retried.
type Kind int

// The kinds of errors that a Client may return.
const (
	KindUnknown Kind = iota

	// KindTransport is an I/O failure on the underlying stream.
	KindTransport

	// KindCodec is a malformed or unsupported packet.
	KindCodec

	// KindHandshake is an incompatible version, or a failed capability negotiation.
	KindHandshake

	// KindRemote is a well-formed SSH_FXP_STATUS error reply from the server.
	KindRemote

	// KindBackgroundTask is the response reader having terminated abnormally while waiting for a reply.
	KindBackgroundTask

	// KindResourceExhausted is a local open-handle or pipelining limit having been exceeded.
	KindResourceExhausted
)

var kindNames = [...]string{
	KindUnknown:           "unknown error",
	KindTransport:         "transport error",
	KindCodec:             "codec error",
	KindHandshake:         "handshake error",
	KindRemote:            "remote error",
	KindBackgroundTask:    "background task failure",
	KindResourceExhausted: "resource exhausted",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}

	return kindNames[k]
}

// Error is the error type returned from Client operations.
// The Kind is always set, Op names the operation that failed, if known.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Sentinel errors, one per Kind, for use with errors.Is.
var (
	ErrTransport             = &Error{Kind: KindTransport}
	ErrCodec                 = &Error{Kind: KindCodec}
	ErrHandshake             = &Error{Kind: KindHandshake}
	ErrRemote                = &Error{Kind: KindRemote}
	ErrBackgroundTaskFailure = &Error{Kind: KindBackgroundTask}
	ErrResourceExhausted     = &Error{Kind: KindResourceExhausted}
)

// ErrClosed is the cause reported to callers waiting on a Client that has been closed locally.
var ErrClosed = errors.New("sftp: client closed")

func (e *Error) Error() string {
	msg := "sftp: " + e.Kind.String()

	if e.Op != "" {
		msg += ": " + e.Op
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is one of the sentinel errors of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

func newError(kind Kind, op string, err error) error {
	return &Error{
		Kind: kind,
		Op:   op,
		Err:  err,
	}
}

// KindOf returns the Kind of the first *Error in err's chain,
// or KindUnknown if there is none.
//
// Errors that did not originate in the session are not classified:
// an operation abandoned because its context was done returns the context's error,
// and an operation on a closed Client returns ErrClosed, both with KindUnknown.
// Use errors.Is to test for those.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindUnknown
}

// IsRetryable reports whether the operation that returned err may succeed if issued again on the same Client.
//
// Failures of the transport or of the response reader are never retryable,
// the Client must be closed and a new session established.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindResourceExhausted:
		return true

	case KindRemote:
		var status *sshfx.StatusPacket
		if !errors.As(err, &status) {
			return false
		}

		switch status.StatusCode {
		case sshfx.StatusFailure,
			sshfx.StatusNoConnection,
			sshfx.StatusLockConflict,
			sshfx.StatusByteRangeLockConflict:
			return true
		}
	}

	return false
}

// statusToError converts an SSH_FXP_STATUS reply into an error.
// An SSH_FX_EOF is returned as a bare io.EOF.
func statusToError(status *sshfx.StatusPacket, okExpected bool) error {
	switch status.StatusCode {
	case sshfx.StatusOK:
		if !okExpected {
			return newError(KindCodec, "", errors.New("unexpected SSH_FX_OK"))
		}
		return nil

	case sshfx.StatusEOF:
		return io.EOF
	}

	return newError(KindRemote, "", status)
}

func wrapPathError(op, path string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, io.EOF) {
		// Numerous odd things break if we don't return bare io.EOF errors.
		return io.EOF
	}

	return &fs.PathError{Op: op, Path: path, Err: err}
}

func wrapLinkError(op, oldpath, newpath string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, io.EOF) {
		return io.EOF
	}

	return &os.LinkError{Op: op, Old: oldpath, New: newpath, Err: err}
}
