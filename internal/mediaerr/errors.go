// Package mediaerr defines the error taxonomy shared by the transform
// packages, the orchestrator and the upload client.
package mediaerr

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind int

const (
	// KindUnknown is an unclassified failure.
	KindUnknown Kind = iota
	// KindInvalidParameter is a caller error; never retried.
	KindInvalidParameter
	// KindSourceNotFound means the source file does not exist.
	KindSourceNotFound
	// KindUnprobableSource means the source could not be inspected.
	KindUnprobableSource
	// KindEncode is an image encoder failure.
	KindEncode
	// KindTranscode is a non-zero exit of the transcoding process.
	KindTranscode
	// KindTimeout means a child process exceeded its budget and was killed.
	KindTimeout
	// KindNetwork is a transport-level upload failure.
	KindNetwork
	// KindUpload is an upload rejected by the server.
	KindUpload
)

var kindNames = map[Kind]string{
	KindUnknown:          "unknown",
	KindInvalidParameter: "invalid_parameter",
	KindSourceNotFound:   "source_not_found",
	KindUnprobableSource: "unprobable_source",
	KindEncode:           "encode_error",
	KindTranscode:        "transcode_error",
	KindTimeout:          "timeout",
	KindNetwork:          "network_error",
	KindUpload:           "upload_error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified failure. Op names the operation that failed
// ("resize", "trim", "chunk 3", ...).
type Error struct {
	Kind   Kind
	Op     string
	Reason string

	// Set for KindTranscode.
	ExitCode   int
	StderrTail string

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Kind == KindTranscode {
		fmt.Fprintf(&b, " (exit code %d)", e.ExitCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so callers can compare against
// the sentinels below with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrInvalidParameter = &Error{Kind: KindInvalidParameter}
	ErrSourceNotFound   = &Error{Kind: KindSourceNotFound}
	ErrUnprobableSource = &Error{Kind: KindUnprobableSource}
	ErrEncode           = &Error{Kind: KindEncode}
	ErrTranscode        = &Error{Kind: KindTranscode}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrNetwork          = &Error{Kind: KindNetwork}
	ErrUpload           = &Error{Kind: KindUpload}
)

// New returns a classified error.
func New(kind Kind, op, reason string) *Error {
	return &Error{Kind: kind, Op: op, Reason: reason}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// InvalidParameter is shorthand for a formatted caller error.
func InvalidParameter(op, format string, args ...interface{}) *Error {
	return New(KindInvalidParameter, op, fmt.Sprintf(format, args...))
}

// KindOf extracts the Kind of err, KindTimeout for deadline errors and
// KindUnknown otherwise.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// Retryable reports whether the upload layer may retry after err.
// Caller errors and cancellations are final.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	switch KindOf(err) {
	case KindInvalidParameter, KindSourceNotFound, KindUnprobableSource:
		return false
	default:
		return true
	}
}
