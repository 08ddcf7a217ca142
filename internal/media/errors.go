package media

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

// Error kinds.
const (
	// KindConfiguration covers invalid encoder parameters and GPU context or
	// shader failures. Fatal to the current start attempt.
	KindConfiguration ErrorKind = "CONFIGURATION"
	// KindTransientIO covers a single failed drain or submit call.
	KindTransientIO ErrorKind = "TRANSIENT_IO"
	// KindResourceExhaustion covers missing hardware encoders.
	KindResourceExhaustion ErrorKind = "RESOURCE_EXHAUSTION"
	// KindStateViolation covers lifecycle calls made in the wrong state.
	KindStateViolation ErrorKind = "STATE_VIOLATION"
	// KindFrame covers single-frame failures (unsupported format, oversized
	// buffer). The frame is dropped and the pipeline continues.
	KindFrame ErrorKind = "FRAME"
	// KindCodecFailed covers a codec that stopped working altogether.
	KindCodecFailed ErrorKind = "CODEC_FAILED"
)

// Sentinel errors, matched with errors.Is against an *Error of the same kind.
var (
	ErrConfiguration      = &Error{Kind: KindConfiguration}
	ErrTransientIO        = &Error{Kind: KindTransientIO}
	ErrResourceExhaustion = &Error{Kind: KindResourceExhaustion}
	ErrStateViolation     = &Error{Kind: KindStateViolation}
	ErrFrame              = &Error{Kind: KindFrame}
	ErrCodecFailed        = &Error{Kind: KindCodecFailed}
)

// Specific causes.
var (
	ErrUnsupportedFormat = errors.New("unsupported pixel format")
	ErrFrameTooSmall     = errors.New("frame buffer smaller than its geometry")
	ErrInputTooLarge     = errors.New("input larger than codec buffer")
	ErrNoInputBuffer     = errors.New("no codec input buffer available")
	ErrWrongInputMode    = errors.New("operation not valid for the session input strategy")
	ErrNoEncoder         = errors.New("no hardware encoder available")
	ErrSessionClosed     = errors.New("encoder session closed")
)

// Error is a classified pipeline error.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewError builds a classified error.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same kind, so callers can write
// errors.Is(err, media.ErrConfiguration).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in the chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
