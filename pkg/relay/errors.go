package relay

import (
	"net/http"

	"github.com/pkg/errors"
)

// Kind classifies relay failures.
type Kind int

const (
	// KindValidation means the caller sent no message. Nothing was recorded.
	KindValidation Kind = iota + 1
	// KindEmptyReply means the generation API answered without usable text. The user turn stays
	// in the transcript.
	KindEmptyReply
	// KindUpstreamOverload means the generation API reported it is over capacity. Callers may
	// retry.
	KindUpstreamOverload
	// KindGeneration covers every other generation failure.
	KindGeneration
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindEmptyReply:
		return "empty_reply"
	case KindUpstreamOverload:
		return "upstream_overload"
	case KindGeneration:
		return "generation"
	default:
		return "unknown"
	}
}

// Client-facing messages, kept identical to what the browser UI has always received.
const (
	MsgMessageRequired  = "Message is required"
	MsgEmptyReply       = "No reply generated from Gemini."
	MsgUpstreamOverload = "Gemini API is currently overloaded. Please try again in a few moments."
	MsgGeneration       = "Failed to get response from Gemini"
)

// Error is the structured error returned by Service operations.
type Error struct {
	Kind Kind
	// Msg is safe to show to clients.
	Msg string
	// Err is the underlying cause, if any. It is logged, never sent to clients.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Msg + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status maps the error kind to an HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUpstreamOverload:
		return http.StatusServiceUnavailable
	case KindEmptyReply, KindGeneration:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may reasonably resend the same message.
func (e *Error) Retryable() bool {
	return e.Kind == KindUpstreamOverload
}

func newValidationError() *Error {
	return &Error{Kind: KindValidation, Msg: MsgMessageRequired}
}

func newEmptyReplyError() *Error {
	return &Error{Kind: KindEmptyReply, Msg: MsgEmptyReply}
}

func newUpstreamOverloadError(cause error) *Error {
	return &Error{Kind: KindUpstreamOverload, Msg: MsgUpstreamOverload, Err: cause}
}

func newGenerationError(cause error) *Error {
	return &Error{Kind: KindGeneration, Msg: MsgGeneration, Err: cause}
}

// KindOf returns the Kind of a relay error anywhere in err's chain, or 0.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) && re != nil {
		return re.Kind
	}
	return 0
}

// IsKind reports whether err is a relay error of kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// UpstreamError is returned by Generator implementations when the generation API answered with
// an error status.
type UpstreamError struct {
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err == nil {
		return http.StatusText(e.StatusCode)
	}
	return e.Err.Error()
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Overloaded reports whether the upstream signalled capacity exhaustion.
func (e *UpstreamError) Overloaded() bool {
	return e.StatusCode == http.StatusServiceUnavailable
}

func classifyGeneratorError(err error) *Error {
	var ue *UpstreamError
	if errors.As(err, &ue) && ue != nil && ue.Overloaded() {
		return newUpstreamOverloadError(err)
	}
	return newGenerationError(err)
}
