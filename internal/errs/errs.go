// Package errs defines the error taxonomy shared by the graph, store, and
// orchestrator: a closed set of sentinel Kind values every component maps
// its failures onto, mirroring the taxonomy llm.ErrorKind gives provider
// drivers.
package errs

import "fmt"

// Kind is one of the eleven surface error categories.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfigInvalid
	KindAuthFailed
	KindRateLimited
	KindTimeout
	KindNetwork
	KindBadRequest
	KindServerError
	KindNotFound
	KindConversationCorrupt
	KindInvariantViolation
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindConfigInvalid:
		return "ConfigInvalid"
	case KindAuthFailed:
		return "AuthFailed"
	case KindRateLimited:
		return "RateLimited"
	case KindTimeout:
		return "Timeout"
	case KindNetwork:
		return "Network"
	case KindBadRequest:
		return "BadRequest"
	case KindServerError:
		return "ServerError"
	case KindNotFound:
		return "NotFound"
	case KindConversationCorrupt:
		return "ConversationCorrupt"
	case KindInvariantViolation:
		return "InvariantViolation"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error is the uniform error value graph, store, and orchestrator code
// returns. Wrapping a Kind lets callers branch with errors.As instead of
// string matching, and lets the orchestrator render "Error: <kind>: <msg>"
// verbatim for user-visible assistant content.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given kind.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// NotFound is a convenience constructor for the common "identifier does not
// resolve" case.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// InvariantViolation is a convenience constructor for internal bugs that
// should never be reached in correct code.
func InvariantViolation(message string) *Error {
	return &Error{Kind: KindInvariantViolation, Message: message}
}
