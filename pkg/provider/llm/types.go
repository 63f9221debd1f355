package llm

// ModelInfo describes one model a driver's ListModels reports.
type ModelInfo struct {
	ID           string
	DisplayName  string
	InputLimit   int
	OutputLimit  int
	Capabilities ModelCapabilities
}

// ModelCapabilities describes what a specific model supports.
type ModelCapabilities struct {
	SupportsStreaming bool
	SupportsVision    bool
}

// ParamSet is a driver's default generation parameters, keyed by the
// canonical parameter names in CanonicalParamKeys.
type ParamSet map[string]any

// ErrorKind is the closed set of failure categories a driver may surface.
// Drivers translate provider-specific exceptions into one of these; they
// never retry themselves, since retry policy belongs to the orchestrator.
type ErrorKind int

const (
	ErrorKindUnknown ErrorKind = iota
	ErrorKindConfigInvalid
	ErrorKindAuthFailed
	ErrorKindRateLimited
	ErrorKindTimeout
	ErrorKindNetwork
	ErrorKindBadRequest
	ErrorKindServerError
	ErrorKindNotFound
	ErrorKindConversationCorrupt
	ErrorKindInvariantViolation
	ErrorKindCancelled
)

// String renders the error kind the way it appears in user-facing
// "Error: <kind>: <detail>" assistant content (spec.md §4.5/§7).
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindConfigInvalid:
		return "ConfigInvalid"
	case ErrorKindAuthFailed:
		return "AuthFailed"
	case ErrorKindRateLimited:
		return "RateLimited"
	case ErrorKindTimeout:
		return "Timeout"
	case ErrorKindNetwork:
		return "Network"
	case ErrorKindBadRequest:
		return "BadRequest"
	case ErrorKindServerError:
		return "ServerError"
	case ErrorKindNotFound:
		return "NotFound"
	case ErrorKindConversationCorrupt:
		return "ConversationCorrupt"
	case ErrorKindInvariantViolation:
		return "InvariantViolation"
	case ErrorKindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// DriverError wraps a driver failure with its taxonomy kind so callers can
// branch on Kind without string matching.
type DriverError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *DriverError) Error() string {
	if e.Cause != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *DriverError) Unwrap() error { return e.Cause }

// NewDriverError constructs a DriverError, the uniform error value every
// Driver method returns on failure.
func NewDriverError(kind ErrorKind, message string, cause error) *DriverError {
	return &DriverError{Kind: kind, Message: message, Cause: cause}
}
