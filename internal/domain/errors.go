package domain

import "errors"

// Domain errors.
var (
	// ErrMissingToken is returned at startup when no bot token is configured.
	ErrMissingToken = errors.New("TELEGRAM_BOT_TOKEN environment variable not set")

	// ErrCookiesNotFound is returned when a fetch is attempted without a cookie payload.
	ErrCookiesNotFound = errors.New("cookies not found in configuration (TWITTER_COOKIES)")

	// ErrToolFailed is returned when the extraction tool exits non-zero.
	ErrToolFailed = errors.New("extraction tool failed")

	// ErrToolTimeout is returned when the extraction tool exceeds its deadline.
	ErrToolTimeout = errors.New("extraction tool timed out")

	// ErrDeliveryFailed is returned when one or more staged files could not be sent.
	ErrDeliveryFailed = errors.New("media delivery failed")
)

// ErrorKind classifies a pipeline failure.
type ErrorKind string

const (
	KindConfig   ErrorKind = "config"
	KindTool     ErrorKind = "tool"
	KindIO       ErrorKind = "io"
	KindDelivery ErrorKind = "delivery"
)

// StageError wraps an error with the pipeline stage that produced it.
type StageError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *StageError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError creates a new StageError.
func NewStageError(kind ErrorKind, op string, err error) *StageError {
	return &StageError{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of the first StageError in err's chain.
// Errors that carry no stage are treated as I/O failures.
func KindOf(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindIO
}
