package attendance

import (
	"fmt"

	"github.com/pkg/errors"
)

// Outcome tags a Recognition. The gateway's "nobody matched this frame"
// answer is a valid outcome, not an error.
type Outcome int

const (
	NoMatch Outcome = iota
	Matched
)

// Recognition is the result of submitting one frame to the recognition
// gateway. StudentID and FullName are only meaningful when Outcome is Matched.
type Recognition struct {
	Outcome   Outcome
	StudentID int
	FullName  string
}

// ErrorKind classifies gateway failures; the capture loop's reaction
// depends on the kind alone.
type ErrorKind int

const (
	// KindUnavailable covers network failures and unclassified statuses.
	// Non-fatal: the loop keeps ticking.
	KindUnavailable ErrorKind = iota
	// KindUnauthenticated means a missing or expired credential. Terminal:
	// the session is unusable until the operator re-authenticates.
	KindUnauthenticated
	// KindForbidden means the credential lacks permission. Non-fatal.
	KindForbidden
	// KindUnprocessable means the gateway rejected the payload. Non-fatal.
	KindUnprocessable
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindUnprocessable:
		return "unprocessable"
	default:
		return "unavailable"
	}
}

// Error is a classified gateway failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the ErrorKind from err, defaulting to KindUnavailable.
func KindOf(err error) ErrorKind {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return KindUnavailable
}
