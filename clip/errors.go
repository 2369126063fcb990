package clip

import (
	"errors"
	"fmt"
)

// ErrorKind is the failure taxonomy shared by every collaborator call.
type ErrorKind int

const (
	// KindTransient errors are retried up to the attempt limit and otherwise
	// leave the record pending for the next scan.
	KindTransient ErrorKind = iota
	// KindTerminalSkip errors (member-only, comments disabled, forbidden) end
	// processing of a record with a recorded reason.
	KindTerminalSkip
	// KindQuota stops the remainder of the current run.
	KindQuota
	// KindData marks a malformed item that is skipped on its own.
	KindData
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindTerminalSkip:
		return "terminal_skip"
	case KindQuota:
		return "quota"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// Error carries a classified failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind; a nil err stays nil.
func NewError(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindTransient for unclassified errors.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindTransient
}
