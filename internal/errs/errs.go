// Package errs defines the tagged error taxonomy shared by every release stage.
//
// Each failure carries a Kind that decides how callers react to it: whether a
// retry is worthwhile, whether the condition is benign, or whether an operator
// has to step in. Sentinels such as ErrPushRejected match any *Error of the same
// Kind under errors.Is, so callers never parse messages.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	InvalidInput              Kind = "invalid_input"
	NotFound                  Kind = "not_found"
	PartialPropagationFailure Kind = "partial_propagation_failure"
	NothingToCommit           Kind = "nothing_to_commit"
	RepositoryError           Kind = "repository_error"
	DetachedHead              Kind = "detached_head"
	NoRemote                  Kind = "no_remote"
	PushRejected              Kind = "push_rejected"
	NetworkError              Kind = "network_error"
	Precondition              Kind = "precondition"
)

// Sentinels for errors.Is.
var (
	ErrInvalidInput              = &Error{Kind: InvalidInput}
	ErrNotFound                  = &Error{Kind: NotFound}
	ErrPartialPropagationFailure = &Error{Kind: PartialPropagationFailure}
	ErrNothingToCommit           = &Error{Kind: NothingToCommit}
	ErrRepository                = &Error{Kind: RepositoryError}
	ErrDetachedHead              = &Error{Kind: DetachedHead}
	ErrNoRemote                  = &Error{Kind: NoRemote}
	ErrPushRejected              = &Error{Kind: PushRejected}
	ErrNetwork                   = &Error{Kind: NetworkError}
	ErrPrecondition              = &Error{Kind: Precondition}
)

// Error is a classified failure. Op names the operation that failed
// (e.g. "push", "read version"); Err is the underlying cause, if any.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Msg != "" {
		msg = e.Msg
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind. Sentinels carry
// only a Kind, so any classified error matches its sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds a classified error.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Newf builds a classified error with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the first classified error in err's chain, or ""
// when err is nil or unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether err is worth retrying automatically. Only network
// failures are; a rejected push must never be retried, let alone forced.
func Retryable(err error) bool {
	return KindOf(err) == NetworkError
}

// Benign reports whether err describes a condition that ends a run
// successfully rather than failing it.
func Benign(err error) bool {
	return KindOf(err) == NothingToCommit
}
