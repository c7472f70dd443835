// Package errs defines the kind-tagged error taxonomy shared by every
// component, so callers can branch on failure category with errors.As
// instead of string-matching messages.
package errs

import "fmt"

// Kind classifies an error for retry and reporting policy.
type Kind int

const (
	// KindUnknown is never constructed directly; it marks a zero-value Kind.
	KindUnknown Kind = iota
	// KindInvalidInput covers malformed delegations, bad paths, unknown
	// capabilities. Callers must not retry.
	KindInvalidInput
	// KindNotFound covers unknown agents, missing files.
	KindNotFound
	// KindResourceLimitExceeded covers worker-count, memory, and
	// tool-call-budget caps. Callers must not retry.
	KindResourceLimitExceeded
	// KindTimeout covers worker, tool-call, and sync deadlines.
	// Retryable under policy, else surfaced.
	KindTimeout
	// KindTransient covers MCP transport glitches and vector-index 5xxs.
	// Retried with exponential backoff.
	KindTransient
	// KindPermanent covers auth denial and schema mismatch. The owning
	// component should be marked degraded.
	KindPermanent
	// KindInconsistent is raised by the Consistency Checker; repaired if
	// possible, reported if not.
	KindInconsistent
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindResourceLimitExceeded:
		return "resource_limit_exceeded"
	case KindTimeout:
		return "timeout"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindInconsistent:
		return "inconsistent"
	default:
		return "unknown"
	}
}

// Retryable reports whether the policy for this kind allows a retry.
func (k Kind) Retryable() bool {
	return k == KindTimeout || k == KindTransient
}

// Error is a kind-tagged, op-scoped wrapped error.
type Error struct {
	Kind Kind
	Op   string // the operation that failed, e.g. "worker_registry.acquire"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, errs.New(KindTimeout, "", nil)) match by kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New constructs a kind-tagged error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Of returns the Kind of err if it is (or wraps) an *Error, else KindUnknown.
func Of(err error) Kind {
	var e *Error
	if as(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// as is a tiny local indirection over errors.As to avoid importing errors
// twice in call sites that also want the stdlib errors package aliased.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func InvalidInput(op string, err error) *Error          { return New(KindInvalidInput, op, err) }
func NotFound(op string, err error) *Error              { return New(KindNotFound, op, err) }
func ResourceLimitExceeded(op string, err error) *Error { return New(KindResourceLimitExceeded, op, err) }
func Timeout(op string, err error) *Error               { return New(KindTimeout, op, err) }
func Transient(op string, err error) *Error             { return New(KindTransient, op, err) }
func Permanent(op string, err error) *Error             { return New(KindPermanent, op, err) }
func Inconsistent(op string, err error) *Error          { return New(KindInconsistent, op, err) }
