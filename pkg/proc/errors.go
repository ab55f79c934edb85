package proc

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a stack walk failed.
type ErrorKind int

const (
	// TargetNotFound means the process or thread id does not name a live
	// process or thread.
	TargetNotFound ErrorKind = iota + 1
	// AccessDenied means the requested access could not be granted.
	AccessDenied
	// ContextUnavailable means the register context of the thread could not
	// be read, usually because the thread exited while it was suspended.
	ContextUnavailable
	// UnwindFailed means the unwinding primitive failed before producing
	// any frame.
	UnwindFailed
	// UnsupportedArchitecture means the target's architecture could not be
	// classified or can not be walked from this host.
	UnsupportedArchitecture
)

func (k ErrorKind) String() string {
	switch k {
	case TargetNotFound:
		return "target not found"
	case AccessDenied:
		return "access denied"
	case ContextUnavailable:
		return "context unavailable"
	case UnwindFailed:
		return "unwind failed"
	case UnsupportedArchitecture:
		return "unsupported architecture"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error makes every ErrorKind usable as a target for errors.Is.
func (k ErrorKind) Error() string {
	return k.String()
}

// WalkError is returned by every failed walk. It carries the kind of
// failure, the ids of the target and the operation that failed.
type WalkError struct {
	Kind ErrorKind
	Pid  int
	Tid  int
	Op   string
	Err  error
}

func (e *WalkError) Error() string {
	var target string
	if e.Tid != 0 {
		target = fmt.Sprintf("process %d thread %d", e.Pid, e.Tid)
	} else {
		target = fmt.Sprintf("process %d", e.Pid)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s: %s", target, e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s: %v", target, e.Op, e.Kind, e.Err)
}

func (e *WalkError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the ErrorKind of e.
func (e *WalkError) Is(target error) bool {
	k, ok := target.(ErrorKind)
	return ok && k == e.Kind
}

// KindError is implemented by backend errors that already know how they
// should be classified.
type KindError interface {
	error
	WalkErrorKind() ErrorKind
}

type kindError struct {
	kind ErrorKind
	err  error
}

func (e *kindError) Error() string            { return e.err.Error() }
func (e *kindError) Unwrap() error            { return e.err }
func (e *kindError) WalkErrorKind() ErrorKind { return e.kind }

// NewKindError tags err with kind. Backends use it so that the walker
// reports, for example, a denied OpenThread as AccessDenied.
func NewKindError(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// KindOf returns the ErrorKind of err, or 0 if err was not produced by a
// walk.
func KindOf(err error) ErrorKind {
	var werr *WalkError
	if errors.As(err, &werr) {
		return werr.Kind
	}
	var kerr KindError
	if errors.As(err, &kerr) {
		return kerr.WalkErrorKind()
	}
	return 0
}

// newWalkError wraps err into a *WalkError. The kind carried by err, if
// any, takes precedence over fallback.
func newWalkError(fallback ErrorKind, pid, tid int, op string, err error) *WalkError {
	kind := fallback
	var kerr KindError
	if errors.As(err, &kerr) {
		kind = kerr.WalkErrorKind()
	}
	return &WalkError{Kind: kind, Pid: pid, Tid: tid, Op: op, Err: err}
}
