package broker

import (
	"errors"
	"fmt"
)

// Kind is the closed set of outcomes a caller of any backend can observe.
type Kind uint8

const (
	// KindNone is the kind of a nil error.
	KindNone Kind = iota
	KindNoSuchInterface
	KindNoSuchPeer
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "ok"
	case KindNoSuchInterface:
		return "no such interface"
	case KindNoSuchPeer:
		return "no such peer"
	default:
		return "internal error"
	}
}

// Code is the stable snake_case form used in logs, events and the audit ledger.
func (k Kind) Code() string {
	switch k {
	case KindNone:
		return "ok"
	case KindNoSuchInterface:
		return "no_such_interface"
	case KindNoSuchPeer:
		return "no_such_peer"
	default:
		return "internal_error"
	}
}

// Retryable reports whether waiting for the next handshake may succeed.
// NoSuchInterface and NoSuchPeer are expected while the network is still being
// configured; internal errors go to the caller's own backoff policy.
func (k Kind) Retryable() bool {
	return k == KindNoSuchInterface || k == KindNoSuchPeer
}

// Classifier is implemented by backend-native errors. Each backend maps its
// own variants onto a Kind through this one method.
type Classifier interface {
	BrokerKind() Kind
}

// Error is the unified error returned by every backend.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNoSuchPeer)
// works regardless of Op and cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrNoSuchInterface = &Error{Kind: KindNoSuchInterface}
	ErrNoSuchPeer      = &Error{Kind: KindNoSuchPeer}
	ErrInternal        = &Error{Kind: KindInternal}
)

// NewError creates a new broker error.
func NewError(kind Kind, op string, err error) *Error {
	if kind == KindNone {
		kind = KindInternal
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf maps any error onto the unified taxonomy. The mapping is total:
// anything not explicitly classified is KindInternal, and only a nil error is
// KindNone.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var be *Error
	if errors.As(err, &be) && be.Kind != KindNone {
		return be.Kind
	}
	var c Classifier
	if errors.As(err, &c) {
		if k := c.BrokerKind(); k != KindNone {
			return k
		}
	}
	return KindInternal
}

// Classify converts err into a *Error. Nil stays nil and an existing *Error
// with a kind is returned unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) && be.Kind != KindNone {
		return err
	}
	return NewError(KindOf(err), op, err)
}

// Code returns the stable code of the error kind.
func (e *Error) Code() string { return e.Kind.Code() }

// Retryable reports whether the kind is an expected, recoverable condition.
func (e *Error) Retryable() bool { return e.Kind.Retryable() }
