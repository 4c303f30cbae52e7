package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind buckets exchange failures into the classes the replicator and
// monitors react to differently.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindTransient
	KindPermissionDenied
	KindInsufficientMargin
	KindInvalidQuantity
	KindUnknownOrder
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermissionDenied:
		return "permission-denied"
	case KindInsufficientMargin:
		return "insufficient-margin"
	case KindInvalidQuantity:
		return "invalid-quantity"
	case KindUnknownOrder:
		return "unknown-order"
	default:
		return "other"
	}
}

// Error is a classified exchange failure.
type Error struct {
	Kind ErrorKind
	Code int64
	Msg  string
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("exchange error (%s, code=%d): %s", e.Kind, e.Code, e.Msg)
	}
	return fmt.Sprintf("exchange error (%s): %s", e.Kind, e.Msg)
}

func NewError(kind ErrorKind, code int64, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

// KindOf classifies any error returned by a Gateway call.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindOther
	}
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return KindTransient
	}
	return KindOther
}

func IsInsufficientMargin(err error) bool { return KindOf(err) == KindInsufficientMargin }
func IsPermissionDenied(err error) bool   { return KindOf(err) == KindPermissionDenied }
func IsInvalidQuantity(err error) bool    { return KindOf(err) == KindInvalidQuantity }
func IsUnknownOrder(err error) bool       { return KindOf(err) == KindUnknownOrder }
func IsTransient(err error) bool          { return KindOf(err) == KindTransient }
