package plc

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the category of a validation failure. Every kind is fatal to the
// log being replayed.
type Kind string

const (
	KindMalformed     Kind = "Malformed"
	KindHashIntegrity Kind = "HashIntegrity"
	KindAuthorization Kind = "Authorization"
	KindLateRecovery  Kind = "LateRecovery"
	KindCodec         Kind = "Codec"
)

// Error carries the offending operation's CID and why it was rejected.
type Error struct {
	Kind   Kind
	Cid    string
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	msg := fmt.Sprintf("%s; cid=%s; reason=%s", e.Kind, e.Cid, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the kind of a structured error, or "" for anything else.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}

func improperOperation(op *IndexedOperation, reason string) error {
	return &Error{Kind: KindMalformed, Cid: op.Cid.String(), Reason: reason}
}

func invalidSignature(op *IndexedOperation) error {
	return &Error{Kind: KindAuthorization, Cid: op.Cid.String(), Reason: "invalid signature"}
}

func invalidHash(op *IndexedOperation, expected string) error {
	return &Error{
		Kind:   KindHashIntegrity,
		Cid:    op.Cid.String(),
		Reason: fmt.Sprintf("invalid hash; expected=%s", expected),
	}
}

func genesisHash(op *IndexedOperation, did string) error {
	return &Error{
		Kind:   KindHashIntegrity,
		Cid:    op.Cid.String(),
		Reason: fmt.Sprintf("mismatching genesis hash; did=%s", did),
	}
}

func lateRecovery(op *IndexedOperation, lapsed time.Duration) error {
	return &Error{
		Kind:   KindLateRecovery,
		Cid:    op.Cid.String(),
		Reason: fmt.Sprintf("recovery operation occurred outside of recovery window; lapsed=%s", lapsed),
	}
}

func codecError(op *IndexedOperation, err error) error {
	return &Error{Kind: KindCodec, Cid: op.Cid.String(), Reason: "encoding operation", Cause: err}
}
