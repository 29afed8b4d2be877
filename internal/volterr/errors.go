// Package volterr defines the node's error taxonomy: a small, closed
// set of Kinds that callers switch on (RPC error codes, gossip
// rejection reasons, CLI exit messages) rather than a type per failure
// mode.
package volterr

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a VoltError. Kinds are stable and
// part of the node's external contract (RPC error payloads carry them
// by name), so existing values are never renamed.
type Kind string

const (
	KindInvalidNonce       Kind = "invalid_nonce"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindInsufficientSupply Kind = "insufficient_supply"
	KindSupplyOverflow     Kind = "supply_overflow"
	KindExceedsMaxSupply   Kind = "exceeds_max_supply"
	KindUnauthorized       Kind = "unauthorized"
	KindInvalidProof       Kind = "invalid_proof"
	KindInvalidSignature   Kind = "invalid_signature"
	KindTokenNotFound      Kind = "token_not_found"
	KindInvalidTokenID     Kind = "invalid_token_id"
	KindSerialization      Kind = "serialization_error"
	KindStorage            Kind = "storage_error"
	KindNetwork            Kind = "network_error"
	KindTimeout            Kind = "timeout"
	KindStateMismatch      Kind = "state_mismatch"
)

// Error is the node's error type: a Kind for programmatic dispatch, a
// human message, and an optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, volterr.New(KindX, "")) match on Kind alone,
// so callers can test for a category without caring about the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Is reports whether err's chain contains a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var ve *Error
	if !errors.As(err, &ve) {
		return false
	}
	return ve.Kind == kind
}

// KindOf returns the Kind of the first *Error in err's chain, or ""
// if none is present.
func KindOf(err error) Kind {
	var ve *Error
	if !errors.As(err, &ve) {
		return ""
	}
	return ve.Kind
}
