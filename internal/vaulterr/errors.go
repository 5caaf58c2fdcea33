// Package vaulterr defines the closed set of domain error kinds that
// every tool operation in vaultcore can fail with. Callers branch on
// Kind, never on message text.
package vaulterr

import "fmt"

// Kind is a closed enumeration of domain failure modes.
type Kind string

const (
	NotFound              Kind = "not_found"
	AgentExists           Kind = "agent_exists"
	AddressReuse          Kind = "address_reuse"
	BadAddress            Kind = "bad_address"
	BadKey                Kind = "bad_key"
	DecryptFailed         Kind = "decrypt_failed"
	ExportDenied          Kind = "export_denied"
	RateLimited           Kind = "rate_limited"
	ConfirmationRequired  Kind = "confirmation_required"
	ConfirmationMismatch  Kind = "confirmation_mismatch"
	InsufficientFunds     Kind = "insufficient_funds"
	ChainUnreachable      Kind = "chain_unreachable"
	RPCRejected           Kind = "rpc_rejected"
	BroadcastAborted      Kind = "broadcast_aborted"
	StrategyNotFound      Kind = "strategy_not_found"
	StrategyBadState      Kind = "strategy_bad_state"
)

// Error is the concrete error type returned by every vaultcore
// component. It carries only the kind and minimum identifying
// context; it never carries key material, ciphertext, or confirmation
// codes.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds a domain error with the given kind and message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap builds a domain error that carries an upstream cause. The
// cause's message is never surfaced verbatim to callers beyond what
// msg already conveys — Error() only prints msg.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	ve, ok := err.(*Error)
	if !ok {
		return false
	}
	return ve.Kind == kind
}

// KindOf extracts the Kind from err, or "" if err is not a *Error.
func KindOf(err error) Kind {
	ve, ok := err.(*Error)
	if !ok {
		return ""
	}
	return ve.Kind
}
