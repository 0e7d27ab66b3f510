package model

import "fmt"

// Kind identifies one of the error categories the gateway's core
// components return. Callers branch on Kind with errors.As against the
// concrete error types below, not on string matching.
type Kind string

const (
	KindAuthUnavailable  Kind = "auth_unavailable"
	KindAuthRejected     Kind = "auth_rejected"
	KindAuthMalformed    Kind = "auth_malformed"
	KindRateLimited      Kind = "rate_limited"
	KindRiskRejected     Kind = "risk_rejected"
	KindPriceUnknown     Kind = "price_unknown"
	KindTransportFailed  Kind = "transport_failed"
	KindProtocolMalformed Kind = "protocol_malformed"
	KindExchangeRejected Kind = "exchange_rejected"
	KindNotFound         Kind = "not_found"
	KindShuttingDown     Kind = "shutting_down"
)

// Error is the common shape for every error kind in §7. Reason carries the
// human-readable detail spec.md requires on rejected orders.
type Error struct {
	Kind   Kind
	Reason string
	Code   int // set only for ExchangeRejected, the upstream JSON-RPC error code
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: %s (code %d)", e.Kind, e.Reason, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Is lets errors.Is match on Kind alone, so callers can write
// errors.Is(err, &model.Error{Kind: model.KindRateLimited}) without caring
// about Reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func ErrAuthUnavailable(reason string) error { return &Error{Kind: KindAuthUnavailable, Reason: reason} }
func ErrAuthRejected(reason string) error    { return &Error{Kind: KindAuthRejected, Reason: reason} }
func ErrAuthMalformed(reason string) error   { return &Error{Kind: KindAuthMalformed, Reason: reason} }
func ErrRateLimited(reason string) error     { return &Error{Kind: KindRateLimited, Reason: reason} }
func ErrRiskRejected(reason string) error    { return &Error{Kind: KindRiskRejected, Reason: reason} }
func ErrPriceUnknown(reason string) error    { return &Error{Kind: KindPriceUnknown, Reason: reason} }
func ErrTransportFailed(reason string) error { return &Error{Kind: KindTransportFailed, Reason: reason} }
func ErrProtocolMalformed(reason string) error {
	return &Error{Kind: KindProtocolMalformed, Reason: reason}
}
func ErrExchangeRejected(code int, message string) error {
	return &Error{Kind: KindExchangeRejected, Reason: message, Code: code}
}
func ErrNotFound(reason string) error     { return &Error{Kind: KindNotFound, Reason: reason} }
func ErrShuttingDown(reason string) error { return &Error{Kind: KindShuttingDown, Reason: reason} }
