package errors

import (
	"errors"
	"fmt"
)

// Kind is a stable, machine-readable error classification. The planning
// pipeline only ever produces the nine swap kinds; KindUsage and
// KindInternal exist for the CLI shell around it.
type Kind string

const (
	KindInternal              Kind = "internal"
	KindUsage                 Kind = "usage"
	KindUnknownAsset          Kind = "unknown_asset"
	KindInvalidAmount         Kind = "invalid_amount"
	KindInsufficientBalance   Kind = "insufficient_balance"
	KindInsufficientLiquidity Kind = "insufficient_liquidity"
	KindAssetPairNotFound     Kind = "asset_pair_not_found"
	KindQuoteRequest          Kind = "quote_request"
	KindExecutionBuild        Kind = "execution_build"
	KindUpstreamUnavailable   Kind = "upstream_unavailable"
	KindNoRouteAvailable      Kind = "no_route_available"
)

// exitCodes maps kinds to process exit codes. 0 is success, 1 internal,
// 2 usage; swap kinds start at 10 and never get renumbered.
var exitCodes = map[Kind]int{
	KindInternal:              1,
	KindUsage:                 2,
	KindUnknownAsset:          10,
	KindInvalidAmount:         11,
	KindInsufficientBalance:   12,
	KindInsufficientLiquidity: 13,
	KindAssetPairNotFound:     14,
	KindQuoteRequest:          15,
	KindExecutionBuild:        16,
	KindUpstreamUnavailable:   17,
	KindNoRouteAvailable:      18,
}

// userMessages are the plain-language fallbacks surfaced to end users when
// the error instance carries no more specific wording.
var userMessages = map[Kind]string{
	KindInternal:              "Something went wrong on our side. Please try again.",
	KindUsage:                 "The request was malformed. Check the inputs and try again.",
	KindUnknownAsset:          "Unrecognized token. Check the symbol and try again.",
	KindInvalidAmount:         "The swap amount must be greater than zero.",
	KindInsufficientBalance:   "Insufficient balance for this swap.",
	KindInsufficientLiquidity: "Not enough liquidity for this swap. Try a smaller amount.",
	KindAssetPairNotFound:     "That token pair is not tradable right now.",
	KindQuoteRequest:          "The routing service rejected this request. Adjust the amount and try again.",
	KindExecutionBuild:        "Could not prepare the transaction for signing. Please try again.",
	KindUpstreamUnavailable:   "The routing service is temporarily unavailable. Please try again.",
	KindNoRouteAvailable:      "No swap route was found for this pair.",
}

// Retryable reports whether the kind marks a transient upstream condition.
// Only KindUpstreamUnavailable qualifies; every other kind is terminal for
// the planning cycle.
func (k Kind) Retryable() bool {
	return k == KindUpstreamUnavailable
}

// Error is a typed error carrying a stable kind, an operator-facing message
// and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// KindOf extracts the kind from err, defaulting to KindInternal for
// untyped errors and the empty kind for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if typed, ok := As(err); ok {
		return typed.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	typed, ok := As(err)
	return ok && typed.Kind == kind
}

// Retryable reports whether err should be retried at the network boundary.
func Retryable(err error) bool {
	return KindOf(err).Retryable()
}

// UserMessage returns plain-language wording for end users. Errors created
// by the pipeline carry user-ready messages already; untyped errors fall
// back to the internal default so internals never leak to the caller.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	typed, ok := As(err)
	if !ok {
		return userMessages[KindInternal]
	}
	if typed.Message != "" {
		return typed.Message
	}
	if msg, ok := userMessages[typed.Kind]; ok {
		return msg
	}
	return userMessages[KindInternal]
}

// DefaultMessage returns the per-kind fallback wording.
func DefaultMessage(kind Kind) string {
	if msg, ok := userMessages[kind]; ok {
		return msg
	}
	return userMessages[KindInternal]
}

func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if typed, ok := As(err); ok {
		if code, known := exitCodes[typed.Kind]; known {
			return code
		}
	}
	return exitCodes[KindInternal]
}
