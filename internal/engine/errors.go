package engine

import (
	"errors"
	"fmt"

	"github.com/xliquidity/rebalance-engine/internal/auth"
)

// Class groups errors by how a caller should react to them.
type Class string

const (
	// ClassValidation: input violates a static rule; retry with corrected input.
	ClassValidation Class = "validation"
	// ClassState: operation does not apply to the current lifecycle state.
	ClassState Class = "state"
	// ClassThrottle: transient; retry after the minimum interval.
	ClassThrottle Class = "throttle"
	// ClassAuth: caller is not authenticated or lacks the capability.
	ClassAuth Class = "auth"
)

// Error is a classified engine rejection. Rejections never leave partial
// state behind.
type Error struct {
	Code    string
	Class   Class
	Message string
}

func (e *Error) Error() string {
	return "engine: " + e.Message
}

func newError(class Class, code, msg string) *Error {
	return &Error{Code: code, Class: class, Message: msg}
}

var (
	ErrInvalidPriceRange      = newError(ClassValidation, "InvalidPriceRange", "invalid price range")
	ErrExceedsMaxPositionSize = newError(ClassValidation, "ExceedsMaxPositionSize", "position exceeds maximum size")
	ErrExceedsMaxTradeSize    = newError(ClassValidation, "ExceedsMaxTradeSize", "trade exceeds maximum size")
	ErrSlippageTooHigh        = newError(ClassValidation, "SlippageTooHigh", "slippage tolerance too high")
	ErrScoreOutOfRange        = newError(ClassValidation, "ScoreOutOfRange", "score out of range")
	ErrInvalidModelVersion    = newError(ClassValidation, "InvalidModelVersion", "invalid model version")
	ErrInvalidAmount          = newError(ClassValidation, "InvalidAmount", "amount must be positive")
	ErrInvalidFeeRate         = newError(ClassValidation, "InvalidFeeRate", "invalid fee rate")
	ErrInvalidStatus          = newError(ClassValidation, "InvalidStatus", "invalid position status")

	ErrInvalidExecutionStatus    = newError(ClassState, "InvalidExecutionStatus", "invalid execution status")
	ErrApprovalNotRequired       = newError(ClassState, "ApprovalNotRequired", "approval not required")
	ErrApprovalRequired          = newError(ClassState, "ApprovalRequired", "human approval required")
	ErrAlreadyApproved           = newError(ClassState, "AlreadyApproved", "decision already approved")
	ErrReferencedPositionMissing = newError(ClassState, "ReferencedPositionMissing", "referenced position missing or not active")
	ErrDecisionNotFound          = newError(ClassState, "DecisionNotFound", "decision not found")
	ErrDecisionPositionMismatch  = newError(ClassState, "DecisionPositionMismatch", "decision does not reference position")
	ErrNoFeesToCollect           = newError(ClassState, "NoFeesToCollect", "no fees to collect")
	ErrPositionNotActive         = newError(ClassState, "PositionNotActive", "position not active")
	ErrPositionAlreadyExists     = newError(ClassState, "PositionAlreadyExists", "position already exists")
	ErrDecisionAlreadyExists     = newError(ClassState, "DecisionAlreadyExists", "decision already exists")
	ErrConfigAlreadyExists       = newError(ClassState, "ConfigAlreadyExists", "protocol config already initialized")
	ErrConfigMissing             = newError(ClassState, "ConfigMissing", "protocol config not initialized")

	ErrRebalanceTooFrequent = newError(ClassThrottle, "RebalanceTooFrequent", "rebalance too frequent")

	ErrUnauthenticated = newError(ClassAuth, "Unauthenticated", "caller not authenticated")
	ErrUnauthorized    = newError(ClassAuth, "Unauthorized", "caller not authorized")
)

// AsError returns the classified engine error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the engine error code for err, or "Internal".
func CodeOf(err error) string {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return "Internal"
}

// authError maps a capability check failure to an engine error.
func authError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, auth.ErrUnauthenticated):
		return ErrUnauthenticated
	default:
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
}
