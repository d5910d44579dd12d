// Package limits enforces the protocol-wide size caps on new positions.
//
// A position declares its own max_position_size and max_single_trade; both
// must fit under the caps in the protocol config at the moment the position
// is created. Later changes to the config do not retroactively invalidate
// existing positions.
package limits

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrPositionSizeExceeded is returned when a position's declared
	// maximum size is above the global position cap.
	ErrPositionSizeExceeded = errors.New("limits: position size exceeds global cap")

	// ErrTradeSizeExceeded is returned when a position's declared maximum
	// single trade is above the global trade cap.
	ErrTradeSizeExceeded = errors.New("limits: single trade exceeds global cap")

	// ErrNegativeSize is returned for negative size declarations.
	ErrNegativeSize = errors.New("limits: size must not be negative")
)

// SizeLimiter checks declared position sizes against protocol caps.
type SizeLimiter struct {
	// MaxPositionSize is the global cap on a position's declared size.
	MaxPositionSize decimal.Decimal

	// MaxSingleTrade is the global cap on a position's declared single
	// trade size. Zero disables the check.
	MaxSingleTrade decimal.Decimal
}

// NewSizeLimiter creates a limiter with the given caps.
func NewSizeLimiter(maxPositionSize, maxSingleTrade decimal.Decimal) *SizeLimiter {
	return &SizeLimiter{
		MaxPositionSize: maxPositionSize,
		MaxSingleTrade:  maxSingleTrade,
	}
}

// CheckLimit validates a position's declared sizes. A declared size equal
// to the cap is allowed.
//
// Returns nil if both sizes are within limits, or the first violation.
func (l *SizeLimiter) CheckLimit(positionSize, singleTrade decimal.Decimal) error {
	if positionSize.IsNegative() || singleTrade.IsNegative() {
		return ErrNegativeSize
	}

	// 1. Position size.
	if positionSize.GreaterThan(l.MaxPositionSize) {
		return ErrPositionSizeExceeded
	}

	// 2. Single trade size.
	if l.MaxSingleTrade.IsPositive() && singleTrade.GreaterThan(l.MaxSingleTrade) {
		return ErrTradeSizeExceeded
	}

	return nil
}
