package limits

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestCheckLimit_WithinLimits(t *testing.T) {
	limiter := NewSizeLimiter(d(1000), d(100))

	if err := limiter.CheckLimit(d(500), d(50)); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckLimit_AtCapAllowed(t *testing.T) {
	limiter := NewSizeLimiter(d(1000), d(100))

	if err := limiter.CheckLimit(d(1000), d(100)); err != nil {
		t.Errorf("size equal to cap should be allowed, got %v", err)
	}
}

func TestCheckLimit_PositionSizeExceeded(t *testing.T) {
	limiter := NewSizeLimiter(d(1000), d(100))

	err := limiter.CheckLimit(d(1000.01), d(10))
	if err != ErrPositionSizeExceeded {
		t.Errorf("expected ErrPositionSizeExceeded, got %v", err)
	}
}

func TestCheckLimit_TradeSizeExceeded(t *testing.T) {
	limiter := NewSizeLimiter(d(1000), d(100))

	err := limiter.CheckLimit(d(10), d(101))
	if err != ErrTradeSizeExceeded {
		t.Errorf("expected ErrTradeSizeExceeded, got %v", err)
	}
}

func TestCheckLimit_PositionCheckedFirst(t *testing.T) {
	limiter := NewSizeLimiter(d(1000), d(100))

	// Both exceed: the position cap is reported.
	err := limiter.CheckLimit(d(2000), d(200))
	if err != ErrPositionSizeExceeded {
		t.Errorf("expected ErrPositionSizeExceeded, got %v", err)
	}
}

func TestCheckLimit_ZeroTradeCapDisablesCheck(t *testing.T) {
	limiter := NewSizeLimiter(d(1000), decimal.Zero)

	if err := limiter.CheckLimit(d(10), d(1000000)); err != nil {
		t.Errorf("zero trade cap should disable the check, got %v", err)
	}
}

func TestCheckLimit_Negative(t *testing.T) {
	limiter := NewSizeLimiter(d(1000), d(100))

	if err := limiter.CheckLimit(d(-1), d(10)); err != ErrNegativeSize {
		t.Errorf("expected ErrNegativeSize, got %v", err)
	}
}
