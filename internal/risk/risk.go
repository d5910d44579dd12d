// Package risk classifies model-proposed rebalances into risk tiers.
//
// Classification is a pure function of the four model scores: the same
// inputs always produce the same tier, independent of call order or time.
// The tier is computed once when a decision is created and stored with it.
package risk

import (
	"errors"
	"fmt"

	"github.com/xliquidity/rebalance-engine/internal/model"
)

// MaxScore is the upper bound of every basis-point score.
const MaxScore = 10000

// ErrScoreOutOfRange is returned when a score exceeds MaxScore.
var ErrScoreOutOfRange = errors.New("risk: score out of range")

// Thresholds in basis points.
const (
	criticalConfidenceBelow = 5000
	criticalVolatilityAbove = 7000
	highConfidenceBelow     = 6000
	highVolatilityAbove     = 6000
	mediumConfidenceBelow   = 8000
)

// Scores are the model outputs attached to a decision, in basis points.
type Scores struct {
	Confidence    uint16 `json:"confidence"`
	Sentiment     uint16 `json:"sentiment"`
	Volatility    uint16 `json:"volatility"`
	WhaleActivity uint16 `json:"whale_activity"`
}

// Validate checks that every score is within [0, MaxScore].
func (s Scores) Validate() error {
	for _, f := range []struct {
		name string
		v    uint16
	}{
		{"confidence", s.Confidence},
		{"sentiment", s.Sentiment},
		{"volatility", s.Volatility},
		{"whale_activity", s.WhaleActivity},
	} {
		if f.v > MaxScore {
			return fmt.Errorf("%w: %s=%d", ErrScoreOutOfRange, f.name, f.v)
		}
	}
	return nil
}

// Assess returns the tier for the given scores:
//
//	confidence < 5000 and volatility > 7000  → critical
//	confidence < 6000 or  volatility > 6000  → high
//	confidence < 8000                        → medium
//	otherwise                                → low
//
// Sentiment and whale activity are recorded for audit but do not move the
// tier.
func Assess(s Scores) model.RiskTier {
	switch {
	case s.Confidence < criticalConfidenceBelow && s.Volatility > criticalVolatilityAbove:
		return model.RiskCritical
	case s.Confidence < highConfidenceBelow || s.Volatility > highVolatilityAbove:
		return model.RiskHigh
	case s.Confidence < mediumConfidenceBelow:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}
