// Package strategy holds the pure trading signals: grid geometry,
// trend filtering, pair rotation, and the ancillary entry strategies.
package strategy

import (
	"math"

	"gridbot/internal/core"
	apperrors "gridbot/pkg/errors"
	"gridbot/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// GridLevels computes the ladder of level prices. Arithmetic spacing
// divides the band evenly; geometric keeps the ratio between adjacent
// levels constant. The first level is exactly lower, the last exactly
// upper.
func GridLevels(lower, upper float64, n int, spacing core.SpacingType) ([]decimal.Decimal, error) {
	if n < 2 {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidConfig, "grid needs at least 2 levels, got %d", n)
	}
	if lower <= 0 || upper <= lower {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidConfig, "invalid bounds lower=%f upper=%f", lower, upper)
	}

	levels := make([]decimal.Decimal, n)
	switch spacing {
	case core.SpacingArithmetic:
		step := (upper - lower) / float64(n-1)
		for i := 0; i < n; i++ {
			levels[i] = decimal.NewFromFloat(lower + float64(i)*step)
		}
	case core.SpacingGeometric:
		ratio := upper / lower
		for i := 0; i < n; i++ {
			levels[i] = decimal.NewFromFloat(lower * math.Pow(ratio, float64(i)/float64(n-1)))
		}
	default:
		return nil, apperrors.Wrapf(apperrors.ErrInvalidConfig, "unknown spacing %q", spacing)
	}

	// Pin the endpoints against float drift
	levels[0] = decimal.NewFromFloat(lower)
	levels[n-1] = decimal.NewFromFloat(upper)
	return levels, nil
}

// GridSides assigns a side to each level relative to the reference
// price: buy below, sell at or above.
func GridSides(levels []decimal.Decimal, ref decimal.Decimal) []core.OrderSide {
	sides := make([]core.OrderSide, len(levels))
	for i, p := range levels {
		if p.LessThan(ref) {
			sides[i] = core.SideBuy
		} else {
			sides[i] = core.SideSell
		}
	}
	return sides
}

// OrderAmount resolves the per-level base amount. Exactly one of
// sizeQuote and sizeBase must be positive.
func OrderAmount(sizeQuote, sizeBase float64, price decimal.Decimal) (decimal.Decimal, error) {
	hasQuote := sizeQuote > 0
	hasBase := sizeBase > 0
	if hasQuote == hasBase {
		return decimal.Zero, apperrors.Wrap(apperrors.ErrInvalidConfig,
			"exactly one of order_size_quote and order_size_base must be set")
	}
	if hasBase {
		return decimal.NewFromFloat(sizeBase), nil
	}
	return tradingutils.AmountFromQuote(decimal.NewFromFloat(sizeQuote), price), nil
}
