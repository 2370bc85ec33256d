// Package grid implements the per-symbol grid strategy: the pure
// decision function, the lot book, and the tick execution loop.
package grid

import (
	"fmt"

	"gridbot/internal/core"
	apperrors "gridbot/pkg/errors"

	"github.com/shopspring/decimal"
)

// Params are one symbol's grid parameters, immutable for a session.
// Both sides share the same parameter set.
type Params struct {
	BaseQty             decimal.Decimal
	TakeProfitSpacing   decimal.Decimal
	GridSpacing         decimal.Decimal
	Leverage            int64
	ThresholdMultiplier decimal.Decimal
	LimitMultiplier     decimal.Decimal
	FeePct              decimal.Decimal
}

// PositionThreshold is the exposure at which dead mode engages.
func (p Params) PositionThreshold() decimal.Decimal {
	return p.BaseQty.Mul(p.ThresholdMultiplier)
}

// PositionLimit is the exposure at which take-profit size doubles.
func (p Params) PositionLimit() decimal.Decimal {
	return p.BaseQty.Mul(p.LimitMultiplier)
}

// Validate rejects parameter sets the decision function cannot act on.
func (p Params) Validate() error {
	if !p.BaseQty.IsPositive() {
		return fmt.Errorf("%w: base_qty must be > 0", apperrors.ErrConfigurationInvalid)
	}
	if !p.TakeProfitSpacing.IsPositive() {
		return fmt.Errorf("%w: take_profit_spacing must be > 0", apperrors.ErrConfigurationInvalid)
	}
	if !p.GridSpacing.IsPositive() {
		return fmt.Errorf("%w: grid_spacing must be > 0", apperrors.ErrConfigurationInvalid)
	}
	if p.Leverage < 1 {
		return fmt.Errorf("%w: leverage must be >= 1", apperrors.ErrConfigurationInvalid)
	}
	return nil
}

// Decision is the decision function's output for one side.
// EntryPrice is only meaningful when HasEntry is true; dead mode
// suppresses the entry, never the take-profit.
type Decision struct {
	EntryPrice decimal.Decimal
	HasEntry   bool
	TPPrice    decimal.Decimal
	TPQty      decimal.Decimal
	DeadMode   bool
}

var (
	one = decimal.NewFromInt(1)
	two = decimal.NewFromInt(2)
)

// Decide computes the next grid decision for one side. It is pure and
// deterministic: live execution, backtest, and preview all call it.
//
// Dead mode engages when this side's exposure has reached the position
// threshold while the opposite side is strictly smaller (one-sided
// accumulation); entries stop, take-profits continue.
func Decide(anchor, myPosition, oppositePosition decimal.Decimal, p Params, side core.Side) (Decision, error) {
	if err := p.Validate(); err != nil {
		return Decision{}, err
	}

	var d Decision
	if side == core.SideLong {
		d.TPPrice = anchor.Mul(one.Add(p.TakeProfitSpacing))
		d.EntryPrice = anchor.Mul(one.Sub(p.GridSpacing))
	} else {
		d.TPPrice = anchor.Mul(one.Sub(p.TakeProfitSpacing))
		d.EntryPrice = anchor.Mul(one.Add(p.GridSpacing))
	}

	d.DeadMode = myPosition.GreaterThanOrEqual(p.PositionThreshold()) &&
		myPosition.GreaterThan(oppositePosition)
	d.HasEntry = !d.DeadMode

	if myPosition.GreaterThanOrEqual(p.PositionLimit()) {
		d.TPQty = p.BaseQty.Mul(two)
	} else {
		d.TPQty = p.BaseQty
	}

	return d, nil
}
