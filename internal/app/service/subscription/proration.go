package subscription

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// ProrationPreview is the outcome of a mid-cycle plan change computation.
// Amounts are in the currency's smallest unit; NetCharge may be negative,
// meaning a credit to the user.
type ProrationPreview struct {
	OldAmount      int64 `json:"old_amount"`
	NewAmount      int64 `json:"new_amount"`
	DaysRemaining  int64 `json:"days_remaining"`
	DaysInCycle    int64 `json:"days_in_cycle"`
	RemainingValue int64 `json:"remaining_value"`
	NewCost        int64 `json:"new_cost"`
	NetCharge      int64 `json:"net_charge"`
}

// prorate computes the partial-period adjustment. Both the preview and the
// execution path call this with identical inputs, so the rounding (half-up
// at the smallest unit) is deterministic across the two.
func prorate(oldAmount, newAmount, daysRemaining, daysInCycle int64) (*ProrationPreview, error) {
	if daysInCycle <= 0 {
		return nil, &ProrationError{Reason: "cycle length must be positive"}
	}
	if daysRemaining < 0 || daysRemaining > daysInCycle {
		return nil, &ProrationError{Reason: "days remaining outside cycle"}
	}
	if oldAmount < 0 || newAmount < 0 {
		return nil, &ProrationError{Reason: "negative amount"}
	}

	remaining := decimal.NewFromInt(daysRemaining)
	cycle := decimal.NewFromInt(daysInCycle)

	// Round half-up applied to non-negative values; decimal's Round is
	// half-away-from-zero, which coincides on this domain.
	remainingValue := decimal.NewFromInt(oldAmount).Mul(remaining).Div(cycle).Round(0).IntPart()
	newCost := decimal.NewFromInt(newAmount).Mul(remaining).Div(cycle).Round(0).IntPart()

	return &ProrationPreview{
		OldAmount:      oldAmount,
		NewAmount:      newAmount,
		DaysRemaining:  daysRemaining,
		DaysInCycle:    daysInCycle,
		RemainingValue: remainingValue,
		NewCost:        newCost,
		NetCharge:      newCost - remainingValue,
	}, nil
}

// cycleDays measures a billing period in whole days, rounding partial days
// of the remainder up so a just-started day still counts.
func cycleDays(start, end, now time.Time) (daysInCycle, daysRemaining int64, err error) {
	if !end.After(start) {
		return 0, 0, &ProrationError{Reason: "period end not after start"}
	}
	if now.Before(start) || now.After(end) {
		return 0, 0, &ProrationError{Reason: "reference time outside period"}
	}
	daysInCycle = int64(math.Round(end.Sub(start).Hours() / 24))
	daysRemaining = int64(math.Ceil(end.Sub(now).Hours() / 24))
	if daysRemaining > daysInCycle {
		daysRemaining = daysInCycle
	}
	return daysInCycle, daysRemaining, nil
}
