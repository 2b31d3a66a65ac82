// Package pricing computes stay totals in minor currency units.  The
// calculator is pure: callers load the room's base price and the active
// seasonal rates overlapping the stay, and the calculator walks the
// nights of the half-open range [start, end) applying at most one rate
// per night.
package pricing

import (
	"errors"
	"time"

	"github.com/adiwibowo/stayreserve/internal/model"
)

// ErrEmptyRange is returned when the stay contains no nights, i.e.
// end is not strictly after start.  The reservation engine validates
// date ranges before pricing, so seeing this error indicates a caller
// bug rather than bad user input.
var ErrEmptyRange = errors.New("pricing: date range contains no nights")

// NightlyPrice returns the unit price for a single night given the
// room's base price and the seasonal rate covering that night, if any.
// Percentage adjustments are rounded half-up per night, matching
// day-by-day billing.
func NightlyPrice(basePrice int64, rate *model.SeasonalRate) int64 {
	if rate == nil {
		return basePrice
	}
	switch rate.AdjustmentType {
	case model.AdjustmentPercentage:
		return basePrice + roundHalfUp(basePrice*rate.AdjustmentValue, 100)
	case model.AdjustmentNominal:
		return basePrice + rate.AdjustmentValue
	}
	return basePrice
}

// Total computes the total price for qty units over [start, end).
// Each night is priced independently: the single active rate whose
// interval contains the night (the catalog guarantees no overlaps)
// replaces the base price for that night.  The per-night prices are
// summed and multiplied by qty.
func Total(basePrice int64, qty int, start, end time.Time, rates []model.SeasonalRate) (int64, error) {
	if !end.After(start) {
		return 0, ErrEmptyRange
	}
	var sum int64
	for night := start; night.Before(end); night = night.AddDate(0, 0, 1) {
		sum += NightlyPrice(basePrice, rateFor(night, rates))
	}
	return sum * int64(qty), nil
}

// rateFor returns the first active rate containing the night, or nil.
func rateFor(night time.Time, rates []model.SeasonalRate) *model.SeasonalRate {
	for i := range rates {
		if rates[i].Active && rates[i].Contains(night) {
			return &rates[i]
		}
	}
	return nil
}

// roundHalfUp divides n by d (d > 0) rounding halves toward positive
// infinity, so 2.5 becomes 3 and -2.5 becomes -2.
func roundHalfUp(n, d int64) int64 {
	q := n / d
	r := n % d
	if r == 0 {
		return q
	}
	if n > 0 {
		if 2*r >= d {
			q++
		}
	} else {
		if 2*(-r) > d {
			q--
		}
	}
	return q
}
