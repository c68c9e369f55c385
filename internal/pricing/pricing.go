// Package pricing computes order totals with percentage discount tiers.
// All money is cents-valued int64; rounding happens exactly once, on the
// final discounted total.
package pricing

import (
	"math"

	"comanda/backend/internal/domain"
)

type Quote struct {
	RawTotalCents   int64
	DiscountPercent float64
	TotalCents      int64
}

// Price sums the lines and applies the highest-rate tier whose minimum
// the raw total meets. Ties on rate are harmless since equal rates give
// equal totals. Lines must be validated (qty > 0) by the caller.
func Price(lines []domain.OrderLine, tiers []domain.DiscountTier) Quote {
	var raw int64
	for _, line := range lines {
		raw += line.UnitPriceCents * int64(line.Qty)
	}

	rate := 0.0
	for _, tier := range tiers {
		if raw >= tier.MinOrderCents && tier.RatePercent > rate {
			rate = tier.RatePercent
		}
	}

	total := raw
	if rate > 0 {
		// Round the payable total, not the discount amount, so the
		// half-cent always resolves in the same direction.
		total = int64(math.Round(float64(raw) * (100 - rate) / 100))
	}
	return Quote{RawTotalCents: raw, DiscountPercent: rate, TotalCents: total}
}
