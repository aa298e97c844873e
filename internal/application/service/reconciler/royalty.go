package reconciler

import (
	"github.com/shopspring/decimal"

	order "main/internal/domain/entity/order"
	interfaces "main/internal/domain/interfaces"
)

// builtInRoyaltyBps is the royalty share already embedded in the pool's own
// fee. The AMM protocol modeled here has no built-in royalty support.
const builtInRoyaltyBps int64 = 0

var bpsDenominator = decimal.NewFromInt(10000)

// applyRoyalties folds any royalty bps missing from the pool fee into the
// base price. Buy orders subtract the amount (the taker receives less once
// the royalty is siphoned from proceeds); sell orders add it (the taker pays
// more to cover it). The whole missing diff is attributed to the first
// recipient with a positive share and a non-empty address; downstream
// consumers expect a single-recipient breakdown, so the amount is not split
// pro-rata.
func applyRoyalties(defaults []interfaces.RoyaltyShare, basePrice decimal.Decimal, side order.Side) (decimal.Decimal, []order.MissingRoyalty) {
	var totalBps int64
	recipient := ""
	for _, share := range defaults {
		totalBps += share.Bps
		if recipient == "" && share.Bps > 0 && share.Recipient != "" {
			recipient = share.Recipient
		}
	}

	diffBps := totalBps - builtInRoyaltyBps
	if diffBps <= 0 || recipient == "" {
		return basePrice, nil
	}

	amount := basePrice.Mul(decimal.NewFromInt(diffBps)).Div(bpsDenominator).Floor()
	missing := []order.MissingRoyalty{{
		Bps:       diffBps,
		Amount:    amount,
		Recipient: recipient,
	}}

	if side == order.SideBuy {
		return basePrice.Sub(amount), missing
	}
	return basePrice.Add(amount), missing
}
