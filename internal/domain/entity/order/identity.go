package order

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// idNamespace is the domain tag hashed into every identity so ids cannot
// collide with other order kinds sharing the store.
const idNamespace = "amm-pool-order/v1"

// BuyOrderID derives the stable identity of a pool's single buy order.
// The same pool always maps to the same id across restarts.
func BuyOrderID(poolAddress string) string {
	return identity(poolAddress, SideBuy, "")
}

// SellOrderID derives the stable identity of the pool's sell order for one
// specific item.
func SellOrderID(poolAddress, itemID string) string {
	return identity(poolAddress, SideSell, itemID)
}

func identity(poolAddress string, side Side, itemID string) string {
	h := sha256.New()
	h.Write([]byte(idNamespace))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(poolAddress)))
	h.Write([]byte{0})
	h.Write([]byte(side))
	if itemID != "" {
		h.Write([]byte{0})
		h.Write([]byte(itemID))
	}
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
