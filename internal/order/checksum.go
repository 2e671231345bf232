package order

import (
	"encoding/json"

	"github.com/cespare/xxhash/v2"
)

// lineChecksum fingerprints the caller-visible content of a line so ModifyItem
// can detect proposals that change nothing. Row identifiers are excluded: the
// same content must hash equal before and after persistence.
func lineChecksum(li *LineItem) uint64 {
	snapshot := struct {
		ProductID int64  `json:"product_id"`
		PriceID   *int64 `json:"price_id"`
		CartIndex int    `json:"cart_index"`
		Quantity  int64  `json:"quantity"`
		UnitPrice string `json:"unit_price"`
		Subtotal  string `json:"subtotal"`
		Discount  string `json:"discount"`
		Tax       string `json:"tax"`
		Total     string `json:"total"`
	}{
		ProductID: li.ProductID,
		PriceID:   li.PriceID,
		CartIndex: li.CartIndex,
		Quantity:  li.Quantity,
		UnitPrice: li.UnitPrice.String(),
		Subtotal:  li.Subtotal.String(),
		Discount:  li.Discount.String(),
		Tax:       li.Tax.String(),
		Total:     li.Total.String(),
	}
	return jsonChecksum(snapshot)
}

func jsonChecksum(v any) uint64 {
	b, err := json.Marshal(v)
	if err != nil {
		// Only unmarshalable types reach here, which would be a
		// programming error in this package.
		panic(err)
	}
	return xxhash.Sum64(b)
}
