// Package pricing derives customer-facing prices from stored source prices.
//
// Prices stay in the source currency of their product and are converted only
// at display time. Money is always decimal.
package pricing

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// DisplayPlaces is the number of decimal places shown to customers.
const DisplayPlaces = 2

// MarkedUp applies the markup percentage to a site price.
func MarkedUp(sitePrice, increasePer decimal.Decimal) decimal.Decimal {
	return sitePrice.Add(sitePrice.Mul(increasePer).Div(hundred))
}

// AfterDiscount applies a percentage discount.
func AfterDiscount(price, percentage decimal.Decimal) decimal.Decimal {
	return price.Sub(price.Mul(percentage).Div(hundred))
}

// Display rounds a price half-up to DisplayPlaces.
func Display(price decimal.Decimal) decimal.Decimal {
	return price.Round(DisplayPlaces)
}

// ValidPercentage reports whether p lies in [0, 100].
func ValidPercentage(p decimal.Decimal) bool {
	return !p.IsNegative() && p.LessThanOrEqual(hundred)
}
