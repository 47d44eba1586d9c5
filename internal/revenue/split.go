// Package revenue computes and records the three-way split of a completed sale
// between the platform, the event organization and the photographer.
package revenue

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Split is the outcome of dividing one sale.
type Split struct {
	SaleAmount             decimal.Decimal
	PlatformPercentage     decimal.Decimal
	OrganizationPercentage decimal.Decimal
	PlatformAmount         decimal.Decimal
	OrganizationAmount     decimal.Decimal
	PhotographerAmount     decimal.Decimal
	// Inconsistent is set when the organization and platform percentages
	// exceed 100 and the photographer share was clamped to zero.
	Inconsistent bool
}

// Calculator splits sales with a fixed platform percentage.
type Calculator struct {
	platformPct decimal.Decimal
}

func NewCalculator(platformPct decimal.Decimal) Calculator {
	if platformPct.IsNegative() {
		platformPct = decimal.Zero
	}
	if platformPct.GreaterThan(hundred) {
		platformPct = hundred
	}
	return Calculator{platformPct: platformPct}
}

func (c Calculator) PlatformPercentage() decimal.Decimal {
	return c.platformPct
}

// Compute splits amount. organizationPct is zero when the sale has no organization.
// Platform and organization amounts are rounded once; the photographer gets the
// remainder so the three parts always add up to amount.
func (c Calculator) Compute(amount, organizationPct decimal.Decimal) Split {
	if organizationPct.IsNegative() {
		organizationPct = decimal.Zero
	}

	split := Split{
		SaleAmount:             amount,
		PlatformPercentage:     c.platformPct,
		OrganizationPercentage: organizationPct,
	}

	split.PlatformAmount = amount.Mul(c.platformPct).Div(hundred).Round(2)
	split.OrganizationAmount = amount.Mul(organizationPct).Div(hundred).Round(2)

	split.Inconsistent = organizationPct.GreaterThan(hundred.Sub(c.platformPct))

	// Half-cent rounding on both sides can overshoot by a cent on tiny sales.
	available := decimal.Max(amount.Sub(split.PlatformAmount), decimal.Zero)
	if split.OrganizationAmount.GreaterThan(available) {
		split.OrganizationAmount = available
	}
	split.PhotographerAmount = amount.Sub(split.PlatformAmount).Sub(split.OrganizationAmount)
	return split
}
