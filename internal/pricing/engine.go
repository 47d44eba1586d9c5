// Package pricing computes the charge for a photo cart: subtotal, the
// progressive volume discount and the final amount sent to the gateway.
package pricing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/lumina-photos/lumina-backend/pkg/errors"
)

const currencyPlaces = 2

var hundred = decimal.NewFromInt(100)

// Tier grants Percentage off the subtotal once the cart holds MinQuantity items.
type Tier struct {
	MinQuantity int
	Percentage  decimal.Decimal
}

// DefaultTiers is the volume discount table: 2+ items 5%, 5+ items 10%, 10+ items 20%.
var DefaultTiers = []Tier{
	{MinQuantity: 10, Percentage: decimal.NewFromInt(20)},
	{MinQuantity: 5, Percentage: decimal.NewFromInt(10)},
	{MinQuantity: 2, Percentage: decimal.NewFromInt(5)},
}

// Item is a priced cart entry.
type Item struct {
	ID    string
	Price decimal.Decimal
}

// Allocation is the share of the cart discount carried by one row.
type Allocation struct {
	ItemID   string          `json:"itemId"`
	Price    decimal.Decimal `json:"price"`
	Discount decimal.Decimal `json:"discount"`
}

// Net is the amount actually charged for the row.
func (a Allocation) Net() decimal.Decimal {
	return a.Price.Sub(a.Discount)
}

// Quote is the transient cart discount attached to a charge as metadata.
type Quote struct {
	Quantity           int             `json:"quantity"`
	UnitPriceAverage   decimal.Decimal `json:"unitPriceAverage"`
	DiscountPercentage decimal.Decimal `json:"percentage"`
	DiscountAmount     decimal.Decimal `json:"discountAmount"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	Total              decimal.Decimal `json:"total"`
	Allocations        []Allocation    `json:"-"`
}

// Metadata renders the quote as the immutable charge metadata.
func (q Quote) Metadata() map[string]string {
	return map[string]string{
		"quantity":            fmt.Sprintf("%d", q.Quantity),
		"unit_price_average":  q.UnitPriceAverage.StringFixed(currencyPlaces),
		"discount_percentage": q.DiscountPercentage.String(),
		"discount_amount":     q.DiscountAmount.StringFixed(currencyPlaces),
		"subtotal":            q.Subtotal.StringFixed(currencyPlaces),
		"total":               q.Total.StringFixed(currencyPlaces),
	}
}

// Engine is a pure pricing function configured with a tier table and a minimum charge.
type Engine struct {
	tiers   []Tier
	minimum decimal.Decimal
}

// NewEngine builds an engine. With no tiers, DefaultTiers apply.
func NewEngine(minimum decimal.Decimal, tiers ...Tier) *Engine {
	if len(tiers) == 0 {
		tiers = DefaultTiers
	}
	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinQuantity > sorted[j].MinQuantity
	})
	if minimum.IsNegative() {
		minimum = decimal.Zero
	}
	return &Engine{tiers: sorted, minimum: minimum}
}

// Minimum returns the smallest chargeable total.
func (e *Engine) Minimum() decimal.Decimal {
	return e.minimum
}

// DiscountPercentage is the step function of the cart quantity.
func (e *Engine) DiscountPercentage(quantity int) decimal.Decimal {
	for _, tier := range e.tiers {
		if quantity >= tier.MinQuantity {
			return tier.Percentage
		}
	}
	return decimal.Zero
}

// Quote prices the cart. eligible is false when any item opts out of discounts.
func (e *Engine) Quote(items []Item, eligible bool) (Quote, error) {
	if len(items) == 0 {
		return Quote{}, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}

	subtotal := decimal.Zero
	for _, item := range items {
		if strings.TrimSpace(item.ID) == "" {
			return Quote{}, pkgerrors.New(pkgerrors.CodeValidation, "cart item id is required")
		}
		if item.Price.IsNegative() {
			return Quote{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %s has a negative price", item.ID))
		}
		subtotal = subtotal.Add(item.Price)
	}
	subtotal = subtotal.Round(currencyPlaces)

	quantity := len(items)
	percentage := decimal.Zero
	if eligible {
		percentage = e.DiscountPercentage(quantity)
	}
	discount := subtotal.Mul(percentage).Div(hundred).Round(currencyPlaces)
	total := subtotal.Sub(discount)

	if total.LessThan(e.minimum) {
		return Quote{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("total %s is below the minimum chargeable amount %s", total.StringFixed(currencyPlaces), e.minimum.StringFixed(currencyPlaces))).
			WithDetails(map[string]any{
				"total":   total.StringFixed(currencyPlaces),
				"minimum": e.minimum.StringFixed(currencyPlaces),
			})
	}

	return Quote{
		Quantity:           quantity,
		UnitPriceAverage:   subtotal.Div(decimal.NewFromInt(int64(quantity))).Round(currencyPlaces),
		DiscountPercentage: percentage,
		DiscountAmount:     discount,
		Subtotal:           subtotal,
		Total:              total,
		Allocations:        allocate(items, subtotal, discount),
	}, nil
}

// allocate spreads discount across items proportionally to price. The last
// row absorbs the rounding remainder so the allocations sum to discount.
func allocate(items []Item, subtotal, discount decimal.Decimal) []Allocation {
	out := make([]Allocation, len(items))
	remaining := discount
	for i, item := range items {
		share := decimal.Zero
		switch {
		case discount.IsZero() || subtotal.IsZero():
		case i == len(items)-1:
			share = remaining
		default:
			share = item.Price.Mul(discount).Div(subtotal).Round(currencyPlaces)
			if share.GreaterThan(remaining) {
				share = remaining
			}
		}
		remaining = remaining.Sub(share)
		out[i] = Allocation{ItemID: item.ID, Price: item.Price, Discount: share}
	}
	return out
}
