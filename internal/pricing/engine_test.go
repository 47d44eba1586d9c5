package pricing

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/lumina-photos/lumina-backend/pkg/errors"
)

func d(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func cart(prices ...string) []Item {
	items := make([]Item, len(prices))
	for i, p := range prices {
		items[i] = Item{ID: "photo-" + string(rune('a'+i%26)) + decimal.NewFromInt(int64(i)).String(), Price: d(p)}
	}
	return items
}

func uniform(n int, price string) []Item {
	prices := make([]string, n)
	for i := range prices {
		prices[i] = price
	}
	return cart(prices...)
}

func TestDiscountPercentageThresholds(t *testing.T) {
	engine := NewEngine(decimal.Zero)
	cases := map[int]int64{
		0: 0, 1: 0, 2: 5, 3: 5, 4: 5, 5: 10, 9: 10, 10: 20, 25: 20,
	}
	for n, want := range cases {
		got := engine.DiscountPercentage(n)
		assert.True(t, got.Equal(decimal.NewFromInt(want)), "n=%d expected %d got %s", n, want, got)
	}
}

func TestQuoteScenarioDiscountDisabled(t *testing.T) {
	engine := NewEngine(d("1.00"))
	quote, err := engine.Quote(cart("10", "10", "10"), false)
	require.NoError(t, err)

	assert.True(t, quote.Subtotal.Equal(d("30")))
	assert.True(t, quote.DiscountAmount.IsZero())
	assert.True(t, quote.DiscountPercentage.IsZero())
	assert.True(t, quote.Total.Equal(d("30")))
	assert.Equal(t, 3, quote.Quantity)
}

func TestQuoteScenarioTenItems(t *testing.T) {
	engine := NewEngine(d("1.00"))
	quote, err := engine.Quote(uniform(10, "5"), true)
	require.NoError(t, err)

	assert.True(t, quote.Subtotal.Equal(d("50")))
	assert.True(t, quote.DiscountPercentage.Equal(d("20")))
	assert.True(t, quote.DiscountAmount.Equal(d("10")))
	assert.True(t, quote.Total.Equal(d("40")))
	assert.True(t, quote.UnitPriceAverage.Equal(d("5")))

	for _, alloc := range quote.Allocations {
		assert.True(t, alloc.Discount.Equal(d("1")), "allocation %s", alloc.Discount)
		assert.True(t, alloc.Net().Equal(d("4")))
	}
}

func TestQuoteRoundsDiscountToCents(t *testing.T) {
	engine := NewEngine(decimal.Zero)
	quote, err := engine.Quote(cart("3.33", "3.33"), true)
	require.NoError(t, err)

	// 6.66 * 5% = 0.333 -> 0.33
	assert.True(t, quote.DiscountAmount.Equal(d("0.33")), "got %s", quote.DiscountAmount)
	assert.True(t, quote.Total.Equal(d("6.33")), "got %s", quote.Total)
}

func TestQuoteTotalsBalanceForGeneratedCarts(t *testing.T) {
	engine := NewEngine(decimal.Zero)
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 500; run++ {
		n := 1 + rng.Intn(15)
		items := make([]Item, n)
		for i := range items {
			cents := 1 + rng.Int63n(20000)
			items[i] = Item{ID: decimal.NewFromInt(int64(i)).String(), Price: decimal.New(cents, -2)}
		}

		quote, err := engine.Quote(items, rng.Intn(2) == 0)
		require.NoError(t, err)

		require.True(t, quote.Subtotal.Sub(quote.DiscountAmount).Equal(quote.Total),
			"run %d: %s - %s != %s", run, quote.Subtotal, quote.DiscountAmount, quote.Total)
		require.Equal(t, int32(-2), minExp(quote.DiscountAmount), "discount must be at cent precision")

		allocated := decimal.Zero
		net := decimal.Zero
		for _, alloc := range quote.Allocations {
			require.False(t, alloc.Discount.IsNegative())
			allocated = allocated.Add(alloc.Discount)
			net = net.Add(alloc.Net())
		}
		require.True(t, allocated.Equal(quote.DiscountAmount), "run %d allocations %s != %s", run, allocated, quote.DiscountAmount)
		require.True(t, net.Equal(quote.Total), "run %d net %s != %s", run, net, quote.Total)
	}
}

func minExp(v decimal.Decimal) int32 {
	if v.Round(2).Equal(v) {
		return -2
	}
	return v.Exponent()
}

func TestQuoteRejectsBelowMinimum(t *testing.T) {
	engine := NewEngine(d("1.00"))
	_, err := engine.Quote(cart("0.50"), true)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
}

func TestQuoteRejectsEmptyAndInvalidCarts(t *testing.T) {
	engine := NewEngine(decimal.Zero)

	_, err := engine.Quote(nil, true)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = engine.Quote([]Item{{ID: "a", Price: d("-1")}}, true)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = engine.Quote([]Item{{ID: " ", Price: d("1")}}, true)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestCustomTiersAreOrdered(t *testing.T) {
	engine := NewEngine(decimal.Zero,
		Tier{MinQuantity: 2, Percentage: d("1")},
		Tier{MinQuantity: 3, Percentage: d("2")},
	)
	assert.True(t, engine.DiscountPercentage(3).Equal(d("2")))
	assert.True(t, engine.DiscountPercentage(2).Equal(d("1")))
	assert.True(t, engine.DiscountPercentage(1).IsZero())
}

func TestQuoteMetadataIsStable(t *testing.T) {
	engine := NewEngine(decimal.Zero)
	quote, err := engine.Quote(uniform(5, "12.5"), true)
	require.NoError(t, err)

	meta := quote.Metadata()
	assert.Equal(t, "5", meta["quantity"])
	assert.Equal(t, "10", meta["discount_percentage"])
	assert.Equal(t, "6.25", meta["discount_amount"])
	assert.Equal(t, "62.50", meta["subtotal"])
	assert.Equal(t, "56.25", meta["total"])
}
