package revenue

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestComputeWithOrganization(t *testing.T) {
	split := NewCalculator(dec("9")).Compute(dec("100"), dec("20"))

	assert.True(t, split.PlatformAmount.Equal(dec("9")))
	assert.True(t, split.OrganizationAmount.Equal(dec("20")))
	assert.True(t, split.PhotographerAmount.Equal(dec("71")))
	assert.False(t, split.Inconsistent)
}

func TestComputeWithoutOrganization(t *testing.T) {
	split := NewCalculator(dec("9")).Compute(dec("40"), decimal.Zero)

	assert.True(t, split.PlatformAmount.Equal(dec("3.6")))
	assert.True(t, split.OrganizationAmount.IsZero())
	assert.True(t, split.PhotographerAmount.Equal(dec("36.4")))
}

func TestComputeClampsPhotographerShare(t *testing.T) {
	split := NewCalculator(dec("9")).Compute(dec("100"), dec("95"))

	assert.True(t, split.Inconsistent)
	assert.True(t, split.PhotographerAmount.IsZero())
	assert.True(t, split.PlatformAmount.Equal(dec("9")))
	assert.True(t, split.OrganizationAmount.Equal(dec("91")))
	assert.True(t, split.PlatformAmount.Add(split.OrganizationAmount).Add(split.PhotographerAmount).Equal(dec("100")))
}

func TestComputeExactlyAtBoundaryIsConsistent(t *testing.T) {
	split := NewCalculator(dec("9")).Compute(dec("10"), dec("91"))

	assert.False(t, split.Inconsistent)
	assert.True(t, split.PhotographerAmount.IsZero())
}

func TestComputeNeverLeaksCents(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		amount := decimal.New(1+rng.Int63n(100000), -2)
		platform := decimal.New(rng.Int63n(10001), -2)
		org := decimal.New(rng.Int63n(10001-platform.Mul(hundred).IntPart()), -2)

		split := NewCalculator(platform).Compute(amount, org)
		sum := split.PlatformAmount.Add(split.OrganizationAmount).Add(split.PhotographerAmount)
		require.True(t, sum.Equal(amount), "amount=%s platform=%s org=%s sum=%s", amount, platform, org, sum)
		require.False(t, split.PhotographerAmount.IsNegative())
	}
}

func TestNewCalculatorBoundsPercentage(t *testing.T) {
	assert.True(t, NewCalculator(dec("-1")).PlatformPercentage().IsZero())
	assert.True(t, NewCalculator(dec("150")).PlatformPercentage().Equal(hundred))
}
