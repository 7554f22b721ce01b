package build

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckAbsurdFee(t *testing.T) {
	require.NoError(t, CheckAbsurdFee(50, 250000))
	err := CheckAbsurdFee(1000, 250000)
	require.Error(t, err)
	var sanityErr *FeeSanityError
	require.ErrorAs(t, err, &sanityErr)
}

func TestFeeForVSize(t *testing.T) {
	rate := SatPerVByte(5)
	require.EqualValues(t, 500, rate.FeeForVSize(100))
}

func TestEstimateVSizesMonotonic(t *testing.T) {
	// More inputs must never produce a smaller estimate.
	one := EstimateFundingVSize(1, true)
	two := EstimateFundingVSize(2, true)
	require.Greater(t, two, one)

	require.Greater(t, EstimateRedeemVSize(), int64(0))
	require.Greater(t, EstimateTimeoutVSize(), int64(0))
}
