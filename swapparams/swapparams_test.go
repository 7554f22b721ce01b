package swapparams

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

func testHalf(t *testing.T, sessionID string, amount, fee btcutil.Amount, l1, l2 int32) Half {
	priv1, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	priv2, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	priv3, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	addr, err := btcutil.NewAddressWitnessScriptHash(make([]byte, 32), &chaincfg.MainNetParams)
	require.NoError(t, err)

	return Half{
		SessionID:           sessionID,
		PubCoopOwner:        priv1.PubKey(),
		PubCoopCounterparty: priv2.PubKey(),
		PubTimeoutOwner:     priv3.PubKey(),
		DestAddr:            addr,
		Amount:              amount,
		CoinswapFee:         fee,
		TimeoutL1:           l1,
		TimeoutL2:           l2,
	}
}

func defaultBounds() PolicyBounds {
	return PolicyBounds{
		MinAmount: 1000, MaxAmount: 1_000_000,
		MinTimeoutGap: 50, MaxTimeoutGap: 1000,
	}
}

func TestNegotiateAccepts(t *testing.T) {
	a := testHalf(t, "sess1", 50000, 500, 200, 400)
	c := testHalf(t, "sess1", 0, 0, 0, 0)

	params, err := Negotiate(a, c, 100, defaultBounds())
	require.NoError(t, err)
	require.Equal(t, int32(100), params.L0)
	require.Equal(t, btcutil.Amount(50000), params.Amount)
}

func TestNegotiateRejectsSessionMismatch(t *testing.T) {
	a := testHalf(t, "sess1", 50000, 500, 200, 400)
	c := testHalf(t, "sess2", 0, 0, 0, 0)

	_, err := Negotiate(a, c, 100, defaultBounds())
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestNegotiateRejectsAmountOutOfBounds(t *testing.T) {
	a := testHalf(t, "sess1", 1, 500, 200, 400)
	c := testHalf(t, "sess1", 0, 0, 0, 0)

	_, err := Negotiate(a, c, 100, defaultBounds())
	require.Error(t, err)
}

func TestNegotiateRejectsBadTimeoutOrdering(t *testing.T) {
	a := testHalf(t, "sess1", 50000, 500, 400, 200) // L1 > L2
	c := testHalf(t, "sess1", 0, 0, 0, 0)

	_, err := Negotiate(a, c, 100, defaultBounds())
	require.Error(t, err)
}

func TestNegotiateRejectsGapOutsideBounds(t *testing.T) {
	a := testHalf(t, "sess1", 50000, 500, 101, 102) // gap of 1, below MinTimeoutGap
	c := testHalf(t, "sess1", 0, 0, 0, 0)

	_, err := Negotiate(a, c, 100, defaultBounds())
	require.Error(t, err)
}

func TestNegotiateRejectsMissingKey(t *testing.T) {
	a := testHalf(t, "sess1", 50000, 500, 200, 400)
	a.PubTimeoutOwner = nil
	c := testHalf(t, "sess1", 0, 0, 0, 0)

	_, err := Negotiate(a, c, 100, defaultBounds())
	require.Error(t, err)
}
