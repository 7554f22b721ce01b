package build

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func testPkScript() []byte {
	// A minimal valid-looking P2WPKH-length script for size/dust math;
	// not executed by these tests.
	return make([]byte, 22)
}

func TestBuildFundingTxAddsChange(t *testing.T) {
	utxos := []Utxo{{
		OutPoint: wire.OutPoint{Hash: chainhash.Hash{0x01}, Index: 0},
		PkScript: testPkScript(),
		Value:    btcutil.Amount(200000),
	}}
	escrowScript := []byte{0x51}
	result, err := BuildFundingTx(utxos, escrowScript, 100000, testPkScript(), SatPerVByte(10))
	require.NoError(t, err)
	require.Equal(t, 0, result.EscrowIndex)
	require.NotEqual(t, -1, result.ChangeIndex)
	require.Equal(t, int64(100000), result.Tx.TxOut[result.EscrowIndex].Value)
}

func TestBuildFundingTxInsufficientFunds(t *testing.T) {
	utxos := []Utxo{{
		OutPoint: wire.OutPoint{Hash: chainhash.Hash{0x01}, Index: 0},
		PkScript: testPkScript(),
		Value:    btcutil.Amount(1000),
	}}
	_, err := BuildFundingTx(utxos, []byte{0x51}, 100000, testPkScript(), SatPerVByte(10))
	require.Error(t, err)
}

func TestBuildRedeemTxRejectsFeeAboveValue(t *testing.T) {
	_, err := BuildRedeemTx(chainhash.Hash{}, 0, 1000, testPkScript(), 1000, 0)
	require.Error(t, err)
}

func TestBuildRedeemTxSetsNonFinalSequenceForTimeout(t *testing.T) {
	tx, err := BuildRedeemTx(chainhash.Hash{}, 0, 100000, testPkScript(), 1000, 600000)
	require.NoError(t, err)
	require.Equal(t, uint32(600000), tx.LockTime)
	require.Less(t, tx.TxIn[0].Sequence, wire.MaxTxInSequenceNum)
}
