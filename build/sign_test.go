package build

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// TestCooperativeSpendVerifies exercises the full cooperative-branch
// round trip: build a funding output, build a spend of it, have both
// parties sign, combine the witness, and verify it with the real
// script engine — mirroring script_utils_test.go's signature/witness
// verification pattern.
func TestCooperativeSpendVerifies(t *testing.T) {
	ownerA, counterA, timeoutA := newTestKey(t), newTestKey(t), newTestKey(t)
	ownerC, counterC, timeoutC := newTestKey(t), newTestKey(t), newTestKey(t)

	var secret [SecretLen]byte
	copy(secret[:], []byte("supersecretvalue"))
	hash := CommitHash(secret[:])

	const amount = btcutil.Amount(100000)
	escrowScript, err := EscrowScript(ownerA.PubKey(), counterC.PubKey(), timeoutA.PubKey(), hash, 600000)
	require.NoError(t, err)
	pkScript, err := WitnessScriptHash(escrowScript)
	require.NoError(t, err)

	fundingTxid := chainhash.Hash{0x01}
	destScript := pkScript // arbitrary valid script for the test output
	tx, err := BuildRedeemTx(fundingTxid, 0, amount, destScript, 1000, 0)
	require.NoError(t, err)

	sigA, err := SignEscrowCooperative(tx, escrowScript, amount, ownerA)
	require.NoError(t, err)
	sigC, err := SignEscrowCooperative(tx, escrowScript, amount, counterC)
	require.NoError(t, err)

	first, second := OrderMultisigSigs(ownerA.PubKey(), counterC.PubKey(), sigA, sigC)
	witness := CombineCooperativeWitness(first, second, secret[:], escrowScript)
	tx.TxIn[0].Witness = witness

	require.NoError(t, VerifyEscrowWitness(tx, 0, pkScript, amount))

	_ = ownerC
	_ = counterA
	_ = timeoutC
}

// TestSignEscrowSecretRejectsShortPreimage enforces the fixed-length
// secret contract.
func TestSignEscrowSecretRejectsShortPreimage(t *testing.T) {
	priv, counterpartyPriv := newTestKey(t), newTestKey(t)
	escrowScript := []byte{0x51} // OP_TRUE, a placeholder script for this check
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{})
	tx.AddTxOut(&wire.TxOut{Value: 1000})

	_, err := SignEscrowSecret(tx, escrowScript, 100000, priv, counterpartyPriv.PubKey(), []byte{0x01}, []byte("short"))
	require.Error(t, err)
}
