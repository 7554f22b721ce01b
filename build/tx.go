package build

import (
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
)

// Utxo is a spendable output the Wallet interface hands to the
// builder; PkScript/Value describe the output being spent, OutPoint
// identifies it.
type Utxo struct {
	OutPoint wire.OutPoint
	PkScript []byte
	Value    btcutil.Amount
}

// FundingResult is the transaction returned by BuildFundingTx together
// with the per-input data the caller's Wallet needs to produce
// signatures for.
type FundingResult struct {
	Tx          *wire.MsgTx
	EscrowIndex int
	ChangeIndex int // -1 when no change output was added
}

// BuildFundingTx constructs TX0 (or symmetrically TX1): it spends the
// given UTXOs, pays escrowAmount to escrowScript's P2WSH address, and
// returns any remainder to changePkScript unless it would be dust.
// Mirrors sweep/txgenerator.go's createSweepTx shape: build outputs,
// total inputs, compute change, sanity-check before returning.
func BuildFundingTx(utxos []Utxo, escrowScript []byte, escrowAmount btcutil.Amount,
	changePkScript []byte, rate SatPerVByte) (*FundingResult, error) {

	if len(utxos) == 0 {
		return nil, fmt.Errorf("build: no utxos supplied for funding tx")
	}

	var totalIn btcutil.Amount
	tx := wire.NewMsgTx(wire.TxVersion)
	for _, u := range utxos {
		totalIn += u.Value
		tx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: u.OutPoint,
			Sequence:         wire.MaxTxInSequenceNum,
		})
	}

	escrowPkScript, err := WitnessScriptHash(escrowScript)
	if err != nil {
		return nil, err
	}
	escrowIndex := len(tx.TxOut)
	tx.AddTxOut(&wire.TxOut{Value: int64(escrowAmount), PkScript: escrowPkScript})

	fee := rate.FeeForVSize(EstimateFundingVSize(len(utxos), true))
	change := totalIn - escrowAmount - fee
	changeIndex := -1

	if change > 0 {
		if txrules.IsDustAmount(change, len(changePkScript), txrules.DefaultRelayFeePerKb) {
			// Fold the would-be-dust change into the fee rather than
			// creating an uneconomical output.
		} else {
			changeIndex = len(tx.TxOut)
			tx.AddTxOut(&wire.TxOut{Value: int64(change), PkScript: changePkScript})
		}
	} else if change < 0 {
		return nil, fmt.Errorf("build: inputs %d insufficient for escrow %d + fee %d",
			totalIn, escrowAmount, fee)
	}

	if err := blockchain.CheckTransactionSanity(btcutil.NewTx(tx)); err != nil {
		return nil, fmt.Errorf("build: funding tx failed sanity check: %w", err)
	}

	return &FundingResult{Tx: tx, EscrowIndex: escrowIndex, ChangeIndex: changeIndex}, nil
}

// BuildRedeemTx builds a single-input, single-output spend of an
// escrow output: the cooperative redeem (TX2/TX3), the secret-branch
// backout (TX4/TX5), or the timeout self-refund (TX2-timeout/
// TX3-timeout) — all share this shape and differ only in which witness
// is later attached and in locktime. Mirrors lnwallet's convention of
// separating transaction construction (this function) from witness
// generation (sign_escrow_*, below).
func BuildRedeemTx(prevTxid chainhash.Hash, prevVout uint32, prevAmount btcutil.Amount,
	destPkScript []byte, fee btcutil.Amount, locktime uint32) (*wire.MsgTx, error) {

	if fee >= prevAmount {
		return nil, fmt.Errorf("build: fee %d not less than input value %d", fee, prevAmount)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.LockTime = locktime

	sequence := wire.MaxTxInSequenceNum
	if locktime != 0 {
		// A non-final sequence is required for nLockTime to take
		// effect on the timeout branch; harmless for the other
		// branches since they carry locktime 0.
		sequence = wire.MaxTxInSequenceNum - 1
	}

	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: prevTxid, Index: prevVout},
		Sequence:         sequence,
	})
	tx.AddTxOut(&wire.TxOut{
		Value:    int64(prevAmount - fee),
		PkScript: destPkScript,
	})

	if err := blockchain.CheckTransactionSanity(btcutil.NewTx(tx)); err != nil {
		return nil, fmt.Errorf("build: redeem tx failed sanity check: %w", err)
	}

	return tx, nil
}

// sigHash computes the BIP-143 sighash for input 0 of tx spending
// escrowScript with the given amount; every sign_escrow_* function
// below signs against this hash. The PrevOutputFetcher it builds only
// ever needs to answer for input 0, since every escrow spend built by
// this package is single-input.
func sigHash(tx *wire.MsgTx, escrowScript []byte, amount btcutil.Amount) ([]byte, *txscript.TxSigHashes, error) {
	prevPkScript, err := WitnessScriptHash(escrowScript)
	if err != nil {
		return nil, nil, err
	}
	fetcher := txscript.NewCannedPrevOutputFetcher(prevPkScript, int64(amount))
	hc := txscript.NewTxSigHashes(tx, fetcher)
	h, err := txscript.CalcWitnessSigHash(escrowScript, hc, txscript.SigHashAll, tx, 0, int64(amount))
	return h, hc, err
}
