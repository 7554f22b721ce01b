// Package sweep implements the backout orchestrator's fee-escalation
// policy (§4.5) for a cooperative spend stuck near its funding
// escrow's timeout height: rebuild the same claim with a higher
// absolute fee and rebroadcast under BIP-125 replace-by-fee, repeating
// until the transaction confirms or the timeout height arrives. It
// generalizes sweep/txgenerator.go's input-set partitioning machinery
// down to the coinswap's single-input, single-output redeem shape,
// where there is exactly one claim to re-fee rather than a batch of
// wallet inputs to sort by yield.
package sweep

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// rbfSequence opts every escalated claim into BIP-125 replacement: any
// sequence below 0xfffffffe signals replaceability. This one is
// 0xfffffffd, distinct from build.BuildRedeemTx's 0xfffffffe, which
// keeps the input non-final for CLTV without signalling replacement.
const rbfSequence = wire.MaxTxInSequenceNum - 2

// Signer produces the final witness for tx's single input, given the
// tx as rebuilt at the current fee (its signature hash changes each
// time the fee, and therefore the output value, changes).
type Signer func(tx *wire.MsgTx) (wire.TxWitness, error)

// Claim is the immutable description of the single output an
// Escalator repeatedly re-fees and rebroadcasts.
type Claim struct {
	PrevTxid   chainhash.Hash
	PrevVout   uint32
	PrevAmount btcutil.Amount
	DestScript []byte
	Sign       Signer
}

// Broadcaster is the narrow Wallet surface an Escalator needs.
type Broadcaster interface {
	Broadcast(tx *wire.MsgTx) (chainhash.Hash, error)
}

// Escalator drives §4.5's "broadcast repeatedly with increasing fees"
// backout policy for a single claim transaction.
type Escalator struct {
	claim       Claim
	broadcaster Broadcaster

	lastFee btcutil.Amount
	step    btcutil.Amount
}

// NewEscalator starts at startFee and increases by step on each call
// to Bump, mirroring backout_fee_target/backout_fee_multiplier from
// §6's configuration keys.
func NewEscalator(claim Claim, broadcaster Broadcaster, startFee, step btcutil.Amount) *Escalator {
	return &Escalator{claim: claim, broadcaster: broadcaster, lastFee: startFee, step: step}
}

// Bump rebuilds the claim transaction at the next fee level, signs it,
// and rebroadcasts, returning the new txid. BIP-125 rule 4 requires a
// replacement to pay a strictly higher absolute fee than everything it
// replaces, so CurrentFee only ever increases.
func (e *Escalator) Bump() (chainhash.Hash, error) {
	nextFee := e.lastFee + e.step
	if nextFee >= e.claim.PrevAmount {
		return chainhash.Hash{}, fmt.Errorf(
			"sweep: fee %d would consume the entire claim value %d", nextFee, e.claim.PrevAmount)
	}
	e.lastFee = nextFee

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: e.claim.PrevTxid, Index: e.claim.PrevVout},
		Sequence:         rbfSequence,
	})
	tx.AddTxOut(&wire.TxOut{
		Value:    int64(e.claim.PrevAmount - e.lastFee),
		PkScript: e.claim.DestScript,
	})

	witness, err := e.claim.Sign(tx)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("sweep: signing bumped claim: %w", err)
	}
	tx.TxIn[0].Witness = witness

	return e.broadcaster.Broadcast(tx)
}

// CurrentFee reports the fee of the last successfully constructed
// attempt.
func (e *Escalator) CurrentFee() btcutil.Amount { return e.lastFee }
