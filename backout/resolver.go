// Package backout resolves a single escrow output that was not closed
// out cooperatively: either by claiming it unilaterally with the
// shared secret and the counterparty's already-obtained cooperative
// signature (TX4/TX5), or, once its absolute timeout height has
// passed, by self-refunding through the timeout branch (TX2-timeout/
// TX3-timeout). It generalizes contractcourt/htlc_timeout_resolver.go's
// ContractResolver shape (a resolved flag, a Resolve loop that blocks
// on chain events, and an Encode of the persistent fields; there is no
// matching Decode or Checkpoint) from a channel-close HTLC to a coinswap escrow output, and borrows
// breacharbiter.go's framing of a race against the counterparty's own
// competing claim.
package backout

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/coinswapcs/coinswap/build"
	"github.com/coinswapcs/coinswap/chainwatch"
)

// Branch selects which of the escrow script's two spend paths a
// Resolver claims through.
type Branch int

const (
	// BranchSecret claims via the cooperative 2-of-2 + hash path: this
	// party's own signature, the counterparty's previously obtained
	// signature, and the revealed preimage.
	BranchSecret Branch = iota

	// BranchTimeout claims via the CLTV self-refund path, valid only
	// once the chain has reached the escrow's timeout height.
	BranchTimeout
)

// Wallet is the minimal broadcast surface a Resolver needs.
type Wallet interface {
	Broadcast(tx *wire.MsgTx) (chainhash.Hash, error)
}

// Resolver claims a single unresolved escrow output. One Resolver
// handles exactly one of TX4/TX5 (secret branch, unilateral claim once
// the counterparty's earlier cooperative signature is in hand) or
// TX2-timeout/TX3-timeout (timeout branch, self-refund).
type Resolver struct {
	mu sync.Mutex

	// Outpoint is the escrow output being claimed.
	Outpoint wire.OutPoint
	// EscrowScript is the redeem script that produced it.
	EscrowScript []byte
	Amount       btcutil.Amount
	DestScript   []byte

	Branch        Branch
	TimeoutHeight int64 // consulted only for BranchTimeout

	// Secret-branch fields.
	SelfPriv        *btcec.PrivateKey
	CounterpartyPub *btcec.PublicKey
	CounterpartySig []byte
	Secret          []byte

	// Timeout-branch field.
	TimeoutPriv *btcec.PrivateKey

	Fee btcutil.Amount

	Notifier chainwatch.Notifier
	Wallet   Wallet
	Quit     chan struct{}

	broadcastTxid *chainhash.Hash
	resolved      bool
}

// ResolverKey identifies this Resolver uniquely within a session's
// backout bookkeeping, mirroring ContractResolver.ResolverKey.
func (r *Resolver) ResolverKey() []byte {
	var buf [36]byte
	copy(buf[:32], r.Outpoint.Hash[:])
	binary.BigEndian.PutUint32(buf[32:], r.Outpoint.Index)
	return buf[:]
}

// IsResolved reports whether the claim has reached its final
// confirmation.
func (r *Resolver) IsResolved() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolved
}

// Resolve builds, signs, and broadcasts the claim transaction (unless
// already broadcast, per the Checkpoint-before-send idempotency
// ContractResolver.Resolve relies on) and then blocks until the chain
// notifier confirms it or Quit fires.
func (r *Resolver) Resolve() error {
	r.mu.Lock()
	if r.resolved {
		r.mu.Unlock()
		return nil
	}
	already := r.broadcastTxid
	r.mu.Unlock()

	var txid chainhash.Hash
	if already == nil {
		tx, err := r.buildClaimTx()
		if err != nil {
			return err
		}
		id, err := r.Wallet.Broadcast(tx)
		if err != nil {
			return fmt.Errorf("backout: broadcasting claim for %v: %w", r.Outpoint, err)
		}
		r.mu.Lock()
		r.broadcastTxid = &id
		r.mu.Unlock()
		txid = id
	} else {
		txid = *already
	}

	confNtfn, err := r.Notifier.RegisterConfirmationsNtfn(&txid, 1)
	if err != nil {
		return err
	}

	select {
	case <-confNtfn.Confirmed:
	case <-r.Quit:
		return fmt.Errorf("backout: resolver for %v stopped before confirmation", r.Outpoint)
	}

	r.mu.Lock()
	r.resolved = true
	r.mu.Unlock()
	return nil
}

func (r *Resolver) buildClaimTx() (*wire.MsgTx, error) {
	var locktime uint32
	if r.Branch == BranchTimeout {
		locktime = uint32(r.TimeoutHeight)
	}

	tx, err := build.BuildRedeemTx(r.Outpoint.Hash, r.Outpoint.Index, r.Amount, r.DestScript, r.Fee, locktime)
	if err != nil {
		return nil, err
	}

	var witness wire.TxWitness
	switch r.Branch {
	case BranchSecret:
		witness, err = build.SignEscrowSecret(tx, r.EscrowScript, r.Amount,
			r.SelfPriv, r.CounterpartyPub, r.CounterpartySig, r.Secret)
	case BranchTimeout:
		witness, err = build.SignEscrowTimeout(tx, r.EscrowScript, r.Amount, r.TimeoutPriv)
	default:
		return nil, fmt.Errorf("backout: unknown branch %v", r.Branch)
	}
	if err != nil {
		return nil, err
	}

	tx.TxIn[0].Witness = witness
	return tx, nil
}

// Encode writes the Resolver's persistent fields, enough to resume
// Resolve after a restart without re-deriving the claim transaction.
func (r *Resolver) Encode(w io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := binary.Write(w, binary.BigEndian, r.Outpoint.Hash); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, r.Outpoint.Index); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, int32(r.Branch)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, r.resolved); err != nil {
		return err
	}
	var hasTxid bool
	if r.broadcastTxid != nil {
		hasTxid = true
	}
	if err := binary.Write(w, binary.BigEndian, hasTxid); err != nil {
		return err
	}
	if hasTxid {
		if err := binary.Write(w, binary.BigEndian, *r.broadcastTxid); err != nil {
			return err
		}
	}
	return nil
}
