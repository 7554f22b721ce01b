// Package walletbridge adapts a btcwallet wallet.Wallet to the narrow
// statemachine.Wallet interface the Engine needs, the way
// reservation.go once narrowed lnwallet's own funding reservation flow
// down to "select coins, get a change script, sign, broadcast" for a
// channel open. Here the four operations are a coinswap funding's
// equivalent: select coins for one escrow output, mint a change
// address, mint a payout address the counterparty pays into, and
// publish a finished transaction.
package walletbridge

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet"

	"github.com/coinswapcs/coinswap/build"
)

// Wallet wraps a *wallet.Wallet, implementing statemachine.Wallet.
type Wallet struct {
	w        *wallet.Wallet
	params   *chaincfg.Params
	account  uint32
	minConfs int32
}

// New wraps w, drawing funding coins from account (btcwallet's
// default account is 0) and requiring minConfs confirmations on any
// UTXO selected for a swap funding, matching txrules' dust-relay
// conventions used elsewhere in the btcwallet stack for coin
// selection safety margins.
func New(w *wallet.Wallet, params *chaincfg.Params, account uint32, minConfs int32) *Wallet {
	return &Wallet{w: w, params: params, account: account, minConfs: minConfs}
}

// SelectUTXOs returns enough spendable, confirmed coins from the
// wallet's default account to cover target, formatted as build.Utxo
// for the funding-tx builder.
func (wb *Wallet) SelectUTXOs(target btcutil.Amount) ([]build.Utxo, error) {
	unspent, err := wb.w.ListUnspent(wb.minConfs, wallet.DefaultLockDuration, nil)
	if err != nil {
		return nil, fmt.Errorf("walletbridge: listing unspent: %w", err)
	}

	var (
		utxos []build.Utxo
		total btcutil.Amount
	)
	for _, u := range unspent {
		if !u.Spendable {
			continue
		}
		txid, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			continue
		}
		amt, err := btcutil.NewAmount(u.Amount)
		if err != nil {
			continue
		}
		pkScript, err := wb.w.PubKeyScriptForOutput(*txid, u.Vout)
		if err != nil {
			continue
		}
		utxos = append(utxos, build.Utxo{
			OutPoint: wire.OutPoint{Hash: *txid, Index: u.Vout},
			Value:    amt,
			PkScript: pkScript,
		})
		total += amt
		if total >= target {
			break
		}
	}
	if total < target {
		return nil, fmt.Errorf("walletbridge: insufficient funds: have %s, need %s", total, target)
	}
	return utxos, nil
}

// NewChangeScript mints a fresh internal (change) address and returns
// its output script, the way lnwallet's funding reservation code once
// pulled a change key from the same wallet that funded the channel.
func (wb *Wallet) NewChangeScript() ([]byte, error) {
	addr, err := wb.w.NewChangeAddress(wb.account, waddrmgrScope())
	if err != nil {
		return nil, fmt.Errorf("walletbridge: minting change address: %w", err)
	}
	return txscriptPayToAddr(addr)
}

// NewPayoutAddress mints a fresh external address to hand to the
// counterparty as this side's swap destination.
func (wb *Wallet) NewPayoutAddress() (btcutil.Address, error) {
	return wb.w.NewAddress(wb.account, waddrmgrScope())
}

// Broadcast publishes tx to the network via the wallet's backing
// chain client and returns its txid.
func (wb *Wallet) Broadcast(tx *wire.MsgTx) (chainhash.Hash, error) {
	label := fmt.Sprintf("coinswap-%s", tx.TxHash())
	if err := wb.w.PublishTransaction(tx, label); err != nil {
		return chainhash.Hash{}, fmt.Errorf("walletbridge: publishing %s: %w", tx.TxHash(), err)
	}
	return tx.TxHash(), nil
}
