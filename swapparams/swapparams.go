// Package swapparams holds the Public Parameters both parties agree
// on before any transaction is built, and the negotiate() merge/
// validation logic that produces them from each side's half.
//
// Mirrors the contribution/merge shape of lnwallet's ChannelReservation
// workflow (each side exchanges a contribution; the contributions are
// merged and validated against policy bounds) generalized from a
// two-step funding negotiation to the coinswap's single negotiate call.
package swapparams

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
)

// ConfigError reports a negotiate() rejection: malformed or
// policy-violating proposed parameters.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "swapparams: " + e.Reason }

// Half is the subset of Public Parameters one party contributes before
// negotiate() merges both sides.
type Half struct {
	// SessionID identifies the swap session on both ends of the wire.
	SessionID string

	// PubCoopOwner is this party's key for the cooperative (2-of-2 +
	// secret) branch of its own funding escrow.
	PubCoopOwner *btcec.PublicKey

	// PubCoopCounterparty is this party's key for the cooperative
	// branch of the counterparty's funding escrow (i.e. the key it
	// expects the counterparty to co-sign with).
	PubCoopCounterparty *btcec.PublicKey

	// PubTimeoutOwner is this party's key for its own timeout
	// self-refund branch.
	PubTimeoutOwner *btcec.PublicKey

	// DestAddr is the address this party wants its half of the swap
	// paid out to.
	DestAddr btcutil.Address

	// Only set by A: the swap amount, coinswap fee, and the proposed
	// absolute timeouts L1/L2 (L0 is "now" at negotiation time).
	Amount      btcutil.Amount
	CoinswapFee btcutil.Amount
	TimeoutL1   int32
	TimeoutL2   int32
}

// PolicyBounds are C's acceptance bounds for A's proposed amount and
// timeout gaps.
type PolicyBounds struct {
	MinAmount      btcutil.Amount
	MaxAmount      btcutil.Amount
	MinTimeoutGap  int32
	MaxTimeoutGap  int32
}

// Params is the merged, negotiated Public Parameters set both parties
// persist into their Session Log and use for every subsequent script
// and transaction construction.
type Params struct {
	SessionID string

	PubA_CoopOwner   *btcec.PublicKey // A's key, cooperative branch of TX0
	PubC_CoopOwner   *btcec.PublicKey // C's key, cooperative branch of TX1
	PubA_Counterpart *btcec.PublicKey // A's co-signing key on TX1's escrow
	PubC_Counterpart *btcec.PublicKey // C's co-signing key on TX0's escrow
	PubA_Timeout     *btcec.PublicKey // A's self-refund key for TX0
	PubC_Timeout     *btcec.PublicKey // C's self-refund key for TX1

	DestA btcutil.Address
	DestC btcutil.Address

	Amount      btcutil.Amount
	CoinswapFee btcutil.Amount

	L0        int32 // block height at negotiation time
	TimeoutL1 int32 // TX0 escrow timeout, A reclaims after this height
	TimeoutL2 int32 // TX1 escrow timeout, C reclaims after this height
}

// Negotiate merges A's and C's halves into validated Params. currentHeight
// is L0. Rejects if the proposed timeouts don't satisfy L0 < L1 < L2, if
// any public key is not a valid curve point (guaranteed by the *btcec.PublicKey
// type itself having been successfully parsed), or if amounts/gaps
// violate bounds.
func Negotiate(a, c Half, currentHeight int32, bounds PolicyBounds) (*Params, error) {
	if a.SessionID != c.SessionID {
		return nil, &ConfigError{Reason: fmt.Sprintf(
			"session id mismatch: A=%q C=%q", a.SessionID, c.SessionID)}
	}

	if a.Amount < bounds.MinAmount || a.Amount > bounds.MaxAmount {
		return nil, &ConfigError{Reason: fmt.Sprintf(
			"amount %d outside policy bounds [%d, %d]", a.Amount, bounds.MinAmount, bounds.MaxAmount)}
	}

	if !(currentHeight < a.TimeoutL1 && a.TimeoutL1 < a.TimeoutL2) {
		return nil, &ConfigError{Reason: fmt.Sprintf(
			"timeouts must satisfy now(%d) < L1(%d) < L2(%d)", currentHeight, a.TimeoutL1, a.TimeoutL2)}
	}

	gap1 := a.TimeoutL1 - currentHeight
	gap2 := a.TimeoutL2 - a.TimeoutL1
	if gap1 < bounds.MinTimeoutGap || gap1 > bounds.MaxTimeoutGap {
		return nil, &ConfigError{Reason: fmt.Sprintf(
			"L0-L1 gap %d outside policy bounds [%d, %d]", gap1, bounds.MinTimeoutGap, bounds.MaxTimeoutGap)}
	}
	if gap2 < bounds.MinTimeoutGap || gap2 > bounds.MaxTimeoutGap {
		return nil, &ConfigError{Reason: fmt.Sprintf(
			"L1-L2 gap %d outside policy bounds [%d, %d]", gap2, bounds.MinTimeoutGap, bounds.MaxTimeoutGap)}
	}

	for name, pub := range map[string]*btcec.PublicKey{
		"a.PubCoopOwner":         a.PubCoopOwner,
		"a.PubCoopCounterparty":  a.PubCoopCounterparty,
		"a.PubTimeoutOwner":      a.PubTimeoutOwner,
		"c.PubCoopOwner":         c.PubCoopOwner,
		"c.PubCoopCounterparty":  c.PubCoopCounterparty,
		"c.PubTimeoutOwner":      c.PubTimeoutOwner,
	} {
		if pub == nil {
			return nil, &ConfigError{Reason: fmt.Sprintf("missing public key %s", name)}
		}
	}

	return &Params{
		SessionID:        a.SessionID,
		PubA_CoopOwner:   a.PubCoopOwner,
		PubC_CoopOwner:   c.PubCoopOwner,
		PubA_Counterpart: a.PubCoopCounterparty,
		PubC_Counterpart: c.PubCoopCounterparty,
		PubA_Timeout:     a.PubTimeoutOwner,
		PubC_Timeout:     c.PubTimeoutOwner,
		DestA:            a.DestAddr,
		DestC:            c.DestAddr,
		Amount:           a.Amount,
		CoinswapFee:      a.CoinswapFee,
		L0:               currentHeight,
		TimeoutL1:        a.TimeoutL1,
		TimeoutL2:        a.TimeoutL2,
	}, nil
}

// NowDeadline returns the wall-clock deadline for a state carrying a
// duration-based (rather than block-height-based) timeout, per §4.3's
// "every state carries a per-state deadline" rule.
func NowDeadline(d time.Duration) time.Time {
	return time.Now().Add(d)
}
