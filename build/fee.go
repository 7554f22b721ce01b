package build

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

// Weight/size constants for the script shapes this package produces.
// Mirrors the accounting style of lnwallet's weight estimator: named
// constants for each wire component, summed into a vbyte estimate
// rather than calling EstimateVirtualSize on a fully-built (and
// therefore already-signed) transaction.
const (
	// p2wshOutputSize: value(8) + varint(1) + pkscript(34).
	p2wshOutputSize = 8 + 1 + 34

	// p2wpkhOutputSize: value(8) + varint(1) + pkscript(22).
	p2wpkhOutputSize = 8 + 1 + 22

	// inputBaseSize: outpoint(36) + scriptSigLen(1) + sequence(4).
	inputBaseSize = 36 + 1 + 4

	// escrowCoopWitnessSize: numElems(1) + dummy(2) + sigA(1+72) +
	// sigC(1+72) + preimage(1+16) + redeemScriptLen(3) + redeemScript
	// (roughly 1+1+72+1+33+1+33+1+1 for the coop branch body plus the
	// timeout branch's own pubkey/opcodes).
	escrowCoopWitnessSize = 1 + 2 + 73 + 73 + 17 + 150

	// escrowTimeoutWitnessSize: numElems(1) + sig(1+72) + redeemScriptLen
	// + redeemScript.
	escrowTimeoutWitnessSize = 1 + 73 + 3 + 150

	// txOverhead: version(4) + locktime(4) + input count(1) + output
	// count(1).
	txOverhead = 4 + 4 + 1 + 1

	// witnessHeaderSize: segwit marker(1) + flag(1).
	witnessHeaderSize = 2
)

// SatPerVByte is a fee rate expressed in satoshis per virtual byte,
// the unit the Chain interface's fee estimator returns.
type SatPerVByte int64

// FeeForVSize returns ceil(vsize * rate). vsize is already an integer
// number of vbytes (rounded up by the estimators below), so the
// product is exact; the ceil in the contract covers the weight/4
// rounding baked into vsize itself.
func (r SatPerVByte) FeeForVSize(vsize int64) btcutil.Amount {
	return btcutil.Amount(int64(r) * vsize)
}

// FeeSanityError is returned when a fetched fee rate exceeds the
// configured absurd_fee_per_kb ceiling.
type FeeSanityError struct {
	RatePerKB       int64
	AbsurdPerKBCeil int64
}

func (e *FeeSanityError) Error() string {
	return fmt.Sprintf("fee rate %d sat/kb exceeds absurd ceiling %d sat/kb",
		e.RatePerKB, e.AbsurdPerKBCeil)
}

// ErrDust is returned when a proposed output would be below the dust
// threshold for its script type.
var ErrDust = errors.New("build: output value below dust threshold")

// CheckAbsurdFee validates a fetched rate against the configured
// ceiling before it is used to size any transaction, per the
// FeeSanityError contract.
func CheckAbsurdFee(rate SatPerVByte, absurdPerKB int64) error {
	ratePerKB := int64(rate) * 1000
	if ratePerKB > absurdPerKB {
		return &FeeSanityError{RatePerKB: ratePerKB, AbsurdPerKBCeil: absurdPerKB}
	}
	return nil
}

// EstimateFundingVSize estimates the virtual size of TX0/TX1: numInputs
// P2WPKH inputs spending to one P2WSH escrow output and, optionally, one
// P2WPKH change output.
func EstimateFundingVSize(numInputs int, hasChange bool) int64 {
	base := txOverhead + numInputs*inputBaseSize + p2wshOutputSize
	if hasChange {
		base += p2wpkhOutputSize
	}
	witness := witnessHeaderSize + numInputs*(1+73+1+33)
	// vsize = (3*base + (base+witness)) / 4, rounded up.
	total := 3*base + (base + witness)
	return int64((total + 3) / 4)
}

// EstimateRedeemVSize estimates the virtual size of a single-input,
// single-output spend of an escrow output via the cooperative (2-of-2 +
// secret) branch.
func EstimateRedeemVSize() int64 {
	base := txOverhead + inputBaseSize + p2wpkhOutputSize
	witness := witnessHeaderSize + escrowCoopWitnessSize
	total := 3*base + (base + witness)
	return int64((total + 3) / 4)
}

// EstimateTimeoutVSize estimates the virtual size of a single-input,
// single-output spend of an escrow output via the timeout branch.
func EstimateTimeoutVSize() int64 {
	base := txOverhead + inputBaseSize + p2wpkhOutputSize
	witness := witnessHeaderSize + escrowTimeoutWitnessSize
	total := 3*base + (base + witness)
	return int64((total + 3) / 4)
}
