package chainwatch

import "github.com/coinswapcs/coinswap/build"

// ExtractPreimage inspects a SpendDetail's witness for the secret-
// branch selector CombineCooperativeWitness produces (dummy, sig,
// sig, preimage, {1}, script) and returns the preimage if present.
// This is the mechanism behind §4.4's "a transaction whose witness
// reveals a preimage of H is extracted and the preimage delivered to
// the machine so the counterparty can race its own secret-branch
// spend": whichever party observes the other's TX4/TX5 hand this
// preimage straight to its own Engine to trigger the race.
func ExtractPreimage(d *SpendDetail) (preimage []byte, ok bool) {
	if d == nil || d.SpendingTx == nil || int(d.SpenderInputIndex) >= len(d.SpendingTx.TxIn) {
		return nil, false
	}
	witness := d.SpendingTx.TxIn[d.SpenderInputIndex].Witness

	// CombineCooperativeWitness lays out exactly six elements; the
	// timeout branch (build.SignEscrowTimeout) lays out three and
	// never carries a preimage.
	const coopWitnessLen = 6
	const selectorIdx = 4
	const preimageIdx = 3

	if len(witness) != coopWitnessLen {
		return nil, false
	}
	if len(witness[selectorIdx]) != 1 || witness[selectorIdx][0] != 1 {
		return nil, false
	}
	if len(witness[preimageIdx]) != build.SecretLen {
		return nil, false
	}
	return witness[preimageIdx], true
}
