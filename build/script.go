// Package build constructs the escrow redeem scripts and the TX0-TX5
// transaction set used by a coinswap, and produces the witnesses that
// spend them along the cooperative, secret and timeout branches.
package build

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// SecretLen is the fixed length, in bytes, of a coinswap secret X. H =
// SHA256(X) is computed over exactly this many bytes everywhere a
// preimage is validated, to avoid the redemption asymmetries a
// variable-length preimage would create.
const SecretLen = 16

// HashLen is the length of H = SHA256(X).
const HashLen = sha256.Size

// CommitHash returns H = SHA256(secret), the value both escrow scripts
// are gated against.
func CommitHash(secret []byte) [HashLen]byte {
	return sha256.Sum256(secret)
}

// EscrowScript builds the redeem script for a funding escrow:
//
//	OP_IF
//	    OP_SHA256 <H> OP_EQUALVERIFY
//	    OP_2 <coopOwnerPub> <coopCounterpartyPub> OP_2 OP_CHECKMULTISIG
//	OP_ELSE
//	    <timeoutHeight> OP_CHECKLOCKTIMEVERIFY OP_DROP
//	    <timeoutOwnerPub> OP_CHECKSIG
//	OP_ENDIF
//
// coopOwnerPub/coopCounterpartyPub are sorted lexicographically so both
// parties derive byte-identical scripts regardless of call order, the
// same convention genMultiSigScript uses for ordinary 2-of-2 funding
// outputs. The secret branch additionally requires the SHA256 preimage
// of H before the multisig check is reached, which is what makes the
// cooperative spend simultaneously a 2-of-2 redemption and a proof
// that the holder of coopOwnerPub has learned X.
//
// The opcode checking the preimage is OP_SHA256, not OP_HASH160: H is
// defined as SHA256(X) (32 bytes), and OP_HASH160 would truncate any
// comparison to 20 bytes and never match a 32-byte H.
func EscrowScript(coopOwnerPub, coopCounterpartyPub, timeoutOwnerPub *btcec.PublicKey,
	hash [HashLen]byte, timeoutHeight int64) ([]byte, error) {

	builder := txscript.NewScriptBuilder()

	builder.AddOp(txscript.OP_IF)
	builder.AddOp(txscript.OP_SHA256)
	builder.AddData(hash[:])
	builder.AddOp(txscript.OP_EQUALVERIFY)
	addSortedMultisig(builder, coopOwnerPub, coopCounterpartyPub)

	builder.AddOp(txscript.OP_ELSE)
	builder.AddInt64(timeoutHeight)
	builder.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddData(timeoutOwnerPub.SerializeCompressed())
	builder.AddOp(txscript.OP_CHECKSIG)
	builder.AddOp(txscript.OP_ENDIF)

	return builder.Script()
}

// MultiSigScript generates a standalone 2-of-2 CHECKMULTISIG script,
// pubkeys sorted lexicographically. Exposed for tests that need to
// assert on the multisig sub-script in isolation from the hash/timeout
// wrapper.
func MultiSigScript(pubA, pubB *btcec.PublicKey) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	addSortedMultisig(builder, pubA, pubB)
	return builder.Script()
}

func addSortedMultisig(builder *txscript.ScriptBuilder, pubA, pubB *btcec.PublicKey) {
	aBytes, bBytes := pubA.SerializeCompressed(), pubB.SerializeCompressed()

	builder.AddOp(txscript.OP_2)
	if lexLess(aBytes, bBytes) {
		builder.AddData(aBytes)
		builder.AddData(bBytes)
	} else {
		builder.AddData(bBytes)
		builder.AddData(aBytes)
	}
	builder.AddOp(txscript.OP_2)
	builder.AddOp(txscript.OP_CHECKMULTISIG)
}

func lexLess(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// WitnessScriptHash returns the v0 P2WSH pubkey script that pays to the
// given redeem script.
func WitnessScriptHash(redeemScript []byte) ([]byte, error) {
	scriptHash := sha256.Sum256(redeemScript)

	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_0)
	builder.AddData(scriptHash[:])
	return builder.Script()
}

// WitnessAddress derives the bech32 P2WSH address paying to redeemScript
// on the given network.
func WitnessAddress(redeemScript []byte, params *chaincfg.Params) (btcutil.Address, error) {
	scriptHash := sha256.Sum256(redeemScript)
	return btcutil.NewAddressWitnessScriptHash(scriptHash[:], params)
}
