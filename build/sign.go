package build

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// SignEscrowCooperative produces this party's signature for input 0 of
// tx spending an escrow output via the 2-of-2 branch. The caller
// combines both parties' signatures (in CHECKMULTISIG witness order)
// with CombineCooperativeWitness; this function alone never produces a
// spendable witness, matching the builder contract's "caller combines
// both sigs" note.
func SignEscrowCooperative(tx *wire.MsgTx, escrowScript []byte, amount btcutil.Amount,
	priv *btcec.PrivateKey) ([]byte, error) {

	hash, _, err := sigHash(tx, escrowScript, amount)
	if err != nil {
		return nil, err
	}
	sig := ecdsa.Sign(priv, hash)
	return append(sig.Serialize(), byte(txscript.SigHashAll)), nil
}

// CombineCooperativeWitness assembles the final witness stack for the
// secret-gated 2-of-2 branch: OP_TRUE selects the IF branch, the dummy
// element absorbs CHECKMULTISIG's off-by-one pop, sigA/sigC are ordered
// to match the pubkey order baked into the script by addSortedMultisig,
// and preimage is the revealed secret X.
func CombineCooperativeWitness(sigFirst, sigSecond, preimage, escrowScript []byte) wire.TxWitness {
	return wire.TxWitness{
		[]byte{}, // CHECKMULTISIG dummy
		sigFirst,
		sigSecond,
		preimage,
		[]byte{1}, // select IF branch
		escrowScript,
	}
}

// OrderMultisigSigs returns (sigA, sigC) reordered into the order the
// escrow script's sorted pubkeys expect, given each party's pubkey.
func OrderMultisigSigs(pubA, pubC *btcec.PublicKey, sigA, sigC []byte) (first, second []byte) {
	aBytes, cBytes := pubA.SerializeCompressed(), pubC.SerializeCompressed()
	if lexLess(aBytes, cBytes) {
		return sigA, sigC
	}
	return sigC, sigA
}

// SignEscrowSecret builds the complete secret-branch unlocking witness
// for TX4/TX5. The caller already holds the counterparty's earlier
// cooperative signature (exchanged at tx0id_hx_tx2sig / sigtx3, long
// before the secret is revealed) and now also holds the preimage;
// combining the two lets either party unilaterally claim an escrow
// whose counterparty has stopped cooperating, which is exactly the
// partial-failure race the state machine's deadlines guard against.
func SignEscrowSecret(tx *wire.MsgTx, escrowScript []byte, amount btcutil.Amount,
	selfPriv *btcec.PrivateKey, counterpartyPub *btcec.PublicKey, counterpartySig,
	preimage []byte) (wire.TxWitness, error) {

	if len(preimage) != SecretLen {
		return nil, fmt.Errorf("build: secret must be %d bytes, got %d", SecretLen, len(preimage))
	}

	selfSig, err := SignEscrowCooperative(tx, escrowScript, amount, selfPriv)
	if err != nil {
		return nil, err
	}

	first, second := OrderMultisigSigs(selfPriv.PubKey(), counterpartyPub, selfSig, counterpartySig)
	return CombineCooperativeWitness(first, second, preimage, escrowScript), nil
}

// SignEscrowTimeout builds the timeout-branch unlocking witness. The
// caller must have already set tx.LockTime >= timeoutHeight and a
// non-final input sequence, per the builder contract.
func SignEscrowTimeout(tx *wire.MsgTx, escrowScript []byte, amount btcutil.Amount,
	priv *btcec.PrivateKey) (wire.TxWitness, error) {

	hash, _, err := sigHash(tx, escrowScript, amount)
	if err != nil {
		return nil, err
	}
	sig := ecdsa.Sign(priv, hash)
	sigBytes := append(sig.Serialize(), byte(txscript.SigHashAll))

	return wire.TxWitness{
		sigBytes,
		[]byte{}, // select ELSE branch
		escrowScript,
	}, nil
}

// VerifyEscrowWitness runs the full script engine over tx's input 0
// against the escrow output it claims to spend, used by the state
// machine to validate an inbound signature/witness before persisting
// it, per §4.3's inbound validation contract.
func VerifyEscrowWitness(tx *wire.MsgTx, inputIndex int, pkScript []byte, amount btcutil.Amount) error {
	vm, err := txscript.NewEngine(pkScript, tx, inputIndex,
		txscript.StandardVerifyFlags, nil, nil, int64(amount), nil)
	if err != nil {
		return err
	}
	return vm.Execute()
}
