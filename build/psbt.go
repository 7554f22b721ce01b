package build

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
)

// EncodePartialSig wraps one party's cooperative-branch signature on
// tx's single input in a BIP-174 PSBT: the signer's pubkey, the
// witness script it signs against, and the spent output's
// value/script travel with the signature itself instead of being
// re-derived by the receiver out of band. Every partial-signature
// message the protocol exchanges (tx0id_hx_tx2sig, sigtx3, secret's
// sigtx4 reply) is built with this instead of a bare DER blob.
func EncodePartialSig(tx *wire.MsgTx, escrowScript []byte, amount btcutil.Amount,
	pub *btcec.PublicKey, sig []byte) ([]byte, error) {

	pkt, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, fmt.Errorf("build: psbt from unsigned tx: %w", err)
	}

	prevPkScript, err := WitnessScriptHash(escrowScript)
	if err != nil {
		return nil, err
	}

	pkt.Inputs[0].WitnessUtxo = &wire.TxOut{Value: int64(amount), PkScript: prevPkScript}
	pkt.Inputs[0].WitnessScript = escrowScript
	pkt.Inputs[0].PartialSigs = []*psbt.PartialSig{{
		PubKey:    pub.SerializeCompressed(),
		Signature: sig,
	}}

	var buf bytes.Buffer
	if err := pkt.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("build: serializing psbt: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodePartialSig recovers the signature and signer pubkey a
// counterparty attached to raw via EncodePartialSig.
func DecodePartialSig(raw []byte) (sig, pubKey []byte, err error) {
	pkt, err := psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	if err != nil {
		return nil, nil, fmt.Errorf("build: parsing psbt: %w", err)
	}
	if len(pkt.Inputs) == 0 || len(pkt.Inputs[0].PartialSigs) == 0 {
		return nil, nil, fmt.Errorf("build: psbt carries no partial signature")
	}
	ps := pkt.Inputs[0].PartialSigs[0]
	return ps.Signature, ps.PubKey, nil
}
