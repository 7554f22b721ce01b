package statemachine

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// Method enumerates the RPC methods of §6, replacing the original
// string-keyed dispatch with an exhaustively-matchable type, per the
// redesign note requiring an enumerated Method and exhaustive match
// instead of a string-keyed handler map.
type Method int

const (
	MethodStatus Method = iota
	MethodHandshake
	MethodNegotiate
	MethodTx0idHxTx2Sig
	MethodSigTx3
	MethodPhase2Ready
	MethodSecret
	MethodSigTx4
	MethodConfirmTx4
)

func (m Method) String() string {
	switch m {
	case MethodStatus:
		return "status"
	case MethodHandshake:
		return "handshake"
	case MethodNegotiate:
		return "negotiate"
	case MethodTx0idHxTx2Sig:
		return "tx0id_hx_tx2sig"
	case MethodSigTx3:
		return "sigtx3"
	case MethodPhase2Ready:
		return "phase2_ready"
	case MethodSecret:
		return "secret"
	case MethodSigTx4:
		return "sigtx4"
	case MethodConfirmTx4:
		return "confirm_tx4"
	default:
		return "unknown"
	}
}

// Message is the generic inbound/outbound envelope the Engine consumes
// and produces; cmd/coinswap-cli and cmd/coinswapd translate it to and
// from the wire-level params/result structs of csrpc/methods.go so
// this package stays transport-agnostic.
type Message struct {
	SessionID string
	Method    Method
	Payload   interface{}
}

// TxidSigPayload carries a funding txid alongside the sender's
// cooperative-branch signature (PSBT-encoded, per build.EncodePartialSig)
// on the redeem spending it — tx0id_hx_tx2sig and sigtx3's wire shape,
// per §6. Hash is only meaningful on the tx0id_hx_tx2sig leg, where A
// restates the hash commitment H alongside TX0's txid so C can catch a
// mismatch against the H it already holds from the handshake before
// ever broadcasting TX1.
type TxidSigPayload struct {
	Txid chainhash.Hash
	Hash [32]byte
	Sig  []byte
}
