// Package csrpc is the JSON-RPC 2.0 transport between A and C (§6): a
// fixed method set, one method per inbound transition of the state
// machine, each taking a session_id and returning either a typed
// result or `false` (mapped here to an explicit Declined sentinel,
// since Go has no untyped-false-as-error idiom). It generalizes
// rpcserver.go's gRPC service-method shape — one exported method per
// RPC, params in, typed result out — to csjson.py's JSON-RPC 2.0/HTTP
// transport instead of gRPC, and replaces its string-keyed
// jsonrpc_<name> dispatch with the enumerated statemachine.Method the
// redesign notes call for.
package csrpc

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Method names exactly as they appear on the wire, matching §6's table
// and csjson.py's jsonrpc_* method names.
const (
	MethodStatus       = "status"
	MethodHandshake    = "handshake"
	MethodNegotiate    = "negotiate"
	MethodTx0idHxTx2Sig = "tx0id_hx_tx2sig"
	MethodSigTx3       = "sigtx3"
	MethodPhase2Ready  = "phase2_ready"
	MethodSecret       = "secret"
	MethodSigTx4       = "sigtx4"
	MethodConfirmTx4   = "confirm_tx4"
)

// StatusResult answers the stateless `status` method.
type StatusResult struct {
	Busy             bool   `json:"busy"`
	MinimumAmount    int64  `json:"minimum_amount"`
	MaximumAmount    int64  `json:"maximum_amount"`
	SourceChain      string `json:"source_chain"`
	DestinationChain string `json:"destination_chain"`
	CSCSVersion      string `json:"cscs_version"`
}

// HandshakeParams opens a new session on C.
type HandshakeParams struct {
	SessionID        string `json:"session_id"`
	CSCSVersion      string `json:"cscs_version"`
	SourceChain      string `json:"source_chain"`
	DestinationChain string `json:"destination_chain"`
	Amount           int64  `json:"amount"`
}

// HandshakeResult is C's half of the version/compat handshake.
type HandshakeResult struct {
	CSCSVersion string `json:"cscs_version"`
	TX4Address  string `json:"tx4_address"`
}

// PubKeysWire carries the three compressed-pubkey hex strings one
// party contributes to negotiate, mirroring swapparams.Half's public
// key fields in their wire encoding.
type PubKeysWire struct {
	CoopOwner        string `json:"pub_coop_owner"`
	CoopCounterparty string `json:"pub_coop_counterparty"`
	TimeoutOwner     string `json:"pub_timeout_owner"`
}

// NegotiateParams carries A's proposed half of the Public Parameters
// (§3); the amount, fee, and timeouts are only meaningful on this,
// A-to-C, direction.
type NegotiateParams struct {
	SessionID   string      `json:"session_id"`
	Keys        PubKeysWire `json:"keys"`
	DestAddr    string      `json:"dest_addr"`
	Amount      int64       `json:"amount"`
	CoinswapFee int64       `json:"coinswap_fee"`
	TimeoutL1   int32       `json:"timeout_l1"`
	TimeoutL2   int32       `json:"timeout_l2"`
}

// NegotiateResult is C's half: its own keys and destination address,
// accepting A's proposed amount/fee/timeouts.
type NegotiateResult struct {
	Keys     PubKeysWire `json:"keys"`
	DestAddr string      `json:"dest_addr"`
}

// Tx0IdHxTx2SigParams carries TX0's txid, the hash commitment H, and
// A's cooperative-branch signature on TX2.
type Tx0IdHxTx2SigParams struct {
	SessionID string          `json:"session_id"`
	Tx0Txid   chainhash.Hash  `json:"tx0_txid"`
	Hash      [32]byte        `json:"hash"`
	SigTx2A   []byte          `json:"sig_tx2_a"`
}

// Tx0IdHxTx2SigResult returns C's funding txid and its signature on
// TX3.
type Tx0IdHxTx2SigResult struct {
	Tx1Txid chainhash.Hash `json:"tx1_txid"`
	SigTx3C []byte         `json:"sig_tx3_c"`
}

// SigTx3Params carries A's counter-signature on TX3.
type SigTx3Params struct {
	SessionID string `json:"session_id"`
	SigTx3A   []byte `json:"sig_tx3_a"`
}

// Phase2ReadyParams is the stateless poll both sides use while
// waiting for tx01_confirm_wait confirmations on both fundings.
type Phase2ReadyParams struct {
	SessionID string `json:"session_id"`
}

// SecretParams reveals A's preimage X to C.
type SecretParams struct {
	SessionID string `json:"session_id"`
	Secret    []byte `json:"secret"`
}

// SecretResult returns C's cooperative-branch signature on TX2.
type SecretResult struct {
	SigTx2C []byte `json:"sig_tx2_c"`
}

// SigTx4Params carries C's co-signature on TX2 and the txid of TX5 (C's
// own backout claim against TX1, shared so A can watch for it racing).
type SigTx4Params struct {
	SessionID string         `json:"session_id"`
	SigTx4C   []byte         `json:"sig_tx4_c"`
	Tx5Txid   chainhash.Hash `json:"tx5_txid"`
}

// ConfirmTx4Params is the notice A sends once its own engine reaches
// done, which happens as soon as TX2 is broadcast. Neither side checks
// TX2's confirmation depth before C's handler ticks its engine on it
// and broadcasts TX3.
type ConfirmTx4Params struct {
	SessionID string `json:"session_id"`
}

// Declined is the sentinel error csrpc.Call returns when the
// counterparty's JSON-RPC result was a bare `false`, per §6's "a
// single false return ... mandates backout on the caller's side".
type Declined struct {
	Method string
}

func (e *Declined) Error() string {
	return "csrpc: " + e.Method + " declined by counterparty"
}
