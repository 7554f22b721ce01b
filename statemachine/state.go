package statemachine

// State is a single strictly-ordered step in a participant's sequence.
// Monotonicity (§4.3 property 1) is enforced by the Engine: it only
// ever advances State, never decreases or re-enters it within a
// session.
type State int

// Role distinguishes which of the two mirrored sequences an Engine is
// running.
type Role int

const (
	RoleAlice Role = iota
	RoleCarol
)

func (r Role) String() string {
	if r == RoleAlice {
		return "alice"
	}
	return "carol"
}

// Alice's state sequence, numbered exactly as in §4.3's table.
const (
	AliceInit State = iota
	AliceHandshakeSent
	AliceHandshakeAck
	AliceNegotiateSent
	AliceNegotiateAck
	AliceTx0BuiltBroadcast
	AliceTx0idHxTx2SigSent
	AliceTx1idHxTx3SigRecvd
	AliceTx3SignedSent
	AlicePhase2Ready
	AliceSecretSent
	AliceTx4SigRecvd
	AliceTx2Broadcast
	AliceDone
)

// Carol's mirrored sequence: awaits A's handshake, emits half-params,
// broadcasts TX1 once TX0 is verified, signs TX3, awaits the secret,
// signs TX2, broadcasts TX3, terminates (§4.3).
const (
	CarolInit State = iota
	CarolHandshakeRecvd
	CarolHandshakeAckSent
	CarolNegotiateRecvd
	CarolNegotiateAckSent
	CarolTx0idVerified
	CarolTx1BuiltBroadcast
	CarolTx3SigSent
	CarolTx3CounterSignedRecvd
	CarolPhase2Ready
	CarolSecretRecvd
	CarolTx2SigSent
	CarolTx3Broadcast
	CarolDone
)

// Name returns the human-readable label for a state under the given
// role, used in logs and in the persisted session log.
func Name(role Role, s State) string {
	var names []string
	if role == RoleAlice {
		names = aliceNames
	} else {
		names = carolNames
	}
	if int(s) < 0 || int(s) >= len(names) {
		return "unknown"
	}
	return names[s]
}

var aliceNames = []string{
	"init", "handshake_sent", "handshake_ack", "negotiate_sent",
	"negotiate_ack", "tx0_built_broadcast", "tx0id_hx_tx2sig_sent",
	"tx1id_hx_tx3sig_recvd", "tx3_signed_sent", "phase2_ready",
	"secret_sent", "tx4sig_recvd", "tx2_broadcast", "done",
}

var carolNames = []string{
	"init", "handshake_recvd", "handshake_ack_sent", "negotiate_recvd",
	"negotiate_ack_sent", "tx0id_verified", "tx1_built_broadcast",
	"tx3_sig_sent", "tx3_countersigned_recvd", "phase2_ready",
	"secret_recvd", "tx2_sig_sent", "tx3_broadcast", "done",
}

// Terminal reports whether s is the final state for role.
func Terminal(role Role, s State) bool {
	if role == RoleAlice {
		return s == AliceDone
	}
	return s == CarolDone
}
